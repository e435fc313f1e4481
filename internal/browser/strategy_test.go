package browser

import (
	"errors"
	"strings"
	"testing"
)

func TestRunStrategiesFirstSuccessShortCircuits(t *testing.T) {
	var ran []string
	name, err := runStrategies("step", []strategy{
		{name: "a", run: func() error { ran = append(ran, "a"); return errors.New("a failed") }},
		{name: "b", run: func() error { ran = append(ran, "b"); return nil }},
		{name: "c", run: func() error { ran = append(ran, "c"); return nil }},
	})
	if err != nil {
		t.Fatalf("runStrategies: %v", err)
	}
	if name != "b" {
		t.Errorf("winning strategy = %q, want %q", name, "b")
	}
	if len(ran) != 2 || ran[0] != "a" || ran[1] != "b" {
		t.Errorf("execution order = %v, want [a b]", ran)
	}
}

func TestRunStrategiesExhaustionReturnsLastError(t *testing.T) {
	sentinel := errors.New("keyboard blocked")
	_, err := runStrategies("condition", []strategy{
		{name: "role", run: func() error { return errors.New("no options") }},
		{name: "keyboard", run: func() error { return sentinel }},
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("exhaustion error %v does not wrap last error", err)
	}
	if !strings.Contains(err.Error(), "condition") {
		t.Errorf("error %q does not name the step", err)
	}
}

func TestRunStrategiesEmptyList(t *testing.T) {
	if _, err := runStrategies("empty", nil); err == nil {
		t.Fatal("expected error for empty strategy list")
	}
}
