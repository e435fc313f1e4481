package shared

import (
	"context"
	"errors"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", errors.New("SQLITE_BUSY: database table is locked"), true},
		{"locked", errors.New("database is locked (5)"), true},
		{"other", errors.New("no such table: listings"), false},
	}
	for _, tt := range tests {
		if got := IsSQLiteConflictError(tt.err); got != tt.want {
			t.Errorf("%s: IsSQLiteConflictError = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRetrySQLiteRetriesConflicts(t *testing.T) {
	attempts := 0
	err := RetrySQLite(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetrySQLite: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetrySQLiteStopsOnOtherErrors(t *testing.T) {
	sentinel := errors.New("constraint violation")
	attempts := 0
	err := RetrySQLite(context.Background(), "test", func() error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for non-conflict error", attempts)
	}
}

func TestRetrySQLiteGivesUp(t *testing.T) {
	attempts := 0
	err := RetrySQLite(context.Background(), "test", func() error {
		attempts++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
