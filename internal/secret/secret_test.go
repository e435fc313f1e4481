package secret

import (
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	token, err := c.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if token == "hunter2" {
		t.Fatal("token equals plaintext")
	}

	got, err := c.Decrypt(token)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("Decrypt = %q, want %q", got, "hunter2")
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a == b {
		t.Error("two encryptions produced the same token, nonce not random")
	}
}

func TestDecryptTamperedToken(t *testing.T) {
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	token, err := c.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := strings.Replace(token, token[:1], "A", 1)
	if tampered == token {
		tampered = "B" + token[1:]
	}
	if _, err := c.Decrypt(tampered); err == nil {
		t.Error("tampered token decrypted without error")
	}

	if _, err := c.Decrypt("not base64!!"); err == nil {
		t.Error("garbage token decrypted without error")
	}
}

func TestNilCipherPassthrough(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New(\"\"): %v", err)
	}
	if c != nil {
		t.Fatal("empty key should yield nil cipher")
	}

	token, err := c.Encrypt("plain")
	if err != nil || token != "plain" {
		t.Errorf("nil Encrypt = %q, %v", token, err)
	}
	got, err := c.Decrypt("plain")
	if err != nil || got != "plain" {
		t.Errorf("nil Decrypt = %q, %v", got, err)
	}
}

func TestBadKeyLength(t *testing.T) {
	if _, err := New("short"); err == nil {
		t.Error("expected error for short key")
	}
}
