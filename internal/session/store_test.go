package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"seller@example.com", "seller_example_com"},
		{"Seller@Example.COM", "seller_example_com"},
		{"first.last+tag@mail.co", "first_last_tag_mail_co"},
		{"user123@x.io", "user123_x_io"},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.email); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

func TestPathDeterministic(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	p1 := store.Path("seller@example.com")
	p2 := store.Path("SELLER@example.com")
	if p1 != p2 {
		t.Errorf("paths differ for same account: %q vs %q", p1, p2)
	}
	if filepath.Base(p1) != "seller_example_com.json" {
		t.Errorf("unexpected file name %q", filepath.Base(p1))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	email := "seller@example.com"
	sess := &Session{
		Cookies: []Cookie{
			{Name: "c_user", Value: "123", Domain: ".example.com", Path: "/", Secure: true, HTTPOnly: true},
			{Name: "xs", Value: "abc", Domain: ".example.com", Path: "/", Expires: 1893456000},
		},
		LocalStorage: map[string]map[string]string{
			"https://example.com": {"token": "tok-1"},
		},
	}

	if store.Exists(email) {
		t.Fatal("Exists() = true before save")
	}
	if err := store.Save(email, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !store.Exists(email) {
		t.Fatal("Exists() = false after save")
	}

	loaded, err := store.Load(email)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(loaded.Cookies))
	}
	if loaded.Cookies[0].Name != "c_user" || loaded.Cookies[0].Value != "123" {
		t.Errorf("first cookie = %+v", loaded.Cookies[0])
	}
	if loaded.LocalStorage["https://example.com"]["token"] != "tok-1" {
		t.Errorf("local storage not preserved: %+v", loaded.LocalStorage)
	}
	if loaded.SavedAt.IsZero() {
		t.Error("SavedAt not set on save")
	}
}

func TestSaveOverwrites(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	email := "seller@example.com"
	first := &Session{Cookies: []Cookie{{Name: "old", Value: "1"}}, SavedAt: time.Now()}
	second := &Session{Cookies: []Cookie{{Name: "new", Value: "2"}}, SavedAt: time.Now()}

	if err := store.Save(email, first); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := store.Save(email, second); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	loaded, err := store.Load(email)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Cookies) != 1 || loaded.Cookies[0].Name != "new" {
		t.Errorf("second save did not replace first: %+v", loaded.Cookies)
	}
}

func TestLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := store.Load("nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing = %v, want ErrNotFound", err)
	}
}

func TestInvalidate(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	email := "seller@example.com"
	if err := store.Save(email, &Session{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Invalidate(email); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if store.Exists(email) {
		t.Error("session still exists after Invalidate")
	}
	// Invalidating an absent session is not an error.
	if err := store.Invalidate(email); err != nil {
		t.Errorf("second Invalidate: %v", err)
	}
}
