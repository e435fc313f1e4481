// Package session persists authenticated browser state per account.
//
// A session is an opaque serialized blob of cookies and local storage.
// Validity is never tracked explicitly; it is discovered by attempting
// to use the session.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned by Load when no session exists for the account.
var ErrNotFound = errors.New("session not found")

// Cookie mirrors the fields of a browser cookie needed to restore state.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// Session is the serialized authenticated browser state for one account.
type Session struct {
	Cookies      []Cookie                     `json:"cookies"`
	LocalStorage map[string]map[string]string `json:"local_storage,omitempty"`
	SavedAt      time.Time                    `json:"saved_at"`
}

// Store reads and writes session blobs under a well-known directory,
// one file per account, named deterministically from the account email.
type Store struct {
	dir string
}

// NewStore creates a session store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// NormalizeEmail converts an account email into a collision-free file
// name component: lowercased, every non-alphanumeric rune replaced by '_'.
func NormalizeEmail(email string) string {
	lower := strings.ToLower(email)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, lower)
}

// Path returns the deterministic session file path for an account email.
// Saving twice for the same account overwrites the same file.
func (s *Store) Path(email string) string {
	return filepath.Join(s.dir, NormalizeEmail(email)+".json")
}

// Exists reports whether a session blob is present for the account.
func (s *Store) Exists(email string) bool {
	_, err := os.Stat(s.Path(email))
	return err == nil
}

// Load reads the session blob for an account. Callers should check
// Exists first; a missing session returns ErrNotFound.
func (s *Store) Load(email string) (*Session, error) {
	data, err := os.ReadFile(s.Path(email))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &sess, nil
}

// Save durably writes the session blob for an account, overwriting any
// previous one. The write is atomic (temp file + rename) so a crashed
// save never leaves a truncated blob behind.
func (s *Store) Save(email string, sess *Session) error {
	if sess.SavedAt.IsZero() {
		sess.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	target := s.Path(email)
	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Invalidate removes the session blob for an account. Removing a session
// that does not exist is not an error.
func (s *Store) Invalidate(email string) error {
	if err := os.Remove(s.Path(email)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
