// Package domain contains core domain types for the marketpost application.
package domain

import (
	"time"
)

// Account represents a marketplace account owned by an operator.
// The credential is stored encrypted; decryption happens only at the
// moment a login flow needs it.
type Account struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	EncryptedPassword string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
