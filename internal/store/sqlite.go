package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avoronov/marketpost/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	jobMu sync.Mutex // serializes job mutations to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		encrypted_password TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		price REAL NOT NULL,
		image_path TEXT NOT NULL DEFAULT '',
		scheduled_time INTEGER NOT NULL,
		posted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_listings_posted ON listings(posted);
	CREATE INDEX IF NOT EXISTS idx_listings_posted_scheduled ON listings(posted, scheduled_time);
	CREATE INDEX IF NOT EXISTS idx_listings_account_posted ON listings(account_id, posted);

	CREATE TABLE IF NOT EXISTS posting_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_posts INTEGER NOT NULL,
		completed_posts INTEGER NOT NULL DEFAULT 0,
		failed_posts INTEGER NOT NULL DEFAULT 0,
		current_post_id INTEGER,
		current_post_title TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_started ON posting_jobs(started_at);

	CREATE TABLE IF NOT EXISTS error_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		listing_id INTEGER NOT NULL,
		error_type TEXT NOT NULL DEFAULT 'unknown',
		error_message TEXT NOT NULL,
		stack_trace TEXT NOT NULL DEFAULT '',
		screenshot TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_error_logs_listing ON error_logs(listing_id);
	CREATE INDEX IF NOT EXISTS idx_error_logs_created ON error_logs(created_at);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		listing_id INTEGER NOT NULL,
		listing_title TEXT NOT NULL,
		action TEXT NOT NULL,
		account_email TEXT NOT NULL,
		price REAL NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_analytics_once ON analytics_events(listing_id, action);
	CREATE INDEX IF NOT EXISTS idx_analytics_action_time ON analytics_events(action, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateAccount stores a new account.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	query := `
	INSERT INTO accounts (id, email, encrypted_password, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Email, account.EncryptedPassword,
		account.CreatedAt.Unix(), account.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	query := `
		SELECT id, email, encrypted_password, created_at, updated_at
		FROM accounts WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var account domain.Account
	var createdAt, updatedAt int64

	err := row.Scan(&account.ID, &account.Email, &account.EncryptedPassword, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}

	account.CreatedAt = time.Unix(createdAt, 0)
	account.UpdatedAt = time.Unix(updatedAt, 0)
	return &account, nil
}

// ListAccounts retrieves all accounts ordered by creation time.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	query := `
		SELECT id, email, encrypted_password, created_at, updated_at
		FROM accounts ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer closeRows(rows, "accounts")

	var accounts []*domain.Account
	for rows.Next() {
		var account domain.Account
		var createdAt, updatedAt int64
		if err := rows.Scan(&account.ID, &account.Email, &account.EncryptedPassword, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		account.CreatedAt = time.Unix(createdAt, 0)
		account.UpdatedAt = time.Unix(updatedAt, 0)
		accounts = append(accounts, &account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// DeleteAccount removes an account.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// CreateListing stores a new listing and its "created" analytics event.
func (s *SQLiteStore) CreateListing(ctx context.Context, listing *domain.Listing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	var email string
	if err := tx.QueryRowContext(ctx, `SELECT email FROM accounts WHERE id = ?`, listing.AccountID).Scan(&email); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("resolve account email: %w", err)
	}

	now := time.Now()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now
	}
	listing.UpdatedAt = now
	if listing.ScheduledTime.IsZero() {
		listing.ScheduledTime = now
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO listings (account_id, title, description, price, image_path, scheduled_time, posted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		listing.AccountID, listing.Title, listing.Description, listing.Price,
		listing.ImagePath, listing.ScheduledTime.Unix(),
		listing.CreatedAt.Unix(), listing.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get listing id: %w", err)
	}
	listing.ID = id
	listing.AccountEmail = email

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analytics_events (listing_id, listing_title, action, account_email, price, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, listing.Title, domain.ActionCreated, email, listing.Price, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert created event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit listing: %w", err)
	}
	return nil
}

const listingColumns = `
	l.id, l.account_id, a.email, l.title, l.description, l.price,
	l.image_path, l.scheduled_time, l.posted, l.created_at, l.updated_at`

func scanListing(scanner interface{ Scan(...any) error }) (*domain.Listing, error) {
	var listing domain.Listing
	var scheduled, createdAt, updatedAt int64
	var posted int

	err := scanner.Scan(
		&listing.ID, &listing.AccountID, &listing.AccountEmail,
		&listing.Title, &listing.Description, &listing.Price,
		&listing.ImagePath, &scheduled, &posted, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	listing.ScheduledTime = time.Unix(scheduled, 0)
	listing.Posted = posted != 0
	listing.CreatedAt = time.Unix(createdAt, 0)
	listing.UpdatedAt = time.Unix(updatedAt, 0)
	return &listing, nil
}

// GetListing retrieves a listing by ID.
func (s *SQLiteStore) GetListing(ctx context.Context, id int64) (*domain.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings l JOIN accounts a ON a.id = l.account_id
		WHERE l.id = ?`

	listing, err := scanListing(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing row: %w", err)
	}
	return listing, nil
}

// ListPending retrieves unposted listings restricted to the given IDs.
func (s *SQLiteStore) ListPending(ctx context.Context, ids []int64) ([]*domain.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `
		SELECT ` + listingColumns + `
		FROM listings l JOIN accounts a ON a.id = l.account_id
		WHERE l.posted = 0 AND l.id IN (` + placeholders + `)
		ORDER BY l.id`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return s.queryListings(ctx, query, args...)
}

// ListDue retrieves unposted listings whose scheduled time has elapsed.
func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time) ([]*domain.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings l JOIN accounts a ON a.id = l.account_id
		WHERE l.posted = 0 AND l.scheduled_time <= ?
		ORDER BY l.id`

	return s.queryListings(ctx, query, now.Unix())
}

func (s *SQLiteStore) queryListings(ctx context.Context, query string, args ...any) ([]*domain.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer closeRows(rows, "listings")

	var listings []*domain.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

// MarkPosted flips posted false -> true exactly once and records the
// "posted" analytics event in the same transaction.
func (s *SQLiteStore) MarkPosted(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	result, err := tx.ExecContext(ctx,
		`UPDATE listings SET posted = 1, updated_at = ? WHERE id = ? AND posted = 0`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark posted: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Already posted, or no such listing. Either way there is nothing
		// to record.
		return false, tx.Commit()
	}

	var title, email string
	var price float64
	err = tx.QueryRowContext(ctx, `
		SELECT l.title, a.email, l.price
		FROM listings l JOIN accounts a ON a.id = l.account_id
		WHERE l.id = ?`, id).Scan(&title, &email, &price)
	if err != nil {
		return false, fmt.Errorf("resolve posted listing: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO analytics_events (listing_id, listing_title, action, account_email, price, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, domain.ActionPosted, email, price, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert posted event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit mark posted: %w", err)
	}
	return true, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "what", what, "error", err)
	}
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("failed to rollback transaction", "error", err)
	}
}
