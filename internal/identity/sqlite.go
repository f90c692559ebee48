package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/memora-app/memora/internal/apperror"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// compile-time check that *DB implements Store
var _ Store = (*DB)(nil)

// DB is the SQLite-backed account store.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the account database at dbPath.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("identity: opening database: %w", err)
	}
	// Single writer, and ":memory:" stays one database across the pool.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("identity: pinging database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("identity: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("identity: running migrations: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	// google_id is UNIQUE but nullable-by-emptiness is not enough for a
	// partial constraint in this schema, so empty values are stored as NULL.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
			display_name  TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			google_id     TEXT UNIQUE,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}
	return nil
}

// Create inserts a new account, generating its ID. A duplicate email surfaces
// as apperror.ErrConflict so signup can tell the user the address is taken.
func (db *DB) Create(ctx context.Context, account *Account) error {
	now := time.Now()
	account.ID = xid.New().String()
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (id, email, display_name, password_hash, google_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Email,
		account.DisplayName,
		account.PasswordHash,
		nullable(account.GoogleID),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperror.Conflict("account", account.Email)
		}
		return fmt.Errorf("identity: inserting account %s: %w", account.Email, err)
	}
	return nil
}

func (db *DB) GetByID(ctx context.Context, id string) (*Account, error) {
	return db.getBy(ctx, "id = ?", id, id)
}

func (db *DB) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return db.getBy(ctx, "email = ?", email, email)
}

func (db *DB) getBy(ctx context.Context, where string, arg any, label string) (*Account, error) {
	var (
		a        Account
		googleID sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, display_name, password_hash, google_id, created_at, updated_at
		 FROM accounts WHERE `+where,
		arg,
	).Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &googleID, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("account", label)
	}
	if err != nil {
		return nil, fmt.Errorf("identity: getting account %s: %w", label, err)
	}
	a.GoogleID = googleID.String
	return &a, nil
}

// UpsertGoogle creates or refreshes an account keyed on the Google subject.
// First sign-in inserts; returning sign-ins update the profile fields in case
// they changed on Google's side, keeping the existing internal ID.
func (db *DB) UpsertGoogle(ctx context.Context, account *Account) error {
	var existingID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE google_id = ?`, account.GoogleID,
	).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("identity: looking up google account %s: %w", account.GoogleID, err)
	}

	if existingID != "" {
		account.ID = existingID
		account.UpdatedAt = time.Now()
		_, err = db.conn.ExecContext(ctx,
			`UPDATE accounts SET email = ?, display_name = ?, updated_at = ? WHERE id = ?`,
			account.Email, account.DisplayName, account.UpdatedAt, account.ID,
		)
		if err != nil {
			return fmt.Errorf("identity: updating account %s: %w", account.ID, err)
		}
		return nil
	}

	return db.Create(ctx, account)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
