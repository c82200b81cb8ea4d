// Package auth stores user credentials. It is an outer collaborator: the hub
// core only ever sees the verified username and the privileged flag.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open user db: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init user db: %w", err)
	}
	log.Info().Str("module", "auth").Str("path", path).Msg("user store ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Register creates a user with a bcrypt-hashed password.
func (s *Store) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?)", username, string(hash))
	if err != nil {
		// sqlite reports the UNIQUE constraint in the error text; there is
		// no portable sentinel across database/sql drivers.
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	log.Info().Str("module", "auth").Str("username", username).Msg("user registered")
	return nil
}

// Verify checks a username/password pair.
func (s *Store) Verify(ctx context.Context, username, password string) error {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash FROM users WHERE username = ?", username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("query user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}
