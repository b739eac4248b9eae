package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/aisle/internal/database"
	"github.com/dukerupert/aisle/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var hash sql.NullString
	var keyCreated, keyUsed sql.NullTime
	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &hash, &keyCreated, &keyUsed, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if hash.Valid {
		u.APIKeyHash = &hash.String
	}
	if keyCreated.Valid {
		u.APIKeyCreatedAt = &keyCreated.Time
	}
	if keyUsed.Valid {
		u.APIKeyLastUsed = &keyUsed.Time
	}
	return &u, nil
}

const userCols = `id, email, name, api_key_hash, api_key_created_at, api_key_last_used, created_at, updated_at`

// Create inserts a user. An empty id gets a generated one.
func (s *UserStore) Create(id, email, name string) (*model.User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, name) VALUES (?, ?, ?)`,
		id, email, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.Unavailable(fmt.Errorf("get user: %w", err))
	}
	return u, nil
}

// GetByEmail matches case-insensitively.
func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.Unavailable(fmt.Errorf("get user by email: %w", err))
	}
	return u, nil
}

func (s *UserStore) GetByAPIKeyHash(hash string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE api_key_hash = ?`, hash)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.Unavailable(fmt.Errorf("get user by api key: %w", err))
	}
	return u, nil
}

func (s *UserStore) List() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT ` + userCols + ` FROM users ORDER BY created_at, email`)
	if err != nil {
		return nil, database.Unavailable(fmt.Errorf("list users: %w", err))
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *UserStore) Update(id, email, name string) (*model.User, error) {
	_, err := s.db.Exec(
		`UPDATE users SET email = ?, name = ? WHERE id = ?`,
		email, name, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByID(id)
}

// SetAPIKey replaces the user's key hash and resets its usage stamp.
func (s *UserStore) SetAPIKey(id, hash string, createdAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE users SET api_key_hash = ?, api_key_created_at = ?, api_key_last_used = NULL WHERE id = ?`,
		hash, createdAt, id,
	)
	if err != nil {
		return fmt.Errorf("set api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set api key: user %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ClearAPIKey removes the key hash. The creation stamp stays so that the
// hourly generation limit still applies after a revoke.
func (s *UserStore) ClearAPIKey(id string) error {
	_, err := s.db.Exec(`UPDATE users SET api_key_hash = NULL, api_key_last_used = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear api key: %w", err)
	}
	return nil
}

func (s *UserStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET api_key_last_used = ? WHERE id = ?`, at, id)
	if err != nil {
		return database.Unavailable(fmt.Errorf("touch api key: %w", err))
	}
	return nil
}

func (s *UserStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
