package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

type ProfilesRepository interface {
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	FindIDsByEmail(ctx context.Context, email string) ([]string, error)
	Upsert(ctx context.Context, p model.Profile) error
}

type ProfilesRepositoryImpl struct {
	db *sqlx.DB
}

func NewProfilesRepository(db *sqlx.DB) *ProfilesRepositoryImpl {
	return &ProfilesRepositoryImpl{db: db}
}

var _ ProfilesRepository = (*ProfilesRepositoryImpl)(nil)

func (r *ProfilesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := r.db.GetContext(ctx, &p, `
		SELECT id, email, full_name, created_at, updated_at
		  FROM profiles
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindIDsByEmail matches case-insensitively. Two rows are enough to tell an
// ambiguous address from a unique one.
func (r *ProfilesRepositoryImpl) FindIDsByEmail(ctx context.Context, email string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM profiles WHERE LOWER(email) = ? LIMIT 2
	`, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Upsert records the identity seen on a verified token. Empty fields do not
// clear stored values.
func (r *ProfilesRepositoryImpl) Upsert(ctx context.Context, p model.Profile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, full_name, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    email      = COALESCE(VALUES(email), email),
		    full_name  = COALESCE(VALUES(full_name), full_name),
		    updated_at = NOW()
	`, p.ID, p.Email, p.FullName)
	return err
}
