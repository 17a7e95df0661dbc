package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/crowdfund-auth/internal/model"
)

// userColumns is the column list shared by every SELECT on users; scanUser
// depends on its order.
const userColumns = `id, name, email, mobile, password_hash, auth_provider, provider_id, avatar_url,
	gender, birth_date, education, occupation, address, tax_id, created_at, updated_at`

// UserRepo is the Credential Store: user records keyed by id, unique email
// and unique mobile.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u                                 model.User
		email, mobile, providerID, avatar sql.NullString
		provider, gender, education       sql.NullString
		occupation, address, taxID        sql.NullString
		birth                             sql.NullTime
	)
	err := s.Scan(&u.ID, &u.Name, &email, &mobile, &u.PasswordHash, &provider, &providerID, &avatar,
		&gender, &birth, &education, &occupation, &address, &taxID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Provider = model.AuthProvider(provider.String)
	u.Email = nullStr(email)
	u.Mobile = nullStr(mobile)
	u.ProviderID = nullStr(providerID)
	u.AvatarURL = nullStr(avatar)
	u.Profile = model.Profile{
		Gender:     nullStr(gender),
		Education:  nullStr(education),
		Occupation: nullStr(occupation),
		Address:    nullStr(address),
		TaxID:      nullStr(taxID),
	}
	if birth.Valid {
		d := model.NewDate(birth.Time)
		u.Profile.BirthDate = &d
	}
	return &u, nil
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Create inserts u. A missing ID is filled with a new UUID and the
// timestamps are set on the struct. Unique index violations come back as
// ErrEmailExists or ErrMobileExists.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Email != nil {
		e := normalizeEmail(*u.Email)
		u.Email = &e
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (id, name, email, mobile, password_hash, auth_provider, provider_id, avatar_url, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.Mobile, u.PasswordHash, string(u.Provider), u.ProviderID, u.AvatarURL, now, now)
	if err != nil {
		return translateWrite(err)
	}
	return nil
}

// GetByID fetches a user by primary key.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", normalizeEmail(email)))
}

// GetByMobile fetches a user by mobile number.
func (r *UserRepo) GetByMobile(ctx context.Context, mobile string) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE mobile=? LIMIT 1", strings.TrimSpace(mobile)))
}

// FindByEmailOrMobile matches on whichever keys are non-empty. When both
// are supplied and hit different records, the email match wins.
func (r *UserRepo) FindByEmailOrMobile(ctx context.Context, email, mobile string) (*model.User, error) {
	email = normalizeEmail(email)
	mobile = strings.TrimSpace(mobile)
	switch {
	case email != "" && mobile != "":
		return scanUser(r.DB.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE email=? OR mobile=? ORDER BY (email=?) DESC LIMIT 1",
			email, mobile, email))
	case email != "":
		return r.GetByEmail(ctx, email)
	case mobile != "":
		return r.GetByMobile(ctx, mobile)
	default:
		return nil, ErrNotFound
	}
}

// UpdateProfile applies an allow-listed patch inside a transaction and
// returns the stored record.
func (r *UserRepo) UpdateProfile(ctx context.Context, id string, patch model.ProfilePatch) (*model.User, error) {
	var out *model.User
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE id=? FOR UPDATE", id))
		if err != nil {
			return err
		}
		patch.Apply(u)
		u.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
		var birth any
		if u.Profile.BirthDate != nil {
			birth = u.Profile.BirthDate.String()
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET name=?, avatar_url=?, gender=?, birth_date=?, education=?, occupation=?,
			 address=?, tax_id=?, updated_at=? WHERE id=?`,
			u.Name, u.AvatarURL, u.Profile.Gender, birth, u.Profile.Education, u.Profile.Occupation,
			u.Profile.Address, u.Profile.TaxID, u.UpdatedAt, id)
		if err != nil {
			return translateWrite(err)
		}
		out = u
		return nil
	})
	return out, err
}

// LinkFederated binds the record owning email to a federated provider.
// The provider tag and subject id are overwritten, the password hash is
// cleared to the no-password sentinel and the avatar is refreshed when one
// is supplied.
func (r *UserRepo) LinkFederated(ctx context.Context, email string, provider model.AuthProvider, subject string, avatar *string) (*model.User, error) {
	var out *model.User
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE email=? FOR UPDATE", normalizeEmail(email)))
		if err != nil {
			return err
		}
		u.Provider = provider
		u.ProviderID = &subject
		u.PasswordHash = ""
		if avatar != nil && *avatar != "" {
			u.AvatarURL = avatar
		}
		u.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET auth_provider=?, provider_id=?, password_hash='', avatar_url=?, updated_at=? WHERE id=?",
			string(u.Provider), u.ProviderID, u.AvatarURL, u.UpdatedAt, u.ID); err != nil {
			return translateWrite(err)
		}
		out = u
		return nil
	})
	return out, err
}

// UpdatePasswordHash replaces the stored hash for id.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, updated_at=? WHERE id=?",
		hash, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes the record for id.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Ping verifies the store is reachable.
func (r *UserRepo) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (r *UserRepo) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
