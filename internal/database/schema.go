package database

import (
	"context"
	"database/sql"
	"fmt"
)

// usersTable is the Credential Store schema. email and mobile are nullable
// so that federated-first accounts without a phone number do not collide on
// the unique index; MySQL allows any number of NULLs under UNIQUE.
const usersTable = `CREATE TABLE IF NOT EXISTS users (
	id            CHAR(36)     NOT NULL,
	name          VARCHAR(255) NOT NULL,
	email         VARCHAR(320) NULL,
	mobile        VARCHAR(32)  NULL,
	password_hash VARCHAR(255) NOT NULL DEFAULT '',
	auth_provider VARCHAR(16)  NOT NULL DEFAULT 'local',
	provider_id   VARCHAR(255) NULL,
	avatar_url    TEXT         NULL,
	gender        VARCHAR(32)  NULL,
	birth_date    DATE         NULL,
	education     VARCHAR(64)  NULL,
	occupation    VARCHAR(64)  NULL,
	address       VARCHAR(255) NULL,
	tax_id        VARCHAR(32)  NULL,
	created_at    DATETIME(6)  NOT NULL,
	updated_at    DATETIME(6)  NOT NULL,
	PRIMARY KEY (id),
	UNIQUE KEY uq_users_email (email),
	UNIQUE KEY uq_users_mobile (mobile),
	UNIQUE KEY uq_users_provider (auth_provider, provider_id),
	CONSTRAINT chk_users_provider CHECK (auth_provider IN ('local','google'))
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// EnsureSchema creates the tables the service needs when they are missing.
// It is safe to call on every start.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, usersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}
