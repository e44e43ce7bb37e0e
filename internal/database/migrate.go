package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables this server owns (clients, token ledger,
// settings) and the license table it reads.  In production the license
// table belongs to the content store; it is created here only when absent
// so a fresh database is usable.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS olp_clients (
		client_id    VARCHAR(64)  NOT NULL PRIMARY KEY,
		name         VARCHAR(255) NOT NULL,
		description  TEXT         NULL,
		secret_hash  VARCHAR(255) NOT NULL,
		is_active    TINYINT(1)   NOT NULL DEFAULT 1,
		created_at   DATETIME     NOT NULL,
		updated_at   DATETIME     NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS olp_tokens (
		jti              VARCHAR(64)  NOT NULL PRIMARY KEY,
		client_id        VARCHAR(255) NOT NULL,
		license_id       BIGINT       NOT NULL,
		order_id         VARCHAR(255) NULL,
		subscription_id  VARCHAR(255) NULL,
		expires_at       DATETIME     NOT NULL,
		revoked_at       DATETIME     NULL,
		created_at       DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_olp_tokens_expires (expires_at),
		KEY idx_olp_tokens_order (order_id),
		KEY idx_olp_tokens_subscription (subscription_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS olp_settings (
		name   VARCHAR(191) NOT NULL PRIMARY KEY,
		value  TEXT         NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS olp_licenses (
		id                BIGINT        NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name              VARCHAR(255)  NOT NULL DEFAULT '',
		url_pattern       VARCHAR(2048) NOT NULL,
		payment_type      VARCHAR(32)   NOT NULL DEFAULT 'free',
		amount            DECIMAL(12,2) NOT NULL DEFAULT 0,
		currency          CHAR(3)       NOT NULL DEFAULT 'USD',
		server_url        VARCHAR(2048) NULL,
		license_url       VARCHAR(2048) NULL,
		permitted_usage   TEXT          NULL,
		prohibited_usage  TEXT          NULL,
		permitted_users   TEXT          NULL,
		prohibited_users  TEXT          NULL,
		is_active         TINYINT(1)    NOT NULL DEFAULT 1
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables.  Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
