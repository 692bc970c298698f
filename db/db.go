// Package db bootstraps the wallet schema.
package db

import (
	"database/sql"
	"fmt"
)

// Initialize creates the wallet tables if they do not exist yet. Balances
// carry a non-negative check so no code path can persist an overdraft, and
// money requests reject sender == recipient at the schema level too.
func Initialize(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			balance DECIMAL(20, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			frozen BOOLEAN NOT NULL DEFAULT FALSE,
			pin_hash TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'standard',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			recipient_id UUID,
			admin_id UUID,
			amount DECIMAL(20, 2) NOT NULL CHECK (amount > 0),
			type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS loan_requests (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			permanent_address TEXT NOT NULL,
			id_type TEXT NOT NULL,
			id_number TEXT NOT NULL,
			loan_amount DECIMAL(20, 2) NOT NULL CHECK (loan_amount > 0),
			duration_days INT NOT NULL CHECK (duration_days > 0),
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			paid_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS money_requests (
			id UUID PRIMARY KEY,
			sender_id UUID NOT NULL,
			recipient_id UUID NOT NULL,
			amount DECIMAL(20, 2) NOT NULL CHECK (amount > 0),
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (sender_id <> recipient_id)
		)`,
		`CREATE TABLE IF NOT EXISTS admin_actions (
			id UUID PRIMARY KEY,
			admin_id UUID NOT NULL,
			user_id UUID NOT NULL,
			action TEXT NOT NULL,
			amount DECIMAL(20, 2),
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			sender_id UUID NOT NULL,
			message TEXT NOT NULL,
			seen BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_loan_requests_user ON loan_requests (user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_money_requests_recipient ON money_requests (recipient_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init: %w", err)
		}
	}
	return nil
}
