package sqlstore

// schema is portable between SQLite and PostgreSQL: TEXT, BIGINT, BOOLEAN,
// partial indexes and ON CONFLICT are understood by both. Statements run one
// at a time because not every driver accepts a multi-statement Exec.
var schema = []string{
	// Ledger accounts. Version is the optimistic concurrency token.
	`CREATE TABLE IF NOT EXISTS ledger_accounts (
		id            TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		kind          TEXT NOT NULL,
		currency      TEXT NOT NULL,
		balance_minor BIGINT NOT NULL DEFAULT 0,
		version       BIGINT NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	// One wallet and one flexible savings account per owner and currency.
	// Fixed deposits get an account each; settlement accounts are named.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_accounts_owner_kind
		ON ledger_accounts(owner_id, kind, currency)
		WHERE kind IN ('wallet', 'flexible_savings')`,

	// Ledger entries (append-only). Both sides of a transfer share a reference.
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id                  TEXT PRIMARY KEY,
		account_id          TEXT NOT NULL REFERENCES ledger_accounts(id),
		owner_id            TEXT NOT NULL,
		direction           TEXT NOT NULL,
		amount_minor        BIGINT NOT NULL,
		currency            TEXT NOT NULL,
		balance_after_minor BIGINT NOT NULL,
		reference           TEXT NOT NULL,
		kind                TEXT NOT NULL,
		movement            TEXT NOT NULL,
		related_entry_id    TEXT,
		seq                 BIGINT NOT NULL,
		memo                TEXT NOT NULL DEFAULT '',
		created_at          TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_reference
		ON ledger_entries(reference, direction)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_account_seq
		ON ledger_entries(account_id, seq)`,
	// Daily limit lookups (hot path for outgoing transfers).
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_owner_movement
		ON ledger_entries(owner_id, movement, direction, created_at)`,

	// Flexible savings.
	`CREATE TABLE IF NOT EXISTS savings_accounts (
		id                    TEXT PRIMARY KEY,
		owner_id              TEXT NOT NULL UNIQUE,
		ledger_account_id     TEXT NOT NULL REFERENCES ledger_accounts(id),
		currency              TEXT NOT NULL,
		is_active             BOOLEAN NOT NULL,
		savings_percentage    TEXT NOT NULL,
		min_transaction_minor BIGINT NOT NULL,
		total_saved_minor     BIGINT NOT NULL DEFAULT 0,
		total_interest_minor  BIGINT NOT NULL DEFAULT 0,
		total_transactions    BIGINT NOT NULL DEFAULT 0,
		last_accrued_on       TEXT NOT NULL,
		last_auto_save_at     TEXT,
		version               BIGINT NOT NULL DEFAULT 0,
		created_at            TEXT NOT NULL,
		updated_at            TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_savings_accounts_active
		ON savings_accounts(is_active)`,
	`CREATE TABLE IF NOT EXISTS savings_milestones (
		account_id      TEXT NOT NULL REFERENCES savings_accounts(id),
		milestone       TEXT NOT NULL,
		threshold_minor BIGINT NOT NULL,
		currency        TEXT NOT NULL,
		reached_at      TEXT NOT NULL,
		PRIMARY KEY (account_id, milestone)
	)`,

	// Fixed-term deposits. The rate is stored as text to keep it exact.
	`CREATE TABLE IF NOT EXISTS fixed_savings (
		id                     TEXT PRIMARY KEY,
		owner_id               TEXT NOT NULL,
		ledger_account_id      TEXT NOT NULL REFERENCES ledger_accounts(id),
		currency               TEXT NOT NULL,
		principal_minor        BIGINT NOT NULL,
		source                 TEXT NOT NULL,
		from_wallet_minor      BIGINT NOT NULL DEFAULT 0,
		from_savings_minor     BIGINT NOT NULL DEFAULT 0,
		purpose                TEXT NOT NULL,
		purpose_description    TEXT NOT NULL DEFAULT '',
		start_date             TEXT NOT NULL,
		payback_date           TEXT NOT NULL,
		interest_rate          TEXT NOT NULL,
		auto_renewal           BOOLEAN NOT NULL,
		status                 TEXT NOT NULL,
		accrued_interest_minor BIGINT NOT NULL DEFAULT 0,
		last_accrued_on        TEXT NOT NULL,
		matured_at             TEXT,
		paid_out_at            TEXT,
		predecessor_id         TEXT NOT NULL DEFAULT '',
		successor_id           TEXT NOT NULL DEFAULT '',
		version                BIGINT NOT NULL DEFAULT 0,
		created_at             TEXT NOT NULL,
		updated_at             TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fixed_savings_owner
		ON fixed_savings(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fixed_savings_status
		ON fixed_savings(status)`,

	// Nightly accrual idempotency ledger.
	`CREATE TABLE IF NOT EXISTS accrual_runs (
		business_date  TEXT NOT NULL,
		account_id     TEXT NOT NULL,
		product        TEXT NOT NULL,
		status         TEXT NOT NULL,
		interest_minor BIGINT NOT NULL DEFAULT 0,
		currency       TEXT NOT NULL DEFAULT '',
		error          TEXT NOT NULL DEFAULT '',
		attempts       BIGINT NOT NULL DEFAULT 0,
		started_at     TEXT NOT NULL,
		completed_at   TEXT,
		PRIMARY KEY (business_date, account_id)
	)`,
}
