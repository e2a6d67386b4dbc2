package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"github.com/shhcash/Shh.Cash-Node/offer"
)

// ErrPathRequired is returned when the journal path is missing.
var ErrPathRequired = errors.New("journal: path must be configured")

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    offer_id TEXT NOT NULL,
    part_id TEXT NOT NULL,
    asset TEXT NOT NULL,
    amount TEXT NOT NULL,
    recipient TEXT NOT NULL,
    tx_signature TEXT NOT NULL DEFAULT '',
    spent_lamports INTEGER NOT NULL DEFAULT 0,
    fee_lamports INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    completed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_recorded_at ON receipts(recorded_at);
`

// Journal is the append-only receipt audit log. It is written on every
// resolution and read back only by the operator status endpoint, never for
// coordination or recovery.
type Journal struct {
	db *sql.DB
}

// Entry is one persisted receipt record.
type Entry struct {
	ID            string    `json:"id"`
	OfferID       string    `json:"offerId"`
	PartID        string    `json:"partId"`
	Asset         string    `json:"asset"`
	Amount        string    `json:"amount"`
	Recipient     string    `json:"recipient"`
	TxSignature   string    `json:"txSignature"`
	SpentLamports uint64    `json:"spentLamports"`
	FeeLamports   uint64    `json:"feeLamports"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	CompletedAt   int64     `json:"completedAt"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN with sensible
// defaults. Callers must ensure the path is non-empty.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("journal: resolve path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open initialises the journal at the supplied SQLite DSN.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append records one resolved offer with its receipt. The caller treats a
// failure as log-and-continue; a journal fault must never block resolution.
func (j *Journal) Append(ctx context.Context, item offer.Offer, receipt offer.Receipt) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal: not configured")
	}
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO receipts(id, offer_id, part_id, asset, amount, recipient,
            tx_signature, spent_lamports, fee_lamports, success, error,
            completed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, uuid.NewString(), item.ID, item.PartID, string(item.Asset), item.Amount,
		item.Recipient, receipt.TxSignature, receipt.SpentLamports,
		receipt.FeeLamports, boolToInt(receipt.Success), receipt.Error,
		receipt.Timestamp, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("journal: insert receipt: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal: not configured")
	}
	if n <= 0 {
		n = 20
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT id, offer_id, part_id, asset, amount, recipient, tx_signature,
            spent_lamports, fee_lamports, success, error, completed_at, recorded_at
        FROM receipts
        ORDER BY recorded_at DESC, id DESC
        LIMIT ?
    `, n)
	if err != nil {
		return nil, fmt.Errorf("journal: query receipts: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, n)
	for rows.Next() {
		var entry Entry
		var success int
		if err := rows.Scan(&entry.ID, &entry.OfferID, &entry.PartID, &entry.Asset,
			&entry.Amount, &entry.Recipient, &entry.TxSignature, &entry.SpentLamports,
			&entry.FeeLamports, &success, &entry.Error, &entry.CompletedAt,
			&entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("journal: scan receipt: %w", err)
		}
		entry.Success = success != 0
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate receipts: %w", err)
	}
	return entries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
