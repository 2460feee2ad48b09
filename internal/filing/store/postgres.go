package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"chargegate/internal/filing/models"
	id "chargegate/pkg/domain"
	"chargegate/pkg/platform/sentinel"
	"chargegate/pkg/requestcontext"
)

// Schema creates the tables this store needs. Applied by cmd/server at
// startup and by integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS filings (
    id                  UUID PRIMARY KEY,
    tenant_id           UUID NOT NULL,
    reference           TEXT NOT NULL,
    entity_name         TEXT NOT NULL,
    registration_number TEXT NOT NULL,
    filing_type         TEXT NOT NULL,
    charge_amount       BIGINT NOT NULL,
    charge_currency     TEXT NOT NULL,
    status              TEXT NOT NULL,
    linked_loan_id      TEXT NOT NULL DEFAULT '',
    linked_document_id  TEXT NOT NULL DEFAULT '',
    metadata            JSONB NOT NULL DEFAULT '{}',
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL,
    UNIQUE (tenant_id, reference)
);
CREATE INDEX IF NOT EXISTS filings_tenant_updated_idx ON filings (tenant_id, updated_at);

CREATE TABLE IF NOT EXISTS filing_sequences (
    tenant_id UUID NOT NULL,
    year      INT NOT NULL,
    value     INT NOT NULL,
    PRIMARY KEY (tenant_id, year)
);
`

// watchPollInterval is how often the postgres watcher polls for mutations.
// Polling implements the generic change-notification contract; a LISTEN/
// NOTIFY variant can replace it behind the same interface.
const watchPollInterval = 250 * time.Millisecond

// Postgres implements RecordStore on database/sql with the pq driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed record store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema applies the store schema.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure filing schema: %w", err)
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, rec *models.FilingRecord) error {
	metadata, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO filings (
			id, tenant_id, reference, entity_name, registration_number,
			filing_type, charge_amount, charge_currency, status,
			linked_loan_id, linked_document_id, metadata, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		rec.ID.String(), rec.TenantID.String(), rec.Reference, rec.EntityName,
		rec.RegistrationNumber, string(rec.FilingType), rec.ChargeAmount,
		string(rec.ChargeCurrency), string(rec.Status), rec.LinkedLoanID,
		rec.LinkedDocumentID, metadata, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("create filing %s: %w", rec.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create filing: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, filingID id.FilingID) (*models.FilingRecord, error) {
	row := s.db.QueryRowContext(ctx, selectFiling+` WHERE id = $1`, filingID.String())
	return scanFiling(row)
}

// UpdateStatus applies the milestone write inside one transaction with the
// row locked, so validation and mutation are atomic (FOR UPDATE mirrors the
// memory store's mutex).
func (s *Postgres) UpdateStatus(ctx context.Context, filingID id.FilingID, next models.Status, metadataPatch map[string]string) (*models.FilingRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectFiling+` WHERE id = $1 FOR UPDATE`, filingID.String())
	rec, err := scanFiling(row)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)

	if next == rec.Status && len(metadataPatch) == 0 {
		return rec, nil
	}
	if next != rec.Status {
		if err := rec.CanApplyStatus(next); err != nil {
			return nil, fmt.Errorf("filing %s: %s -> %s: %w", filingID, rec.Status, next, sentinel.ErrInvalidState)
		}
		rec.ApplyStatus(next, now)
	}
	rec.ApplyMetadata(metadataPatch, now)
	rec.UpdatedAt = now

	metadata, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE filings SET status = $2, metadata = $3, updated_at = $4 WHERE id = $1`,
		filingID.String(), string(rec.Status), metadata, rec.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update filing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return rec, nil
}

func (s *Postgres) NextSequence(ctx context.Context, tenantID id.TenantID, year int) (int, error) {
	var value int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO filing_sequences (tenant_id, year, value) VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, year) DO UPDATE SET value = filing_sequences.value + 1
		RETURNING value`,
		tenantID.String(), year,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next filing sequence: %w", err)
	}
	return value, nil
}

// Watch polls updated_at past a cursor and emits changed records. Records
// sharing the cursor timestamp may be emitted twice across polls; observers
// apply idempotently keyed on UpdatedAt.
func (s *Postgres) Watch(ctx context.Context, tenantID id.TenantID) (<-chan *models.FilingRecord, func(), error) {
	ch := make(chan *models.FilingRecord, watchBuffer)
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(ch)
		cursor := time.Now()
		ticker := time.NewTicker(watchPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			}
			records, err := s.changedSince(watchCtx, tenantID, cursor)
			if err != nil {
				continue
			}
			for _, rec := range records {
				if rec.UpdatedAt.After(cursor) {
					cursor = rec.UpdatedAt
				}
				select {
				case ch <- rec:
				case <-watchCtx.Done():
					return
				}
			}
		}
	}()

	return ch, cancel, nil
}

func (s *Postgres) changedSince(ctx context.Context, tenantID id.TenantID, cursor time.Time) ([]*models.FilingRecord, error) {
	query := selectFiling + ` WHERE updated_at >= $1`
	args := []any{cursor}
	if !tenantID.IsZero() {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID.String())
	}
	query += ` ORDER BY updated_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.FilingRecord
	for rows.Next() {
		rec, err := scanFiling(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const selectFiling = `
	SELECT id, tenant_id, reference, entity_name, registration_number,
	       filing_type, charge_amount, charge_currency, status,
	       linked_loan_id, linked_document_id, metadata, created_at, updated_at
	FROM filings`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFiling(row rowScanner) (*models.FilingRecord, error) {
	var (
		rec              models.FilingRecord
		filingID, tenant string
		filingType       string
		currency         string
		status           string
		metadata         []byte
	)
	err := row.Scan(&filingID, &tenant, &rec.Reference, &rec.EntityName,
		&rec.RegistrationNumber, &filingType, &rec.ChargeAmount, &currency,
		&status, &rec.LinkedLoanID, &rec.LinkedDocumentID, &metadata,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan filing: %w", err)
	}

	parsedID, err := id.ParseFilingID(filingID)
	if err != nil {
		return nil, fmt.Errorf("scan filing id: %w", err)
	}
	parsedTenant, err := id.ParseTenantID(tenant)
	if err != nil {
		return nil, fmt.Errorf("scan tenant id: %w", err)
	}
	rec.ID = parsedID
	rec.TenantID = parsedTenant
	rec.FilingType = models.FilingType(filingType)
	rec.ChargeCurrency = models.Currency(currency)
	rec.Status = models.Status(status)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(rec.Metadata) == 0 {
		rec.Metadata = nil
	}
	return &rec, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
