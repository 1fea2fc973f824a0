package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/careledger/rx-anchor/internal/infrastructure/postgres"
	"github.com/careledger/rx-anchor/internal/infrastructure/redpanda"
)

// ErrNotFound indicates the record does not exist.
var ErrNotFound = errors.New("prescription not found")

// ErrAlreadyAnchored indicates the anchoring fields were already set.
// They are write-once: a second update is refused rather than overwritten.
var ErrAlreadyAnchored = errors.New("prescription already anchored")

// PgStore is the PostgreSQL-backed record store.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStore creates a record store.
func NewPgStore(pool *pgxpool.Pool, logger *zap.Logger) *PgStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgStore{pool: pool, logger: logger}
}

var _ Store = (*PgStore)(nil)

// Create inserts the record and its PrescriptionRecorded audit event in one
// transaction. The store assigns the id; anchoring fields start unset.
func (s *PgStore) Create(ctx context.Context, rec *Record) error {
	medicines, err := json.Marshal(rec.Medicines)
	if err != nil {
		return fmt.Errorf("marshal medicines: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prescriptions
		(patient_name, patient_email, age, sex, medicines, notes, data_hash, hash_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		rec.PatientName,
		rec.PatientEmail,
		rec.Age,
		rec.Sex,
		medicines,
		rec.Notes,
		rec.DataHash,
		rec.HashVersion,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	if err := s.writeAuditEntry(ctx, tx, rec.ID, EventRecorded, &RecordedData{
		RecordID:    rec.ID,
		DataHash:    rec.DataHash,
		HashVersion: rec.HashVersion,
		CreatedAt:   rec.CreatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns a record by id.
func (s *PgStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT id, patient_name, patient_email, age, sex, medicines, notes,
		       data_hash, hash_version, chain_tx_hash, chain_network,
		       chain_confirmed, created_at, updated_at
		FROM prescriptions
		WHERE id = $1
	`

	rec := &Record{}
	var medicines []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.PatientName, &rec.PatientEmail, &rec.Age, &rec.Sex,
		&medicines, &rec.Notes, &rec.DataHash, &rec.HashVersion,
		&rec.ChainTxHash, &rec.ChainNetwork, &rec.ChainConfirmed,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query prescription: %w", err)
	}

	if err := json.Unmarshal(medicines, &rec.Medicines); err != nil {
		return nil, fmt.Errorf("unmarshal medicines: %w", err)
	}
	return rec, nil
}

// UpdateAnchoring sets the anchoring fields, guarded so they are written
// exactly once. The PrescriptionAnchored audit event commits with it.
func (s *PgStore) UpdateAnchoring(ctx context.Context, id string, a Anchoring) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE prescriptions
		SET chain_tx_hash = $1, chain_network = $2, chain_confirmed = $3, updated_at = NOW()
		WHERE id = $4 AND chain_tx_hash IS NULL
		RETURNING data_hash, updated_at
	`
	var dataHash string
	var updatedAt time.Time
	err = tx.QueryRow(ctx, query, a.TxHash, a.Network, a.Confirmed, id).Scan(&dataHash, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.classifyAnchoringConflict(ctx, id)
		}
		return fmt.Errorf("update anchoring: %w", err)
	}

	if err := s.writeAuditEntry(ctx, tx, id, EventAnchored, &AnchoredData{
		RecordID:   id,
		DataHash:   dataHash,
		TxHash:     a.TxHash,
		Network:    a.Network,
		AnchoredAt: updatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// classifyAnchoringConflict distinguishes a missing record from one whose
// anchoring fields are already set.
func (s *PgStore) classifyAnchoringConflict(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM prescriptions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check prescription: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyAnchored
}

func (s *PgStore) writeAuditEntry(ctx context.Context, tx pgx.Tx, recordID string, eventType EventType, payload interface{}) error {
	event, err := NewAuditEvent(recordID, eventType, payload)
	if err != nil {
		return fmt.Errorf("build audit event: %w", err)
	}
	envelope, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	entry := &postgres.OutboxEntry{
		AggregateID:   recordID,
		AggregateType: "Prescription",
		EventType:     string(eventType),
		Payload:       envelope,
		Topic:         redpanda.TopicAudit,
		Key:           recordID,
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}
