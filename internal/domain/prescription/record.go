// Package prescription defines the prescription record and its store.
package prescription

import (
	"context"
	"time"

	"github.com/careledger/rx-anchor/internal/canonical"
)

// Record is a stored prescription with its integrity and anchoring fields.
//
// DataHash is computed once at creation from the canonical clinical fields
// and never changes. The anchoring fields transition from unset to set at
// most once; a failed anchoring attempt leaves them unset.
type Record struct {
	ID             string               `json:"id"`
	PatientName    string               `json:"patientName"`
	PatientEmail   *string              `json:"patientEmail,omitempty"`
	Age            *float64             `json:"age,omitempty"`
	Sex            string               `json:"sex"`
	Medicines      []canonical.Medicine `json:"medicines"`
	Notes          *string              `json:"notes,omitempty"`
	DataHash       string               `json:"dataHash"`
	HashVersion    int                  `json:"hashVersion"`
	ChainTxHash    *string              `json:"chainTxHash"`
	ChainNetwork   *string              `json:"chainNetwork"`
	ChainConfirmed bool                 `json:"chainConfirmed"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// Anchoring holds the ledger reference written after a successful
// submission. Confirmed means the orchestrator recorded the submission,
// not full ledger finality.
type Anchoring struct {
	TxHash    string
	Network   string
	Confirmed bool
}

// Store is the persistence contract required of the record store.
type Store interface {
	// Create persists the clinical and integrity fields atomically and
	// assigns the record id.
	Create(ctx context.Context, rec *Record) error
	// Get returns a stored record by id.
	Get(ctx context.Context, id string) (*Record, error)
	// UpdateAnchoring applies the single partial update that sets the
	// anchoring fields. It only succeeds while they are still unset.
	UpdateAnchoring(ctx context.Context, id string, a Anchoring) error
}
