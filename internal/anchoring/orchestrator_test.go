package anchoring

import (
	"context"
	"errors"
	"testing"

	"github.com/careledger/rx-anchor/internal/domain/prescription"
)

type fakeClient struct {
	txHash  string
	err     error
	network string
	calls   int
}

func (f *fakeClient) Submit(ctx context.Context, digestHex string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.txHash, nil
}

func (f *fakeClient) Network() string {
	if f.network == "" {
		return "sepolia"
	}
	return f.network
}

type fakeStore struct {
	err     error
	calls   int
	lastID  string
	lastRef prescription.Anchoring
}

func (f *fakeStore) UpdateAnchoring(ctx context.Context, id string, a prescription.Anchoring) error {
	f.calls++
	f.lastID = id
	f.lastRef = a
	return f.err
}

const testDigest = "a5f3c6a11b03839d46af9fb43c7c493b0b99d6a279e16aa4a0c7a171c1cedf35"

func TestAnchorSuccess(t *testing.T) {
	client := &fakeClient{txHash: "tx-abc123"}
	store := &fakeStore{}
	orch := New(client, store, nil, DefaultConfig(), nil, nil)

	result := orch.Anchor(context.Background(), "rec-1", testDigest)

	if result.State != StateAnchored {
		t.Fatalf("expected state %s, got %s", StateAnchored, result.State)
	}
	if result.TxHash != "tx-abc123" {
		t.Errorf("expected tx hash tx-abc123, got %s", result.TxHash)
	}
	if result.Network != "sepolia" {
		t.Errorf("expected network sepolia, got %s", result.Network)
	}
	if result.Err != nil {
		t.Errorf("unexpected error: %v", result.Err)
	}

	if store.calls != 1 {
		t.Fatalf("expected 1 store update, got %d", store.calls)
	}
	if store.lastID != "rec-1" {
		t.Errorf("expected record rec-1, got %s", store.lastID)
	}
	if store.lastRef.TxHash != "tx-abc123" || !store.lastRef.Confirmed {
		t.Errorf("unexpected anchoring persisted: %+v", store.lastRef)
	}
}

func TestAnchorSubmitFailureIsContained(t *testing.T) {
	submitErr := &SubmitError{Kind: KindNetwork, Message: "submission transport failed"}
	client := &fakeClient{err: submitErr}
	store := &fakeStore{}
	orch := New(client, store, nil, DefaultConfig(), nil, nil)

	result := orch.Anchor(context.Background(), "rec-2", testDigest)

	if result.State != StateFailed {
		t.Fatalf("expected state %s, got %s", StateFailed, result.State)
	}
	if result.TxHash != "" {
		t.Errorf("expected empty tx hash, got %s", result.TxHash)
	}
	if result.Err == nil {
		t.Fatal("expected a classified error")
	}

	var se *SubmitError
	if !errors.As(result.Err, &se) || se.Kind != KindNetwork {
		t.Errorf("expected network submit error, got %v", result.Err)
	}

	if store.calls != 0 {
		t.Errorf("store must not be touched after a failed submission, got %d updates", store.calls)
	}
}

func TestAnchorSubmitsExactlyOnce(t *testing.T) {
	client := &fakeClient{err: &SubmitError{Kind: KindProvider, Message: "gateway returned 500"}}
	orch := New(client, &fakeStore{}, nil, DefaultConfig(), nil, nil)

	orch.Anchor(context.Background(), "rec-3", testDigest)

	if client.calls != 1 {
		t.Fatalf("expected exactly 1 submission, got %d", client.calls)
	}
}

func TestAnchorUpdateFailureKeepsTxHash(t *testing.T) {
	client := &fakeClient{txHash: "tx-def456"}
	store := &fakeStore{err: errors.New("connection reset")}
	orch := New(client, store, nil, DefaultConfig(), nil, nil)

	result := orch.Anchor(context.Background(), "rec-4", testDigest)

	if result.State != StateFailed {
		t.Fatalf("expected state %s, got %s", StateFailed, result.State)
	}
	if result.TxHash != "tx-def456" {
		t.Errorf("the ledger accepted the digest; result must carry the tx hash, got %q", result.TxHash)
	}
	if result.Err == nil {
		t.Error("expected the persistence error to be reported")
	}
}

func TestAnchorAlreadyAnchoredConflict(t *testing.T) {
	client := &fakeClient{txHash: "tx-zzz"}
	store := &fakeStore{err: prescription.ErrAlreadyAnchored}
	orch := New(client, store, nil, DefaultConfig(), nil, nil)

	result := orch.Anchor(context.Background(), "rec-5", testDigest)

	if result.State != StateFailed {
		t.Fatalf("expected state %s, got %s", StateFailed, result.State)
	}
	if !errors.Is(result.Err, prescription.ErrAlreadyAnchored) {
		t.Errorf("expected ErrAlreadyAnchored, got %v", result.Err)
	}
}
