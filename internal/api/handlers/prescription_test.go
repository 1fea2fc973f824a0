package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/careledger/rx-anchor/internal/anchoring"
	"github.com/careledger/rx-anchor/internal/domain/prescription"
)

type memStore struct {
	records   map[string]*prescription.Record
	createErr error
	seq       int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*prescription.Record)}
}

func (s *memStore) Create(ctx context.Context, rec *prescription.Record) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.seq++
	rec.ID = fmt.Sprintf("rec-%d", s.seq)
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	stored := *rec
	s.records[rec.ID] = &stored
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*prescription.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, prescription.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) UpdateAnchoring(ctx context.Context, id string, a prescription.Anchoring) error {
	rec, ok := s.records[id]
	if !ok {
		return prescription.ErrNotFound
	}
	if rec.ChainTxHash != nil {
		return prescription.ErrAlreadyAnchored
	}
	rec.ChainTxHash = &a.TxHash
	rec.ChainNetwork = &a.Network
	rec.ChainConfirmed = a.Confirmed
	return nil
}

type stubAnchorClient struct {
	txHash string
	err    error
}

func (c *stubAnchorClient) Submit(ctx context.Context, digestHex string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.txHash, nil
}

func (c *stubAnchorClient) Network() string { return "sepolia" }

func newTestRouter(store *memStore, client anchoring.AnchorClient) chi.Router {
	orch := anchoring.New(client, store, nil, anchoring.DefaultConfig(), nil, nil)
	h := NewPrescriptionHandler(store, orch, nil, nil)

	r := chi.NewRouter()
	r.Mount("/prescriptions", h.Routes())
	return r
}

const validBody = `{
	"patientName": "Jane Doe",
	"patientEmail": "jane@example.com",
	"age": 42,
	"sex": "F",
	"medicines": [
		{"id": "med-1", "name": "Amoxicillin", "dosageValue": 500, "dosageUnit": "mg", "timesPerDay": 3, "totalDays": 7}
	],
	"notes": "after meals"
}`

func postPrescription(t *testing.T, r chi.Router, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/prescriptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, decoded
}

func fieldString(t *testing.T, resp map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(resp[key], &s); err != nil {
		t.Fatalf("field %s is not a string: %s", key, resp[key])
	}
	return s
}

func TestCreatePrescription(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store, &stubAnchorClient{txHash: "tx-abc123"})

	w, resp := postPrescription(t, r, validBody)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if string(resp["ok"]) != "true" {
		t.Errorf("expected ok true, got %s", resp["ok"])
	}
	if got := fieldString(t, resp, "chainTxHash"); got != "tx-abc123" {
		t.Errorf("expected chainTxHash tx-abc123, got %s", got)
	}

	dataHash := fieldString(t, resp, "dataHash")
	if len(dataHash) != 64 {
		t.Errorf("expected 64-char hash, got %q", dataHash)
	}

	id := fieldString(t, resp, "id")
	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("stored record not found: %v", err)
	}
	if rec.DataHash != dataHash {
		t.Errorf("stored hash %s does not match response %s", rec.DataHash, dataHash)
	}
	if rec.ChainTxHash == nil || *rec.ChainTxHash != "tx-abc123" {
		t.Errorf("anchoring fields not persisted: %+v", rec)
	}
	if !rec.ChainConfirmed {
		t.Error("expected chainConfirmed true")
	}
}

func TestCreateSucceedsWhenAnchoringFails(t *testing.T) {
	store := newMemStore()
	failing := &stubAnchorClient{err: &anchoring.SubmitError{Kind: anchoring.KindNetwork, Message: "submission transport failed"}}
	r := newTestRouter(store, failing)

	w, resp := postPrescription(t, r, validBody)

	if w.Code != http.StatusCreated {
		t.Fatalf("anchoring failure must not fail the create, got %d: %s", w.Code, w.Body.String())
	}
	if string(resp["chainTxHash"]) != "null" {
		t.Errorf("expected null chainTxHash, got %s", resp["chainTxHash"])
	}

	id := fieldString(t, resp, "id")
	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("stored record not found: %v", err)
	}
	if rec.ChainTxHash != nil {
		t.Errorf("anchoring fields must stay unset, got %v", *rec.ChainTxHash)
	}
}

func TestCreateDataHashIndependentOfAnchoring(t *testing.T) {
	okStore := newMemStore()
	okRouter := newTestRouter(okStore, &stubAnchorClient{txHash: "tx-1"})
	failStore := newMemStore()
	failRouter := newTestRouter(failStore, &stubAnchorClient{err: errors.New("ledger down")})

	_, okResp := postPrescription(t, okRouter, validBody)
	_, failResp := postPrescription(t, failRouter, validBody)

	if fieldString(t, okResp, "dataHash") != fieldString(t, failResp, "dataHash") {
		t.Error("data hash must be identical regardless of anchoring outcome")
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty body", ``, "Missing request body"},
		{"empty object", `{}`, "Missing request body"},
		{"not json", `not-json`, "Missing request body"},
		{"missing patientName", `{"sex":"F","medicines":[]}`, "patientName is required"},
		{"empty patientName", `{"patientName":"","sex":"F","medicines":[]}`, "patientName is required"},
		{"null patientName", `{"patientName":null,"sex":"F","medicines":[]}`, "patientName is required"},
		{"missing sex", `{"patientName":"Jane Doe","medicines":[]}`, "sex is required"},
		{"missing medicines", `{"patientName":"Jane Doe","sex":"F"}`, "medicines must be an array"},
		{"medicines not array", `{"patientName":"Jane Doe","sex":"F","medicines":"none"}`, "medicines must be an array"},
		{"name checked before medicines", `{"medicines":"none"}`, "patientName is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(newMemStore(), &stubAnchorClient{txHash: "tx"})
			w, resp := postPrescription(t, r, tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if got := fieldString(t, resp, "error"); got != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, got)
			}
		})
	}
}

func TestCreateCoercesNumericStrings(t *testing.T) {
	r := newTestRouter(newMemStore(), &stubAnchorClient{txHash: "tx"})

	numberAge := `{"patientName":"Jane Doe","age":42,"sex":"F","medicines":[]}`
	stringAge := `{"patientName":"Jane Doe","age":"42","sex":"F","medicines":[]}`

	_, numberResp := postPrescription(t, r, numberAge)
	_, stringResp := postPrescription(t, r, stringAge)

	if fieldString(t, numberResp, "dataHash") != fieldString(t, stringResp, "dataHash") {
		t.Error(`age 42 and age "42" must canonicalize to the same hash`)
	}

	w, resp := postPrescription(t, r, `{"patientName":"Jane Doe","age":"abc","sex":"F","medicines":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric age, got %d", w.Code)
	}
	if got := fieldString(t, resp, "error"); !strings.Contains(got, "age") {
		t.Errorf("expected age coercion error, got %q", got)
	}
}

func TestCreateIdenticalSubmissionsBothStored(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store, &stubAnchorClient{txHash: "tx"})

	_, first := postPrescription(t, r, validBody)
	_, second := postPrescription(t, r, validBody)

	if fieldString(t, first, "id") == fieldString(t, second, "id") {
		t.Error("identical submissions must create distinct records")
	}
	if fieldString(t, first, "dataHash") != fieldString(t, second, "dataHash") {
		t.Error("identical submissions must produce the same data hash")
	}
	if len(store.records) != 2 {
		t.Errorf("expected 2 stored records, got %d", len(store.records))
	}
}

func TestCreateStoreFailure(t *testing.T) {
	store := newMemStore()
	store.createErr = errors.New("connection refused")
	r := newTestRouter(store, &stubAnchorClient{txHash: "tx"})

	w, resp := postPrescription(t, r, validBody)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := fieldString(t, resp, "error"); got != "Failed to add prescription" {
		t.Errorf("expected fixed failure message, got %q", got)
	}
}

func TestGetPrescription(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store, &stubAnchorClient{txHash: "tx-abc123"})

	_, created := postPrescription(t, r, validBody)
	id := fieldString(t, created, "id")

	req := httptest.NewRequest(http.MethodGet, "/prescriptions/"+id, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var rec prescription.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.ID != id || rec.PatientName != "Jane Doe" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.ChainTxHash == nil || *rec.ChainTxHash != "tx-abc123" {
		t.Errorf("expected anchored record, got %+v", rec)
	}
}

func TestGetPrescriptionNotFound(t *testing.T) {
	r := newTestRouter(newMemStore(), &stubAnchorClient{txHash: "tx"})

	req := httptest.NewRequest(http.MethodGet, "/prescriptions/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
