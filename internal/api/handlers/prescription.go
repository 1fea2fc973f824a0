// Package handlers provides HTTP handlers for the anchoring API.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/careledger/rx-anchor/internal/anchoring"
	"github.com/careledger/rx-anchor/internal/api/middleware"
	"github.com/careledger/rx-anchor/internal/canonical"
	"github.com/careledger/rx-anchor/internal/domain/prescription"
	"github.com/careledger/rx-anchor/internal/observability/metrics"
)

const maxBodySize = 1 << 20 // 1MB

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	store        prescription.Store
	orchestrator *anchoring.Orchestrator
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewPrescriptionHandler creates a new handler. m may be nil.
func NewPrescriptionHandler(store prescription.Store, orchestrator *anchoring.Orchestrator, logger *zap.Logger, m *metrics.Metrics) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{
		store:        store,
		orchestrator: orchestrator,
		logger:       logger,
		metrics:      m,
	}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	return r
}

// CreateResponse is the response for creating a prescription. ChainTxHash
// is null whenever anchoring failed or was not attempted.
type CreateResponse struct {
	OK          bool    `json:"ok"`
	ID          string  `json:"id"`
	DataHash    string  `json:"dataHash"`
	ChainTxHash *string `json:"chainTxHash"`
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "create_prescription")
	defer span.End()

	input, verr := parseCreateRequest(r)
	if verr != nil {
		if h.metrics != nil {
			h.metrics.ValidationFailures.Inc()
		}
		h.jsonError(w, verr.Error(), http.StatusBadRequest)
		return
	}

	dataHash, hashVersion := canonical.Hash(input)
	span.SetAttributes(attribute.String("data_hash", dataHash))

	rec := &prescription.Record{
		PatientName:  input.PatientName,
		PatientEmail: input.PatientEmail,
		Age:          input.Age,
		Sex:          input.Sex,
		Medicines:    input.Medicines,
		Notes:        input.Notes,
		DataHash:     dataHash,
		HashVersion:  hashVersion,
	}

	if err := h.store.Create(ctx, rec); err != nil {
		h.logger.Error("prescription create failed",
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		span.RecordError(err)
		if h.metrics != nil {
			h.metrics.CreateFailures.Inc()
		}
		h.jsonError(w, "Failed to add prescription", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.PrescriptionsCreated.Inc()
	}

	// Best-effort anchoring: the record is already durable, so whatever
	// happens here the creation succeeds.
	result := h.orchestrator.Anchor(ctx, rec.ID, rec.DataHash)

	h.logger.Info("prescription created",
		zap.String("id", rec.ID),
		zap.String("data_hash", dataHash),
		zap.String("anchor_state", string(result.State)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	resp := CreateResponse{
		OK:       true,
		ID:       rec.ID,
		DataHash: dataHash,
	}
	if result.TxHash != "" {
		resp.ChainTxHash = &result.TxHash
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			h.jsonError(w, "prescription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("prescription lookup failed", zap.String("id", id), zap.Error(err))
		h.jsonError(w, "failed to load prescription", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *PrescriptionHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// validationError is a caller-input violation of the fixed contract.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

// parseCreateRequest validates the request body against the fixed contract
// and canonicalizes it. Checks are fail-fast in a fixed order: body
// presence, patientName, sex, medicines-is-an-array.
func parseCreateRequest(r *http.Request) (*canonical.Prescription, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, &validationError{"Missing request body"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		return nil, &validationError{"Missing request body"}
	}

	patientName, ok := decodeString(fields["patientName"])
	if !ok || patientName == "" {
		return nil, &validationError{"patientName is required"}
	}

	sex, ok := decodeString(fields["sex"])
	if !ok || sex == "" {
		return nil, &validationError{"sex is required"}
	}

	medicinesRaw, present := presentValue(fields, "medicines")
	if !present || !bytes.HasPrefix(bytes.TrimSpace(medicinesRaw), []byte("[")) {
		return nil, &validationError{"medicines must be an array"}
	}

	input := &canonical.Prescription{
		PatientName: patientName,
		Sex:         sex,
	}

	if raw, ok := presentValue(fields, "patientEmail"); ok {
		email, ok := decodeString(raw)
		if !ok {
			return nil, &validationError{"patientEmail must be a string"}
		}
		input.PatientEmail = &email
	}

	if raw, ok := presentValue(fields, "age"); ok {
		age, err := canonical.CoerceNumber("age", raw)
		if err != nil {
			return nil, &validationError{err.Error()}
		}
		input.Age = &age
	}

	if raw, ok := presentValue(fields, "notes"); ok {
		notes, ok := decodeString(raw)
		if !ok {
			return nil, &validationError{"notes must be a string"}
		}
		input.Notes = &notes
	}

	medicines, err := parseMedicines(medicinesRaw)
	if err != nil {
		return nil, err
	}
	input.Medicines = medicines

	return input, nil
}

// rawMedicine is one loosely-typed medicine line as submitted.
type rawMedicine struct {
	ID          json.RawMessage `json:"id"`
	Name        json.RawMessage `json:"name"`
	DosageValue json.RawMessage `json:"dosageValue"`
	DosageUnit  json.RawMessage `json:"dosageUnit"`
	TimesPerDay json.RawMessage `json:"timesPerDay"`
	TotalDays   json.RawMessage `json:"totalDays"`
}

// parseMedicines normalizes each line's shape and types; it does not
// validate line contents beyond coercibility.
func parseMedicines(raw json.RawMessage) ([]canonical.Medicine, error) {
	var lines []rawMedicine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, &validationError{"medicines must be an array"}
	}

	medicines := make([]canonical.Medicine, 0, len(lines))
	for i, line := range lines {
		m := canonical.Medicine{
			ID:   rawToString(line.ID),
			Name: rawToString(line.Name),
		}

		var err error
		if m.DosageValue, err = coerceLineNumber(i, "dosageValue", line.DosageValue); err != nil {
			return nil, err
		}
		m.DosageUnit = rawToString(line.DosageUnit)
		if m.TimesPerDay, err = coerceLineNumber(i, "timesPerDay", line.TimesPerDay); err != nil {
			return nil, err
		}
		if m.TotalDays, err = coerceLineNumber(i, "totalDays", line.TotalDays); err != nil {
			return nil, err
		}

		medicines = append(medicines, m)
	}

	return medicines, nil
}

func coerceLineNumber(index int, field string, raw json.RawMessage) (float64, error) {
	v, err := canonical.CoerceNumber(fmt.Sprintf("medicines[%d].%s", index, field), raw)
	if err != nil {
		return 0, &validationError{err.Error()}
	}
	return v, nil
}

// presentValue reports a field that is present and not JSON null. A null
// optional field canonicalizes the same as an absent one.
func presentValue(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

func decodeString(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// rawToString renders an opaque caller-supplied value as a string: JSON
// strings unquote, anything else keeps its literal text.
func rawToString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	if s, ok := decodeString(raw); ok {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
