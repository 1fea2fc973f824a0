// Package canonical normalizes prescription input into a single
// deterministic representation and computes its content hash.
//
// The same logical content must always produce the same bytes: numeric
// strings are coerced to numbers, key order is fixed, and absent optional
// fields stay distinguishable from empty ones. Any change to these rules
// requires bumping HashVersion.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Prescription is the canonical value tree for a prescription submission.
// Optional fields are pointers: nil means the field was absent from the
// input, which encodes differently from an empty string or zero.
type Prescription struct {
	PatientName  string
	PatientEmail *string
	Age          *float64
	Sex          string
	Medicines    []Medicine
	Notes        *string
}

// Medicine is one medicine line. Order within Prescription.Medicines is
// semantically significant and is preserved from the input.
type Medicine struct {
	ID          string
	Name        string
	DosageValue float64
	DosageUnit  string
	TimesPerDay float64
	TotalDays   float64
}

// CoerceError reports an input value that could not be normalized.
type CoerceError struct {
	Field string
	Value string
}

func (e *CoerceError) Error() string {
	return fmt.Sprintf("%s: cannot coerce %q to a number", e.Field, e.Value)
}

// CoerceNumber normalizes a raw JSON value into a float64. A JSON number
// and a string containing the same number produce the same result, so
// `"42"` and `42` hash identically.
func CoerceNumber(field string, raw json.RawMessage) (float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, &CoerceError{Field: field, Value: ""}
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, &CoerceError{Field: field, Value: string(trimmed)}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, &CoerceError{Field: field, Value: s}
		}
		return f, nil
	}

	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return 0, &CoerceError{Field: field, Value: string(trimmed)}
	}
	return f, nil
}

// Encode renders the canonical byte encoding of a prescription.
//
// Keys are emitted in one hard-coded order (patientName, patientEmail, age,
// sex, medicines, notes; medicine lines: id, name, dosageValue, dosageUnit,
// timesPerDay, totalDays). Absent optional fields encode as null. Numbers
// use the shortest decimal form, so 1 and 1.0 encode identically.
func Encode(p *Prescription) []byte {
	var b bytes.Buffer
	b.WriteByte('{')
	writeStringField(&b, "patientName", p.PatientName)
	b.WriteByte(',')
	writeOptString(&b, "patientEmail", p.PatientEmail)
	b.WriteByte(',')
	writeOptNumber(&b, "age", p.Age)
	b.WriteByte(',')
	writeStringField(&b, "sex", p.Sex)
	b.WriteByte(',')
	writeKey(&b, "medicines")
	b.WriteByte('[')
	for i := range p.Medicines {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeMedicine(&b, &p.Medicines[i])
	}
	b.WriteByte(']')
	b.WriteByte(',')
	writeOptString(&b, "notes", p.Notes)
	b.WriteByte('}')
	return b.Bytes()
}

func encodeMedicine(b *bytes.Buffer, m *Medicine) {
	b.WriteByte('{')
	writeStringField(b, "id", m.ID)
	b.WriteByte(',')
	writeStringField(b, "name", m.Name)
	b.WriteByte(',')
	writeNumberField(b, "dosageValue", m.DosageValue)
	b.WriteByte(',')
	writeStringField(b, "dosageUnit", m.DosageUnit)
	b.WriteByte(',')
	writeNumberField(b, "timesPerDay", m.TimesPerDay)
	b.WriteByte(',')
	writeNumberField(b, "totalDays", m.TotalDays)
	b.WriteByte('}')
}

func writeKey(b *bytes.Buffer, key string) {
	b.WriteByte('"')
	b.WriteString(key)
	b.WriteString(`":`)
}

func writeStringField(b *bytes.Buffer, key, value string) {
	writeKey(b, key)
	// encoding/json escapes strings deterministically
	enc, _ := json.Marshal(value)
	b.Write(enc)
}

func writeNumberField(b *bytes.Buffer, key string, value float64) {
	writeKey(b, key)
	b.WriteString(formatNumber(value))
}

func writeOptString(b *bytes.Buffer, key string, value *string) {
	if value == nil {
		writeKey(b, key)
		b.WriteString("null")
		return
	}
	writeStringField(b, key, *value)
}

func writeOptNumber(b *bytes.Buffer, key string, value *float64) {
	writeKey(b, key)
	if value == nil {
		b.WriteString("null")
		return
	}
	b.WriteString(formatNumber(*value))
}

// formatNumber renders the single canonical textual form of a number:
// shortest decimal representation, no exponent below 1e21, no leading
// zeros, integral values without a trailing ".0".
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
