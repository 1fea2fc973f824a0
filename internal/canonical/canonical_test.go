package canonical

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func numPtr(f float64) *float64 { return &f }

func samplePrescription() *Prescription {
	return &Prescription{
		PatientName: "Jane Doe",
		Age:         numPtr(42),
		Sex:         "female",
		Medicines: []Medicine{
			{ID: "1", Name: "Paracetamol", DosageValue: 500, DosageUnit: "mg", TimesPerDay: 3, TotalDays: 5},
		},
	}
}

func TestCoerceNumberStringAndNumberMatch(t *testing.T) {
	fromString, err := CoerceNumber("age", json.RawMessage(`"42"`))
	if err != nil {
		t.Fatalf("coerce string: %v", err)
	}
	fromNumber, err := CoerceNumber("age", json.RawMessage(`42`))
	if err != nil {
		t.Fatalf("coerce number: %v", err)
	}
	if fromString != fromNumber {
		t.Errorf("expected identical values, got %v and %v", fromString, fromNumber)
	}
}

func TestCoerceNumberRejectsNonNumeric(t *testing.T) {
	_, err := CoerceNumber("dosageValue", json.RawMessage(`"five hundred"`))
	if err == nil {
		t.Fatal("expected coerce error")
	}
	var ce *CoerceError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CoerceError, got %T", err)
	}
	if ce.Field != "dosageValue" {
		t.Errorf("expected field dosageValue, got %s", ce.Field)
	}
}

func TestEncodeFixedKeyOrder(t *testing.T) {
	got := string(Encode(samplePrescription()))

	want := `{"patientName":"Jane Doe","patientEmail":null,"age":42,"sex":"female",` +
		`"medicines":[{"id":"1","name":"Paracetamol","dosageValue":500,"dosageUnit":"mg",` +
		`"timesPerDay":3,"totalDays":5}],"notes":null}`
	if got != want {
		t.Errorf("canonical encoding mismatch:\n got: %s\nwant: %s", got, want)
	}
}

func TestEncodeAbsentDistinctFromEmpty(t *testing.T) {
	absent := samplePrescription()
	empty := samplePrescription()
	empty.Notes = strPtr("")

	if string(Encode(absent)) == string(Encode(empty)) {
		t.Error("absent notes must encode differently from empty notes")
	}
}

func TestEncodeNumberCanonicalForm(t *testing.T) {
	whole := samplePrescription()
	whole.Age = numPtr(1)
	if !strings.Contains(string(Encode(whole)), `"age":1,`) {
		t.Errorf("expected 1.0 to encode as 1, got %s", Encode(whole))
	}

	frac := samplePrescription()
	frac.Medicines[0].DosageValue = 0.5
	if !strings.Contains(string(Encode(frac)), `"dosageValue":0.5,`) {
		t.Errorf("expected fractional canonical form, got %s", Encode(frac))
	}
}

func TestHashDeterminism(t *testing.T) {
	first, v1 := Hash(samplePrescription())
	second, v2 := Hash(samplePrescription())

	if first != second {
		t.Errorf("identical input hashed differently: %s vs %s", first, second)
	}
	if v1 != v2 || v1 != HashVersion {
		t.Errorf("unexpected hash version: %d, %d", v1, v2)
	}
	if len(first) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(first))
	}
}

func TestHashSensitivity(t *testing.T) {
	base, _ := Hash(samplePrescription())

	changed := samplePrescription()
	changed.Medicines[0].DosageValue = 501
	if h, _ := Hash(changed); h == base {
		t.Error("dosage change must change the hash")
	}

	reordered := samplePrescription()
	reordered.Medicines = append(reordered.Medicines, Medicine{
		ID: "2", Name: "Ibuprofen", DosageValue: 200, DosageUnit: "mg", TimesPerDay: 2, TotalDays: 3,
	})
	twoBase, _ := Hash(reordered)
	reordered.Medicines[0], reordered.Medicines[1] = reordered.Medicines[1], reordered.Medicines[0]
	if h, _ := Hash(reordered); h == twoBase {
		t.Error("medicine order is significant and must change the hash")
	}
}

func TestHashCoercedInputsMatch(t *testing.T) {
	// age supplied as "42" vs 42 must yield the same digest once coerced.
	raw := json.RawMessage(`"42"`)
	coerced, err := CoerceNumber("age", raw)
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}

	a := samplePrescription()
	a.Age = &coerced
	b := samplePrescription()
	b.Age = numPtr(42)

	ha, _ := Hash(a)
	hb, _ := Hash(b)
	if ha != hb {
		t.Errorf("coerced string age hashed differently: %s vs %s", ha, hb)
	}
}
