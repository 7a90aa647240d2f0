package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/richardslaw/clio-intake/internal/clioapi"
)

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		value     string
		fieldType string
		want      string
		wantErr   bool
	}{
		{"2023-05-10", FieldTypeDate, "2023-05-10", false},
		{"05/10/2023", FieldTypeDate, "", true},
		{"not a date", FieldTypeDate, "", true},
		{"", FieldTypeDate, "", true},
		{"ABC-1234", FieldTypeTextLine, "ABC-1234", false},
		{"", FieldTypeTextLine, "", true},
		{"long narrative text", FieldTypeTextArea, "long narrative text", false},
		{"", FieldTypeTextArea, "", true},
		{"anything", "checkbox", "", true},
	}
	for _, tc := range tests {
		got, err := coerceValue(tc.value, tc.fieldType)
		if tc.wantErr {
			if err == nil {
				t.Errorf("coerceValue(%q, %s): expected error", tc.value, tc.fieldType)
			}
			continue
		}
		if err != nil {
			t.Errorf("coerceValue(%q, %s): %v", tc.value, tc.fieldType, err)
			continue
		}
		if got != tc.want {
			t.Errorf("coerceValue(%q, %s) = %q, want %q", tc.value, tc.fieldType, got, tc.want)
		}
	}
}

func TestApplyWritesBatch(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")

	mapping := map[string]clioapi.CustomField{
		FieldDateOfAccident:   {ID: 10, Name: FieldDateOfAccident, FieldType: FieldTypeDate},
		FieldAccidentLocation: {ID: 11, Name: FieldAccidentLocation, FieldType: FieldTypeTextLine},
	}
	values := map[string]string{
		FieldDateOfAccident:   "2023-05-10",
		FieldAccidentLocation: "I-95 Exit 12",
	}

	m := NewMapper(api)
	partial, err := m.Apply(context.Background(), "acc1", 42, values, mapping)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if partial != nil {
		t.Fatalf("unexpected partial failure: %v", partial)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	written := fake.matterPatch[42]
	if written[10] != "2023-05-10" {
		t.Errorf("field 10 = %q", written[10])
	}
	if written[11] != "I-95 Exit 12" {
		t.Errorf("field 11 = %q", written[11])
	}
}

func TestApplyUpdatesExistingValues(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")

	mapping := map[string]clioapi.CustomField{
		FieldAccidentLocation: {ID: 11, Name: FieldAccidentLocation, FieldType: FieldTypeTextLine},
	}

	m := NewMapper(api)
	first := map[string]string{FieldAccidentLocation: "I-95 Exit 12"}
	if _, err := m.Apply(context.Background(), "acc1", 42, first, mapping); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second := map[string]string{FieldAccidentLocation: "Main St and 4th Ave"}
	if _, err := m.Apply(context.Background(), "acc1", 42, second, mapping); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if got := fake.matterPatch[42][11]; got != "Main St and 4th Ave" {
		t.Errorf("field 11 = %q, want updated value", got)
	}
	if len(fake.matterPatch[42]) != 1 {
		t.Errorf("matter holds %d values, want 1", len(fake.matterPatch[42]))
	}
}

func TestApplyUnmappedFieldIsFatal(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")

	m := NewMapper(api)
	values := map[string]string{FieldDefendantName: "John Smith"}
	_, err := m.Apply(context.Background(), "acc1", 42, values, map[string]clioapi.CustomField{})

	var unmapped *UnmappedFieldError
	if !errors.As(err, &unmapped) {
		t.Fatalf("expected UnmappedFieldError, got %v", err)
	}
	if unmapped.Field != FieldDefendantName {
		t.Errorf("unmapped field = %q", unmapped.Field)
	}

	// Nothing was written.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.matterPatch[42]) != 0 {
		t.Errorf("expected no writes, got %d", len(fake.matterPatch[42]))
	}
}

func TestApplyReportsPartialFailure(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")

	// The remote field for the report number was created by hand with an
	// incompatible type; its value cannot be coerced and must be skipped.
	mapping := map[string]clioapi.CustomField{
		FieldAccidentLocation:   {ID: 11, Name: FieldAccidentLocation, FieldType: FieldTypeTextLine},
		FieldPoliceReportNumber: {ID: 12, Name: FieldPoliceReportNumber, FieldType: "checkbox"},
	}
	values := map[string]string{
		FieldAccidentLocation:   "I-95 Exit 12",
		FieldPoliceReportNumber: "PR-2023-0456",
	}

	m := NewMapper(api)
	partial, err := m.Apply(context.Background(), "acc1", 42, values, mapping)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if partial == nil {
		t.Fatal("expected a partial failure")
	}
	if got := partial.Fields(); len(got) != 1 || got[0] != FieldPoliceReportNumber {
		t.Errorf("unwritten fields = %v", got)
	}
	if partial.Unwritten[FieldPoliceReportNumber] == "" {
		t.Error("missing per-field reason")
	}
	if partial.ContainsAny(CriticalFields) {
		t.Error("report number is not a critical field")
	}

	// The coercible field still landed.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if got := fake.matterPatch[42][11]; got != "I-95 Exit 12" {
		t.Errorf("field 11 = %q", got)
	}
	if _, ok := fake.matterPatch[42][12]; ok {
		t.Error("uncoercible field was written anyway")
	}
}

func TestApplyRemoteFailure(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")
	fake.failPatch = true

	mapping := map[string]clioapi.CustomField{
		FieldAccidentLocation: {ID: 11, Name: FieldAccidentLocation, FieldType: FieldTypeTextLine},
	}
	values := map[string]string{FieldAccidentLocation: "I-95 Exit 12"}

	m := NewMapper(api)
	_, err := m.Apply(context.Background(), "acc1", 42, values, mapping)
	var apiErr *clioapi.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 500 {
		t.Errorf("status = %d, want 500", apiErr.Status)
	}
}
