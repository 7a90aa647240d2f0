package intake

import (
	"context"
	"sync"
	"testing"

	"github.com/richardslaw/clio-intake/internal/clioapi"
)

func TestEnsureCreatesMissingFields(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")

	p := NewProvisioner(api, database)
	required := RequiredFields()

	mapping, err := p.Ensure(context.Background(), "acc1", required)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(mapping) != len(required) {
		t.Fatalf("mapping has %d entries, want %d", len(mapping), len(required))
	}
	for name, fieldType := range required {
		def, ok := mapping[name]
		if !ok {
			t.Errorf("missing mapping for %q", name)
			continue
		}
		if def.ID == 0 {
			t.Errorf("field %q has no remote id", name)
		}
		if def.FieldType != fieldType {
			t.Errorf("field %q type = %s, want %s", name, def.FieldType, fieldType)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.fieldCreateCalls != len(required) {
		t.Errorf("create calls = %d, want %d", fake.fieldCreateCalls, len(required))
	}
	if fake.fieldSet == nil {
		t.Fatal("field set was not created")
	}
	if fake.fieldSet.Name != FieldSetName {
		t.Errorf("field set name = %q", fake.fieldSet.Name)
	}
	if len(fake.fieldSet.CustomFields) != len(required) {
		t.Errorf("field set holds %d fields, want %d", len(fake.fieldSet.CustomFields), len(required))
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")

	p := NewProvisioner(api, database)
	required := RequiredFields()

	first, err := p.Ensure(context.Background(), "acc1", required)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := p.Ensure(context.Background(), "acc1", required)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	for name := range required {
		if first[name].ID != second[name].ID {
			t.Errorf("field %q id changed between runs: %d vs %d", name, first[name].ID, second[name].ID)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.fieldCreateCalls != len(required) {
		t.Errorf("create calls = %d, want %d (no new creates on second run)", fake.fieldCreateCalls, len(required))
	}
	if len(fake.fields) != len(required) {
		t.Errorf("remote holds %d fields, want %d", len(fake.fields), len(required))
	}
}

func TestEnsureSurvivesDuplicateCreateRace(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")

	p := NewProvisioner(api, database)
	required := RequiredFields()

	// Concurrent callers both list an empty account, then race on creates.
	// The loser of each create gets a duplicate-name rejection and must
	// resolve it by re-fetching instead of failing.
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Ensure(context.Background(), "acc1", required)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	seen := make(map[string]int)
	for _, f := range fake.fields {
		seen[f.Name]++
	}
	for name := range required {
		if seen[name] != 1 {
			t.Errorf("field %q exists %d times remotely, want exactly 1", name, seen[name])
		}
	}
}

func TestEnsureAdoptsPreexistingFields(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")

	fake.mu.Lock()
	fake.fields = append(fake.fields, clioapi.CustomField{
		ID: 501, Name: FieldDateOfAccident, FieldType: FieldTypeDate, ParentType: ParentTypeMatter,
	})
	fake.mu.Unlock()

	p := NewProvisioner(api, database)
	required := RequiredFields()

	mapping, err := p.Ensure(context.Background(), "acc1", required)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if mapping[FieldDateOfAccident].ID != 501 {
		t.Errorf("pre-existing field id = %d, want 501", mapping[FieldDateOfAccident].ID)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.fieldCreateCalls != len(required)-1 {
		t.Errorf("create calls = %d, want %d", fake.fieldCreateCalls, len(required)-1)
	}
}

func TestCachedMapping(t *testing.T) {
	fake := newFakeClio()
	defer fake.server.Close()
	database := newTestDB(t)
	api, _ := newTestClient(t, database, fake, "acc1")

	p := NewProvisioner(api, database)
	required := RequiredFields()

	// Nothing cached yet.
	if got := p.Cached("acc1", required); got != nil {
		t.Errorf("expected nil cache before ensure, got %d entries", len(got))
	}

	live, err := p.Ensure(context.Background(), "acc1", required)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	cached := p.Cached("acc1", required)
	if cached == nil {
		t.Fatal("expected cache hit after ensure")
	}
	for name := range required {
		if cached[name].ID != live[name].ID {
			t.Errorf("cached id for %q = %d, want %d", name, cached[name].ID, live[name].ID)
		}
	}

	// A different account has no cache.
	if got := p.Cached("acc2", required); got != nil {
		t.Error("cache leaked across accounts")
	}

	// A cache that does not cover every required field is a miss.
	widened := map[string]string{"Brand New Field": FieldTypeTextLine}
	for name, ft := range required {
		widened[name] = ft
	}
	if got := p.Cached("acc1", widened); got != nil {
		t.Error("stale cache should not satisfy a widened requirement")
	}
}
