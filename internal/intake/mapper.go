package intake

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/richardslaw/clio-intake/internal/clioapi"
)

// Mapper converts extracted facts into custom-field writes against a matter.
type Mapper struct {
	api *clioapi.Client
}

// NewMapper creates a fact mapper.
func NewMapper(api *clioapi.Client) *Mapper {
	return &Mapper{api: api}
}

// Apply resolves every fact to its field definition, coerces the value to the
// field's declared data type, and issues one batched update to the matter.
//
// A fact with no mapping is a fatal precondition violation and aborts before
// any write. A per-field type mismatch is recoverable: the field is skipped
// and reported in the returned PartialFailure so the orchestrator can decide
// whether the pipeline may proceed.
func (m *Mapper) Apply(ctx context.Context, accountID string, matterID int, values map[string]string, mapping map[string]clioapi.CustomField) (*PartialFailure, error) {
	batch := make(map[int]string, len(values))
	unwritten := make(map[string]string)

	for name, value := range values {
		def, ok := mapping[name]
		if !ok {
			return nil, &UnmappedFieldError{Field: name}
		}
		coerced, err := coerceValue(value, def.FieldType)
		if err != nil {
			log.Printf("⚠️ Skipping field %q on matter %d: %v", name, matterID, err)
			unwritten[name] = err.Error()
			continue
		}
		batch[def.ID] = coerced
	}

	if err := m.api.UpsertMatterCustomFields(ctx, accountID, matterID, batch); err != nil {
		return nil, fmt.Errorf("patch matter %d: %w", matterID, err)
	}
	log.Printf("✅ Wrote %d custom field values to matter %d", len(batch), matterID)

	if len(unwritten) > 0 {
		return &PartialFailure{Unwritten: unwritten}, nil
	}
	return nil, nil
}

// coerceValue validates a fact value against the field's declared data type.
// Text fields accept any non-empty string; date fields must be a calendar
// date in YYYY-MM-DD form.
func coerceValue(value, fieldType string) (string, error) {
	switch fieldType {
	case FieldTypeDate:
		d, err := time.Parse("2006-01-02", value)
		if err != nil {
			return "", fmt.Errorf("%q is not a calendar date: %w", value, err)
		}
		return d.Format("2006-01-02"), nil
	case FieldTypeTextLine, FieldTypeTextArea:
		if value == "" {
			return "", fmt.Errorf("empty value for %s field", fieldType)
		}
		return value, nil
	default:
		return "", fmt.Errorf("unsupported field type %q", fieldType)
	}
}
