package intake

import (
	"fmt"
	"sort"
	"strings"
)

// ExtractionError means the AI extraction output failed or did not validate.
// The pipeline halts before any remote write so garbage data never reaches
// the case record.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// UnmappedFieldError means a produced fact has no field mapping. This is a
// precondition violation, never silently dropped: the provisioner's guarantee
// was broken.
type UnmappedFieldError struct {
	Field string
}

func (e *UnmappedFieldError) Error() string {
	return fmt.Sprintf("no field mapping for %q", e.Field)
}

// PartialFailure reports which field writes did not land, with a per-field
// reason. The pipeline may proceed unless a critical field is among them.
type PartialFailure struct {
	Unwritten map[string]string // field name → reason
}

func (p *PartialFailure) Error() string {
	return fmt.Sprintf("fields unwritten: %s", strings.Join(p.Fields(), ", "))
}

// Fields returns the unwritten field names in stable order.
func (p *PartialFailure) Fields() []string {
	names := make([]string, 0, len(p.Unwritten))
	for name := range p.Unwritten {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContainsAny reports whether any of the given field names is unwritten.
func (p *PartialFailure) ContainsAny(names []string) bool {
	for _, name := range names {
		if _, ok := p.Unwritten[name]; ok {
			return true
		}
	}
	return false
}
