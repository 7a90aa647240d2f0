package intake

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/richardslaw/clio-intake/internal/clioapi"
	"github.com/richardslaw/clio-intake/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// ParentTypeMatter is the Clio parent type the intake fields attach to.
	ParentTypeMatter = "Matter"

	// FieldSetName groups the intake fields on the matter page.
	FieldSetName = "Police Report Automation Fields"
)

// Provisioner guarantees the required custom fields exist on the account
// before any write. The remote API is the source of truth for uniqueness:
// a duplicate-name rejection from a racing create is treated as success.
type Provisioner struct {
	api *clioapi.Client
	db  *gorm.DB
}

// NewProvisioner creates a field provisioner.
func NewProvisioner(api *clioapi.Client, database *gorm.DB) *Provisioner {
	return &Provisioner{api: api, db: database}
}

// Ensure makes every required field exist exactly once remotely and returns
// the name → definition mapping with remote IDs populated. Safe to call
// concurrently for the same account.
func (p *Provisioner) Ensure(ctx context.Context, accountID string, required map[string]string) (map[string]clioapi.CustomField, error) {
	existing, err := p.api.ListCustomFields(ctx, accountID, ParentTypeMatter)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}

	mapping := make(map[string]clioapi.CustomField, len(required))
	for _, f := range existing {
		if _, want := required[f.Name]; want {
			mapping[f.Name] = f
		}
	}

	created := 0
	for _, name := range sortedNames(required) {
		if _, ok := mapping[name]; ok {
			continue
		}
		field, err := p.api.CreateCustomField(ctx, accountID, name, required[name], ParentTypeMatter)
		if err != nil {
			if !clioapi.IsDuplicate(err) {
				return nil, fmt.Errorf("create custom field %q: %w", name, err)
			}
			// A concurrent caller won the create race. The remote field
			// exists; re-fetch and use it.
			log.Printf("⚠️ Custom field %q already exists remotely, re-fetching", name)
			field, err = p.findByName(ctx, accountID, name)
			if err != nil {
				return nil, err
			}
		} else {
			created++
		}
		mapping[name] = *field
	}
	if created > 0 {
		log.Printf("✅ Created %d custom fields for account %s", created, accountID)
	}

	if err := p.ensureFieldSet(ctx, accountID, mapping); err != nil {
		return nil, err
	}

	p.updateCache(accountID, mapping)
	return mapping, nil
}

// findByName re-lists the remote fields after a duplicate-create race.
func (p *Provisioner) findByName(ctx context.Context, accountID, name string) (*clioapi.CustomField, error) {
	fields, err := p.api.ListCustomFields(ctx, accountID, ParentTypeMatter)
	if err != nil {
		return nil, fmt.Errorf("re-list custom fields: %w", err)
	}
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i], nil
		}
	}
	return nil, fmt.Errorf("custom field %q reported as duplicate but not found on re-fetch", name)
}

// ensureFieldSet keeps all intake fields grouped in one display set.
func (p *Provisioner) ensureFieldSet(ctx context.Context, accountID string, mapping map[string]clioapi.CustomField) error {
	fieldIDs := make([]int, 0, len(mapping))
	for _, name := range sortedMappingNames(mapping) {
		fieldIDs = append(fieldIDs, mapping[name].ID)
	}

	set, err := p.api.FindCustomFieldSet(ctx, accountID, FieldSetName, ParentTypeMatter)
	if err != nil {
		return fmt.Errorf("find custom field set: %w", err)
	}
	if set == nil {
		if _, err := p.api.CreateCustomFieldSet(ctx, accountID, FieldSetName, ParentTypeMatter, fieldIDs); err != nil {
			if clioapi.IsDuplicate(err) {
				return nil
			}
			return fmt.Errorf("create custom field set: %w", err)
		}
		return nil
	}

	have := make(map[int]bool, len(set.CustomFields))
	merged := make([]int, 0, len(set.CustomFields)+len(fieldIDs))
	for _, f := range set.CustomFields {
		have[f.ID] = true
		merged = append(merged, f.ID)
	}
	missing := false
	for _, id := range fieldIDs {
		if !have[id] {
			merged = append(merged, id)
			missing = true
		}
	}
	if !missing {
		return nil
	}
	if err := p.api.UpdateCustomFieldSet(ctx, accountID, set.ID, merged); err != nil {
		return fmt.Errorf("update custom field set: %w", err)
	}
	return nil
}

// updateCache refreshes the per-account field-mapping cache rows. Cache
// failures are logged, never fatal: the cache is an optimization only.
func (p *Provisioner) updateCache(accountID string, mapping map[string]clioapi.CustomField) {
	rows := make([]models.FieldMapping, 0, len(mapping))
	for name, f := range mapping {
		rows = append(rows, models.FieldMapping{
			AccountID: accountID,
			Name:      name,
			RemoteID:  f.ID,
			FieldType: f.FieldType,
			UpdatedAt: time.Now(),
		})
	}
	if len(rows) == 0 {
		return
	}
	if err := p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
		log.Printf("⚠️ Failed to update field-mapping cache for %s: %v", accountID, err)
	}
}

// Cached returns the cached mapping when it covers every required field, or
// nil when the cache is empty or stale and a live Ensure is needed.
func (p *Provisioner) Cached(accountID string, required map[string]string) map[string]clioapi.CustomField {
	var rows []models.FieldMapping
	if err := p.db.Where("account_id = ?", accountID).Find(&rows).Error; err != nil {
		return nil
	}

	mapping := make(map[string]clioapi.CustomField, len(rows))
	for _, row := range rows {
		mapping[row.Name] = clioapi.CustomField{
			ID:         row.RemoteID,
			Name:       row.Name,
			FieldType:  row.FieldType,
			ParentType: ParentTypeMatter,
		}
	}
	for name := range required {
		if _, ok := mapping[name]; !ok {
			return nil
		}
	}
	return mapping
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedMappingNames(m map[string]clioapi.CustomField) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
