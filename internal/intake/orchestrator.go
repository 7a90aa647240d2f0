package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/richardslaw/clio-intake/internal/clioapi"
	"github.com/richardslaw/clio-intake/internal/db/models"
	"gorm.io/gorm"
)

// Extractor is the AI extraction collaborator. It returns a validated
// structured record or fails; the engine never parses the raw document.
type Extractor interface {
	Extract(ctx context.Context, document []byte) (*AccidentFacts, error)
}

// DocumentGenerator is the document-generation collaborator, invoked after
// successful mapping.
type DocumentGenerator interface {
	GenerateRetainer(ctx context.Context, accountID string, matterID, templateID int, clientName string) ([]byte, error)
}

// ClientInfo identifies the matter's client for notification.
type ClientInfo struct {
	ContactID int
	Name      string
	FirstName string
	Email     string
}

// Notifier is the notification collaborator. Failure is reported but never
// unwinds already-committed case-management writes.
type Notifier interface {
	Notify(ctx context.Context, client ClientInfo, facts *AccidentFacts, retainerPDF []byte) error
}

// Orchestrator sequences field provisioning, fact mapping, deadline
// scheduling, document generation, and notification for one submission. It
// owns the submission lifecycle and records which stages completed so a
// resumed run can skip already-committed idempotent stages.
type Orchestrator struct {
	db        *gorm.DB
	api       *clioapi.Client
	fields    *Provisioner
	mapper    *Mapper
	deadline  *DeadlineCalculator
	extractor Extractor
	docs      DocumentGenerator
	notifier  Notifier
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(database *gorm.DB, api *clioapi.Client, extractor Extractor, docs DocumentGenerator, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		db:        database,
		api:       api,
		fields:    NewProvisioner(api, database),
		mapper:    NewMapper(api),
		deadline:  NewDeadlineCalculator(api),
		extractor: extractor,
		docs:      docs,
		notifier:  notifier,
	}
}

// NewSubmission creates a submission record in the received state.
func (o *Orchestrator) NewSubmission(accountID string, matterID, templateID int) (*models.IntakeSubmission, error) {
	sub := &models.IntakeSubmission{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		MatterID:   matterID,
		TemplateID: templateID,
		Status:     models.StatusReceived,
	}
	if err := o.db.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	return sub, nil
}

// GetSubmission loads a submission by ID.
func (o *Orchestrator) GetSubmission(id string) (*models.IntakeSubmission, error) {
	var sub models.IntakeSubmission
	if err := o.db.First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// Run drives one submission through the pipeline. Transitions are strictly
// forward; on failure the submission is marked failed with the stage and
// reason, remote writes already committed are kept, and the stage flags are
// preserved so a later run resumes from where this one stopped.
func (o *Orchestrator) Run(ctx context.Context, sub *models.IntakeSubmission, document []byte) error {
	// Extraction. Fails before any remote write.
	facts, err := o.extractor.Extract(ctx, document)
	if err != nil {
		return o.fail(sub, models.StatusExtracted, &ExtractionError{Err: err})
	}
	if err := facts.Validate(); err != nil {
		return o.fail(sub, models.StatusExtracted, &ExtractionError{Err: err})
	}
	if err := o.advance(sub, models.StatusExtracted); err != nil {
		return err
	}

	// Field provisioning. The cached mapping is used only when it covers
	// every required field from an earlier completed run.
	required := RequiredFields()
	var mapping map[string]clioapi.CustomField
	if sub.FieldsReady {
		mapping = o.fields.Cached(sub.AccountID, required)
	}
	if mapping == nil {
		mapping, err = o.fields.Ensure(ctx, sub.AccountID, required)
		if err != nil {
			return o.fail(sub, models.StatusFieldsReady, err)
		}
	}
	sub.FieldsReady = true
	if err := o.advance(sub, models.StatusFieldsReady); err != nil {
		return err
	}

	// Fact mapping. Missing a non-critical field is tolerable; missing the
	// accident-date field required for scheduling is fatal.
	if !sub.Mapped {
		values, err := facts.FieldValues()
		if err != nil {
			return o.fail(sub, models.StatusMapped, err)
		}
		partial, err := o.mapper.Apply(ctx, sub.AccountID, sub.MatterID, values, mapping)
		if err != nil {
			return o.fail(sub, models.StatusMapped, err)
		}
		if partial != nil {
			if partial.ContainsAny(CriticalFields) {
				return o.fail(sub, models.StatusMapped, partial)
			}
			log.Printf("⚠️ Submission %s proceeding despite unwritten fields: %s", sub.ID, strings.Join(partial.Fields(), ", "))
		}
		sub.Mapped = true
	}
	if err := o.advance(sub, models.StatusMapped); err != nil {
		return err
	}

	// Resolve the matter's client before scheduling: the deadline entry
	// carries the client name and the notification needs the contact.
	matter, err := o.api.GetMatter(ctx, sub.AccountID, sub.MatterID, "id,client,responsible_attorney")
	if err != nil {
		return o.fail(sub, models.StatusScheduled, err)
	}
	if matter.Client == nil || matter.Client.ID == 0 {
		return o.fail(sub, models.StatusScheduled, errors.New("no contact associated with this matter"))
	}
	contact, err := o.api.GetContact(ctx, sub.AccountID, matter.Client.ID)
	if err != nil {
		return o.fail(sub, models.StatusScheduled, err)
	}
	client := clientInfo(contact, facts)

	// Deadline scheduling. Idempotent by the calendar marker check.
	if !sub.Scheduled {
		accidentDate, err := facts.AccidentDate()
		if err != nil {
			return o.fail(sub, models.StatusScheduled, err)
		}
		attorneyID := 0
		if matter.ResponsibleAttorney != nil {
			attorneyID = matter.ResponsibleAttorney.ID
		}
		if _, err := o.deadline.Schedule(ctx, sub.AccountID, sub.MatterID, client.Name, accidentDate, attorneyID); err != nil {
			return o.fail(sub, models.StatusScheduled, err)
		}
		sub.Scheduled = true
	}
	if err := o.advance(sub, models.StatusScheduled); err != nil {
		return err
	}

	// Document trigger. The retainer is generated remotely from the fields
	// just written; a failure here is reported and the notification goes
	// out without the attachment rather than halting the pipeline.
	var retainerPDF []byte
	if o.docs != nil && sub.TemplateID != 0 {
		retainerPDF, err = o.docs.GenerateRetainer(ctx, sub.AccountID, sub.MatterID, sub.TemplateID, client.Name)
		if err != nil {
			log.Printf("⚠️ Document generation failed for submission %s: %v", sub.ID, err)
		} else {
			sub.DocumentRequested = true
		}
	}

	// Notification.
	if client.Email == "" {
		return o.fail(sub, models.StatusNotified, errors.New("client contact has no email address"))
	}
	if err := o.notifier.Notify(ctx, client, facts, retainerPDF); err != nil {
		return o.fail(sub, models.StatusNotified, err)
	}
	sub.Notified = true
	if err := o.advance(sub, models.StatusNotified); err != nil {
		return err
	}

	log.Printf("✅ Submission %s completed: matter %d notified", sub.ID, sub.MatterID)
	return nil
}

// clientInfo merges the remote contact with the extracted client name.
func clientInfo(contact *clioapi.Contact, facts *AccidentFacts) ClientInfo {
	name := strings.TrimSpace(contact.FirstName + " " + contact.LastName)
	if name == "" {
		name = facts.ClientName
	}
	first := contact.FirstName
	if first == "" {
		parts := strings.Fields(facts.ClientName)
		if len(parts) > 0 {
			first = parts[0]
		}
	}
	return ClientInfo{
		ContactID: contact.ID,
		Name:      name,
		FirstName: first,
		Email:     contact.PrimaryEmailAddress,
	}
}

// advance moves the submission forward one status and persists it.
func (o *Orchestrator) advance(sub *models.IntakeSubmission, status string) error {
	sub.Status = status
	if err := o.db.Save(sub).Error; err != nil {
		return fmt.Errorf("persist submission %s at %s: %w", sub.ID, status, err)
	}
	return nil
}

// fail marks the submission failed at the given stage without rolling back
// remote state, and returns the causing error.
func (o *Orchestrator) fail(sub *models.IntakeSubmission, stage string, cause error) error {
	sub.Status = models.StatusFailed
	sub.FailedStage = stage
	sub.FailureReason = cause.Error()
	if err := o.db.Save(sub).Error; err != nil {
		log.Printf("⚠️ Failed to persist failure for submission %s: %v", sub.ID, err)
	}
	log.Printf("❌ Submission %s failed at %s: %v", sub.ID, stage, cause)
	return fmt.Errorf("submission %s failed at %s: %w", sub.ID, stage, cause)
}
