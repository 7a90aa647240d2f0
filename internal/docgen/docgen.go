// Package docgen triggers retainer-agreement generation through the
// case-management platform's document automation API.
package docgen

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/richardslaw/clio-intake/internal/clioapi"
)

const (
	defaultPollInterval = 4 * time.Second
	maxPollAttempts     = 8
)

// Service generates retainer agreements by merging matter fields into an
// uploaded template, then downloads the produced PDF.
type Service struct {
	api          *clioapi.Client
	pollInterval time.Duration
}

// NewService creates a document generation service.
func NewService(api *clioapi.Client) *Service {
	return &Service{api: api, pollInterval: defaultPollInterval}
}

// GenerateRetainer starts a document-automation job for the matter and waits
// for the merged PDF. The job is asynchronous on the remote side; generation
// that outlives the polling window is reported as an error and the caller
// decides whether to proceed without the attachment.
func (s *Service) GenerateRetainer(ctx context.Context, accountID string, matterID, templateID int, clientName string) ([]byte, error) {
	filename := "Retainer_Agreement_" + strings.ReplaceAll(clientName, " ", "_")
	job, err := s.api.CreateDocumentFromTemplate(ctx, accountID, templateID, matterID, filename, []string{"pdf"})
	if err != nil {
		return nil, fmt.Errorf("start document automation: %w", err)
	}
	log.Printf("📄 Started retainer generation for matter %d (job %d)", matterID, job.ID)

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		switch job.State {
		case "failed":
			return nil, fmt.Errorf("document automation %d failed remotely", job.ID)
		case "completed":
			if len(job.Documents) == 0 {
				return nil, fmt.Errorf("document automation %d completed with no documents", job.ID)
			}
			return s.api.DownloadDocument(ctx, accountID, job.Documents[0].ID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}

		job, err = s.api.GetDocumentAutomation(ctx, accountID, job.ID)
		if err != nil {
			return nil, fmt.Errorf("poll document automation: %w", err)
		}
	}
	return nil, fmt.Errorf("document automation %d timed out after %d attempts", job.ID, maxPollAttempts)
}
