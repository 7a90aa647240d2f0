// Package extract is the client for the external AI extraction service that
// turns a scanned police report into structured accident facts. The engine
// only consumes the typed record; prompt design and document parsing live on
// the other side of this boundary.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/richardslaw/clio-intake/internal/intake"
)

// Service posts document bytes to the extraction endpoint and decodes the
// returned facts. Implements intake.Extractor.
type Service struct {
	httpClient *http.Client
	endpoint   string
}

// NewService creates an extraction client. The endpoint is required; an
// empty value fails at extraction time, never at startup, so the rest of
// the service stays usable.
func NewService(endpoint string) *Service {
	return &Service{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		endpoint:   endpoint,
	}
}

// Extract sends the raw document and returns the validated facts.
func (s *Service) Extract(ctx context.Context, document []byte) (*intake.AccidentFacts, error) {
	if s.endpoint == "" {
		return nil, errors.New("extraction endpoint not configured (set EXTRACTOR_URL)")
	}
	if len(document) == 0 {
		return nil, errors.New("empty document")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(document))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var facts intake.AccidentFacts
	if err := json.NewDecoder(resp.Body).Decode(&facts); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	if err := facts.Validate(); err != nil {
		return nil, fmt.Errorf("extraction output invalid: %w", err)
	}
	return &facts, nil
}
