// Package server exposes the intake pipeline over HTTP. The routing layer is
// deliberately thin: all sequencing and failure handling lives in intake.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/richardslaw/clio-intake/internal/auth/token"
	"github.com/richardslaw/clio-intake/internal/clioapi"
	"github.com/richardslaw/clio-intake/internal/db/models"
	"github.com/richardslaw/clio-intake/internal/intake"
	"github.com/richardslaw/clio-intake/internal/logging"
	"gorm.io/gorm"
)

// maxUploadBytes bounds the accepted scanned-report size (20 MB).
const maxUploadBytes = 20 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

// HealthHandler reports liveness.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// OAuthStatusHandler reports whether the account holds a valid credential.
func OAuthStatusHandler(store *token.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := r.URL.Query().Get("account")
		if account == "" {
			writeError(w, http.StatusBadRequest, "missing account parameter")
			return
		}
		cred, err := store.Get(account)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{
			"authenticated": true,
			"token_valid":   time.Now().Before(cred.ExpiresAt),
		})
	}
}

// LogoutHandler deletes the account's credential, forcing a fresh login.
func LogoutHandler(store *token.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := r.URL.Query().Get("account")
		if account == "" {
			writeError(w, http.StatusBadRequest, "missing account parameter")
			return
		}
		if err := store.Delete(account); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		http.Redirect(w, r, "/auth/clio/login?account="+account, http.StatusFound)
	}
}

// TemplatesHandler lists the account's document templates so the operator can
// pick the retainer template for a submission.
func TemplatesHandler(api *clioapi.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := r.URL.Query().Get("account")
		if account == "" {
			writeError(w, http.StatusBadRequest, "missing account parameter")
			return
		}
		templates, err := api.ListDocumentTemplates(r.Context(), account)
		if err != nil {
			writeError(w, remoteErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": templates})
	}
}

// submissionView is the submitter-facing status of one submission: final
// success or needs-attention with the failing stage and reason, never a
// silent drop.
type submissionView struct {
	ID            string `json:"id"`
	MatterID      int    `json:"matter_id"`
	Status        string `json:"status"`
	FailedStage   string `json:"failed_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func viewOf(sub *models.IntakeSubmission) submissionView {
	return submissionView{
		ID:            sub.ID,
		MatterID:      sub.MatterID,
		Status:        sub.Status,
		FailedStage:   sub.FailedStage,
		FailureReason: sub.FailureReason,
	}
}

// SubmitHandler accepts a scanned report upload and runs the intake pipeline
// for it. The pipeline runs on the request context: aborting the request
// stops further local progression but never attempts remote compensation.
func SubmitHandler(orch *intake.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}

		account := r.FormValue("account")
		if account == "" {
			writeError(w, http.StatusBadRequest, "missing account field")
			return
		}
		matterID, err := strconv.Atoi(r.FormValue("matter_id"))
		if err != nil || matterID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid matter_id")
			return
		}
		// template_id is optional; without it no retainer is generated.
		templateID, _ := strconv.Atoi(r.FormValue("template_id"))

		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file upload")
			return
		}
		defer file.Close()
		document, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
			return
		}

		sub, err := orch.NewSubmission(account, matterID, templateID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Printf("📥 [%s] Received submission %s for matter %d", logging.RequestID(r.Context()), sub.ID, matterID)

		if err := orch.Run(r.Context(), sub, document); err != nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success":    false,
				"submission": viewOf(sub),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"submission": viewOf(sub),
		})
	}
}

// SubmissionStatusHandler reports the current state of a submission.
func SubmissionStatusHandler(orch *intake.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sub, err := orch.GetSubmission(id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				writeError(w, http.StatusNotFound, "submission not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    sub.Status != models.StatusFailed,
			"submission": viewOf(sub),
		})
	}
}

// remoteErrorStatus maps engine errors onto response codes: auth problems
// require re-login (401), everything else is a bad gateway to the remote.
func remoteErrorStatus(err error) int {
	var authErr *token.AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized
	}
	return http.StatusBadGateway
}
