// Package handlers implements the HTTP API: job submission for the
// three standard actions, job status polling, health, and version.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opencurate/ferry/internal/apperrors"
	"github.com/opencurate/ferry/pkg/dispatch"
	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/provider"
	"github.com/opencurate/ferry/pkg/runner"
	"github.com/opencurate/ferry/pkg/ticket"
)

// Credential headers. The source token authenticates reads from the
// source provider; the destination token authenticates writes.
const (
	SourceTokenHeader      = "ferry-source-token"
	DestinationTokenHeader = "ferry-destination-token"
)

// JobsHandler wires job submission and status endpoints to the store,
// dispatcher, and runner.
type JobsHandler struct {
	Store      *jobstore.Store
	Dispatcher *dispatch.Dispatcher
	Runner     *runner.Runner
	DefaultTTL time.Duration
	Log        *zap.Logger
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	Ticket  string `json:"ticket"`
	Message string `json:"message"`
}

type downloadRequest struct {
	Patterns  []string `json:"patterns,omitempty"`
	RateLimit float64  `json:"rate_limit,omitempty"`
}

type uploadRequest struct {
	// ResourceID is the parent container on the destination side.
	ResourceID string `json:"resource_id"`
	// SourceDir is a staging tree readable by the server.
	SourceDir string  `json:"source_dir"`
	RateLimit float64 `json:"rate_limit,omitempty"`
}

type transferEndpoint struct {
	Target     string `json:"target"`
	ResourceID string `json:"resource_id"`
}

type transferRequest struct {
	Source      transferEndpoint `json:"source"`
	Destination transferEndpoint `json:"destination"`
	Patterns    []string         `json:"patterns,omitempty"`
	RateLimit   float64          `json:"rate_limit,omitempty"`
}

// Download serves POST /api/v1/targets/{target}/resources/{id}/download.
func (h *JobsHandler) Download(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(SourceTokenHeader)
	if token == "" {
		apperrors.RespondWithError(w, r,
			apperrors.NewValidation("missing "+SourceTokenHeader+" header"))
		return
	}
	kind, err := provider.ParseKind(chi.URLParam(r, "target"))
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewValidation(err.Error()))
		return
	}
	resourceID, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || resourceID == "" {
		apperrors.RespondWithError(w, r,
			apperrors.NewValidation("invalid resource id"))
		return
	}

	var req downloadRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	body, err := h.Runner.Download(runner.DownloadSpec{
		Source: runner.Endpoint{
			Kind:       kind,
			Credential: token,
			ResourceID: resourceID,
		},
		Patterns:  req.Patterns,
		RateLimit: req.RateLimit,
	})
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	h.submit(w, r, token, jobstore.ActionDownload, body)
}

// Upload serves POST /api/v1/targets/{target}/resources.
func (h *JobsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(DestinationTokenHeader)
	if token == "" {
		apperrors.RespondWithError(w, r,
			apperrors.NewValidation("missing "+DestinationTokenHeader+" header"))
		return
	}
	kind, err := provider.ParseKind(chi.URLParam(r, "target"))
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewValidation(err.Error()))
		return
	}

	var req uploadRequest
	if err := decodeBody(r, &req); err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	if req.SourceDir == "" {
		apperrors.RespondWithError(w, r,
			apperrors.NewValidation("source_dir is required"))
		return
	}

	body, err := h.Runner.Upload(runner.UploadSpec{
		Destination: runner.Endpoint{
			Kind:       kind,
			Credential: token,
			ResourceID: req.ResourceID,
		},
		SourceDir: req.SourceDir,
		RateLimit: req.RateLimit,
	})
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	h.submit(w, r, token, jobstore.ActionUpload, body)
}

// Transfer serves POST /api/v1/transfers. The admission credential is
// the source token: one transfer per source credential at a time.
func (h *JobsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	srcToken := r.Header.Get(SourceTokenHeader)
	dstToken := r.Header.Get(DestinationTokenHeader)
	if srcToken == "" || dstToken == "" {
		apperrors.RespondWithError(w, r, apperrors.NewValidation(
			"both "+SourceTokenHeader+" and "+DestinationTokenHeader+" headers are required"))
		return
	}

	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	srcKind, err := provider.ParseKind(req.Source.Target)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewValidation("source: "+err.Error()))
		return
	}
	dstKind, err := provider.ParseKind(req.Destination.Target)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewValidation("destination: "+err.Error()))
		return
	}
	if req.Source.ResourceID == "" {
		apperrors.RespondWithError(w, r,
			apperrors.NewValidation("source.resource_id is required"))
		return
	}

	body, err := h.Runner.Transfer(runner.TransferSpec{
		Source: runner.Endpoint{
			Kind:       srcKind,
			Credential: srcToken,
			ResourceID: req.Source.ResourceID,
		},
		Destination: runner.Endpoint{
			Kind:       dstKind,
			Credential: dstToken,
			ResourceID: req.Destination.ResourceID,
		},
		Patterns:  req.Patterns,
		RateLimit: req.RateLimit,
	})
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	h.submit(w, r, srcToken, jobstore.ActionTransfer, body)
}

// Status serves GET /api/v1/jobs/{action}. The ticket is derived from
// the caller's source token, so a caller can only see its own jobs.
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(SourceTokenHeader)
	if token == "" {
		apperrors.RespondWithError(w, r,
			apperrors.NewValidation("missing "+SourceTokenHeader+" header"))
		return
	}
	action, err := jobstore.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewValidation(err.Error()))
		return
	}

	id := ticket.FingerprintString(token)
	rec, err := h.Store.Read(id, action)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	if rec.Expired(time.Now().UTC()) {
		apperrors.RespondWithError(w, r, jobstore.ErrGone)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func (h *JobsHandler) submit(w http.ResponseWriter, r *http.Request, token string, action jobstore.Action, body dispatch.Body) {
	id, err := h.Dispatcher.Submit([]byte(token), action, h.DefaultTTL, body)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	h.Log.Info("job accepted",
		zap.String("ticket", ticket.Redact(id)),
		zap.String("action", string(action)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SubmitResponse{
		Ticket:  id,
		Message: "The server is processing the request.",
	})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewValidation("invalid request body: " + err.Error())
	}
	return nil
}

// decodeOptionalBody tolerates an absent body but rejects a malformed one.
func decodeOptionalBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperrors.NewValidation("invalid request body: " + err.Error())
}
