package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/camgate-labs/camgate-go/internal/attachments"
	"github.com/camgate-labs/camgate-go/internal/domain"
	"github.com/camgate-labs/camgate-go/internal/platform/auth"
	"github.com/camgate-labs/camgate-go/internal/runstore"
	"github.com/camgate-labs/camgate-go/internal/safety"
	"github.com/camgate-labs/camgate-go/internal/service/runs"
)

type governorAPI struct {
	logger  *slog.Logger
	runs    *runs.Service
	engine  *safety.Engine
	modes   *safety.ModeController
	tokens  safety.TokenStore
	attach  *attachments.Store
	openapi []byte
}

func newGovernorAPI(logger *slog.Logger, runSvc *runs.Service, engine *safety.Engine, modes *safety.ModeController, tokens safety.TokenStore, attach *attachments.Store, openapi []byte) *governorAPI {
	return &governorAPI{
		logger:  logger,
		runs:    runSvc,
		engine:  engine,
		modes:   modes,
		tokens:  tokens,
		attach:  attach,
		openapi: openapi,
	}
}

func (api *governorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", api.handleCreateRun)
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("GET /runs/facets", api.handleRunFacets)
	mux.HandleFunc("GET /runs/diff", api.handleDiffRuns)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /runs/{run_id}/lineage", api.handleRunLineage)
	mux.HandleFunc("POST /runs/{run_id}/attach-advisory", api.handleAttachAdvisory)
	mux.HandleFunc("GET /runs/{run_id}/advisories", api.handleListAdvisories)

	mux.HandleFunc("POST /attachments", api.handleUploadAttachment)
	mux.HandleFunc("GET /attachments/{hash}", api.handleDownloadAttachment)
	mux.HandleFunc("GET /attachments/{hash}/exists", api.handleAttachmentExists)

	mux.HandleFunc("GET /safety/mode", api.handleGetSafetyMode)
	mux.HandleFunc("POST /safety/mode", api.handleSetSafetyMode)
	mux.HandleFunc("POST /safety/evaluate", api.handleEvaluate)
	mux.HandleFunc("POST /safety/create-override", api.handleCreateOverride)

	mux.HandleFunc("GET /openapi.json", api.handleOpenAPI)
}

type createRunRequest struct {
	RunID          string          `json:"run_id,omitempty"`
	Mode           string          `json:"mode"`
	ToolID         string          `json:"tool_id,omitempty"`
	Status         string          `json:"status"`
	RequestSummary map[string]any  `json:"request_summary,omitempty"`
	Feasibility    map[string]any  `json:"feasibility,omitempty"`
	Decision       domain.Decision `json:"decision"`
	Hashes         domain.Hashes   `json:"hashes"`
	Outputs        *domain.Outputs `json:"outputs,omitempty"`
	ParentRunID    string          `json:"parent_run_id,omitempty"`
	Meta           domain.Metadata `json:"meta,omitempty"`
}

func (api *governorAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	artifact, err := api.runs.Create(r.Context(), runs.CreateRunRequest{
		RunID:          req.RunID,
		Mode:           req.Mode,
		ToolID:         req.ToolID,
		Status:         domain.NormalizeRunStatus(req.Status),
		RequestSummary: req.RequestSummary,
		Feasibility:    req.Feasibility,
		Decision:       req.Decision,
		Hashes:         req.Hashes,
		Outputs:        req.Outputs,
		ParentRunID:    req.ParentRunID,
		Meta:           req.Meta,
	}, api.auditInfo(r))
	if err != nil {
		if errors.Is(err, runstore.ErrConflict) {
			api.writeError(w, r, http.StatusConflict, "run_exists")
			return
		}
		api.logger.Warn("create run rejected", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		api.writeError(w, r, http.StatusBadRequest, "invalid_run")
		return
	}

	w.Header().Set("Location", "/runs/"+artifact.RunID)
	api.writeJSON(w, http.StatusCreated, artifact)
}

func (api *governorAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	artifact, err := api.runs.Get(r.Context(), runID)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, artifact)
}

type listRunsResponse struct {
	Entries    []domain.RunArtifact `json:"entries"`
	NextCursor *string              `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
}

func (api *governorAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_filter")
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

	page, err := api.runs.List(r.Context(), filter, cursor, limit)
	if err != nil {
		if errors.Is(err, runstore.ErrBadCursor) {
			api.writeError(w, r, http.StatusBadRequest, "invalid_cursor")
			return
		}
		api.writeRunError(w, r, err)
		return
	}

	resp := listRunsResponse{Entries: page.Entries, HasMore: page.HasMore}
	if resp.Entries == nil {
		resp.Entries = []domain.RunArtifact{}
	}
	if page.NextCursor != "" {
		resp.NextCursor = &page.NextCursor
	}
	api.writeJSON(w, http.StatusOK, resp)
}

func (api *governorAPI) handleRunFacets(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_filter")
		return
	}

	facets, err := api.runs.Facets(r.Context(), filter)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, facets)
}

func (api *governorAPI) handleDiffRuns(w http.ResponseWriter, r *http.Request) {
	runA := strings.TrimSpace(r.URL.Query().Get("a"))
	runB := strings.TrimSpace(r.URL.Query().Get("b"))
	if runA == "" || runB == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_ids_required")
		return
	}

	diff, err := api.runs.Diff(r.Context(), runA, runB)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, diff)
}

func (api *governorAPI) handleRunLineage(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	chain, err := api.runs.Lineage(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			api.writeRunError(w, r, err)
			return
		}
		api.logger.Warn("lineage walk failed", "run_id", runID, "error", err.Error())
		api.writeError(w, r, http.StatusConflict, "lineage_broken")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "lineage": chain})
}

type attachAdvisoryRequest struct {
	AdvisoryID string `json:"advisory_id,omitempty"`
	Kind       string `json:"kind"`
	Engine     string `json:"engine,omitempty"`
}

func (api *governorAPI) handleAttachAdvisory(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	var req attachAdvisoryRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	ref, err := api.runs.AttachAdvisory(r.Context(), runID, runs.AttachAdvisoryRequest{
		AdvisoryID: req.AdvisoryID,
		Kind:       req.Kind,
		Engine:     req.Engine,
	}, api.auditInfo(r))
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusBadRequest, "invalid_advisory")
		return
	}
	api.writeJSON(w, http.StatusCreated, ref)
}

func (api *governorAPI) handleListAdvisories(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	refs, err := api.runs.Advisories(r.Context(), runID)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	if refs == nil {
		refs = []domain.AdvisoryRef{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "advisories": refs})
}

func (api *governorAPI) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.openapi)
}

// writeRunError maps store errors onto responses. Integrity failures are
// surfaced loudly; they mean a stored artifact no longer matches its hash.
func (api *governorAPI) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	var integrityErr *runstore.IntegrityError
	switch {
	case errors.Is(err, runstore.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.As(err, &integrityErr):
		api.logger.Error("artifact integrity mismatch",
			"run_id", integrityErr.RunID,
			"stored", integrityErr.Stored,
			"computed", integrityErr.Computed,
			"request_id", r.Header.Get("X-Request-Id"))
		api.writeError(w, r, http.StatusInternalServerError, "integrity_mismatch")
	default:
		api.logger.Error("run store failure", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *governorAPI) auditInfo(r *http.Request) runs.AuditInfo {
	actor := "unknown"
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.Subject) != "" {
		actor = identity.Subject
	}
	return runs.AuditInfo{
		Actor:     actor,
		RequestID: r.Header.Get("X-Request-Id"),
		UserAgent: r.UserAgent(),
		IP:        requestIP(r.RemoteAddr),
	}
}

func filterFromQuery(r *http.Request) (runstore.Filter, error) {
	filter := runstore.Filter{
		Mode: strings.TrimSpace(r.URL.Query().Get("mode")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.NormalizeRunStatus(raw)
		if status == "" {
			return runstore.Filter{}, errors.New("unknown status")
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("risk_level")); raw != "" {
		level := domain.NormalizeRiskLevel(raw)
		if level == "" {
			return runstore.Filter{}, errors.New("unknown risk level")
		}
		filter.RiskLevel = level
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return runstore.Filter{}, err
		}
		filter.Since = since
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("until")); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return runstore.Filter{}, err
		}
		filter.Until = until
	}
	return filter, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *governorAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *governorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}
