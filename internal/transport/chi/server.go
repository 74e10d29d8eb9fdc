// Package chi is the HTTP transport: pipeline administration, direct runs,
// and the pipelined search endpoint.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/logger"
	"github.com/model-collapse/quidditch/internal/pipeline/executor"
	"github.com/model-collapse/quidditch/internal/pipeline/registry"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
	pipelineuc "github.com/model-collapse/quidditch/internal/usecase/pipeline"
	searchuc "github.com/model-collapse/quidditch/internal/usecase/search"
	"github.com/model-collapse/quidditch/internal/version"
)

// Error response codes.
const (
	codeBadRequest      = "bad_request"
	codeNotFound        = "not_found"
	codeDuplicate       = "duplicate_version"
	codeInvalidPipeline = "invalid_pipeline"
	codeMalformedQuery  = "malformed_query"
	codeStageFault      = "stage_fault"
	codeEngineUnreached = "engine_unavailable"
	codeInternalError   = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API server.
type Server struct {
	pipelines     *pipelineuc.Service
	search        *searchuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(pipelines *pipelineuc.Service, search *searchuc.Service, logger *zap.Logger) *Server {
	s := &Server{
		pipelines: pipelines,
		search:    search,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		stageFaultHandler,
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrDuplicateVersion, http.StatusConflict, codeDuplicate),
		sentinelHandler(domain.ErrUnknownStage, http.StatusBadRequest, codeInvalidPipeline),
		sentinelHandler(domain.ErrKindMismatch, http.StatusBadRequest, codeInvalidPipeline),
		sentinelHandler(domain.ErrMetadataKeyCollision, http.StatusBadRequest, codeInvalidPipeline),
		sentinelHandler(domain.ErrInvalidKind, http.StatusBadRequest, codeInvalidPipeline),
		sentinelHandler(domain.ErrInvalidDefinition, http.StatusBadRequest, codeInvalidPipeline),
		sentinelHandler(domain.ErrMalformedQuery, http.StatusBadRequest, codeMalformedQuery),
		sentinelHandler(domain.ErrEngineUnavailable, http.StatusBadGateway, codeEngineUnreached),
	}
	return s
}

// Routes mounts all endpoints on the router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.runSearch)
		r.Get("/stages", s.listStages)
		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", s.registerPipeline)
			r.Get("/", s.listPipelines)
			r.Get("/{name}/{version}", s.getPipeline)
			r.Delete("/{name}/{version}", s.deletePipeline)
			r.Post("/{name}/{version}/run", s.runPipeline)
		})
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
	})
}

// registerPipeline handles POST /api/v1/pipelines.
func (s *Server) registerPipeline(w http.ResponseWriter, r *http.Request) {
	var def registry.PipelineDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.pipelines.Register(r.Context(), &def); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"name":    def.Name,
		"version": def.Version,
	})
}

// listPipelines handles GET /api/v1/pipelines.
func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	defs := s.pipelines.List(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": defs})
}

// getPipeline handles GET /api/v1/pipelines/{name}/{version}.
func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	def, err := s.pipelines.Get(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "version"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// deletePipeline handles DELETE /api/v1/pipelines/{name}/{version}.
func (s *Server) deletePipeline(w http.ResponseWriter, r *http.Request) {
	if err := s.pipelines.Delete(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "version")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// stageInfo is the wire shape of a registered stage spec.
type stageInfo struct {
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	Kind         stage.Kind  `json:"kind"`
	Params       []paramInfo `json:"params,omitempty"`
	MetadataKeys []string    `json:"metadata_keys,omitempty"`
}

type paramInfo struct {
	Name    string          `json:"name"`
	Type    stage.ParamType `json:"type"`
	Default any             `json:"default,omitempty"`
}

// listStages handles GET /api/v1/stages.
func (s *Server) listStages(w http.ResponseWriter, r *http.Request) {
	specs := s.pipelines.Stages(r.Context())
	items := make([]stageInfo, len(specs))
	for i, spec := range specs {
		info := stageInfo{
			Name:         spec.Name,
			Version:      spec.Version,
			Kind:         spec.Kind,
			MetadataKeys: spec.MetadataKeys,
		}
		for _, p := range spec.Params {
			info.Params = append(info.Params, paramInfo{Name: p.Name, Type: p.Type, Default: p.Default})
		}
		items[i] = info
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": items})
}

// runRequest is the payload for a direct pipeline run.
type runRequest struct {
	Request  *query.Request            `json:"request,omitempty"`
	Envelope *envelope.Envelope        `json:"envelope,omitempty"`
	Params   map[string]map[string]any `json:"params,omitempty"`
}

// runPipeline handles POST /api/v1/pipelines/{name}/{version}/run.
func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	out, err := s.pipelines.Run(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "version"),
		pipelineuc.RunInput{
			Request:  req.Request,
			Envelope: req.Envelope,
			Options:  executor.RunOptions{Params: req.Params},
		})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runOutputJSON(out))
}

func runOutputJSON(out *pipelineuc.RunOutput) map[string]any {
	resp := map[string]any{"report": reportJSON(out.Report)}
	if out.Request != nil {
		resp["request"] = out.Request
	}
	if out.Envelope != nil {
		resp["envelope"] = out.Envelope
	}
	return resp
}

// searchRequest is the payload for the pipelined search endpoint.
type searchRequest struct {
	Request        *query.Request            `json:"request"`
	QueryPipeline  *searchuc.Ref             `json:"query_pipeline,omitempty"`
	ResultPipeline *searchuc.Ref             `json:"result_pipeline,omitempty"`
	Params         map[string]map[string]any `json:"params,omitempty"`
}

// runSearch handles POST /api/v1/search.
func (s *Server) runSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Request == nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "request is required")
		return
	}

	in := searchuc.Input{
		Request:   req.Request,
		Params:    req.Params,
		RequestID: requestID(r),
	}
	if req.QueryPipeline != nil {
		in.QueryPipeline = *req.QueryPipeline
	}
	if req.ResultPipeline != nil {
		in.ResultPipeline = *req.ResultPipeline
	}

	out, err := s.search.Search(r.Context(), in)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := map[string]any{"result": out.Envelope}
	if out.QueryReport != nil {
		resp["query_report"] = reportJSON(out.QueryReport)
	}
	if out.ResultReport != nil {
		resp["result_report"] = reportJSON(out.ResultReport)
	}
	writeJSON(w, http.StatusOK, resp)
}

// reportJSON flattens a run report into the wire shape.
func reportJSON(rep *executor.Report) map[string]any {
	if rep == nil {
		return nil
	}
	stages := make([]map[string]any, len(rep.Stages))
	for i, sr := range rep.Stages {
		item := map[string]any{
			"name":        sr.Name,
			"version":     sr.Version,
			"kind":        sr.Kind,
			"duration_ms": sr.Duration.Milliseconds(),
		}
		if sr.Skipped {
			item["skipped"] = true
		}
		if sr.Fault != nil {
			item["fault"] = map[string]any{
				"reason":  string(sr.Fault.Reason),
				"message": sr.Fault.Error(),
			}
		}
		stages[i] = item
	}
	out := map[string]any{
		"run_id":   rep.RunID,
		"pipeline": rep.Pipeline,
		"version":  rep.Version,
		"stages":   stages,
	}
	if len(rep.Warnings) > 0 {
		warnings := make([]string, len(rep.Warnings))
		for i, wn := range rep.Warnings {
			warnings[i] = wn.String()
		}
		out["warnings"] = warnings
	}
	if rep.HitsDropped > 0 {
		out["hits_dropped"] = rep.HitsDropped
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// stageFaultHandler maps an aborted run to 422: the request was fine, a stage
// was not.
func stageFaultHandler(w http.ResponseWriter, err error, msg string) bool {
	var fault *executor.StageFault
	if !errors.As(err, &fault) {
		return false
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"code":    codeStageFault,
		"message": msg,
		"stage":   fault.Stage,
		"reason":  string(fault.Reason),
	})
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	// Prefer the request-scoped logger so the entry carries the request ID.
	log := logger.FromContext(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := err.Error()
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}
