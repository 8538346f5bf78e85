package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/armorclaw/errsink/internal/metrics"
	"github.com/armorclaw/errsink/pkg/errchain"
	"github.com/armorclaw/errsink/pkg/report"
	"github.com/armorclaw/errsink/pkg/triage"
)

const defaultListLimit = 50

// readChain decodes the request body as an error chain. On failure it has
// already written the response and returns the result label for metrics.
func (s *Server) readChain(w http.ResponseWriter, r *http.Request) (*errchain.Node, string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeRequestError(w, r, http.StatusRequestEntityTooLarge, codeTooLarge, "error document too large")
			return nil, "too_large"
		}
		writeRequestError(w, r, http.StatusBadRequest, codeBadRequest, "could not read request body")
		return nil, "rejected"
	}

	node, err := errchain.Unmarshal(body)
	if err != nil {
		writeRequestError(w, r, http.StatusBadRequest, codeInvalid, err.Error())
		return nil, "rejected"
	}
	return node, ""
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := "accepted"
	defer func() { s.opts.Metrics.RecordIngest(result, time.Since(start)) }()

	if s.limiter != nil && !s.limiter.Allow() {
		result = "rate_limited"
		writeRateLimited(w, r, time.Duration(float64(time.Second)/float64(s.limiter.Limit())))
		return
	}

	node, failed := s.readChain(w, r)
	if node == nil {
		result = failed
		return
	}

	s.opts.Ingest.OnError(node.ToError())

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"kind":   string(node.Kind),
	})
}

type verdictResponse struct {
	Action         string `json:"action"`
	Classification string `json:"classification"`
	Sibling        int    `json:"sibling"`
	Examined       int    `json:"examined"`
	Payload        string `json:"payload,omitempty"`
}

func newVerdictResponse(v triage.Verdict) verdictResponse {
	resp := verdictResponse{
		Action:         v.Action.String(),
		Classification: v.Classification.String(),
		Sibling:        v.Sibling,
		Examined:       v.Examined,
	}
	if v.Payload != nil {
		resp.Payload = v.Payload.Error()
	}
	return resp
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	if s.opts.Triager == nil {
		writeRequestError(w, r, http.StatusServiceUnavailable, codeUnavailable, "triage preview is not configured")
		return
	}

	node, _ := s.readChain(w, r)
	if node == nil {
		return
	}

	writeJSON(w, http.StatusOK, newVerdictResponse(s.opts.Triager.Triage(node.ToError())))
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	q, err := parseReportQuery(r)
	if err != nil {
		writeRequestError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	results, err := s.opts.Store.Query(r.Context(), q)
	if err != nil {
		s.log.ErrorEvent(r.Context(), "report query failed", err)
		writeRequestError(w, r, http.StatusInternalServerError, codeInternal, "report query failed")
		return
	}
	if results == nil {
		results = []report.StoredReport{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": results,
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

func parseReportQuery(r *http.Request) (report.ReportQuery, error) {
	v := r.URL.Query()
	q := report.ReportQuery{
		Kind:   errchain.Kind(v.Get("kind")),
		Origin: report.Origin(v.Get("origin")),
		Limit:  defaultListLimit,
	}

	if raw := v.Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return q, errors.New("resolved must be true or false")
		}
		q.Resolved = &resolved
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = n
	}
	if raw := v.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, errors.New("offset must be a non-negative integer")
		}
		q.Offset = n
	}
	return q, nil
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")

	stored, err := s.opts.Store.Get(r.Context(), traceID)
	if errors.Is(err, report.ErrNotFound) {
		writeRequestError(w, r, http.StatusNotFound, codeNotFound, "report not found")
		return
	}
	if err != nil {
		s.log.ErrorEvent(r.Context(), "report lookup failed", err)
		writeRequestError(w, r, http.StatusInternalServerError, codeInternal, "report lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.opts.Resolver == nil {
		writeRequestError(w, r, http.StatusServiceUnavailable, codeUnavailable, "resolve is not configured")
		return
	}

	var req resolveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeRequestError(w, r, http.StatusBadRequest, codeBadRequest, "invalid resolve request")
			return
		}
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "api"
	}

	traceID := chi.URLParam(r, "traceID")
	err := s.opts.Resolver.Resolve(r.Context(), traceID, req.ResolvedBy)
	if errors.Is(err, report.ErrNotFound) {
		writeRequestError(w, r, http.StatusNotFound, codeNotFound, "report not found")
		return
	}
	if err != nil {
		s.log.ErrorEvent(r.Context(), "resolve failed", err)
		writeRequestError(w, r, http.StatusInternalServerError, codeInternal, "resolve failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"trace_id":    traceID,
		"status":      "resolved",
		"resolved_by": req.ResolvedBy,
	})
}

func (s *Server) handleUnresolve(w http.ResponseWriter, r *http.Request) {
	if s.opts.Resolver == nil {
		writeRequestError(w, r, http.StatusServiceUnavailable, codeUnavailable, "resolve is not configured")
		return
	}

	traceID := chi.URLParam(r, "traceID")
	err := s.opts.Resolver.Unresolve(r.Context(), traceID)
	if errors.Is(err, report.ErrNotFound) {
		writeRequestError(w, r, http.StatusNotFound, codeNotFound, "report not found")
		return
	}
	if err != nil {
		s.log.ErrorEvent(r.Context(), "unresolve failed", err)
		writeRequestError(w, r, http.StatusInternalServerError, codeInternal, "unresolve failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"trace_id": traceID,
		"status":   "open",
	})
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Resolver == nil {
		writeRequestError(w, r, http.StatusServiceUnavailable, codeUnavailable, "delete is not configured")
		return
	}

	traceID := chi.URLParam(r, "traceID")
	err := s.opts.Resolver.Delete(r.Context(), traceID)
	if errors.Is(err, report.ErrNotFound) {
		writeRequestError(w, r, http.StatusNotFound, codeNotFound, "report not found")
		return
	}
	if err != nil {
		s.log.ErrorEvent(r.Context(), "delete failed", err)
		writeRequestError(w, r, http.StatusInternalServerError, codeInternal, "delete failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	Store    *report.StoreStats `json:"store,omitempty"`
	Pipeline metrics.Snapshot   `json:"pipeline"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Pipeline: s.opts.Metrics.GetSnapshot()}

	if s.opts.Store != nil {
		stats, err := s.opts.Store.Stats(r.Context())
		if err != nil {
			s.log.ErrorEvent(r.Context(), "store stats failed", err)
			writeRequestError(w, r, http.StatusInternalServerError, codeInternal, "store stats failed")
			return
		}
		s.opts.Metrics.SetStoreGauges(stats.TotalReports, stats.UnresolvedReports)
		resp.Store = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}
