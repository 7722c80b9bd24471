package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"prologd-judge/internal/config"
	"prologd-judge/internal/judge"
	"prologd-judge/internal/sandbox"
	"prologd-judge/internal/storage"
)

// RunStore reads the audit log.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*storage.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]storage.Run, error)
}

// AuditLogger records finished runs without blocking.
type AuditLogger interface {
	Log(run *storage.Run)
}

type Handlers struct {
	judge      *judge.Service
	store      RunStore
	audit      AuditLogger
	maxCases   int
	caseBudget time.Duration
}

// NewHandlers wires the judge service. store and audit may be nil when no
// database is configured. caseBudget is the longest a single case may take;
// testing handlers extend the connection's write deadline by it per
// remaining case, and zero leaves the server's WriteTimeout in charge.
func NewHandlers(svc *judge.Service, store RunStore, audit AuditLogger, maxCases int, caseBudget time.Duration) *Handlers {
	return &Handlers{
		judge:      svc,
		store:      store,
		audit:      audit,
		maxCases:   maxCases,
		caseBudget: caseBudget,
	}
}

func (h *Handlers) HandleDebug(w http.ResponseWriter, r *http.Request) {
	var req DebugRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Code == "" {
		writeError(w, "code is required", "VALIDATION_ERROR", http.StatusBadRequest, r)
		return
	}

	start := time.Now()
	out, err := h.judge.Debug(r.Context(), req.Code, req.DataIn)
	if err != nil {
		h.logFailure("debug", req.Code, start, r, err)
		writeRunError(w, r, err)
		return
	}

	run := h.newRun("debug", req.Code, start, r)
	run.Status = out.Status()
	run.Total = 1
	run.OK = out.Error == ""
	run.Cases = []storage.RunCase{{
		ExecID:     out.ID,
		Input:      req.DataIn,
		Output:     out.Output,
		Error:      out.Error,
		Status:     out.Status(),
		OK:         run.OK,
		DurationMS: out.Duration.Milliseconds(),
	}}
	h.logAudit(run)

	writeJSON(w, http.StatusOK, DebugResponse{
		Result: nullable(out.Output),
		Error:  nullable(out.Error),
	})
}

func (h *Handlers) HandleTesting(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTesting(w, r)
	if !ok {
		return
	}

	total := len(req.Tests)
	h.extendWriteDeadline(w, total)

	start := time.Now()
	report, err := h.judge.TestStream(r.Context(), req.Code, toCases(req.Tests), req.Checker,
		func(i int, _ judge.CaseResult) {
			h.extendWriteDeadline(w, total-i-1)
		})
	if err != nil {
		h.logFailure("testing", req.Code, start, r, err)
		writeRunError(w, r, err)
		return
	}
	h.logAudit(h.testingRun(req.Code, report, start, r))

	resp := TestingResponse{
		Num:   report.Total,
		NumOK: report.Passed,
		OK:    report.OK,
		Tests: make([]TestResult, 0, len(report.Cases)),
	}
	for _, c := range report.Cases {
		resp.Tests = append(resp.Tests, toTestResult(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleTestingStream runs the same request as HandleTesting and emits a
// "case" event per graded case and a final "done" summary.
func (h *Handlers) HandleTestingStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTesting(w, r)
	if !ok {
		return
	}

	sse := NewSSEWriter(w)
	if sse == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	total := len(req.Tests)
	h.extendWriteDeadline(w, total)

	start := time.Now()
	report, err := h.judge.TestStream(r.Context(), req.Code, toCases(req.Tests), req.Checker,
		func(i int, c judge.CaseResult) {
			h.extendWriteDeadline(w, total-i-1)
			if err := sse.SendJSON("case", CaseEvent{Index: i, TestResult: toTestResult(c)}); err != nil {
				log.Debug().Err(err).Int("case", i).Msg("client stopped reading stream")
			}
		})
	if err != nil {
		h.logFailure("testing", req.Code, start, r, err)
		resp := ErrorResponse{
			Error:     "execution failed",
			Code:      "EXECUTION_FAILED",
			RequestID: RequestIDFromContext(r.Context()),
		}
		if sandbox.IsInvalidRequest(err) {
			resp.Error = err.Error()
			resp.Code = "VALIDATION_ERROR"
		} else {
			log.Error().Err(err).Str("request_id", resp.RequestID).Msg("streaming testing run failed")
		}
		_ = sse.SendJSON("error", resp)
		return
	}
	h.logAudit(h.testingRun(req.Code, report, start, r))

	_ = sse.SendJSON("done", SummaryEvent{Num: report.Total, NumOK: report.Passed, OK: report.OK})
}

func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, "run ID must be a UUID", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "run not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("run_id", id).Msg("run lookup failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	q := r.URL.Query()
	filter := storage.RunFilter{
		Mode:   q.Get("mode"),
		Status: q.Get("status"),
		Limit:  100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "offset must be a non-negative integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Offset = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "since must be an RFC 3339 timestamp", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Since = &since
	}

	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("run listing failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (h *Handlers) decodeTesting(w http.ResponseWriter, r *http.Request) (*TestingRequest, bool) {
	var req TestingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return nil, false
	}
	if req.Code == "" {
		writeError(w, "code is required", "VALIDATION_ERROR", http.StatusBadRequest, r)
		return nil, false
	}
	if h.maxCases > 0 && len(req.Tests) > h.maxCases {
		writeError(w, "too many test cases, limit is "+strconv.Itoa(h.maxCases),
			"VALIDATION_ERROR", http.StatusBadRequest, r)
		return nil, false
	}
	return &req, true
}

// extendWriteDeadline gives the response enough write time for the cases
// still to run. Writers without deadline support are left alone.
func (h *Handlers) extendWriteDeadline(w http.ResponseWriter, remaining int) {
	if h.caseBudget <= 0 {
		return
	}
	deadline := time.Now().Add(time.Duration(remaining)*h.caseBudget + config.ResponseMargin)
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Debug().Err(err).Msg("could not extend write deadline")
	}
}

func toCases(tests []TestData) []judge.TestCase {
	cases := make([]judge.TestCase, len(tests))
	for i, t := range tests {
		cases[i] = judge.TestCase{Input: t.DataIn, Expected: t.DataOut}
	}
	return cases
}

func toTestResult(c judge.CaseResult) TestResult {
	return TestResult{
		DataIn:    c.Input,
		DataOut:   c.Expected,
		Result:    nullable(c.Output),
		Error:     nullable(c.Error),
		OK:        c.Passed,
		ErrorCode: c.ErrorCode,
	}
}

// writeRunError maps a failed run to a response. Diagnostics never reach
// here; only invalid requests and infrastructure faults do.
func writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	if sandbox.IsInvalidRequest(err) {
		writeError(w, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, r)
		return
	}

	var execErr *sandbox.ExecutionError
	execID := ""
	if errors.As(err, &execErr) {
		execID = execErr.ExecID
	}
	log.Error().
		Err(err).
		Str("exec_id", execID).
		Str("request_id", RequestIDFromContext(r.Context())).
		Msg("execution failed")
	writeError(w, "execution failed", "EXECUTION_FAILED", http.StatusInternalServerError, r)
}

func (h *Handlers) newRun(mode, code string, start time.Time, r *http.Request) *storage.Run {
	completedAt := time.Now()
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return &storage.Run{
		ID:          uuid.New().String(),
		Mode:        mode,
		CodeHash:    sandbox.HashCode(code),
		DurationMS:  completedAt.Sub(start).Milliseconds(),
		RequestIP:   ip,
		APIKeyHash:  APIKeyHashFromContext(r.Context()),
		CreatedAt:   start,
		CompletedAt: &completedAt,
	}
}

func (h *Handlers) testingRun(code string, report *judge.Report, start time.Time, r *http.Request) *storage.Run {
	run := h.newRun("testing", code, start, r)
	run.Status = "graded"
	run.Total = report.Total
	run.Passed = report.Passed
	run.OK = report.OK
	run.Cases = make([]storage.RunCase, 0, len(report.Cases))
	for i, c := range report.Cases {
		run.Cases = append(run.Cases, storage.RunCase{
			Index:      i,
			ExecID:     c.RunID,
			Input:      c.Input,
			Expected:   c.Expected,
			Output:     c.Output,
			Error:      c.Error,
			ErrorCode:  c.ErrorCode,
			Status:     c.Status,
			OK:         c.Passed,
			DurationMS: c.Duration.Milliseconds(),
		})
	}
	return run
}

func (h *Handlers) logFailure(mode, code string, start time.Time, r *http.Request, err error) {
	if sandbox.IsInvalidRequest(err) {
		return
	}
	run := h.newRun(mode, code, start, r)
	run.Status = "error"
	h.logAudit(run)
}

func (h *Handlers) logAudit(run *storage.Run) {
	if h.audit == nil {
		return
	}
	h.audit.Log(run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
