package api

// DebugRequest runs a program once.
type DebugRequest struct {
	Code   string `json:"code"`
	DataIn string `json:"data_in"`
}

// DebugResponse carries the normalized output and diagnostic. Empty values
// are encoded as null.
type DebugResponse struct {
	Result *string `json:"result"`
	Error  *string `json:"error"`
}

// TestingRequest runs a program against test cases and grades them with the
// checker routine.
type TestingRequest struct {
	Code    string     `json:"code"`
	Checker string     `json:"checker"`
	Tests   []TestData `json:"tests"`
}

type TestData struct {
	DataIn  string `json:"data_in"`
	DataOut string `json:"data_out"`
}

// TestResult is one graded case in request order.
type TestResult struct {
	DataIn    string  `json:"data_in"`
	DataOut   string  `json:"data_out"`
	Result    *string `json:"result"`
	Error     *string `json:"error"`
	OK        bool    `json:"ok"`
	ErrorCode string  `json:"error_code,omitempty"`
}

type TestingResponse struct {
	Num   int          `json:"num"`
	NumOK int          `json:"num_ok"`
	OK    bool         `json:"ok"`
	Tests []TestResult `json:"tests"`
}

// CaseEvent is the payload of a streamed "case" event.
type CaseEvent struct {
	Index int `json:"index"`
	TestResult
}

// SummaryEvent is the payload of the final streamed "done" event.
type SummaryEvent struct {
	Num   int  `json:"num"`
	NumOK int  `json:"num_ok"`
	OK    bool `json:"ok"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	Interpreter bool   `json:"interpreter"`
	Database    bool   `json:"database"`
	ActiveRuns  int64  `json:"active_runs"`
	Uptime      string `json:"uptime"`
}

// nullable maps "" to JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
