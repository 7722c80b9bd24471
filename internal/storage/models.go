package storage

import "time"

// Run is one audited debug or testing call.
type Run struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"` // debug, testing
	CodeHash    string     `json:"code_hash"`
	Status      string     `json:"status"` // success, failed, timeout, graded, error
	Total       int        `json:"total"`
	Passed      int        `json:"passed"`
	OK          bool       `json:"ok"`
	DurationMS  int64      `json:"duration_ms"`
	RequestIP   string     `json:"request_ip"`
	APIKeyHash  string     `json:"api_key_hash,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Cases       []RunCase  `json:"cases,omitempty"`
}

// RunCase is one interpreter run inside a Run. Debug runs have a single case
// with no expected output.
type RunCase struct {
	Index      int    `json:"index"`
	ExecID     string `json:"exec_id"`
	Input      string `json:"data_in"`
	Expected   string `json:"data_out"`
	Output     string `json:"result"`
	Error      string `json:"error"`
	ErrorCode  string `json:"error_code,omitempty"`
	Status     string `json:"status"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
}

// RunFilter provides criteria for querying runs.
type RunFilter struct {
	Mode   string
	Status string
	Since  *time.Time
	Limit  int
	Offset int
}
