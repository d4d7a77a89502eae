// Package controlplane is the local RPC surface the Agent reports through
// from inside its pane session. Requests arrive over a UNIX-domain socket as
// one JSON line per connection; the response is a single JSON line back.
//
// Every operation carries a session token and task id; preconditions are
// validated against the state machine and fail with kind precondition, which
// the Agent must treat as non-retriable.
package controlplane

import "encoding/json"

// Operation names on the wire.
const (
	OpReportProgress    = "report_progress"
	OpReportCompletion  = "report_completion"
	OpReportFailure     = "report_failure"
	OpReportReview      = "report_review"
	OpGetContext        = "get_context"
	OpRequestHumanInput = "request_human_input"
)

// Review verdicts.
const (
	VerdictApproved         = "approved"
	VerdictChangesRequested = "changes_requested"
)

// Request is the envelope for every control-plane call.
type Request struct {
	Op           string          `json:"op"`
	SessionToken string          `json:"session_token"`
	TaskID       string          `json:"task_id"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope for every reply. ErrorKind carries the stable
// error kind when OK is false.
type Response struct {
	OK        bool            `json:"ok"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ProgressParams reports incremental progress on a running task.
type ProgressParams struct {
	Percent *int   `json:"percent,omitempty"`
	Note    string `json:"note"`
}

// CompletionParams reports a finished coding task.
type CompletionParams struct {
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"files_changed,omitempty"`
}

// FailureParams reports a failed task.
type FailureParams struct {
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

// ReviewParams reports a review verdict.
type ReviewParams struct {
	Verdict  string   `json:"verdict"`
	Findings []string `json:"findings,omitempty"`
}

// ContextParams asks for briefing context, optionally for another task.
type ContextParams struct {
	TaskID string `json:"task_id,omitempty"`
}

// HumanInputParams asks the operator a question and blocks for the answer.
type HumanInputParams struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices,omitempty"`
}

// HumanInputResult is the payload returned by request_human_input.
type HumanInputResult struct {
	Response string `json:"response"`
}

// CompletionNote is the payload attached to a completion's progress event; the
// brief renderer reads it back as a dependency's completed output.
type CompletionNote struct {
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"files_changed,omitempty"`
}

// ReviewNote is the payload attached to a review_verdict event.
type ReviewNote struct {
	Verdict  string   `json:"verdict"`
	Findings []string `json:"findings,omitempty"`
}

// HumanInputNote is the payload attached to human input request and response
// events; request and response are correlated by RequestID.
type HumanInputNote struct {
	RequestID string   `json:"request_id"`
	Question  string   `json:"question,omitempty"`
	Choices   []string `json:"choices,omitempty"`
	Response  string   `json:"response,omitempty"`
}
