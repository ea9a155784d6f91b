package pipeline

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/kyleking/finance-qa/internal/classifier"
)

// Status is the state of a run or of one of its steps
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Stage names, in execution order
const (
	StageAnalyzeTables = "analyze_tables"
	StageGetFields     = "get_fields"
	StageGenerateSQL   = "generate_sql"
	StageExecuteSQL    = "execute_sql"
)

// Stages returns the stage names in the order they run
func Stages() []string {
	return []string{StageAnalyzeTables, StageGetFields, StageGenerateSQL, StageExecuteSQL}
}

// Step records one finished stage
type Step struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Run is the record of answering one question
type Run struct {
	ID         string                  `json:"id"`
	Question   string                  `json:"question"`
	Type       classifier.QuestionType `json:"type"`
	Status     Status                  `json:"status"`
	Steps      []Step                  `json:"steps"`
	SQL        string                  `json:"sql,omitempty"`
	Answer     *Answer                 `json:"answer,omitempty"`
	Error      string                  `json:"error,omitempty"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`

	// Err is the typed failure behind Error
	Err error `json:"-"`
}

// Completed reports whether every stage succeeded
func (r *Run) Completed() bool {
	return r.Status == StatusCompleted
}

// Duration returns the wall time of the run
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}

	return r.FinishedAt.Sub(r.StartedAt)
}

// Step returns the recorded step with the given name
func (r *Run) Step(name string) (Step, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}

	return Step{}, false
}

// Answer holds the rows returned by the final stage
type Answer struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Text renders the rows as compact JSON with non-ASCII text kept verbatim
func (a *Answer) Text() string {
	if a == nil {
		return ""
	}

	rows := a.Rows
	if rows == nil {
		rows = []map[string]any{}
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(rows); err != nil {
		return "[]"
	}

	return strings.TrimSpace(buf.String())
}
