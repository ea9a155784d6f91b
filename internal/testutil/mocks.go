package testutil

import (
	"context"
	"sync"

	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/storage"
)

// Call-count keys, one per stage method
const (
	CallSelectTables = "SelectTables"
	CallGetFields    = "GetFields"
	CallGenerateSQL  = "GenerateSQL"
	CallExecuteSQL   = "ExecuteSQL"
)

// StubPipeline implements all four pipeline stages with canned results and
// per-stage or per-question error injection
type StubPipeline struct {
	mu sync.RWMutex

	tables []string
	fields catalog.FieldMap
	sql    string
	result storage.ExecutionResult

	errors         map[string]error
	questionErrors map[string]error
	panics         map[string]any
	hooks          map[string]func(question string)

	callCounts map[string]int
	questions  []string
}

// StubOption is a functional option for configuring StubPipeline
type StubOption func(*StubPipeline)

// WithTables sets the table selection result
func WithTables(tables ...string) StubOption {
	return func(s *StubPipeline) {
		s.tables = tables
	}
}

// WithFields sets the field resolution result
func WithFields(fields catalog.FieldMap) StubOption {
	return func(s *StubPipeline) {
		s.fields = fields
	}
}

// WithSQL sets the generated statement
func WithSQL(sql string) StubOption {
	return func(s *StubPipeline) {
		s.sql = sql
	}
}

// WithResult sets the execution result
func WithResult(result storage.ExecutionResult) StubOption {
	return func(s *StubPipeline) {
		s.result = result
	}
}

// WithStageError makes the stage method named by key fail with err
func WithStageError(key string, err error) StubOption {
	return func(s *StubPipeline) {
		s.errors[key] = err
	}
}

// WithQuestionError makes table selection fail with err for one question
func WithQuestionError(question string, err error) StubOption {
	return func(s *StubPipeline) {
		s.questionErrors[question] = err
	}
}

// WithStagePanic makes the stage method named by key panic with v
func WithStagePanic(key string, v any) StubOption {
	return func(s *StubPipeline) {
		s.panics[key] = v
	}
}

// WithHook runs fn when the stage method named by key is entered
func WithHook(key string, fn func(question string)) StubOption {
	return func(s *StubPipeline) {
		s.hooks[key] = fn
	}
}

// NewStubPipeline creates stages answering the stock-code question for
// 平安银行 with one row, then applies opts
func NewStubPipeline(opts ...StubOption) *StubPipeline {
	s := &StubPipeline{
		tables:         []string{TestTable},
		fields:         catalog.FieldMap{TestTable: NewTestFields()},
		sql:            TestSQL,
		result:         SuccessResult([]string{"SecuCode"}, map[string]any{"SecuCode": TestSecuCode}),
		errors:         make(map[string]error),
		questionErrors: make(map[string]error),
		panics:         make(map[string]any),
		hooks:          make(map[string]func(string)),
		callCounts:     make(map[string]int),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *StubPipeline) enter(key, question string) error {
	s.mu.Lock()
	s.callCounts[key]++

	if key == CallSelectTables {
		s.questions = append(s.questions, question)
	}
	s.mu.Unlock()

	s.mu.RLock()
	hook := s.hooks[key]
	p, shouldPanic := s.panics[key]
	err := s.errors[key]

	if key == CallSelectTables && err == nil {
		err = s.questionErrors[question]
	}
	s.mu.RUnlock()

	if hook != nil {
		hook(question)
	}

	if shouldPanic {
		panic(p)
	}

	return err
}

// SelectTables returns the configured tables
func (s *StubPipeline) SelectTables(_ context.Context, question string) ([]string, error) {
	if err := s.enter(CallSelectTables, question); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.tables...), nil
}

// GetFields returns the configured fields
func (s *StubPipeline) GetFields(_ context.Context, _ []string) (catalog.FieldMap, error) {
	if err := s.enter(CallGetFields, ""); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fields, nil
}

// GenerateSQL returns the configured statement
func (s *StubPipeline) GenerateSQL(_ context.Context, question string, _ []string, _ catalog.FieldMap) (string, error) {
	if err := s.enter(CallGenerateSQL, question); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sql, nil
}

// ExecuteSQL returns the configured result. An injected error becomes an
// error-status result, as a real executor reports it.
func (s *StubPipeline) ExecuteSQL(_ context.Context, _ string) storage.ExecutionResult {
	if err := s.enter(CallExecuteSQL, ""); err != nil {
		return ErrorResult(err.Error())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.result
}

// CallCount returns how often the stage method named by key was called
func (s *StubPipeline) CallCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.callCounts[key]
}

// Questions returns the questions passed to SelectTables, in call order
func (s *StubPipeline) Questions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.questions...)
}

// Reset clears call counts and recorded questions
func (s *StubPipeline) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCounts = make(map[string]int)
	s.questions = nil
}
