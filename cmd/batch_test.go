package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/finance-qa/internal/batch"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/testutil"
)

const batchDocument = `[
  {"tid": "g1", "team": [
    {"question": "平安银行的股票代码是什么"},
    {"question": "万科A的股票代码是什么"}
  ]},
  {"tid": "g2", "team": [
    {"question": "招商银行的股票代码是什么"}
  ]}
]`

// syncBuffer is written by the runner and the interrupt watcher at once
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func writeBatchDocument(t *testing.T) string {
	t.Helper()

	return testutil.WriteFile(t, "questions.json", batchDocument)
}

func TestRunBatchWithAnswerer(t *testing.T) {
	input := writeBatchDocument(t)
	output := filepath.Join(filepath.Dir(input), "answers.json")
	logPath := filepath.Join(filepath.Dir(input), "log.json")

	stub := []testutil.StubOption{
		testutil.WithQuestionError("万科A的股票代码是什么", errors.New(errors.ErrTypeLLM, "rate limited")),
	}

	var out bytes.Buffer

	summary, err := RunBatchWithAnswerer(context.Background(), &out, newStubOrchestrator(stub...),
		batchOptions{Input: input, Output: output, Log: logPath}, nil, nil)
	require.NoError(t, err)

	assert.True(t, summary.Finished)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	groups, err := batch.LoadDocument(output)
	require.NoError(t, err)

	assert.Equal(t, "completed", groups[0].Team[0].Status)
	assert.Equal(t, `[{"SecuCode":"000001"}]`, groups[0].Team[0].Answer)
	assert.Equal(t, "error", groups[0].Team[1].Status)
	assert.Contains(t, groups[0].Team[1].Answer, batch.ErrorAnswerPrefix)
	assert.Contains(t, groups[0].Team[1].Answer, "rate limited")

	// the input is left untouched when an output path is given
	original, err := batch.LoadDocument(input)
	require.NoError(t, err)
	assert.Empty(t, original[0].Team[0].Status)

	assert.Contains(t, testutil.ReadFile(t, logPath), `"group": "g2"`)

	assert.Contains(t, out.String(), "Processing 3 questions")
	assert.Contains(t, out.String(), "[3/3] g2")
	assert.Contains(t, out.String(), "State: finished")
}

func TestRunBatchWithAnswerer_LimitThenResume(t *testing.T) {
	input := writeBatchDocument(t)

	var out bytes.Buffer

	summary, err := RunBatchWithAnswerer(context.Background(), &out, newStubOrchestrator(),
		batchOptions{Input: input, Limit: 1}, nil, nil)
	require.NoError(t, err)
	assert.True(t, summary.LimitReached)
	assert.Equal(t, 1, summary.Processed)

	stub := testutil.NewStubPipeline()
	orchestrator := newStubOrchestratorFrom(stub)

	summary, err = RunBatchWithAnswerer(context.Background(), &out, orchestrator,
		batchOptions{Input: input, Resume: true}, nil, nil)
	require.NoError(t, err)

	assert.True(t, summary.Finished)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, []string{"万科A的股票代码是什么", "招商银行的股票代码是什么"}, stub.Questions())

	groups, err := batch.LoadDocument(input)
	require.NoError(t, err)

	for _, g := range groups {
		for _, q := range g.Team {
			assert.Equal(t, "completed", q.Status, q.Question)
		}
	}
}

func TestRunBatchWithAnswerer_InterruptPauses(t *testing.T) {
	input := writeBatchDocument(t)
	interrupts := make(chan os.Signal, 1)

	var out syncBuffer

	stub := testutil.NewStubPipeline(testutil.WithHook(testutil.CallSelectTables, func(question string) {
		if question != "平安银行的股票代码是什么" {
			return
		}

		interrupts <- os.Interrupt

		assert.Eventually(t, func() bool {
			return strings.Contains(out.String(), "Pausing after the current question")
		}, testutil.ShortTestTimeout, time.Millisecond)
	}))

	summary, err := RunBatchWithAnswerer(context.Background(), &out, newStubOrchestratorFrom(stub),
		batchOptions{Input: input}, interrupts, nil)
	require.NoError(t, err)

	// the question in flight finishes before the pause takes effect
	assert.True(t, summary.Paused)
	assert.False(t, summary.Finished)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, stub.CallCount(testutil.CallSelectTables))

	groups, err := batch.LoadDocument(input)
	require.NoError(t, err)
	assert.Equal(t, "completed", groups[0].Team[0].Status)
	assert.Empty(t, groups[0].Team[1].Status)
	assert.Empty(t, groups[1].Team[0].Status)

	assert.Contains(t, out.String(), "State: paused")
}

func TestRunBatchWithAnswerer_SecondInterruptCancels(t *testing.T) {
	input := writeBatchDocument(t)
	interrupts := make(chan os.Signal, 2)

	var out syncBuffer

	stub := testutil.NewStubPipeline(testutil.WithHook(testutil.CallGenerateSQL, func(string) {
		interrupts <- os.Interrupt
		interrupts <- os.Interrupt

		assert.Eventually(t, func() bool {
			return strings.Contains(out.String(), "Canceling...")
		}, testutil.ShortTestTimeout, time.Millisecond)
	}))

	summary, err := RunBatchWithAnswerer(context.Background(), &out, newStubOrchestratorFrom(stub),
		batchOptions{Input: input}, interrupts, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeCanceled), "got %v", err)

	// the canceled question is not written back, so a resume retries it
	assert.Equal(t, 0, summary.Processed)

	groups, err := batch.LoadDocument(input)
	require.NoError(t, err)
	assert.Empty(t, groups[0].Team[0].Status)
}

func TestRunBatchWithAnswerer_Errors(t *testing.T) {
	tests := []struct {
		name    string
		opts    func(dir string) batchOptions
		errType errors.ErrorType
	}{
		{
			name:    "missing input",
			opts:    func(dir string) batchOptions { return batchOptions{Input: filepath.Join(dir, "none.json")} },
			errType: errors.ErrTypeFileSystem,
		},
		{
			name: "invalid document",
			opts: func(dir string) batchOptions {
				path := filepath.Join(dir, "bad.json")
				require.NoError(t, os.WriteFile(path, []byte(`{"tid": 1}`), 0o644))

				return batchOptions{Input: path}
			},
			errType: errors.ErrTypeValidation,
		},
		{
			name:    "negative limit",
			opts:    func(dir string) batchOptions { return batchOptions{Input: filepath.Join(dir, "x.json"), Limit: -1} },
			errType: errors.ErrTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer

			_, err := RunBatchWithAnswerer(context.Background(), &out, newStubOrchestrator(), tt.opts(t.TempDir()), nil, nil)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType), "got %v", err)
		})
	}
}
