package batch

import (
	"context"
	"sync"
	"time"

	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/logging"
	"github.com/kyleking/finance-qa/internal/pipeline"
)

// ErrorAnswerPrefix starts the answer written for a failed question
const ErrorAnswerPrefix = "执行错误: "

// Answerer runs the pipeline for one question
type Answerer interface {
	Run(ctx context.Context, question string) *pipeline.Run
}

// LogEntry records one processed question
type LogEntry struct {
	Group     string          `json:"group"`
	Question  string          `json:"question"`
	Timestamp string          `json:"timestamp"`
	RunID     string          `json:"run_id"`
	Steps     []pipeline.Step `json:"steps"`
	Status    pipeline.Status `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// Cursor points at the next question to process
type Cursor struct {
	Group    int `json:"group"`
	Question int `json:"question"`
}

// Progress is a snapshot of how far the batch has come
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
	Group     string  `json:"group,omitempty"`
	Question  string  `json:"question,omitempty"`
	Running   bool    `json:"running"`
}

// Summary describes one call to Run
type Summary struct {
	Total        int           `json:"total"`
	Completed    int           `json:"completed"`
	Processed    int           `json:"processed"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Paused       bool          `json:"paused"`
	LimitReached bool          `json:"limit_reached"`
	Finished     bool          `json:"finished"`
	Duration     time.Duration `json:"duration"`
}

// Runner processes question groups sequentially. Pause may be called from
// another goroutine; it takes effect before the next group or question.
type Runner struct {
	answerer Answerer

	limit         int
	skipCompleted bool
	onProgress    func(Progress)
	logger        *logging.Logger
	now           func() time.Time

	mu        sync.Mutex
	running   bool
	pausing   bool
	cursor    Cursor
	completed int
	total     int
	current   [2]string
	log       []LogEntry
}

// Option configures a Runner
type Option func(*Runner)

// WithLimit stops each Run after n questions. Zero means no limit.
func WithLimit(n int) Option {
	return func(r *Runner) {
		r.limit = n
	}
}

// WithSkipCompleted counts questions already marked completed without
// running them again
func WithSkipCompleted() Option {
	return func(r *Runner) {
		r.skipCompleted = true
	}
}

// WithProgressFunc registers fn to be called after every question
func WithProgressFunc(fn func(Progress)) Option {
	return func(r *Runner) {
		r.onProgress = fn
	}
}

// WithLogger sets the runner's logger
func WithLogger(logger *logging.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a runner answering questions with answerer
func NewRunner(answerer Answerer, opts ...Option) *Runner {
	r := &Runner{
		answerer: answerer,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run processes groups from the cursor onward, updating each question's
// status and answer in place. It returns when every question is done, when
// Pause is called, when the limit is reached or when ctx is canceled; the
// cursor then points at the first unprocessed question, so calling Run again
// with the same groups resumes there.
func (r *Runner) Run(ctx context.Context, groups []QuestionGroup) (*Summary, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, errors.New(errors.ErrTypeValidation, "batch is already running")
	}

	// a Pause that arrived before Run holds until this run stops
	r.running = !r.pausing
	r.total = CountQuestions(groups)
	start := r.cursor
	r.mu.Unlock()

	began := r.now()
	summary := &Summary{Total: r.total}

	var runErr error

	defer func() {
		r.mu.Lock()
		summary.Paused = !r.running && !summary.Finished && runErr == nil
		r.running = false
		r.pausing = false
		summary.Completed = r.completed
		r.mu.Unlock()

		summary.Duration = r.now().Sub(began)

		r.logger.WithFields(map[string]interface{}{
			"processed": summary.Processed,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"completed": summary.Completed,
			"total":     summary.Total,
		}).Info("Batch run stopped")
	}()

	for gi := start.Group; gi < len(groups); gi++ {
		if runErr = r.checkpoint(ctx); runErr != nil || !r.isRunning() {
			return summary, runErr
		}

		group := &groups[gi]

		first := 0
		if gi == start.Group {
			first = start.Question
		}

		for qi := first; qi < len(group.Team); qi++ {
			if runErr = r.checkpoint(ctx); runErr != nil || !r.isRunning() {
				return summary, runErr
			}

			if r.limit > 0 && summary.Processed >= r.limit {
				summary.LimitReached = true
				return summary, nil
			}

			q := &group.Team[qi]

			if r.skipCompleted && q.Status == string(pipeline.StatusCompleted) {
				summary.Skipped++
				r.advance(gi, qi, group.TID, q.Question, nil)

				continue
			}

			r.setCurrent(group.TID, q.Question)

			run := r.answerer.Run(ctx, q.Question)

			// a run cut short by ctx is left unrecorded so a resume retries it
			if errors.IsType(run.Err, errors.ErrTypeCanceled) {
				runErr = run.Err
				return summary, runErr
			}

			applyRun(q, run)

			summary.Processed++
			if run.Completed() {
				summary.Succeeded++
			} else {
				summary.Failed++
			}

			entry := LogEntry{
				Group:     group.TID,
				Question:  q.Question,
				Timestamp: r.now().Format("15:04:05"),
				RunID:     run.ID,
				Steps:     run.Steps,
				Status:    run.Status,
				Error:     run.Error,
			}

			r.logger.WithFields(map[string]interface{}{
				"group":  group.TID,
				"run_id": run.ID,
				"status": string(run.Status),
			}).Debug("Processed question")

			r.advance(gi, qi, group.TID, q.Question, &entry)
		}
	}

	summary.Finished = true

	return summary, nil
}

// checkpoint returns a cancellation error once ctx is done
func (r *Runner) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrTypeCanceled, "batch canceled")
	}

	return nil
}

// advance records a finished question and moves the cursor past it
func (r *Runner) advance(gi, qi int, group, question string, entry *LogEntry) {
	r.mu.Lock()

	if entry != nil {
		r.log = append(r.log, *entry)
	}

	r.completed++
	r.cursor = Cursor{Group: gi, Question: qi + 1}
	r.current = [2]string{group, question}
	p := r.progressLocked()

	r.mu.Unlock()

	if r.onProgress != nil {
		r.onProgress(p)
	}
}

// applyRun writes the outcome of run onto q
func applyRun(q *Question, run *pipeline.Run) {
	q.Status = string(run.Status)

	if run.Completed() {
		q.Answer = run.Answer.Text()
	} else {
		q.Answer = ErrorAnswerPrefix + run.Error
	}
}

func (r *Runner) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.running
}

func (r *Runner) setCurrent(group, question string) {
	r.mu.Lock()
	r.current = [2]string{group, question}
	r.mu.Unlock()
}

// Pause asks a running batch to stop before its next group or question.
// The question in flight finishes first. Called before Run, it makes the
// next Run stop before its first question.
func (r *Runner) Pause() {
	r.mu.Lock()
	r.running = false
	r.pausing = true
	r.mu.Unlock()
}

// Running reports whether Run is in progress and not paused
func (r *Runner) Running() bool {
	return r.isRunning()
}

// Progress returns the completed count over the total question count
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.progressLocked()
}

func (r *Runner) progressLocked() Progress {
	p := Progress{
		Completed: r.completed,
		Total:     r.total,
		Group:     r.current[0],
		Question:  r.current[1],
		Running:   r.running,
	}

	if r.total > 0 {
		p.Fraction = float64(r.completed) / float64(r.total)
		if p.Fraction > 1 {
			p.Fraction = 1
		}
	}

	return p
}

// Cursor returns the position of the next question to process
func (r *Runner) Cursor() Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cursor
}

// Log returns a copy of the execution log
func (r *Runner) Log() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]LogEntry(nil), r.log...)
}

// Reset rewinds the cursor and clears progress and the log, so the next Run
// starts from the first group
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New(errors.ErrTypeValidation, "cannot reset a running batch")
	}

	r.cursor = Cursor{}
	r.pausing = false
	r.completed = 0
	r.current = [2]string{}
	r.log = nil

	return nil
}
