// Package workflow owns the state of a single file-cleaning workflow.
//
// A Controller moves through Idle, Validating, Submitting and then Succeeded or
// Failed. Presentation only ever sees Snapshot copies. Each submission runs in
// its own goroutine tagged with an attempt id; results for an attempt that is
// no longer current are dropped.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dataclean/cleanctl/internal/models"
	"github.com/dataclean/cleanctl/internal/processing"
	"github.com/dataclean/cleanctl/internal/validate"
)

var (
	// ErrSubmissionInFlight is returned when a file is selected while another is being processed.
	ErrSubmissionInFlight = errors.New("a file is already being processed")
	// ErrResetRequired is returned when a file is selected before the last outcome was reset.
	ErrResetRequired = errors.New("reset the workflow before selecting another file")
	// ErrStatusUnavailable is returned by CheckStatus outside the Succeeded state.
	ErrStatusUnavailable = errors.New("status is only available after a successful run")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("workflow controller is closed")
)

// Processor is the part of the cleaning service client the controller needs.
type Processor interface {
	Submit(ctx context.Context, req models.ProcessingRequest) (*models.ProcessingResult, error)
	PollStatus(ctx context.Context, reference string) (*models.JobStatus, error)
}

// Recorder persists terminal outcomes. Failures are logged and never affect the workflow.
type Recorder interface {
	Record(ctx context.Context, run models.Run) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder stores every terminal outcome.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the controller logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller is the workflow state machine. It is safe for concurrent use.
type Controller struct {
	processor Processor
	recorder  Recorder
	logger    logrus.FieldLogger
	now       func() time.Time

	mu          sync.Mutex
	state       models.WorkflowState
	version     uint64
	seq         uint64 // last attempt id handed out
	attempt     uint64 // attempt the current state belongs to, 0 when idle
	pending     *models.PendingFile
	fileType    string
	submittedAt *time.Time
	result      *models.ProcessingResult
	rejection   string
	cancel      context.CancelFunc
	changed     chan struct{}
	listeners   map[int]func(models.Snapshot)
	nextID      int
	closed      bool

	wg sync.WaitGroup
}

// NewController creates an idle controller that submits through p.
func NewController(p Processor, opts ...Option) *Controller {
	c := &Controller{
		processor: p,
		logger:    logrus.StandardLogger(),
		now:       time.Now,
		state:     models.WorkflowIdle,
		changed:   make(chan struct{}),
		listeners: make(map[int]func(models.Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitFile validates f and, if accepted, starts processing it in the background.
// It returns the attempt id of the new submission. A rejected file leaves the
// workflow Idle and returns the *validate.ValidationError.
//
// ctx only contributes values to the submission; it is canceled by Reset or Close.
func (c *Controller) SubmitFile(ctx context.Context, f models.PendingFile) (uint64, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return 0, ErrClosed
	case c.state == models.WorkflowSubmitting || c.state == models.WorkflowValidating:
		c.mu.Unlock()
		return 0, ErrSubmissionInFlight
	case c.state.Terminal():
		c.mu.Unlock()
		return 0, ErrResetRequired
	}

	c.state = models.WorkflowValidating
	notify := c.transitionLocked()

	if err := validate.Validate(f.Name, f.MediaType, f.Size); err != nil {
		var verr *validate.ValidationError
		if errors.As(err, &verr) {
			c.rejection = verr.Message()
		} else {
			c.rejection = err.Error()
		}
		c.state = models.WorkflowIdle
		rejected := c.transitionLocked()
		c.mu.Unlock()

		c.logger.WithField("file", f.Name).WithError(err).Info("file rejected")
		notify()
		rejected()
		return 0, err
	}

	c.seq++
	attempt := c.seq
	submittedAt := c.now()
	file := f
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.state = models.WorkflowSubmitting
	c.attempt = attempt
	c.pending = &file
	c.fileType = models.FileTypeOf(f.Name, f.MediaType)
	c.submittedAt = &submittedAt
	c.result = nil
	c.rejection = ""
	c.cancel = cancel
	submitting := c.transitionLocked()
	req := models.NewProcessingRequest(file)
	// The request holds its own copy; only the name and size are needed from here on.
	c.pending.Content = nil
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"attempt": attempt,
		"file":    f.Name,
		"size":    f.Size,
	}).Info("submitting file")
	notify()
	submitting()

	go c.run(subCtx, attempt, req)
	return attempt, nil
}

func (c *Controller) run(ctx context.Context, attempt uint64, req models.ProcessingRequest) {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("attempt", attempt).Errorf("submission panicked: %v", r)
			c.finish(attempt, models.NewErrorResult(req.FileName, fmt.Sprintf("submission failed: %v", r)))
		}
	}()

	res, err := c.processor.Submit(ctx, req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"file":    req.FileName,
		}).WithError(err).Warn("submission failed")
		res = models.NewErrorResult(req.FileName, FailureMessage(err))
	} else if res == nil {
		res = models.NewErrorResult(req.FileName, FailureMessage(nil))
	}
	c.finish(attempt, res)
}

// finish stores the outcome of attempt if it is still the current one.
func (c *Controller) finish(attempt uint64, res *models.ProcessingResult) {
	c.mu.Lock()
	if attempt != c.attempt || c.state != models.WorkflowSubmitting {
		c.mu.Unlock()
		c.logger.WithField("attempt", attempt).Debug("discarding stale result")
		return
	}

	if res.Succeeded() {
		c.state = models.WorkflowSucceeded
	} else {
		c.state = models.WorkflowFailed
	}
	c.result = res.Clone()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	run := models.Run{
		ID:         uuid.New().String(),
		Attempt:    attempt,
		FileName:   c.pending.Name,
		FileType:   c.fileType,
		Result:     res.Clone(),
		FinishedAt: c.now(),
	}
	notify := c.transitionLocked()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"attempt": attempt,
		"state":   run.Result.Status,
	}).Info("submission finished")
	notify()

	if c.recorder != nil {
		if err := c.recorder.Record(context.Background(), run); err != nil {
			c.logger.WithField("attempt", attempt).WithError(err).Warn("failed to record run")
		}
	}
}

// FailureMessage turns a processing error into the text shown on a Failed result.
func FailureMessage(err error) string {
	var se *processing.ServiceError
	var me *processing.MalformedResponseError
	switch {
	case err == nil:
		return "error while processing the file"
	case errors.As(err, &se):
		return se.Message
	case errors.As(err, &me):
		return me.Error()
	default:
		return err.Error()
	}
}

// Reset discards the selected file and any result and returns to Idle.
// An in-flight request is canceled locally and its result will be ignored.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state == models.WorkflowIdle && c.pending == nil && c.result == nil && c.rejection == "" {
		c.mu.Unlock()
		return
	}
	prev := c.attempt
	c.state = models.WorkflowIdle
	c.attempt = 0
	c.pending = nil
	c.fileType = ""
	c.submittedAt = nil
	c.result = nil
	c.rejection = ""
	notify := c.transitionLocked()
	c.mu.Unlock()

	c.logger.WithField("attempt", prev).Info("workflow reset")
	notify()
}

// CheckStatus polls the service for the job identified by reference. An empty
// reference uses the reference of the current result. The workflow state is
// never changed.
func (c *Controller) CheckStatus(ctx context.Context, reference string) (*models.JobStatus, error) {
	c.mu.Lock()
	if c.state != models.WorkflowSucceeded {
		c.mu.Unlock()
		return nil, ErrStatusUnavailable
	}
	if reference == "" {
		reference = c.result.StatusReference()
	}
	c.mu.Unlock()

	st, err := c.processor.PollStatus(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("checking status of %q: %w", reference, err)
	}
	return st, nil
}

// Snapshot returns a copy of the current workflow.
func (c *Controller) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until no submission is in progress and returns the snapshot.
func (c *Controller) Wait(ctx context.Context) (models.Snapshot, error) {
	for {
		c.mu.Lock()
		if c.state != models.WorkflowSubmitting && c.state != models.WorkflowValidating {
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

// Subscribe registers fn to receive a snapshot after every transition.
// Notifications may arrive out of order; compare Snapshot.Version.
func (c *Controller) Subscribe(fn func(models.Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Close cancels any in-flight submission and waits for background work to finish.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// transitionLocked bumps the version, wakes waiters and returns a func that
// delivers the new snapshot to subscribers. Call it after releasing c.mu.
func (c *Controller) transitionLocked() func() {
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})

	snap := c.snapshotLocked()
	fns := make([]func(models.Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(snap)
		}
	}
}

func (c *Controller) snapshotLocked() models.Snapshot {
	snap := models.Snapshot{
		State:     c.state,
		Version:   c.version,
		Attempt:   c.attempt,
		Result:    c.result.Clone(),
		Rejection: c.rejection,
	}
	if c.pending != nil {
		snap.FileName = c.pending.Name
		snap.FileSize = c.pending.Size
	}
	if c.submittedAt != nil {
		t := *c.submittedAt
		snap.SubmittedAt = &t
	}
	return snap
}
