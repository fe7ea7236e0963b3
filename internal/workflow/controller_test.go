package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataclean/cleanctl/internal/log"
	"github.com/dataclean/cleanctl/internal/models"
	"github.com/dataclean/cleanctl/internal/processing"
	"github.com/dataclean/cleanctl/internal/testutil"
	"github.com/dataclean/cleanctl/internal/validate"
)

func csvFile(name string) models.PendingFile {
	content := []byte("id,age\n1,20\n2,30\n")
	return models.PendingFile{Name: name, MediaType: "text/csv", Size: int64(len(content)), Content: content}
}

func newServiceController(t *testing.T, svc *testutil.FakeService, opts ...Option) *Controller {
	t.Helper()
	client := processing.NewClient(svc.URL, processing.WithLogger(log.Discard()))
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	c := NewController(client, opts...)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitDone(t *testing.T, c *Controller) models.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := c.Wait(ctx)
	require.NoError(t, err)
	return snap
}

// stubProcessor hands every submission to the test and waits for a reply.
type stubProcessor struct {
	calls chan *stubCall

	mu     sync.Mutex
	polls  []string
	status *models.JobStatus
}

type stubCall struct {
	req   models.ProcessingRequest
	reply chan stubReply
}

type stubReply struct {
	res *models.ProcessingResult
	err error
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{calls: make(chan *stubCall, 8)}
}

func (s *stubProcessor) Submit(ctx context.Context, req models.ProcessingRequest) (*models.ProcessingResult, error) {
	call := &stubCall{req: req, reply: make(chan stubReply, 1)}
	s.calls <- call
	r := <-call.reply
	return r.res, r.err
}

func (s *stubProcessor) PollStatus(ctx context.Context, reference string) (*models.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls = append(s.polls, reference)
	return s.status, nil
}

func (s *stubProcessor) next(t *testing.T) *stubCall {
	t.Helper()
	select {
	case call := <-s.calls:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("no submission received")
		return nil
	}
}

func successResult(name string, rows int) *models.ProcessingResult {
	return &models.ProcessingResult{
		OriginalFile:  name,
		ProcessedFile: "cleaned_" + name,
		Statistics:    models.Statistics{TotalRows: rows, NormalizedColumns: []string{}},
		Status:        models.ResultStatusSuccess,
	}
}

func TestController_SuccessfulRun(t *testing.T) {
	svc := testutil.NewFakeService(t)
	stats := models.Statistics{TotalRows: 5, NormalizedColumns: []string{}}
	svc.RespondWith(http.StatusOK, testutil.SuccessBody("data.csv", stats))
	c := newServiceController(t, svc)

	attempt, err := c.SubmitFile(context.Background(), csvFile("data.csv"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), attempt)

	snap := waitDone(t, c)
	assert.Equal(t, models.WorkflowSucceeded, snap.State)
	require.NotNil(t, snap.Result)
	assert.Equal(t, models.ResultStatusSuccess, snap.Result.Status)
	assert.Equal(t, stats, snap.Result.Statistics)
	assert.Equal(t, "data.csv", snap.FileName)
	assert.NotNil(t, snap.SubmittedAt)
	assert.Equal(t, 1, svc.ProcessCalls())
}

func TestController_FailedRuns(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		contains    bool
	}{
		{
			name:        "service error text",
			status:      http.StatusInternalServerError,
			body:        `{"error":"parse failure"}`,
			wantMessage: "parse failure",
		},
		{
			name:        "empty success body",
			status:      http.StatusOK,
			body:        "",
			wantMessage: "malformed response",
			contains:    true,
		},
		{
			name:        "success without statistics",
			status:      http.StatusOK,
			body:        `{"status":"success","originalFile":"data.csv"}`,
			wantMessage: "malformed response",
			contains:    true,
		},
		{
			name:        "declared error",
			status:      http.StatusOK,
			body:        `{"status":"error","message":"column count mismatch"}`,
			wantMessage: "column count mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testutil.NewFakeService(t)
			svc.RespondWith(tt.status, tt.body)
			c := newServiceController(t, svc)

			_, err := c.SubmitFile(context.Background(), csvFile("data.csv"))
			require.NoError(t, err)

			snap := waitDone(t, c)
			assert.Equal(t, models.WorkflowFailed, snap.State)
			require.NotNil(t, snap.Result)
			assert.Equal(t, models.ResultStatusError, snap.Result.Status)
			assert.Equal(t, models.Statistics{NormalizedColumns: []string{}}, snap.Result.Statistics)
			if tt.contains {
				assert.Contains(t, snap.Result.Message, tt.wantMessage)
			} else {
				assert.Equal(t, tt.wantMessage, snap.Result.Message)
			}
		})
	}
}

func TestController_UnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewController(processing.NewClient(url, processing.WithLogger(log.Discard())), WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	_, err := c.SubmitFile(context.Background(), csvFile("data.csv"))
	require.NoError(t, err)

	snap := waitDone(t, c)
	assert.Equal(t, models.WorkflowFailed, snap.State)
	assert.Contains(t, snap.Result.Message, "unreachable")
}

func TestController_RejectedFileMakesNoRequest(t *testing.T) {
	svc := testutil.NewFakeService(t)
	c := newServiceController(t, svc)

	_, err := c.SubmitFile(context.Background(), models.PendingFile{Name: "notes.txt", MediaType: "text/plain", Size: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, validate.ErrUnsupportedType)

	snap := c.Snapshot()
	assert.Equal(t, models.WorkflowIdle, snap.State)
	assert.Equal(t, validate.ErrUnsupportedType.Error(), snap.Rejection)
	assert.Nil(t, snap.Result)
	assert.Zero(t, svc.ProcessCalls())
}

func TestController_RejectionReplacedAndCleared(t *testing.T) {
	stub := newStubProcessor()
	c := NewController(stub, WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	_, err := c.SubmitFile(context.Background(), models.PendingFile{Name: "notes.txt", Size: 1})
	require.Error(t, err)
	assert.Equal(t, validate.ErrUnsupportedType.Error(), c.Snapshot().Rejection)

	_, err = c.SubmitFile(context.Background(), models.PendingFile{Name: "big.csv", Size: validate.MaxFileSize + 1})
	require.Error(t, err)
	assert.Equal(t, validate.ErrTooLarge.Error(), c.Snapshot().Rejection)

	_, err = c.SubmitFile(context.Background(), csvFile("data.csv"))
	require.NoError(t, err)
	assert.Empty(t, c.Snapshot().Rejection)

	stub.next(t).reply <- stubReply{res: successResult("data.csv", 2)}
	waitDone(t, c)
}

func TestController_BusyAndTerminalSelections(t *testing.T) {
	stub := newStubProcessor()
	c := NewController(stub, WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	_, err := c.SubmitFile(context.Background(), csvFile("a.csv"))
	require.NoError(t, err)
	call := stub.next(t)

	_, err = c.SubmitFile(context.Background(), csvFile("b.csv"))
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	assert.Equal(t, "a.csv", c.Snapshot().FileName)

	call.reply <- stubReply{res: successResult("a.csv", 1)}
	waitDone(t, c)

	_, err = c.SubmitFile(context.Background(), csvFile("b.csv"))
	assert.ErrorIs(t, err, ErrResetRequired)
	assert.Equal(t, models.WorkflowSucceeded, c.Snapshot().State)
}

func TestController_CheckStatusKeepsState(t *testing.T) {
	svc := testutil.NewFakeService(t)
	svc.SetStatus("abc", http.StatusOK, `{"status":"completed","progress":100,"currentStep":"done"}`)
	c := newServiceController(t, svc)

	_, err := c.SubmitFile(context.Background(), csvFile("data.csv"))
	require.NoError(t, err)
	before := waitDone(t, c)
	require.Equal(t, models.WorkflowSucceeded, before.State)

	st, err := c.CheckStatus(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, &models.JobStatus{Status: "completed", Progress: 100, CurrentStep: "done"}, st)

	after := c.Snapshot()
	assert.Equal(t, models.WorkflowSucceeded, after.State)
	assert.Equal(t, before.Version, after.Version)
}

func TestController_CheckStatusDefaultsToResultReference(t *testing.T) {
	stub := newStubProcessor()
	stub.status = &models.JobStatus{Status: "completed", Progress: 100}
	c := NewController(stub, WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	_, err := c.SubmitFile(context.Background(), csvFile("data.csv"))
	require.NoError(t, err)
	stub.next(t).reply <- stubReply{res: successResult("data.csv", 3)}
	waitDone(t, c)

	_, err = c.CheckStatus(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"data.csv"}, stub.polls)
}

func TestController_CheckStatusUnavailable(t *testing.T) {
	stub := newStubProcessor()
	c := NewController(stub, WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	_, err := c.CheckStatus(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrStatusUnavailable)

	_, err = c.SubmitFile(context.Background(), csvFile("data.csv"))
	require.NoError(t, err)
	call := stub.next(t)

	_, err = c.CheckStatus(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrStatusUnavailable)

	call.reply <- stubReply{err: &processing.ServiceError{StatusCode: 500, Message: "boom"}}
	assert.Equal(t, models.WorkflowFailed, waitDone(t, c).State)

	_, err = c.CheckStatus(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrStatusUnavailable)
	assert.Empty(t, stub.polls)
}

func TestController_ResetIsIdempotent(t *testing.T) {
	stub := newStubProcessor()
	c := NewController(stub, WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	_, err := c.SubmitFile(context.Background(), csvFile("data.csv"))
	require.NoError(t, err)
	stub.next(t).reply <- stubReply{res: successResult("data.csv", 1)}
	waitDone(t, c)

	c.Reset()
	first := c.Snapshot()
	c.Reset()
	second := c.Snapshot()

	assert.Equal(t, models.WorkflowIdle, first.State)
	assert.Nil(t, first.Result)
	assert.Empty(t, first.FileName)
	assert.Equal(t, first, second)
}

func TestController_ReleasesContentOnceSubmitted(t *testing.T) {
	stub := newStubProcessor()
	c := NewController(stub, WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	file := csvFile("a.csv")
	_, err := c.SubmitFile(context.Background(), file)
	require.NoError(t, err)
	call := stub.next(t)
	assert.Equal(t, string(file.Content), call.req.Data)

	c.mu.Lock()
	require.NotNil(t, c.pending)
	assert.Nil(t, c.pending.Content)
	assert.Equal(t, file.Size, c.pending.Size)
	c.mu.Unlock()

	call.reply <- stubReply{res: successResult("a.csv", 2)}
	snap := waitDone(t, c)
	assert.Equal(t, models.WorkflowSucceeded, snap.State)
	assert.Equal(t, "a.csv", snap.FileName)
	assert.Equal(t, file.Size, snap.FileSize)

	c.mu.Lock()
	assert.Nil(t, c.pending.Content)
	c.mu.Unlock()
}

func TestController_ResetDiscardsInFlightResult(t *testing.T) {
	stub := newStubProcessor()
	c := NewController(stub, WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	_, err := c.SubmitFile(context.Background(), csvFile("a.csv"))
	require.NoError(t, err)
	call := stub.next(t)

	c.Reset()
	assert.Equal(t, models.WorkflowIdle, c.Snapshot().State)

	call.reply <- stubReply{res: successResult("a.csv", 1)}
	require.NoError(t, c.Close())

	snap := c.Snapshot()
	assert.Equal(t, models.WorkflowIdle, snap.State)
	assert.Nil(t, snap.Result)
}

func TestController_StaleResultDoesNotOverwriteNewAttempt(t *testing.T) {
	stub := newStubProcessor()
	c := NewController(stub, WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	first, err := c.SubmitFile(context.Background(), csvFile("a.csv"))
	require.NoError(t, err)
	callA := stub.next(t)

	c.Reset()

	second, err := c.SubmitFile(context.Background(), csvFile("b.csv"))
	require.NoError(t, err)
	assert.Greater(t, second, first)
	callB := stub.next(t)

	callA.reply <- stubReply{res: successResult("a.csv", 100)}
	// A late answer for a.csv must not complete b.csv.
	time.Sleep(20 * time.Millisecond)
	snap := c.Snapshot()
	assert.Equal(t, models.WorkflowSubmitting, snap.State)
	assert.Equal(t, second, snap.Attempt)

	callB.reply <- stubReply{res: successResult("b.csv", 7)}
	snap = waitDone(t, c)
	assert.Equal(t, models.WorkflowSucceeded, snap.State)
	assert.Equal(t, "b.csv", snap.Result.OriginalFile)
	assert.Equal(t, 7, snap.Result.Statistics.TotalRows)
}

func TestController_SubscribeSeesIncreasingVersions(t *testing.T) {
	stub := newStubProcessor()
	c := NewController(stub, WithLogger(log.Discard()))
	t.Cleanup(func() { c.Close() })

	var mu sync.Mutex
	var seen []models.Snapshot
	unsubscribe := c.Subscribe(func(s models.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	_, err := c.SubmitFile(context.Background(), csvFile("data.csv"))
	require.NoError(t, err)
	stub.next(t).reply <- stubReply{res: successResult("data.csv", 1)}
	final := waitDone(t, c)
	require.NoError(t, c.Close())

	unsubscribe()
	c.Reset()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, models.WorkflowValidating, seen[0].State)
	assert.Equal(t, models.WorkflowSubmitting, seen[1].State)
	assert.Equal(t, models.WorkflowSucceeded, seen[2].State)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Version, seen[i-1].Version)
	}
	assert.Equal(t, final.Version, seen[2].Version)
}

type recorderFunc func(ctx context.Context, run models.Run) error

func (f recorderFunc) Record(ctx context.Context, run models.Run) error { return f(ctx, run) }

func TestController_RecordsTerminalOutcome(t *testing.T) {
	stub := newStubProcessor()
	var runs []models.Run
	var mu sync.Mutex
	rec := recorderFunc(func(_ context.Context, run models.Run) error {
		mu.Lock()
		defer mu.Unlock()
		runs = append(runs, run)
		return errors.New("disk full")
	})
	c := NewController(stub, WithLogger(log.Discard()), WithRecorder(rec))

	attempt, err := c.SubmitFile(context.Background(), csvFile("data.csv"))
	require.NoError(t, err)
	stub.next(t).reply <- stubReply{res: successResult("data.csv", 4)}
	require.NoError(t, c.Close())

	assert.Equal(t, models.WorkflowSucceeded, c.Snapshot().State)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, runs, 1)
	assert.Equal(t, attempt, runs[0].Attempt)
	assert.Equal(t, "data.csv", runs[0].FileName)
	assert.Equal(t, "csv", runs[0].FileType)
	assert.Equal(t, 4, runs[0].Result.Statistics.TotalRows)
	assert.NotEmpty(t, runs[0].ID)
}

func TestController_Close(t *testing.T) {
	stub := newStubProcessor()
	c := NewController(stub, WithLogger(log.Discard()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.SubmitFile(context.Background(), csvFile("data.csv"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"service", &processing.ServiceError{StatusCode: 500, Message: "parse failure"}, "parse failure"},
		{"malformed", &processing.MalformedResponseError{Reason: "empty response body"}, "malformed response from cleaning service: empty response body"},
		{"transport", &processing.TransportError{Op: "process", Err: errors.New("connection refused")}, "cleaning service unreachable (process): connection refused"},
		{"nil", nil, "error while processing the file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureMessage(tt.err))
		})
	}
}
