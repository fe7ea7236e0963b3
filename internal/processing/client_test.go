package processing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataclean/cleanctl/internal/log"
	"github.com/dataclean/cleanctl/internal/models"
	"github.com/dataclean/cleanctl/internal/testutil"
)

func newTestClient(url string, opts ...Option) *Client {
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	return NewClient(url, opts...)
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	assert.Equal(t, "http://localhost:8080", c.BaseURL)
	assert.Equal(t, DefaultTimeout, c.HTTPClient.Timeout)
}

func TestNewClient_WithTimeout(t *testing.T) {
	c := NewClient("http://localhost:8080", WithTimeout(5*time.Second))
	assert.Equal(t, 5*time.Second, c.HTTPClient.Timeout)
}

func TestSubmit_SendsRequestBody(t *testing.T) {
	svc := testutil.NewFakeService(t)
	c := newTestClient(svc.URL)

	req := models.NewProcessingRequest(models.PendingFile{
		Name:    "Data.CSV",
		Size:    12,
		Content: []byte("a,b\n1,2\n"),
	})
	_, err := c.Submit(context.Background(), req)
	require.NoError(t, err)

	got := svc.Requests()
	require.Len(t, got, 1)
	assert.Equal(t, "Data.CSV", got[0].FileName)
	assert.Equal(t, "csv", got[0].FileType)
	assert.Equal(t, "a,b\n1,2\n", got[0].Data)
}

func TestSubmit_Success(t *testing.T) {
	svc := testutil.NewFakeService(t)
	stats := models.Statistics{TotalRows: 5, MissingValues: 1, Outliers: 2, Duplicates: 3, NormalizedColumns: []string{"age", "income"}}
	svc.RespondWith(http.StatusOK, testutil.SuccessBody("data.csv", stats))

	res, err := newTestClient(svc.URL).Submit(context.Background(), models.ProcessingRequest{FileName: "data.csv", FileType: "csv"})
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusSuccess, res.Status)
	assert.Equal(t, stats, res.Statistics)
	assert.Equal(t, "cleaned_data.csv", res.ProcessedFile)
	assert.InDelta(t, 0.42, res.ProcessingTime, 1e-9)
	assert.Empty(t, res.Message)
}

func TestSubmit_ServiceErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{
			name:        "error text provided",
			status:      http.StatusInternalServerError,
			body:        `{"error":"parse failure"}`,
			wantMessage: "parse failure",
		},
		{
			name:        "bad request with text",
			status:      http.StatusBadRequest,
			body:        `{"error":"unsupported delimiter"}`,
			wantMessage: "unsupported delimiter",
		},
		{
			name:        "no body",
			status:      http.StatusBadGateway,
			body:        "",
			wantMessage: "error while processing the file (502 Bad Gateway)",
		},
		{
			name:        "body without error field",
			status:      http.StatusInternalServerError,
			body:        `{"detail":"boom"}`,
			wantMessage: "error while processing the file (500 Internal Server Error)",
		},
		{
			name:        "html body",
			status:      http.StatusServiceUnavailable,
			body:        "<html>down</html>",
			wantMessage: "error while processing the file (503 Service Unavailable)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testutil.NewFakeService(t)
			svc.RespondWith(tt.status, tt.body)

			_, err := newTestClient(svc.URL).Submit(context.Background(), models.ProcessingRequest{FileName: "data.csv"})
			require.Error(t, err)

			var se *ServiceError
			require.True(t, errors.As(err, &se), "expected *ServiceError, got %T", err)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.wantMessage, se.Message)
			assert.False(t, IsTransport(err))
		})
	}
}

func TestSubmit_EmptySuccessBodyIsMalformed(t *testing.T) {
	svc := testutil.NewFakeService(t)
	svc.RespondWith(http.StatusOK, "")

	_, err := newTestClient(svc.URL).Submit(context.Background(), models.ProcessingRequest{FileName: "data.csv"})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
	assert.Contains(t, err.Error(), "empty response body")
}

func TestSubmit_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Submit(context.Background(), models.ProcessingRequest{FileName: "data.csv"})
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "process", te.Op)
	assert.False(t, IsMalformed(err))
}

func TestSubmit_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := newTestClient(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := c.Submit(context.Background(), models.ProcessingRequest{FileName: "data.csv"})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestSubmit_ContextCanceled(t *testing.T) {
	svc := testutil.NewFakeService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(svc.URL).Submit(ctx, models.ProcessingRequest{FileName: "data.csv"})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollStatus(t *testing.T) {
	svc := testutil.NewFakeService(t)
	svc.SetStatus("abc", http.StatusOK, `{"status":"completed","progress":100,"currentStep":"done"}`)

	st, err := newTestClient(svc.URL).PollStatus(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, &models.JobStatus{Status: "completed", Progress: 100, CurrentStep: "done"}, st)
	assert.Equal(t, []string{"abc"}, svc.StatusCalls())
}

func TestPollStatus_EscapesReference(t *testing.T) {
	svc := testutil.NewFakeService(t)
	svc.SetStatus("my data.csv", http.StatusOK, `{"status":"processing","progress":40,"currentStep":"outliers"}`)

	st, err := newTestClient(svc.URL).PollStatus(context.Background(), "my data.csv")
	require.NoError(t, err)
	assert.Equal(t, 40, st.Progress)
	assert.Equal(t, []string{"my data.csv"}, svc.StatusCalls())
}

func TestPollStatus_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErrFn  func(error) bool
		wantSubstr string
	}{
		{
			name:      "unknown job",
			status:    http.StatusNotFound,
			body:      `{"error":"unknown job"}`,
			wantErrFn: func(err error) bool { var se *ServiceError; return errors.As(err, &se) },
		},
		{
			name:       "progress out of range",
			status:     http.StatusOK,
			body:       `{"status":"processing","progress":140,"currentStep":"x"}`,
			wantErrFn:  IsMalformed,
			wantSubstr: "out of range",
		},
		{
			name:       "missing progress",
			status:     http.StatusOK,
			body:       `{"status":"processing"}`,
			wantErrFn:  IsMalformed,
			wantSubstr: "progress",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testutil.NewFakeService(t)
			svc.SetStatus("job", tt.status, tt.body)

			_, err := newTestClient(svc.URL).PollStatus(context.Background(), "job")
			require.Error(t, err)
			assert.True(t, tt.wantErrFn(err), "unexpected error type %T", err)
			if tt.wantSubstr != "" {
				assert.Contains(t, err.Error(), tt.wantSubstr)
			}
		})
	}
}

func TestPollStatus_EmptyReference(t *testing.T) {
	_, err := NewClient("http://localhost:1").PollStatus(context.Background(), "")
	assert.Error(t, err)
}

func TestPollStatus_RateLimitHonorsContext(t *testing.T) {
	svc := testutil.NewFakeService(t)
	svc.SetStatus("abc", http.StatusOK, `{"status":"completed","progress":100,"currentStep":"done"}`)

	c := newTestClient(svc.URL, WithStatusRateLimit(0.01, 1))
	_, err := c.PollStatus(context.Background(), "abc")
	require.NoError(t, err)

	// The bucket is now empty; the next poll cannot be admitted before the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.PollStatus(ctx, "abc")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Len(t, svc.StatusCalls(), 1)
}

func TestDownload(t *testing.T) {
	svc := testutil.NewFakeService(t)
	svc.SetDownload("data.csv", "cleaned_data.csv", []byte("a,b\n1,2\n"))

	dl, err := newTestClient(svc.URL).Download(context.Background(), "data.csv")
	require.NoError(t, err)
	defer dl.Body.Close()

	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
	assert.Equal(t, "cleaned_data.csv", dl.FileName)
	assert.Equal(t, int64(8), dl.Size)
}

func TestDownload_NotFound(t *testing.T) {
	svc := testutil.NewFakeService(t)

	_, err := newTestClient(svc.URL).Download(context.Background(), "missing.csv")
	require.Error(t, err)

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "file not found", se.Message)
}
