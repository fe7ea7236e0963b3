package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dataclean/cleanctl/internal/models"
)

// ProcessFunc decides the reply to one POST /api/process call.
type ProcessFunc func(req models.ProcessingRequest) (status int, body string)

type cannedResponse struct {
	status int
	body   string
}

type cannedDownload struct {
	name string
	data []byte
}

// FakeService is an in-process stand-in for the remote cleaning service.
type FakeService struct {
	*httptest.Server

	mu          sync.Mutex
	process     ProcessFunc
	requests    []models.ProcessingRequest
	statuses    map[string]cannedResponse
	statusCalls []string
	downloads   map[string]cannedDownload
}

// NewFakeService starts a fake service that is closed when the test ends.
// By default every submission succeeds with empty statistics.
func NewFakeService(t testing.TB) *FakeService {
	t.Helper()

	f := &FakeService{
		statuses:  make(map[string]cannedResponse),
		downloads: make(map[string]cannedDownload),
	}
	f.process = func(req models.ProcessingRequest) (int, string) {
		return http.StatusOK, SuccessBody(req.FileName, models.Statistics{})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process", f.handleProcess)
	mux.HandleFunc("GET /api/status/{id}", f.handleStatus)
	mux.HandleFunc("GET /api/download/{id}", f.handleDownload)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// OnProcess replaces the submission handler.
func (f *FakeService) OnProcess(fn ProcessFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.process = fn
}

// RespondWith makes every submission return the given status and body.
func (f *FakeService) RespondWith(status int, body string) {
	f.OnProcess(func(models.ProcessingRequest) (int, string) {
		return status, body
	})
}

// SetStatus registers the reply for GET /api/status/{id}.
func (f *FakeService) SetStatus(id string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = cannedResponse{status: status, body: body}
}

// SetDownload registers processed content for GET /api/download/{id}.
func (f *FakeService) SetDownload(id, name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads[id] = cannedDownload{name: name, data: data}
}

// Requests returns the decoded submissions received so far.
func (f *FakeService) Requests() []models.ProcessingRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ProcessingRequest(nil), f.requests...)
}

// ProcessCalls returns how many submissions were received.
func (f *FakeService) ProcessCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// StatusCalls returns the ids that were polled, in order.
func (f *FakeService) StatusCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statusCalls...)
}

func (f *FakeService) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req models.ProcessingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRaw(w, http.StatusBadRequest, `{"error":"invalid request body"}`)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.process
	f.mu.Unlock()

	status, reply := fn(req)
	writeRaw(w, status, reply)
}

func (f *FakeService) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	f.statusCalls = append(f.statusCalls, id)
	canned, ok := f.statuses[id]
	f.mu.Unlock()

	if !ok {
		writeRaw(w, http.StatusNotFound, fmt.Sprintf(`{"error":"unknown job %s"}`, id))
		return
	}
	writeRaw(w, canned.status, canned.body)
}

func (f *FakeService) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	dl, ok := f.downloads[id]
	f.mu.Unlock()

	if !ok {
		writeRaw(w, http.StatusNotFound, `{"error":"file not found"}`)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, dl.name))
	w.WriteHeader(http.StatusOK)
	w.Write(dl.data)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	if body != "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// SuccessBody renders a well-formed success response.
func SuccessBody(fileName string, stats models.Statistics) string {
	if stats.NormalizedColumns == nil {
		stats.NormalizedColumns = []string{}
	}
	data, _ := json.Marshal(models.ProcessingResult{
		OriginalFile:   fileName,
		ProcessedFile:  "cleaned_" + fileName,
		Statistics:     stats,
		ProcessingTime: 0.42,
		Status:         models.ResultStatusSuccess,
	})
	return string(data)
}
