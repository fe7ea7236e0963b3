package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dataclean/cleanctl/internal/log"
	"github.com/dataclean/cleanctl/internal/models"
	"github.com/dataclean/cleanctl/internal/processing"
	"github.com/dataclean/cleanctl/internal/validate"
	"github.com/dataclean/cleanctl/internal/workflow"
)

// runFailedError is returned after a Failed outcome has been rendered.
type runFailedError struct {
	message    string
	diagnostic string
}

func (e *runFailedError) Error() string {
	return "processing failed: " + e.message
}

func newSubmitCmd(a *app) *cobra.Command {
	var mediaType string

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Validate a file and submit it for cleaning",
		Long: `Validate a CSV, JSON or XML file, submit it to the cleaning service and
wait for the outcome. Exits with status 1 when the file is rejected or the
service reports a failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := readPendingFile(args[0], mediaType)
			if err != nil {
				return err
			}

			opts := []workflow.Option{workflow.WithLogger(log.GetLogger())}
			hist, err := a.openHistory()
			if err != nil {
				log.GetLogger().WithError(err).Warn("history disabled")
			} else if hist != nil {
				defer hist.Close()
				opts = append(opts, workflow.WithRecorder(hist))
			}

			proc := &diagnosingProcessor{Processor: a.client()}
			ctrl := workflow.NewController(proc, opts...)

			if _, err := ctrl.SubmitFile(cmd.Context(), pending); err != nil {
				_ = ctrl.Close()
				return err
			}
			snap, err := ctrl.Wait(cmd.Context())
			// Close waits for the recorder before the history store is closed.
			_ = ctrl.Close()
			if err != nil {
				return err
			}

			if err := renderSnapshot(cmd, snap); err != nil {
				return err
			}
			if snap.State == models.WorkflowFailed {
				msg := ""
				if snap.Result != nil {
					msg = snap.Result.Message
				}
				return &runFailedError{message: msg, diagnostic: proc.lastDiagnostic()}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mediaType, "media-type", "", "Declared media type; guessed from the extension when empty")
	return cmd
}

// readPendingFile builds the selection for path. Content is only read when
// the file passes the size check so oversized inputs are rejected cheaply.
func readPendingFile(path, mediaType string) (models.PendingFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.PendingFile{}, err
	}
	if info.IsDir() {
		return models.PendingFile{}, fmt.Errorf("%s is a directory", path)
	}

	name := filepath.Base(path)
	if mediaType == "" {
		mediaType = mime.TypeByExtension(filepath.Ext(name))
	}
	pending := models.PendingFile{
		Name:      name,
		MediaType: mediaType,
		Size:      info.Size(),
	}
	if validate.Validate(pending.Name, pending.MediaType, pending.Size) != nil {
		return pending, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return models.PendingFile{}, err
	}
	pending.Content = content
	return pending, nil
}

// diagnosingProcessor remembers the raw body of the last malformed response.
type diagnosingProcessor struct {
	workflow.Processor

	mu   sync.Mutex
	body string
}

func (p *diagnosingProcessor) Submit(ctx context.Context, req models.ProcessingRequest) (*models.ProcessingResult, error) {
	res, err := p.Processor.Submit(ctx, req)
	var me *processing.MalformedResponseError
	if errors.As(err, &me) {
		p.mu.Lock()
		p.body = me.Body
		p.mu.Unlock()
	}
	return res, err
}

func (p *diagnosingProcessor) lastDiagnostic() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body
}

func renderSnapshot(cmd *cobra.Command, snap models.Snapshot) error {
	w := cmd.OutOrStdout()
	if getOutputFormat(cmd) == "json" {
		return printJSON(w, snap)
	}

	res := snap.Result
	if res == nil {
		printDetail(w, [][2]string{{"State", string(snap.State)}})
		return nil
	}
	if !res.Succeeded() {
		printDetail(w, [][2]string{
			{"State", string(snap.State)},
			{"File", snap.FileName},
			{"Error", res.Message},
		})
		return nil
	}

	columns := strings.Join(res.Statistics.NormalizedColumns, ", ")
	if columns == "" {
		columns = "-"
	}
	printDetail(w, [][2]string{
		{"State", string(snap.State)},
		{"File", res.OriginalFile},
		{"Processed file", res.ProcessedFile},
		{"Total rows", strconv.Itoa(res.Statistics.TotalRows)},
		{"Missing values", strconv.Itoa(res.Statistics.MissingValues)},
		{"Outliers", strconv.Itoa(res.Statistics.Outliers)},
		{"Duplicates", strconv.Itoa(res.Statistics.Duplicates)},
		{"Normalized columns", columns},
		{"Processing time", fmt.Sprintf("%.2fs", res.ProcessingTime)},
	})
	return nil
}
