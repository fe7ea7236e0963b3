package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dataclean/cleanctl/internal/models"
	"github.com/dataclean/cleanctl/internal/storage"
)

func newDownloadCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Fetch a processed file",
		Long: `Fetch the processed file for a job. With --out the file is written to that
path, otherwise it is kept in the configured downloads directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dl, err := a.client().Download(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer dl.Body.Close()

			var saved *savedFile
			if out != "" {
				saved, err = writeFile(out, args[0], dl.Body)
			} else {
				saved, err = a.saveDownload(dl.FileName, args[0], dl.Body)
			}
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), saved)
			}
			printDetail(cmd.OutOrStdout(), [][2]string{
				{"Saved", saved.Path},
				{"Size", strconv.FormatInt(saved.Size, 10)},
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Write the file to this path")
	return cmd
}

// savedFile is a downloaded file and where it ended up on disk.
type savedFile struct {
	*models.FileInfo
	Path string `json:"path"`
}

func (a *app) saveDownload(name, reference string, r io.Reader) (*savedFile, error) {
	if err := a.cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	store, err := storage.NewLocalStore(a.cfg.Storage.DownloadsDirectory, a.cfg.Storage.EnablePersistence)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	info, err := store.Save(name, reference, r)
	if err != nil {
		return nil, err
	}
	path, err := store.GetFilePath(info.ID)
	if err != nil {
		return nil, err
	}
	return &savedFile{FileInfo: info, Path: path}, nil
}

func writeFile(path, reference string, r io.Reader) (*savedFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	info := &models.FileInfo{
		Name:         filepath.Base(path),
		Reference:    reference,
		Size:         n,
		DownloadedAt: time.Now(),
	}
	return &savedFile{FileInfo: info, Path: path}, nil
}
