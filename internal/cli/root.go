// Package cli implements the cleanctl command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dataclean/cleanctl/internal/config"
	"github.com/dataclean/cleanctl/internal/history"
	"github.com/dataclean/cleanctl/internal/log"
	"github.com/dataclean/cleanctl/internal/processing"
	"github.com/dataclean/cleanctl/internal/validate"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(stdout, errorObject(err))
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func errorObject(err error) map[string]interface{} {
	errObj := map[string]interface{}{
		"error": err.Error(),
	}
	var verr *validate.ValidationError
	if errors.As(err, &verr) {
		errObj["code"] = string(verr.Reason)
	}
	var se *processing.ServiceError
	if errors.As(err, &se) {
		errObj["http_status"] = se.StatusCode
	}
	var me *processing.MalformedResponseError
	if errors.As(err, &me) {
		errObj["body"] = me.Body
	}
	var fe *runFailedError
	if errors.As(err, &fe) && fe.diagnostic != "" {
		errObj["body"] = fe.diagnostic
	}
	return errObj
}

// app carries the resolved global flags to subcommands.
type app struct {
	configPath string
	serviceURL string
	output     string
	logLevel   string

	cfg *config.AppConfig
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "cleanctl",
		Short:         "Submit files to the data cleaning service",
		Long:          "Command-line client for the data cleaning service: validate and submit CSV, JSON or XML files, poll job status and fetch processed output.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.resolve(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (XML or YAML); env CLEANCTL_CONFIG")
	rootCmd.PersistentFlags().StringVar(&a.serviceURL, "service-url", "", "Cleaning service base URL; overrides the config")
	rootCmd.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newSubmitCmd(a))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newDownloadCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// resolve applies precedence flag > env > config file > default.
func (a *app) resolve(cmd *cobra.Command) error {
	if err := validateOutputFormat(a.output); err != nil {
		return err
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	if a.configPath == "" {
		a.configPath = os.Getenv("CLEANCTL_CONFIG")
	}
	if a.configPath != "" {
		cfg, err := config.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	} else {
		a.cfg = config.DefaultConfig()
		a.cfg.ApplyEnvironmentOverrides()
	}

	if cmd.Flags().Changed("service-url") {
		a.cfg.Service.BaseURL = a.serviceURL
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	level := a.cfg.Advanced.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	log.SetLevel(level)
	log.SetOutput(cmd.ErrOrStderr())
	return nil
}

func (a *app) client() *processing.Client {
	return processing.NewClient(a.cfg.Service.BaseURL,
		processing.WithTimeout(a.cfg.RequestTimeout()),
		processing.WithStatusRateLimit(a.cfg.Service.StatusRequestsPerSecond, a.cfg.Service.StatusBurst),
		processing.WithLogger(log.GetLogger()),
	)
}

// openHistory returns nil when persistence is disabled.
func (a *app) openHistory() (*history.Store, error) {
	if !a.cfg.Storage.EnablePersistence || a.cfg.Storage.HistoryDatabase == "" {
		return nil, nil
	}
	if err := a.cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return history.Open(a.cfg.Storage.HistoryDatabase)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleanctl version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
