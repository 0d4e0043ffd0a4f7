package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kerbaras/mfdl/pkg/config"
	"github.com/kerbaras/mfdl/pkg/selection"
	"github.com/kerbaras/mfdl/pkg/services"
	"github.com/kerbaras/mfdl/pkg/sources"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitUnavailable = 3
	ExitEmptyIndex  = 4
	ExitSelection   = 5
	ExitChapters    = 6
	ExitInterrupted = 130
)

// flags holds every command-line flag. Zero values mean "not set"; only
// flags the user changed override the configuration file.
type flags struct {
	configPath string
	outputDir  string
	format     string
	baseURL    string
	ledgerPath string
	logLevel   string
	logFormat  string
	workers    int
	attempts   int
	timeout    int
	throttle   int
	force      bool
	noProgress bool
}

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "mfdl <work> [chapter | <start> <end> | volume <start> [<end>]]",
		Short: "Download manga chapters as CBZ archives",
		Long: `Download chapters of a work from a Mangafox-style site and package each
chapter as <output>/<work>/<vXcY>.cbz.

  mfdl <work>                           every chapter
  mfdl <work> <chapter>                 one chapter: "12", "10.5" or "v2c15"
  mfdl <work> <start> <end>             a chapter range
  mfdl <work> volume <start> [<end>]    whole volumes`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.RangeArgs(1, 4)(cmd, args); err != nil {
				return &usageError{err}
			}
			if _, err := parseRequest(args[1:]); err != nil {
				return &usageError{err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, f, args)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file (default $HOME/.config/mfdl/config.toml)")
	pf.StringVar(&f.ledgerPath, "ledger", "", "download ledger database, empty string disables it")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&f.logFormat, "log-format", "", "log format: text or json")

	fl := root.Flags()
	fl.StringVarP(&f.outputDir, "output", "o", "", "output directory")
	fl.StringVar(&f.format, "format", "", "archive format: cbz or epub")
	fl.StringVar(&f.baseURL, "base-url", "", "remote site base URL")
	fl.IntVarP(&f.workers, "workers", "w", 0, "concurrent page downloads per chapter (1-16)")
	fl.IntVar(&f.attempts, "attempts", 0, "download attempts per image before it is declared corrupt")
	fl.IntVar(&f.timeout, "timeout", 0, "per-request timeout in seconds")
	fl.IntVar(&f.throttle, "throttle", 0, "minimum milliseconds between remote requests")
	fl.BoolVarP(&f.force, "force", "f", false, "re-download chapters whose archive already exists")
	fl.BoolVar(&f.noProgress, "no-progress", false, "log progress instead of drawing progress bars")

	root.AddCommand(newListCmd(f))
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(context.Background(), newRootCmd(), os.Args[1:])
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil && code != ExitInterrupted {
		fmt.Fprintf(root.ErrOrStderr(), "mfdl: %s\n", err)
		if code == ExitUsage {
			fmt.Fprintf(root.ErrOrStderr(), "Run 'mfdl --help' for usage.\n")
		}
	}
	return code
}

func exitCode(err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &usage):
		return ExitUsage
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, sources.ErrIndexUnavailable):
		return ExitUnavailable
	case errors.Is(err, sources.ErrEmptyIndex):
		return ExitEmptyIndex
	case errors.Is(err, selection.ErrChapterNotFound),
		errors.Is(err, selection.ErrAmbiguousChapter),
		errors.Is(err, selection.ErrInvalidVolume):
		return ExitSelection
	case errors.Is(err, services.ErrChaptersFailed):
		return ExitChapters
	default:
		return ExitFailure
	}
}

// parseRequest maps the arguments after the work name onto a selection.
func parseRequest(args []string) (selection.Request, error) {
	switch {
	case len(args) == 0:
		return selection.Request{Mode: selection.ModeAll}, nil
	case len(args) >= 2 && isVolumeKeyword(args[0]):
		req := selection.Request{Mode: selection.ModeVolumeRange, Start: args[1]}
		if len(args) == 3 {
			req.End = args[2]
		}
		return req, nil
	case len(args) == 1:
		if isVolumeKeyword(args[0]) {
			return selection.Request{}, errors.New("volume needs a start volume")
		}
		return selection.Request{Mode: selection.ModeChapter, Start: args[0]}, nil
	case len(args) == 2:
		return selection.Request{Mode: selection.ModeChapterRange, Start: args[0], End: args[1]}, nil
	default:
		return selection.Request{}, fmt.Errorf("unexpected arguments %q", args)
	}
}

// isVolumeKeyword matches "volume" in any case.
func isVolumeKeyword(arg string) bool {
	return strings.EqualFold(arg, "volume")
}

// loadConfig reads the configuration file and applies changed flags.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, _, _, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("output") {
		cfg.OutputDir = f.outputDir
	}
	if changed("format") {
		cfg.Format = f.format
	}
	if changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if changed("ledger") {
		cfg.LedgerPath = f.ledgerPath
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("attempts") {
		cfg.MaxAttempts = f.attempts
	}
	if changed("timeout") {
		cfg.RequestTimeout = f.timeout
	}
	if changed("throttle") {
		cfg.ThrottleMS = f.throttle
	}
	if changed("force") {
		cfg.Force = f.force
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
