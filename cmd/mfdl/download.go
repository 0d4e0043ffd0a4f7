package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kerbaras/mfdl/pkg/app"
	"github.com/kerbaras/mfdl/pkg/config"
	"github.com/kerbaras/mfdl/pkg/data"
	"github.com/kerbaras/mfdl/pkg/integrations"
	"github.com/kerbaras/mfdl/pkg/logging"
	"github.com/kerbaras/mfdl/pkg/services"
	"github.com/kerbaras/mfdl/pkg/sources"
	"github.com/kerbaras/mfdl/pkg/utils"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func runDownload(cmd *cobra.Command, f *flags, args []string) error {
	work := args[0]
	req, err := parseRequest(args[1:])
	if err != nil {
		return &usageError{err}
	}

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return &usageError{err}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var view *app.App
	logOut := cmd.ErrOrStderr()
	if !f.noProgress && isTerminal(cmd.OutOrStdout()) {
		view = app.NewApp(work, cancel)
		logOut = view.LogWriter()
	}

	logger, err := logging.NewFromConfig(cfg, logOut)
	if err != nil {
		return &usageError{err}
	}

	packager, err := integrations.NewPackager(cfg.Format)
	if err != nil {
		return &usageError{err}
	}

	client := utils.NewClient(cfg.Timeout())
	source := sources.NewMangafox(client, cfg.BaseURL, logger)
	downloader := services.NewDownloader(source, client, packager, cfg.OutputDir, services.Options{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  services.DefaultOptions().RetryDelay,
		Throttle:    cfg.Throttle(),
		Force:       cfg.Force,
	}, logger)

	// The view must be running before anything logs through it.
	viewDone := make(chan error, 1)
	if view != nil {
		go func() { viewDone <- view.Run(downloader.GetProgressChannel()) }()
	} else {
		go func() {
			logProgress(logger, downloader.GetProgressChannel())
			viewDone <- nil
		}()
	}

	var ledger services.Ledger
	if cfg.LedgerPath != "" {
		repo, err := data.NewDuckDBRepository(cfg.LedgerPath)
		if err != nil {
			logger.Warn("download ledger unavailable, archives will not be recorded", "path", cfg.LedgerPath, "error", err)
		} else {
			defer repo.Close()
			ledger = repo
		}
	}

	controller := services.NewMangaController(source, downloader, ledger, logger)

	report, runErr := controller.Run(ctx, work, req)
	downloader.Close()
	if err := <-viewDone; err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "progress view: %s\n", err)
	}

	printReport(cmd.OutOrStdout(), cfg, report)
	return runErr
}

// logProgress drains the progress channel when no view is drawn.
func logProgress(logger *slog.Logger, progress <-chan services.DownloadProgress) {
	for p := range progress {
		if p.Status == services.StatusDownloading && p.TotalPages > 0 {
			logger.Debug("page downloaded", "chapter", p.Chapter, "page", p.CurrentPage, "total", p.TotalPages)
		}
	}
}

func printReport(w io.Writer, cfg *config.Config, report *services.Report) {
	if report == nil || len(report.Selected) == 0 {
		return
	}
	for _, res := range report.Completed {
		fmt.Fprintf(w, "%s\t%s\n", res.Chapter.Name(), res.ArchivePath)
	}
	for _, res := range report.Skipped {
		fmt.Fprintf(w, "%s\t%s (exists)\n", res.Chapter.Name(), res.ArchivePath)
	}
	for _, fail := range report.Failed {
		fmt.Fprintf(w, "%s\tfailed: %s\n", fail.Chapter.Name(), fail.Err)
	}
	fmt.Fprintf(w, "%d downloaded, %d skipped, %d failed (%s)\n",
		len(report.Completed), len(report.Skipped), len(report.Failed), cfg.Format)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
