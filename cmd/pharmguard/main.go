package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/pharmguard/internal/config"
	"github.com/rewired-gh/pharmguard/internal/detector"
	"github.com/rewired-gh/pharmguard/internal/ingest"
	"github.com/rewired-gh/pharmguard/internal/logger"
	"github.com/rewired-gh/pharmguard/internal/metrics"
	"github.com/rewired-gh/pharmguard/internal/models"
	"github.com/rewired-gh/pharmguard/internal/monitor"
	"github.com/rewired-gh/pharmguard/internal/report"
	"github.com/rewired-gh/pharmguard/internal/storage"
	"github.com/rewired-gh/pharmguard/internal/telegram"
)

// notifier is the alert sink used by the commands.
type notifier interface {
	SendAlert(pharmacy string, a *models.Assessment) error
	SendDailySummary(pharmacy string, a *models.Assessment) error
	SendError(runErr error) error
}

// app holds the services shared by all subcommands. It is populated in the root PersistentPreRunE.
type app struct {
	configPath string
	dataFile   string
	format     string

	stdout io.Writer

	cfg      *config.Config
	store    *storage.Storage
	outlier  *detector.Outlier
	mon      *monitor.Monitor
	recorder *metrics.Recorder
	tg       notifier
	renderer *report.Renderer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Init("info", "text")

	a := &app{stdout: os.Stdout}
	err := newRootCmd(a).ExecuteContext(ctx)
	if err != nil {
		a.reportFailure(err)
	}
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// reportFailure logs a failed run and, once Telegram is up, forwards it to the chat.
func (a *app) reportFailure(runErr error) {
	logger.Error("Command failed: %v", runErr)
	if a.tg == nil {
		return
	}
	if err := a.tg.SendError(runErr); err != nil {
		logger.Warn("Failed to send error notification to Telegram: %v", err)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "pharmguard",
		Short:         "Score pharmacy sales days for theft risk",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to configuration file (defaults plus PHARMGUARD_* env when empty)")
	root.PersistentFlags().StringVarP(&a.dataFile, "file", "f", "", "transactions CSV export")
	root.PersistentFlags().StringVarP(&a.format, "format", "o", "text", "output format: text, json or yaml")

	root.AddCommand(
		newAnalyzeCmd(a),
		newScanCmd(a),
		newTrainCmd(a),
		newInvestigateCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	if err := logger.InitWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if a.configPath != "" {
		logger.Info("Configuration loaded from %s", a.configPath)
	}

	format, err := report.ParseFormat(a.format)
	if err != nil {
		return err
	}
	a.renderer = report.New(a.stdout, format, cfg.Detectors.Currency)

	a.store, err = storage.New(cfg.Storage.DBPath, cfg.Storage.MaxAssessments)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var detectors []detector.Detector
	detectors, a.outlier = detector.Standard(cfg.Detectors, a.store)
	a.mon = monitor.New(detectors, cfg.MonitorConfig())
	a.recorder = metrics.New()
	a.mon.SetObserver(a.recorder)

	if cfg.Telegram.Enabled {
		client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		a.tg = client
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}
	logger.Sync()
}

func (a *app) loadTable() (*models.Table, error) {
	if a.dataFile == "" {
		return nil, fmt.Errorf("%w: --file is required", models.ErrInvalidInput)
	}
	res, err := ingest.LoadFile(a.dataFile)
	if err != nil {
		return nil, err
	}
	if res.DerivedAmount {
		logger.Info("Amount column absent, derived from unit price and quantity")
	}
	first, last := res.Table.Span()
	logger.Debug("Transactions span %s to %s", first.Format(models.DateLayout), last.Format(models.DateLayout))
	return res.Table, nil
}

func (a *app) writeMetrics() {
	if a.cfg.Metrics.TextfilePath == "" {
		return
	}
	if err := a.recorder.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		logger.Warn("%v", err)
	}
}
