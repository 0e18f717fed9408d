package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/infra/config"
	"github.com/simulacraliasing/md5rs-client/internal/infra/media"
	"github.com/simulacraliasing/md5rs-client/internal/infra/metrics"
	"github.com/simulacraliasing/md5rs-client/internal/infra/report"
	"github.com/simulacraliasing/md5rs-client/internal/infra/stream"
	"github.com/simulacraliasing/md5rs-client/internal/infra/tracing"
	"github.com/simulacraliasing/md5rs-client/internal/infra/wire"
	"github.com/simulacraliasing/md5rs-client/internal/tracker"
	"github.com/simulacraliasing/md5rs-client/internal/usecase"
	"github.com/simulacraliasing/md5rs-client/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting md5rs-client", zap.String("folder", cfg.Folder))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint)
		if err != nil {
			log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer tp.Shutdown(ctx)
		}
	}

	dialer := wire.NewDialer(wire.DialerConfig{
		Addr:        cfg.ServerAddr,
		Token:       cfg.Token,
		UseTLS:      cfg.UseTLS,
		IoU:         cfg.IoU,
		Score:       cfg.Confidence,
		DialTimeout: time.Duration(cfg.DialTimeoutS) * time.Second,
	}, log)

	source := media.NewSource(media.SourceConfig{
		ImageSize:  cfg.ImageSize,
		IframeOnly: cfg.IframeOnly,
		MaxFrames:  cfg.MaxFrames,
	}, log)

	exporter, err := report.NewExporter(cfg.ExportFormat, cfg.OutputPath, cfg.Checkpoint, log)
	fatalOnErr(err, "create exporter")

	pipeline := usecase.NewScanPipeline(
		media.NewDiscovery(),
		source,
		media.NewCodec(cfg.ImageSize, cfg.Quality),
		dialer,
		exporter,
		log,
		usecase.ScanConfig{
			Folder:       cfg.Folder,
			ResumeFrom:   cfg.ResumeFrom,
			WorkerCount:  cfg.WorkerCount,
			UploadBuffer: cfg.UploadBuffer,
			RunTimeout:   time.Duration(cfg.RunTimeoutS) * time.Second,
			Tracker: tracker.Config{
				MaxInFlight:   cfg.MaxInFlight,
				SendRetries:   cfg.SendRetries,
				FrameTimeout:  time.Duration(cfg.FrameTimeoutS) * time.Second,
				SweepInterval: time.Duration(cfg.SweepIntervalMs) * time.Millisecond,
			},
			Session: stream.Config{
				MaxReconnects: cfg.ReconnectAttempts,
				BaseDelay:     time.Duration(cfg.ReconnectBaseDelayMs) * time.Millisecond,
				DrainGrace:    time.Duration(cfg.DrainGraceS) * time.Second,
			},
		},
	)

	var metricsSrv interface{ Shutdown(context.Context) error }
	if cfg.MetricsPort > 0 {
		metricsSrv = metrics.StartServer(cfg.MetricsPort, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal, draining", zap.String("signal", sig.String()))
		cancel()
	}()

	runErr := pipeline.Execute(ctx)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Shutdown(shutdownCtx)
	}

	if runErr != nil && runErr != context.Canceled {
		log.Error("run failed", zap.Error(runErr))
		os.Exit(1)
	}
	log.Info("md5rs-client stopped", zap.String("report", exporter.Path()))
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
