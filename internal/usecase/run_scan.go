package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
	"github.com/simulacraliasing/md5rs-client/internal/domain/port"
	"github.com/simulacraliasing/md5rs-client/internal/infra/metrics"
	"github.com/simulacraliasing/md5rs-client/internal/infra/report"
	"github.com/simulacraliasing/md5rs-client/internal/infra/stream"
	"github.com/simulacraliasing/md5rs-client/internal/tracker"
)

type ScanConfig struct {
	Folder       string
	ResumeFrom   string
	WorkerCount  int
	UploadBuffer int
	RunTimeout   time.Duration

	Tracker tracker.Config
	Session stream.Config
}

// ScanPipeline wires discovery, decode, encode, streaming and export into
// one run over a media folder.
type ScanPipeline struct {
	discoverer port.Discoverer
	producer   port.FrameProducer
	encoder    port.FrameEncoder
	dialer     port.DetectionDialer
	writer     port.ReportWriter
	logger     *zap.Logger
	cfg        ScanConfig
}

func NewScanPipeline(
	discoverer port.Discoverer,
	producer port.FrameProducer,
	encoder port.FrameEncoder,
	dialer port.DetectionDialer,
	writer port.ReportWriter,
	logger *zap.Logger,
	cfg ScanConfig,
) *ScanPipeline {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.UploadBuffer <= 0 {
		cfg.UploadBuffer = 1
	}
	return &ScanPipeline{
		discoverer: discoverer,
		producer:   producer,
		encoder:    encoder,
		dialer:     dialer,
		writer:     writer,
		logger:     logger,
		cfg:        cfg,
	}
}

// Execute processes every discovered file and writes the final report. The
// report is written even when the run is cancelled or the connection budget
// is spent: whatever resolved stands, the remainder is marked accordingly.
func (p *ScanPipeline) Execute(ctx context.Context) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ScanPipeline.Execute")
	defer span.End()

	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	items, err := p.discover(ctx, tracer)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("scan.files", len(items)))
	if len(items) == 0 {
		p.logger.Info("nothing to process")
		return p.writer.Export()
	}

	track := tracker.New(p.cfg.Tracker, len(items), p.logger)
	uploads := make(chan entity.EncodedFrame, p.cfg.UploadBuffer)

	// The session outlives run cancellation by the drain grace so frames
	// already on the wire can still resolve.
	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	defer sessionCancel()
	go func() {
		select {
		case <-ctx.Done():
			timer := time.NewTimer(p.cfg.Session.DrainGrace)
			defer timer.Stop()
			select {
			case <-timer.C:
				sessionCancel()
			case <-sessionCtx.Done():
			}
		case <-sessionCtx.Done():
		}
	}()

	go track.Run(sessionCtx)
	go p.watchInFlight(sessionCtx, track)

	var exporterWg sync.WaitGroup
	exporterWg.Add(1)
	go func() {
		defer exporterWg.Done()
		processed := 0
		for res := range track.Finalized() {
			processed++
			metrics.FilesProcessedTotal.WithLabelValues(string(res.Status)).Inc()
			p.writer.Add(res)
			p.logger.Info("file finalized",
				zap.String("path", res.Path),
				zap.String("status", string(res.Status)),
				zap.Int("frames", res.TotalFrames),
				zap.String("progress", fmt.Sprintf("%d/%d", processed, len(items))),
			)
		}
	}()

	// Workers stop early when the session dies for good: nothing they
	// produce could ever be sent.
	workCtx, workCancel := context.WithCancel(ctx)
	defer workCancel()

	sess := stream.NewSession(p.dialer, uploads, track, p.cfg.Session, p.logger)
	sessErrCh := make(chan error, 1)
	go func() {
		err := sess.Run(sessionCtx)
		if err != nil {
			workCancel()
		}
		sessErrCh <- err
	}()

	p.runWorkers(workCtx, tracer, items, track, uploads)
	close(uploads)

	sessErr := <-sessErrCh
	sessionCancel()

	// Anything still unresolved at this point can never resolve.
	track.Abandon(entity.FrameStatusCancelled, "pipeline shutdown")
	track.Close()
	exporterWg.Wait()

	if err := p.writer.Export(); err != nil {
		p.logger.Error("report export failed", zap.Error(err))
		return err
	}

	if sessErr != nil && !entity.IsFatal(sessErr) && ctx.Err() != nil {
		sessErr = ctx.Err()
	}
	if sessErr != nil {
		p.logger.Error("run ended with session failure", zap.Error(sessErr))
		return sessErr
	}
	p.logger.Info("run completed", zap.Int("files", len(items)))
	return nil
}

func (p *ScanPipeline) discover(ctx context.Context, tracer trace.Tracer) ([]entity.MediaItem, error) {
	start := time.Now()
	_, span := tracer.Start(ctx, "discover")
	defer span.End()

	items, err := p.discoverer.Discover(p.cfg.Folder)
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("discover").Observe(time.Since(start).Seconds())

	if p.cfg.ResumeFrom == "" {
		return items, nil
	}
	done, err := report.Resume(p.cfg.ResumeFrom)
	if err != nil {
		p.logger.Warn("resume report unreadable, processing everything", zap.Error(err))
		return items, nil
	}
	var remaining []entity.MediaItem
	for _, item := range items {
		if done[item.Path] {
			continue
		}
		remaining = append(remaining, item)
	}
	p.logger.Info("resuming previous run",
		zap.Int("completed", len(items)-len(remaining)),
		zap.Int("remaining", len(remaining)),
	)
	return remaining, nil
}

func (p *ScanPipeline) runWorkers(ctx context.Context, tracer trace.Tracer, items []entity.MediaItem, track *tracker.Tracker, uploads chan<- entity.EncodedFrame) {
	queue := make(chan entity.MediaItem)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				p.processItem(ctx, tracer, item, track, uploads)
			}
		}()
	}

	for _, item := range items {
		// Files are registered even when cancellation stops their decode,
		// so the report accounts for every discovered item.
		track.BeginFile(item)
		select {
		case queue <- item:
		case <-ctx.Done():
			track.FinishFile(item.ID)
		}
	}
	close(queue)
	wg.Wait()
}

// processItem decodes one file and pushes its encoded frames into the
// upload channel. Per-frame failures are absorbed into the file's result;
// only cancellation stops the walk through the file.
func (p *ScanPipeline) processItem(ctx context.Context, tracer trace.Tracer, item entity.MediaItem, track *tracker.Tracker, uploads chan<- entity.EncodedFrame) {
	start := time.Now()
	_, span := tracer.Start(ctx, "process_item")
	span.SetAttributes(
		attribute.String("media.path", item.Path),
		attribute.String("media.kind", string(item.Kind)),
	)
	defer span.End()

	log := p.logger.With(zap.String("path", item.Path))

	produced, err := p.producer.Produce(ctx, item, func(task entity.FrameTask) error {
		encStart := time.Now()
		enc, encErr := p.encoder.Encode(task)
		if encErr != nil {
			log.Warn("frame encode failed", zap.Int("index", task.Index), zap.Error(encErr))
			track.FailFrame(task.FileID, task.Index, task.ShootTime, entity.FrameStatusFailed, encErr.Error())
			return nil
		}
		metrics.StageDuration.WithLabelValues("encode").Observe(time.Since(encStart).Seconds())
		metrics.FramesEncodedTotal.Inc()

		track.RegisterFrame(enc)
		select {
		case uploads <- enc:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil && ctx.Err() == nil {
		// The decoded prefix stands; the undecodable remainder becomes one
		// failed entry so the file is never silently short.
		log.Warn("decode stopped early", zap.Int("frames", produced), zap.Error(err))
		track.FailFrame(item.ID, produced, time.Time{}, entity.FrameStatusFailed, err.Error())
	}

	track.FinishFile(item.ID)
	metrics.StageDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())
}

func (p *ScanPipeline) watchInFlight(ctx context.Context, track *tracker.Tracker) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.FramesInFlight.Set(float64(track.PendingCount()))
		}
	}
}
