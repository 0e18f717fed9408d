package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
	"github.com/simulacraliasing/md5rs-client/internal/infra/metrics"
)

// PendingRequest is one in-flight correlation record. The encoded frame
// stays attached so the session can resubmit it after a reconnect.
type PendingRequest struct {
	Frame     entity.EncodedFrame
	Submitted time.Time
	Deadline  time.Time
	Retries   int

	active bool
}

type Config struct {
	// MaxInFlight bounds the number of frames between send and resolution.
	MaxInFlight int
	// SendRetries bounds resubmissions of one frame across reconnects.
	SendRetries int
	// FrameTimeout is the per-frame response deadline.
	FrameTimeout time.Duration
	// SweepInterval is how often expired deadlines are collected.
	SweepInterval time.Duration
}

type fileState struct {
	result   *entity.FileResult
	produced int
	terminal int
	finished bool
	done     bool
}

// Tracker owns the pending-request table and the per-file aggregation.
// It is the only structure shared between the worker pool and the network
// session besides the upload channel; all access is internally
// synchronized.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*PendingRequest
	files   map[int]*fileState

	slots     chan struct{}
	finalized chan *entity.FileResult
}

// New sizes the finalized channel for expectedFiles so finalization never
// blocks a resolution path.
func New(cfg Config, expectedFiles int, logger *zap.Logger) *Tracker {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if expectedFiles < 1 {
		expectedFiles = 1
	}
	t := &Tracker{
		cfg:       cfg,
		logger:    logger,
		pending:   make(map[string]*PendingRequest),
		files:     make(map[int]*fileState),
		slots:     make(chan struct{}, cfg.MaxInFlight),
		finalized: make(chan *entity.FileResult, expectedFiles),
	}
	return t
}

// Finalized delivers each FileResult exactly once, after every frame of
// the file has a terminal resolution. Closed by Close.
func (t *Tracker) Finalized() <-chan *entity.FileResult {
	return t.finalized
}

// BeginFile registers a discovered item before any of its frames exist.
func (t *Tracker) BeginFile(item entity.MediaItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.files[item.ID]; ok {
		return
	}
	res := entity.NewFileResult(item)
	res.Status = entity.FileStatusInFlight
	t.files[item.ID] = &fileState{result: res}
}

// RegisterFrame records a produced frame before it enters the upload
// channel. The entry is inactive (no deadline) until the session activates
// it at send time; a cancelled run resolves it as abandoned.
func (t *Tracker) RegisterFrame(frame entity.EncodedFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fs, ok := t.files[frame.FileID]
	if !ok {
		t.logger.Warn("frame registered for unknown file", zap.Int("file_id", frame.FileID))
		return
	}
	fs.produced++
	t.pending[frame.FrameID] = &PendingRequest{Frame: frame, Submitted: time.Now()}
}

// Activate arms the deadline for a frame about to be sent, blocking while
// the in-flight window is full.
func (t *Tracker) Activate(ctx context.Context, frameID string) error {
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[frameID]
	if !ok {
		<-t.slots
		return entity.ErrUnknownFrame
	}
	p.active = true
	p.Deadline = time.Now().Add(t.cfg.FrameTimeout)
	return nil
}

// Resolve attaches a service response to its pending frame. Removal is
// idempotent: a duplicate or stale frame id returns ErrUnknownFrame and
// changes nothing.
func (t *Tracker) Resolve(frameID string, detections []entity.Detection, errMsg string) error {
	t.mu.Lock()
	p, ok := t.pending[frameID]
	if !ok {
		t.mu.Unlock()
		return entity.ErrUnknownFrame
	}
	delete(t.pending, frameID)
	if p.active {
		<-t.slots
	}

	status := entity.FrameStatusOK
	if errMsg != "" {
		status = entity.FrameStatusFailed
	}
	fin := t.recordLocked(p.Frame.FileID, entity.FrameResult{
		Index:      p.Frame.Index,
		Status:     status,
		Error:      errMsg,
		ShootTime:  p.Frame.ShootTime,
		Detections: detections,
	})
	t.mu.Unlock()
	t.push(fin)
	return nil
}

// FailFrame records a frame that terminally failed before reaching the
// wire (decode or encode error, or an unproduced remainder of a broken
// video).
func (t *Tracker) FailFrame(fileID, index int, shoot time.Time, status entity.FrameStatus, reason string) {
	t.mu.Lock()
	fs, ok := t.files[fileID]
	if !ok {
		t.mu.Unlock()
		return
	}
	fs.produced++
	fin := t.recordLocked(fileID, entity.FrameResult{
		Index:     index,
		Status:    status,
		Error:     reason,
		ShootTime: shoot,
	})
	t.mu.Unlock()
	t.push(fin)
}

// FinishFile signals that the source will emit no more frames for fileID.
// The FileResult finalizes once every produced frame has a resolution.
func (t *Tracker) FinishFile(fileID int) {
	t.mu.Lock()
	fs, ok := t.files[fileID]
	if !ok {
		t.mu.Unlock()
		return
	}
	fs.finished = true
	fin := t.maybeFinalizeLocked(fs)
	t.mu.Unlock()
	t.push(fin)
}

// TakeActive removes every sent-and-unresolved entry from the table for
// resubmission after a transport failure. Slots stay held: the frames are
// still logically in flight.
func (t *Tracker) TakeActive() []PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingRequest
	for id, p := range t.pending {
		if !p.active {
			continue
		}
		out = append(out, *p)
		delete(t.pending, id)
	}
	return out
}

// Reactivate re-registers a taken entry on a new connection. Returns false
// when the retry budget is exhausted; the frame is then resolved as a
// terminal timeout-class failure.
func (t *Tracker) Reactivate(p PendingRequest) bool {
	t.mu.Lock()
	p.Retries++
	if p.Retries > t.cfg.SendRetries {
		<-t.slots
		fin := t.recordLocked(p.Frame.FileID, entity.FrameResult{
			Index:     p.Frame.Index,
			Status:    entity.FrameStatusTimeout,
			Error:     entity.ErrRetriesExhausted.Error(),
			ShootTime: p.Frame.ShootTime,
		})
		t.mu.Unlock()
		t.push(fin)
		return false
	}
	p.Deadline = time.Now().Add(t.cfg.FrameTimeout)
	cp := p
	t.pending[p.Frame.FrameID] = &cp
	t.mu.Unlock()
	return true
}

// Run sweeps expired deadlines until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.sweep(now)
		}
	}
}

func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	var fins []*entity.FileResult
	for id, p := range t.pending {
		if !p.active || p.Deadline.After(now) {
			continue
		}
		delete(t.pending, id)
		<-t.slots
		t.logger.Warn("frame response timed out",
			zap.String("frame_id", id),
			zap.Int("file_id", p.Frame.FileID),
			zap.Int("retries", p.Retries),
		)
		if fin := t.recordLocked(p.Frame.FileID, entity.FrameResult{
			Index:     p.Frame.Index,
			Status:    entity.FrameStatusTimeout,
			Error:     entity.ErrFrameTimeout.Error(),
			ShootTime: p.Frame.ShootTime,
		}); fin != nil {
			fins = append(fins, fin)
		}
	}
	t.mu.Unlock()
	for _, fin := range fins {
		t.push(fin)
	}
}

// Abandon resolves every remaining pending entry with the given status and
// finalizes all begun files. Used for forced shutdown after the drain
// grace expires or a fatal session error.
func (t *Tracker) Abandon(status entity.FrameStatus, reason string) {
	t.mu.Lock()
	var fins []*entity.FileResult
	for id, p := range t.pending {
		delete(t.pending, id)
		if p.active {
			<-t.slots
		}
		if fin := t.recordLocked(p.Frame.FileID, entity.FrameResult{
			Index:     p.Frame.Index,
			Status:    status,
			Error:     reason,
			ShootTime: p.Frame.ShootTime,
		}); fin != nil {
			fins = append(fins, fin)
		}
	}
	for _, fs := range t.files {
		if fs.finished {
			continue
		}
		fs.finished = true
		if fin := t.maybeFinalizeLocked(fs); fin != nil {
			fins = append(fins, fin)
		}
	}
	t.mu.Unlock()
	for _, fin := range fins {
		t.push(fin)
	}
}

// Drain blocks until no frames are pending and every begun file has
// finalized, or ctx expires.
func (t *Tracker) Drain(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		idle := len(t.pending) == 0
		for _, fs := range t.files {
			if !fs.done {
				idle = false
				break
			}
		}
		t.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PendingCount reports the current table size.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close closes the finalized channel. No Resolve/FailFrame calls may
// follow.
func (t *Tracker) Close() {
	close(t.finalized)
}

// recordLocked appends a terminal frame result and finalizes the file when
// it was the last outstanding frame. Caller holds the lock.
func (t *Tracker) recordLocked(fileID int, fr entity.FrameResult) *entity.FileResult {
	fs, ok := t.files[fileID]
	if !ok {
		t.logger.Warn("result for unknown file", zap.Int("file_id", fileID))
		return nil
	}
	fs.terminal++
	metrics.FramesResolvedTotal.WithLabelValues(string(fr.Status)).Inc()
	fs.result.Frames = append(fs.result.Frames, fr)
	return t.maybeFinalizeLocked(fs)
}

func (t *Tracker) maybeFinalizeLocked(fs *fileState) *entity.FileResult {
	if fs.done || !fs.finished || fs.terminal != fs.produced {
		return nil
	}
	fs.done = true
	fs.result.Finalize()
	return fs.result
}

func (t *Tracker) push(res *entity.FileResult) {
	if res == nil {
		return
	}
	t.finalized <- res
}
