package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
	"github.com/simulacraliasing/md5rs-client/internal/domain/port"
	"github.com/simulacraliasing/md5rs-client/internal/tracker"
)

// fakeConn scripts one connection: it echoes a successful reply per frame.
// A positive failAfter breaks the connection after that many sends; a
// negative one breaks it immediately. A mute connection accepts sends but
// never replies; recvErr injects a receive-side failure.
type fakeConn struct {
	mu        sync.Mutex
	sent      int
	failAfter int
	mute      bool

	replies   chan port.DetectionReply
	recvErr   chan error
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(failAfter int) *fakeConn {
	return &fakeConn{
		failAfter: failAfter,
		replies:   make(chan port.DetectionReply, 64),
		recvErr:   make(chan error, 1),
		closed:    make(chan struct{}),
	}
}

func newMuteConn() *fakeConn {
	c := newFakeConn(0)
	c.mute = true
	return c
}

func (c *fakeConn) Send(frame entity.EncodedFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	if c.failAfter < 0 || (c.failAfter > 0 && c.sent > c.failAfter) {
		return &entity.TransportError{Op: "send", Err: errors.New("connection reset")}
	}
	if c.mute {
		return nil
	}
	c.replies <- port.DetectionReply{
		FrameID:    frame.FrameID,
		Detections: []entity.Detection{{Label: "animal", Confidence: 0.9}},
	}
	return nil
}

func (c *fakeConn) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *fakeConn) Recv() (port.DetectionReply, error) {
	select {
	case r := <-c.replies:
		return r, nil
	case err := <-c.recvErr:
		return port.DetectionReply{}, err
	case <-c.closed:
		return port.DetectionReply{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer replays a script of dial outcomes in order; when the script
// runs dry it returns a transport error.
type dialStep struct {
	conn port.DetectionConn
	err  error
}

type fakeDialer struct {
	mu    sync.Mutex
	steps []dialStep
	dials int
}

func (d *fakeDialer) Dial(context.Context) (port.DetectionConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.steps) == 0 {
		return nil, &entity.TransportError{Op: "dial", Err: errors.New("no more connections")}
	}
	s := d.steps[0]
	d.steps = d.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	return s.conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestTracker(files int) *tracker.Tracker {
	return tracker.New(tracker.Config{
		MaxInFlight:   16,
		SendRetries:   3,
		FrameTimeout:  time.Minute,
		SweepInterval: time.Minute,
	}, files, zap.NewNop())
}

func sessionConfig() Config {
	return Config{
		MaxReconnects: 3,
		BaseDelay:     time.Millisecond,
		DrainGrace:    2 * time.Second,
	}
}

func queueFrames(t *testing.T, track *tracker.Tracker, fileID, n int) []entity.EncodedFrame {
	t.Helper()
	track.BeginFile(entity.MediaItem{ID: fileID, Path: "f.mp4", Kind: entity.MediaKindVideo})
	frames := make([]entity.EncodedFrame, n)
	for i := range frames {
		task := entity.NewFrameTask(fileID, i, nil, 100, 100, time.Time{})
		frames[i] = entity.EncodedFrame{FrameID: task.FrameID, FileID: fileID, Index: i, Payload: []byte{byte(i)}}
		track.RegisterFrame(frames[i])
	}
	track.FinishFile(fileID)
	return frames
}

func TestSessionHappyPath(t *testing.T) {
	track := newTestTracker(1)
	frames := queueFrames(t, track, 0, 5)

	uploads := make(chan entity.EncodedFrame, len(frames))
	for _, f := range frames {
		uploads <- f
	}
	close(uploads)

	dialer := &fakeDialer{steps: []dialStep{{conn: newFakeConn(0)}}}
	sess := NewSession(dialer, uploads, track, sessionConfig(), zap.NewNop())

	require.NoError(t, sess.Run(context.Background()))
	assert.Equal(t, StateClosed, sess.State())
	assert.Equal(t, 0, track.PendingCount())

	track.Close()
	res := <-track.Finalized()
	assert.Equal(t, entity.FileStatusComplete, res.Status)
	assert.Equal(t, 5, res.TotalFrames)
}

func TestSessionResubmitsAfterTransportFailure(t *testing.T) {
	track := newTestTracker(1)
	frames := queueFrames(t, track, 0, 4)

	uploads := make(chan entity.EncodedFrame, len(frames))
	for _, f := range frames {
		uploads <- f
	}
	close(uploads)

	// First connection dies after two frames; the second absorbs the
	// resubmissions plus the rest.
	dialer := &fakeDialer{steps: []dialStep{
		{conn: newFakeConn(2)},
		{conn: newFakeConn(0)},
	}}
	sess := NewSession(dialer, uploads, track, sessionConfig(), zap.NewNop())

	require.NoError(t, sess.Run(context.Background()))
	assert.Equal(t, 2, dialer.dialCount())
	assert.Equal(t, 0, track.PendingCount())

	track.Close()
	res := <-track.Finalized()
	assert.Equal(t, entity.FileStatusComplete, res.Status)
	assert.Equal(t, 4, res.TotalFrames)
	for _, fr := range res.Frames {
		assert.Equal(t, entity.FrameStatusOK, fr.Status)
	}
}

func TestSessionCarriesConsumedFrameAcrossReconnect(t *testing.T) {
	track := tracker.New(tracker.Config{
		MaxInFlight:   1,
		SendRetries:   3,
		FrameTimeout:  time.Minute,
		SweepInterval: time.Minute,
	}, 1, zap.NewNop())
	frames := queueFrames(t, track, 0, 2)

	uploads := make(chan entity.EncodedFrame, len(frames))
	for _, f := range frames {
		uploads <- f
	}
	close(uploads)

	// The first connection swallows frame 0 without replying, so frame 1
	// gets pulled off the upload channel and parks waiting for the single
	// in-flight slot. Killing the connection at that point must hand both
	// frames to the next connection: frame 0 via resubmission, frame 1 via
	// the interrupted send loop's carry-over.
	mute := newMuteConn()
	healthy := newFakeConn(0)
	dialer := &fakeDialer{steps: []dialStep{
		{conn: mute},
		{conn: healthy},
	}}
	sess := NewSession(dialer, uploads, track, sessionConfig(), zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return mute.Sent() == 1 && len(uploads) == 0
	}, 2*time.Second, 5*time.Millisecond, "first frame sent and second consumed")
	mute.recvErr <- &entity.TransportError{Op: "recv", Err: errors.New("connection reset")}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}

	assert.Equal(t, 2, healthy.Sent())
	assert.Equal(t, 0, track.PendingCount())

	track.Close()
	res := <-track.Finalized()
	assert.Equal(t, entity.FileStatusComplete, res.Status)
	require.Len(t, res.Frames, 2)
	for _, fr := range res.Frames {
		assert.Equal(t, entity.FrameStatusOK, fr.Status)
	}
}

func TestSessionAuthFailureIsFatal(t *testing.T) {
	track := newTestTracker(1)
	uploads := make(chan entity.EncodedFrame)
	close(uploads)

	dialer := &fakeDialer{steps: []dialStep{{err: &entity.AuthError{Reason: "bad token"}}}}
	sess := NewSession(dialer, uploads, track, sessionConfig(), zap.NewNop())

	err := sess.Run(context.Background())
	require.Error(t, err)
	assert.True(t, entity.IsFatal(err))
	assert.Equal(t, 1, dialer.dialCount())
}

func TestSessionGivesUpAfterReconnectBudget(t *testing.T) {
	track := newTestTracker(1)
	uploads := make(chan entity.EncodedFrame)
	close(uploads)

	dialer := &fakeDialer{}
	cfg := sessionConfig()
	cfg.MaxReconnects = 2
	sess := NewSession(dialer, uploads, track, cfg, zap.NewNop())

	err := sess.Run(context.Background())
	require.Error(t, err)
	assert.False(t, entity.IsFatal(err))
	assert.Equal(t, 3, dialer.dialCount())
}

func TestSessionReconnectBudgetResetsAfterHandshake(t *testing.T) {
	track := newTestTracker(1)
	frames := queueFrames(t, track, 0, 3)

	uploads := make(chan entity.EncodedFrame, len(frames))
	for _, f := range frames {
		uploads <- f
	}
	close(uploads)

	// Each healthy stretch is followed by one failed dial. The budget
	// bounds consecutive failures only, so the run survives more total
	// failures than MaxReconnects allows in a row.
	dialErr := &entity.TransportError{Op: "dial", Err: errors.New("dial refused")}
	dialer := &fakeDialer{steps: []dialStep{
		{conn: newFakeConn(1)},
		{err: dialErr},
		{conn: newFakeConn(1)},
		{err: dialErr},
		{conn: newFakeConn(0)},
	}}
	cfg := sessionConfig()
	cfg.MaxReconnects = 2
	sess := NewSession(dialer, uploads, track, cfg, zap.NewNop())

	require.NoError(t, sess.Run(context.Background()))
	assert.Equal(t, 5, dialer.dialCount())
	assert.Equal(t, 0, track.PendingCount())

	track.Close()
	res := <-track.Finalized()
	assert.Equal(t, entity.FileStatusComplete, res.Status)
	require.Len(t, res.Frames, 3)
	for _, fr := range res.Frames {
		assert.Equal(t, entity.FrameStatusOK, fr.Status)
	}
}

func TestSessionRetryBudgetTerminatesFrame(t *testing.T) {
	track := newTestTracker(1)
	frames := queueFrames(t, track, 0, 1)

	uploads := make(chan entity.EncodedFrame, 1)
	uploads <- frames[0]
	close(uploads)

	// Every connection dies on the first send, so the frame burns its
	// resubmission budget and resolves as a timeout-class failure.
	cfg := sessionConfig()
	cfg.MaxReconnects = 10
	dialer := &fakeDialer{steps: []dialStep{
		{conn: newFakeConn(-1)}, {conn: newFakeConn(-1)}, {conn: newFakeConn(-1)},
		{conn: newFakeConn(-1)}, {conn: newFakeConn(-1)},
	}}
	sess := NewSession(dialer, uploads, track, cfg, zap.NewNop())

	require.NoError(t, sess.Run(context.Background()))

	track.Close()
	res := <-track.Finalized()
	require.Len(t, res.Frames, 1)
	assert.Equal(t, entity.FrameStatusTimeout, res.Frames[0].Status)
	assert.Equal(t, entity.FileStatusFailed, res.Status)
}
