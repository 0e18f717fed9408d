package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
	"github.com/simulacraliasing/md5rs-client/internal/domain/port"
	"github.com/simulacraliasing/md5rs-client/internal/infra/metrics"
	"github.com/simulacraliasing/md5rs-client/internal/tracker"
)

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateDraining
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Config struct {
	// MaxReconnects bounds consecutive failed connection attempts.
	MaxReconnects int
	// BaseDelay seeds the capped exponential reconnect backoff.
	BaseDelay time.Duration
	// DrainGrace bounds how long Draining waits for outstanding responses.
	DrainGrace time.Duration
}

// Session owns one bidirectional connection to the detection service. It
// runs independent send and receive loops over the shared connection so a
// slow response never stalls submission, resubmits pending frames across
// reconnects, and drains outstanding responses before closing.
type Session struct {
	dialer  port.DetectionDialer
	uploads <-chan entity.EncodedFrame
	track   *tracker.Tracker
	cfg     Config
	logger  *zap.Logger

	// carry holds frames consumed from the upload channel whose send loop
	// was interrupted before they reached the wire. Only the current
	// connection's send goroutine touches it; stream joins that goroutine
	// before returning.
	carry []entity.EncodedFrame

	state atomic.Int32
}

func NewSession(dialer port.DetectionDialer, uploads <-chan entity.EncodedFrame, track *tracker.Tracker, cfg Config, logger *zap.Logger) *Session {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 30 * time.Second
	}
	return &Session{
		dialer:  dialer,
		uploads: uploads,
		track:   track,
		cfg:     cfg,
		logger:  logger,
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run drives the session until the upload channel is drained and every
// outstanding response arrived, or until the failure budget is spent.
// AuthError is returned as-is: it is fatal and never retried.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateClosed)

	var resubmit []tracker.PendingRequest
	failures := 0

	for {
		if failures == 0 {
			s.setState(StateConnecting)
		} else {
			s.setState(StateReconnecting)
			select {
			case <-time.After(s.backoff(failures)):
			case <-ctx.Done():
				s.failTaken(resubmit)
				return ctx.Err()
			}
		}

		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			if entity.IsFatal(err) {
				s.logger.Error("handshake rejected, not retrying", zap.Error(err))
				s.failTaken(resubmit)
				return err
			}
			if ctx.Err() != nil {
				s.failTaken(resubmit)
				return ctx.Err()
			}
			failures++
			metrics.ReconnectsTotal.Inc()
			if failures > s.cfg.MaxReconnects {
				s.failTaken(resubmit)
				return fmt.Errorf("connect: %w after %d attempts", err, failures)
			}
			s.logger.Warn("connect failed, backing off",
				zap.Error(err),
				zap.Int("attempt", failures),
			)
			continue
		}

		// The bound covers consecutive attempts only: a successful
		// handshake re-enters Streaming and resets the budget.
		failures = 0

		s.setState(StateStreaming)
		drained, streamErr := s.stream(ctx, conn, resubmit)
		resubmit = nil

		if drained {
			return nil
		}
		if ctx.Err() != nil {
			s.failTaken(s.track.TakeActive())
			return ctx.Err()
		}

		// Transport failure: pull every sent-and-unresolved frame for
		// resubmission on the next connection.
		resubmit = s.track.TakeActive()
		failures++
		metrics.ReconnectsTotal.Inc()
		if failures > s.cfg.MaxReconnects {
			s.failTaken(resubmit)
			return fmt.Errorf("stream: %w", streamErr)
		}
		s.logger.Warn("stream interrupted, reconnecting",
			zap.Error(streamErr),
			zap.Int("pending", len(resubmit)),
			zap.Int("attempt", failures),
		)
	}
}

// stream runs the concurrent send and receive loops over one connection.
// It returns drained=true after a clean drain; otherwise the error that
// broke the connection. The send goroutine is always joined before stream
// returns, so the caller's TakeActive sees every frame this connection
// activated and s.carry holds the ones consumed but never sent.
func (s *Session) stream(ctx context.Context, conn port.DetectionConn, resubmit []tracker.PendingRequest) (bool, error) {
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	errCh := make(chan error, 2)
	sendDone := make(chan struct{})

	// Receive loop: forward every inbound result to the correlator.
	go func() {
		for {
			reply, err := conn.Recv()
			if err != nil {
				errCh <- err
				return
			}
			if err := s.track.Resolve(reply.FrameID, reply.Detections, reply.Error); err != nil {
				// Duplicate or stale response: benign, cannot be attributed.
				s.logger.Warn("dropping unattributable response",
					zap.String("frame_id", reply.FrameID),
					zap.Error(err),
				)
			}
		}
	}()

	// Send loop: resubmissions first (they already hold in-flight slots,
	// so they must hit the wire before anything that needs a new slot),
	// then frames carried over from an interrupted send loop, then the
	// upload channel.
	go func() {
		defer close(sendDone)
		for _, p := range resubmit {
			if !s.track.Reactivate(p) {
				continue
			}
			if err := conn.Send(p.Frame); err != nil {
				errCh <- err
				return
			}
		}
		for len(s.carry) > 0 {
			frame := s.carry[0]
			if err := s.track.Activate(connCtx, frame.FrameID); err != nil {
				if errors.Is(err, entity.ErrUnknownFrame) {
					s.carry = s.carry[1:]
					continue
				}
				return
			}
			// Activated: a failed send is now recoverable via TakeActive.
			s.carry = s.carry[1:]
			if err := conn.Send(frame); err != nil {
				errCh <- err
				return
			}
		}
		for {
			select {
			case <-connCtx.Done():
				return
			case frame, ok := <-s.uploads:
				if !ok {
					return
				}
				if err := s.track.Activate(connCtx, frame.FrameID); err != nil {
					if errors.Is(err, entity.ErrUnknownFrame) {
						continue
					}
					// Consumed but never activated: replay on the next
					// connection.
					s.carry = append(s.carry, frame)
					return
				}
				if err := conn.Send(frame); err != nil {
					errCh <- err
					return
				}
			}
		}
	}()

	fail := func(err error) (bool, error) {
		connCancel()
		conn.Close()
		<-sendDone
		return false, err
	}

	select {
	case err := <-errCh:
		return fail(err)
	case <-sendDone:
		select {
		case err := <-errCh:
			conn.Close()
			return false, err
		default:
		}
	}
	if ctx.Err() != nil {
		conn.Close()
		return false, ctx.Err()
	}

	// All frames submitted: drain outstanding responses with a bounded
	// grace period.
	s.setState(StateDraining)
	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.DrainGrace)
	defer cancel()

	drainErrCh := make(chan error, 1)
	go func() { drainErrCh <- s.track.Drain(drainCtx) }()

	select {
	case err := <-errCh:
		conn.Close()
		// Connection broke while draining. A clean server close with
		// nothing outstanding counts as a successful drain.
		if errors.Is(err, io.EOF) && s.track.PendingCount() == 0 {
			return true, nil
		}
		return false, err
	case err := <-drainErrCh:
		conn.Close()
		if err != nil {
			s.logger.Warn("drain grace expired, abandoning outstanding frames",
				zap.Int("pending", s.track.PendingCount()),
			)
			s.track.Abandon(entity.FrameStatusCancelled, "drain grace expired")
		}
		return true, nil
	}
}

// failTaken terminates frames that can no longer be resubmitted.
func (s *Session) failTaken(taken []tracker.PendingRequest) {
	for _, p := range taken {
		// Burn the remaining retry budget so Reactivate resolves the frame
		// as a terminal failure.
		p.Retries = math.MaxInt32 - 1
		s.track.Reactivate(p)
	}
}

func (s *Session) backoff(attempt int) time.Duration {
	delay := s.cfg.BaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}
