package wire

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
	"github.com/simulacraliasing/md5rs-client/internal/domain/port"
)

// Dialer connects to the detection service over TCP (optionally TLS) and
// performs the auth handshake.
type Dialer struct {
	addr        string
	token       string
	useTLS      bool
	tlsConfig   *tls.Config
	iou         float32
	score       float32
	dialTimeout time.Duration
	logger      *zap.Logger
}

type DialerConfig struct {
	Addr        string
	Token       string
	UseTLS      bool
	TLSConfig   *tls.Config
	IoU         float32
	Score       float32
	DialTimeout time.Duration
}

func NewDialer(cfg DialerConfig, logger *zap.Logger) *Dialer {
	return &Dialer{
		addr:        cfg.Addr,
		token:       cfg.Token,
		useTLS:      cfg.UseTLS,
		tlsConfig:   cfg.TLSConfig,
		iou:         cfg.IoU,
		score:       cfg.Score,
		dialTimeout: cfg.DialTimeout,
		logger:      logger,
	}
}

func (d *Dialer) Dial(ctx context.Context) (port.DetectionConn, error) {
	nd := &net.Dialer{Timeout: d.dialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if d.useTLS {
		td := &tls.Dialer{NetDialer: nd, Config: d.tlsConfig}
		conn, err = td.DialContext(ctx, "tcp", d.addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", d.addr)
	}
	if err != nil {
		return nil, &entity.TransportError{Op: "dial", Err: err}
	}

	if err := conn.SetDeadline(time.Now().Add(d.dialTimeout)); err != nil {
		conn.Close()
		return nil, &entity.TransportError{Op: "handshake", Err: err}
	}

	if err := WriteMessage(conn, AuthRequest{Token: d.token}); err != nil {
		conn.Close()
		return nil, &entity.TransportError{Op: "handshake", Err: err}
	}

	var resp AuthResponse
	if err := ReadMessage(conn, &resp); err != nil {
		conn.Close()
		return nil, &entity.TransportError{Op: "handshake", Err: err}
	}
	if !resp.OK {
		conn.Close()
		return nil, &entity.AuthError{Reason: resp.Error}
	}

	// Deadlines off for the streaming phase; per-frame timeouts belong to
	// the correlation sweep.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, &entity.TransportError{Op: "handshake", Err: err}
	}

	d.logger.Debug("detection stream authenticated",
		zap.String("addr", d.addr),
		zap.String("session", resp.Session),
	)

	return &Conn{conn: conn, iou: d.iou, score: d.score}, nil
}

// Conn is one authenticated detection stream. Send and Recv run from
// separate goroutines over the same connection.
type Conn struct {
	conn  net.Conn
	iou   float32
	score float32

	wmu sync.Mutex
}

func (c *Conn) Send(frame entity.EncodedFrame) error {
	req := DetectRequest{
		FrameID: frame.FrameID,
		Image:   frame.Payload,
		Width:   frame.OrigWidth,
		Height:  frame.OrigHeight,
		IoU:     c.iou,
		Score:   c.score,
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := WriteMessage(c.conn, req); err != nil {
		return &entity.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *Conn) Recv() (port.DetectionReply, error) {
	var resp DetectResponse
	if err := ReadMessage(c.conn, &resp); err != nil {
		if errors.Is(err, io.EOF) {
			return port.DetectionReply{}, io.EOF
		}
		return port.DetectionReply{}, &entity.TransportError{Op: "recv", Err: err}
	}

	reply := port.DetectionReply{
		FrameID: resp.FrameID,
		Error:   resp.Error,
	}
	for _, d := range resp.Detections {
		reply.Detections = append(reply.Detections, entity.Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box:        d.Box,
		})
	}
	return reply, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
