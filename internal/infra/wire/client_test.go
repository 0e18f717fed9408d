package wire

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// fakeService accepts one connection, validates the token and echoes a
// canned detection for every frame it receives.
func fakeService(t *testing.T, token string) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var auth AuthRequest
		if err := ReadMessage(conn, &auth); err != nil {
			return
		}
		if auth.Token != token {
			WriteMessage(conn, AuthResponse{OK: false, Error: "bad token"})
			return
		}
		if err := WriteMessage(conn, AuthResponse{OK: true, Session: "s-1"}); err != nil {
			return
		}

		for {
			var req DetectRequest
			if err := ReadMessage(conn, &req); err != nil {
				return
			}
			resp := DetectResponse{
				FrameID: req.FrameID,
				Detections: []Detection{
					{Label: "animal", Confidence: 0.9, Box: [4]float32{1, 2, 3, 4}},
				},
			}
			if err := WriteMessage(conn, resp); err != nil {
				return
			}
		}
	}()

	return ln.Addr()
}

func newTestDialer(addr, token string) *Dialer {
	return NewDialer(DialerConfig{
		Addr:        addr,
		Token:       token,
		IoU:         0.45,
		Score:       0.2,
		DialTimeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestDialHandshakeAndDetect(t *testing.T) {
	addr := fakeService(t, "good-token")

	conn, err := newTestDialer(addr.String(), "good-token").Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	frame := entity.EncodedFrame{
		FrameID:    "f-1",
		Payload:    []byte{1, 2, 3},
		OrigWidth:  1920,
		OrigHeight: 1080,
	}
	require.NoError(t, conn.Send(frame))

	reply, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, "f-1", reply.FrameID)
	require.Len(t, reply.Detections, 1)
	assert.Equal(t, "animal", reply.Detections[0].Label)
	assert.Equal(t, float32(0.9), reply.Detections[0].Confidence)
}

func TestDialRejectedTokenIsFatal(t *testing.T) {
	addr := fakeService(t, "good-token")

	_, err := newTestDialer(addr.String(), "wrong").Dial(context.Background())
	require.Error(t, err)

	var authErr *entity.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.True(t, entity.IsFatal(err))
}

func TestDialUnreachable(t *testing.T) {
	d := NewDialer(DialerConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 500 * time.Millisecond,
	}, zap.NewNop())

	_, err := d.Dial(context.Background())
	require.Error(t, err)

	var trErr *entity.TransportError
	assert.ErrorAs(t, err, &trErr)
	assert.False(t, entity.IsFatal(err))
}
