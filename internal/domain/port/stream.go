package port

import (
	"context"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// DetectionReply is one inbound result from the detection service. Error is
// the service's per-frame error indicator, empty on success.
type DetectionReply struct {
	FrameID    string
	Detections []entity.Detection
	Error      string
}

// DetectionConn is one authenticated bidirectional connection. Send and
// Recv are safe to call from separate goroutines; neither is safe for
// concurrent use with itself.
type DetectionConn interface {
	Send(frame entity.EncodedFrame) error
	Recv() (DetectionReply, error)
	Close() error
}

// DetectionDialer connects to the detection service and performs the auth
// handshake. A rejected credential surfaces as *entity.AuthError.
type DetectionDialer interface {
	Dial(ctx context.Context) (DetectionConn, error)
}
