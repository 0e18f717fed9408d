package port

import (
	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// FrameEncoder resizes a raw frame to the service's input size and encodes
// it to the compact lossy payload sent over the wire. Deterministic for
// identical input and quality.
type FrameEncoder interface {
	Encode(task entity.FrameTask) (entity.EncodedFrame, error)
}
