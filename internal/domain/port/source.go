package port

import (
	"context"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// Discoverer supplies the ordered list of media candidates under a root
// folder.
type Discoverer interface {
	Discover(root string) ([]entity.MediaItem, error)
}

// FrameProducer turns one MediaItem into a lazy, finite frame sequence.
// emit is called once per frame in index order; returning an error from
// emit aborts production. Produce returns the number of frames emitted.
// A non-nil error means the remainder of the item could not be decoded;
// frames already emitted still stand.
type FrameProducer interface {
	Produce(ctx context.Context, item entity.MediaItem, emit func(entity.FrameTask) error) (int, error)
}
