package entity

import (
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MediaKind string

const (
	MediaKindImage MediaKind = "IMAGE"
	MediaKindVideo MediaKind = "VIDEO"
)

// KindOf maps a file extension to a media kind. The second return value is
// false for files the pipeline does not process.
func KindOf(path string) (MediaKind, bool) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "jpg", "jpeg", "png":
		return MediaKindImage, true
	case "mp4", "avi", "mkv", "mov":
		return MediaKindVideo, true
	default:
		return "", false
	}
}

// MediaItem is one input file discovered on disk. ID is the discovery-order
// index and stays stable for the lifetime of a run; frames reference their
// item by this ID only.
type MediaItem struct {
	ID   int
	Path string
	Kind MediaKind
}

// FrameTask is one decoded frame pending preprocessing. Img is exclusively
// owned until the frame is encoded. OrigWidth/OrigHeight are the source
// dimensions: detection boxes come back in these coordinates.
type FrameTask struct {
	FrameID    string
	FileID     int
	Index      int
	Img        image.Image
	OrigWidth  int
	OrigHeight int
	ShootTime  time.Time
}

// NewFrameTask assigns a fresh frame identifier. Identifiers are unique for
// the lifetime of a run and never reused, across reconnects included.
func NewFrameTask(fileID, index int, img image.Image, origW, origH int, shootTime time.Time) FrameTask {
	return FrameTask{
		FrameID:    uuid.NewString(),
		FileID:     fileID,
		Index:      index,
		Img:        img,
		OrigWidth:  origW,
		OrigHeight: origH,
		ShootTime:  shootTime,
	}
}

// EncodedFrame is a FrameTask after resize and lossy encoding, ready for
// the upload channel. Width/Height are the encoded dimensions.
type EncodedFrame struct {
	FrameID    string
	FileID     int
	Index      int
	Payload    []byte
	Width      int
	Height     int
	OrigWidth  int
	OrigHeight int
	ShootTime  time.Time
}
