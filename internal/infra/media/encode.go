package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// Codec rescales a decoded frame so its long side matches the service
// input size (aspect ratio preserved, no padding: padding is server-side)
// and encodes it as lossy JPEG at the configured quality. Small frames are
// upscaled so the model always sees the same resolution. Same pixels and
// quality always yield the same bytes.
type Codec struct {
	imageSize int
	quality   int
}

func NewCodec(imageSize, quality int) *Codec {
	return &Codec{imageSize: imageSize, quality: quality}
}

func (c *Codec) Encode(task entity.FrameTask) (entity.EncodedFrame, error) {
	img := task.Img
	if img == nil {
		return entity.EncodedFrame{}, &entity.EncodeError{Path: task.FrameID, Err: errors.New("nil frame buffer")}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return entity.EncodedFrame{}, &entity.EncodeError{
			Path: task.FrameID,
			Err:  fmt.Errorf("zero-dimension image %dx%d", w, h),
		}
	}

	targetW, targetH := fitWithin(w, h, c.imageSize)
	if targetW != w || targetH != h {
		scaled := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return entity.EncodedFrame{}, &entity.EncodeError{Path: task.FrameID, Err: err}
	}

	return entity.EncodedFrame{
		FrameID:    task.FrameID,
		FileID:     task.FileID,
		Index:      task.Index,
		Payload:    buf.Bytes(),
		Width:      targetW,
		Height:     targetH,
		OrigWidth:  task.OrigWidth,
		OrigHeight: task.OrigHeight,
		ShootTime:  task.ShootTime,
	}, nil
}

// fitWithin rescales w×h so the long side equals edge, preserving aspect
// ratio and rounding the short side up to an even value.
func fitWithin(w, h, edge int) (int, int) {
	if w >= h {
		scaled := h * edge / w
		return edge, scaled + scaled%2
	}
	scaled := w * edge / h
	return scaled + scaled%2, edge
}
