package media

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// Source produces frames from media files: exactly one frame per image,
// an incremental sequence per video. One external decoding process per
// video file, never shared across items.
type Source struct {
	imageSize  int
	iframeOnly bool
	maxFrames  int
	ffmpegBin  string
	ffprobeBin string
	logger     *zap.Logger
}

type SourceConfig struct {
	ImageSize  int
	IframeOnly bool
	MaxFrames  int
	FFmpegBin  string
	FFprobeBin string
}

func NewSource(cfg SourceConfig, logger *zap.Logger) *Source {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.FFprobeBin == "" {
		cfg.FFprobeBin = "ffprobe"
	}
	return &Source{
		imageSize:  cfg.ImageSize,
		iframeOnly: cfg.IframeOnly,
		maxFrames:  cfg.MaxFrames,
		ffmpegBin:  cfg.FFmpegBin,
		ffprobeBin: cfg.FFprobeBin,
		logger:     logger,
	}
}

func (s *Source) Produce(ctx context.Context, item entity.MediaItem, emit func(entity.FrameTask) error) (int, error) {
	switch item.Kind {
	case entity.MediaKindImage:
		return s.produceImage(ctx, item, emit)
	case entity.MediaKindVideo:
		return s.produceVideo(ctx, item, emit)
	default:
		return 0, fmt.Errorf("unsupported media kind %q", item.Kind)
	}
}

func (s *Source) produceImage(_ context.Context, item entity.MediaItem, emit func(entity.FrameTask) error) (int, error) {
	f, err := os.Open(item.Path)
	if err != nil {
		return 0, &entity.DecodeError{Path: item.Path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, &entity.DecodeError{Path: item.Path, Err: err}
	}

	bounds := img.Bounds()
	task := entity.NewFrameTask(item.ID, 0, img, bounds.Dx(), bounds.Dy(), shootTime(item.Path))
	if err := emit(task); err != nil {
		return 0, err
	}
	return 1, nil
}

// shootTime approximates the capture time from file metadata.
func shootTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
