package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// produceVideo streams frames out of an ffmpeg process as they decode,
// never buffering the whole video. ffmpeg scales to fit the service input
// size; the probed source dimensions travel with each frame so detection
// boxes map back to source coordinates.
func (s *Source) produceVideo(ctx context.Context, item entity.MediaItem, emit func(entity.FrameTask) error) (int, error) {
	origW, origH, err := s.probeDimensions(ctx, item.Path)
	if err != nil {
		return 0, &entity.DecodeError{Path: item.Path, Err: err}
	}

	scaledW, scaledH := fitWithin(origW, origH, s.imageSize)

	vctx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := []string{}
	if s.iframeOnly {
		args = append(args, "-skip_frame", "nokey")
	}
	args = append(args,
		"-i", item.Path,
		"-an",
		"-vf", fmt.Sprintf("scale=w=%d:h=%d", scaledW, scaledH),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-vsync", "vfr",
		"pipe:1",
	)

	cmd := exec.CommandContext(vctx, s.ffmpegBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, &entity.DecodeError{Path: item.Path, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return 0, &entity.DecodeError{Path: item.Path, Err: err}
	}

	shoot := shootTime(item.Path)
	frameSize := scaledW * scaledH * 3
	buf := make([]byte, frameSize)
	produced := 0

	for {
		if s.maxFrames > 0 && produced >= s.maxFrames {
			// Frame budget reached: stop decoding early.
			cancel()
			cmd.Wait()
			return produced, nil
		}

		if _, err := io.ReadFull(stdout, buf); err != nil {
			waitErr := cmd.Wait()
			if err == io.EOF && waitErr == nil {
				return produced, nil
			}
			if ctx.Err() != nil {
				return produced, ctx.Err()
			}
			// Frames already emitted still stand; only the remainder of
			// the item fails.
			s.logger.Warn("video decode terminated early",
				zap.String("path", item.Path),
				zap.Int("frames", produced),
				zap.String("ffmpeg", truncate(stderr.String(), 512)),
			)
			return produced, &entity.DecodeError{Path: item.Path, Err: fmt.Errorf("ffmpeg: %w", err)}
		}

		img := rgbToImage(buf, scaledW, scaledH)
		task := entity.NewFrameTask(item.ID, produced, img, origW, origH, shoot)
		if err := emit(task); err != nil {
			cancel()
			cmd.Wait()
			return produced, err
		}
		produced++
	}
}

func (s *Source) probeDimensions(ctx context.Context, path string) (int, int, error) {
	cmd := exec.CommandContext(ctx, s.ffprobeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe: %w", err)
	}

	dims := strings.Split(strings.TrimSpace(string(output)), "x")
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("ffprobe: unexpected output %q", strings.TrimSpace(string(output)))
	}
	w, err := strconv.Atoi(dims[0])
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe: parse width: %w", err)
	}
	h, err := strconv.Atoi(dims[1])
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe: parse height: %w", err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("ffprobe: invalid dimensions %dx%d", w, h)
	}
	return w, h, nil
}

// rgbToImage wraps a raw rgb24 buffer into an RGBA image.
func rgbToImage(raw []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			img.SetRGBA(x, y, color.RGBA{R: raw[i], G: raw[i+1], B: raw[i+2], A: 255})
		}
	}
	return img
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
