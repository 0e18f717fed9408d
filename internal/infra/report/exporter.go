package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"file", "file_status", "total_frames",
	"frame_index", "frame_status", "shoot_time",
	"max_confidence", "detections", "error",
}

// Exporter accumulates finalized file results and writes the aggregated
// report. Writes are atomic (temp file plus rename) so a checkpoint never
// leaves a truncated report behind, and Export is idempotent: re-running it
// over the same results produces identical bytes.
type Exporter struct {
	format     string
	path       string
	checkpoint int
	logger     *zap.Logger

	mu      sync.Mutex
	results []*entity.FileResult
	pending int
}

func NewExporter(format, path string, checkpoint int, logger *zap.Logger) (*Exporter, error) {
	switch format {
	case FormatJSON, FormatCSV:
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	if path == "" {
		path = "result." + format
	}
	return &Exporter{
		format:     format,
		path:       path,
		checkpoint: checkpoint,
		logger:     logger,
	}, nil
}

// Path reports the output location.
func (e *Exporter) Path() string {
	return e.path
}

// Add records a finalized file result and flushes a checkpoint once enough
// frames accumulated since the last write.
func (e *Exporter) Add(res *entity.FileResult) {
	e.mu.Lock()
	e.results = append(e.results, res)
	e.pending += len(res.Frames)
	flush := e.checkpoint > 0 && e.pending >= e.checkpoint
	if flush {
		e.pending = 0
	}
	e.mu.Unlock()

	if flush {
		if err := e.Export(); err != nil {
			e.logger.Warn("checkpoint write failed", zap.Error(err))
		}
	}
}

// Export writes the full report, replacing any previous version.
func (e *Exporter) Export() error {
	e.mu.Lock()
	results := make([]*entity.FileResult, len(e.results))
	copy(results, e.results)
	e.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	var payload []byte
	var err error
	switch e.format {
	case FormatJSON:
		payload, err = json.MarshalIndent(results, "", "  ")
	case FormatCSV:
		payload, err = marshalCSV(results)
	}
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	return writeAtomic(e.path, payload)
}

func marshalCSV(results []*entity.FileResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, res := range results {
		for _, fr := range res.Frames {
			dets, err := json.Marshal(fr.Detections)
			if err != nil {
				return nil, err
			}
			shoot := ""
			if !fr.ShootTime.IsZero() {
				shoot = fr.ShootTime.Format(time.RFC3339)
			}
			row := []string{
				res.Path,
				string(res.Status),
				strconv.Itoa(res.TotalFrames),
				strconv.Itoa(fr.Index),
				string(fr.Status),
				shoot,
				strconv.FormatFloat(float64(frameMaxConfidence(fr)), 'f', -1, 32),
				string(dets),
				fr.Error,
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
		// A file with no frames still gets one row so failures show up.
		if len(res.Frames) == 0 {
			row := []string{res.Path, string(res.Status), "0", "", "", "", "", "[]", ""}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func frameMaxConfidence(fr entity.FrameResult) float32 {
	var max float32
	for _, d := range fr.Detections {
		if d.Confidence > max {
			max = d.Confidence
		}
	}
	return max
}

func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
