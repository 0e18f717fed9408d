package entity

import (
	"sort"
	"time"
)

type FileStatus string

const (
	FileStatusPending  FileStatus = "PENDING"
	FileStatusInFlight FileStatus = "IN_FLIGHT"
	FileStatusComplete FileStatus = "COMPLETE"
	FileStatusPartial  FileStatus = "PARTIALLY_FAILED"
	FileStatusFailed   FileStatus = "FAILED"
)

type FrameStatus string

const (
	FrameStatusOK        FrameStatus = "ok"
	FrameStatusFailed    FrameStatus = "failed"
	FrameStatusTimeout   FrameStatus = "timeout"
	FrameStatusCancelled FrameStatus = "cancelled"
)

// Detection is one detected object in original-image coordinates.
type Detection struct {
	Label      string     `json:"label"`
	Confidence float32    `json:"confidence"`
	Box        [4]float32 `json:"box"`
}

// FrameResult is the terminal outcome of one frame. Exactly one FrameResult
// exists per frame the source produced, whether it ever reached the wire or
// not.
type FrameResult struct {
	Index      int         `json:"index"`
	Status     FrameStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	ShootTime  time.Time   `json:"shoot_time,omitempty"`
	Detections []Detection `json:"detections"`
}

// FileResult aggregates every FrameResult of one MediaItem.
type FileResult struct {
	FileID      int           `json:"-"`
	Path        string        `json:"file"`
	Status      FileStatus    `json:"status"`
	TotalFrames int           `json:"total_frames"`
	Frames      []FrameResult `json:"frames"`
}

func NewFileResult(item MediaItem) *FileResult {
	return &FileResult{
		FileID: item.ID,
		Path:   item.Path,
		Status: FileStatusPending,
		Frames: []FrameResult{},
	}
}

// Finalize orders frames by index and derives the terminal file status.
// Responses arrive out of order; the report always reads in frame order.
func (f *FileResult) Finalize() {
	sort.Slice(f.Frames, func(i, j int) bool { return f.Frames[i].Index < f.Frames[j].Index })
	f.TotalFrames = len(f.Frames)

	ok := 0
	for i := range f.Frames {
		if f.Frames[i].Detections == nil {
			f.Frames[i].Detections = []Detection{}
		}
		if f.Frames[i].Status == FrameStatusOK {
			ok++
		}
	}

	switch {
	case len(f.Frames) == 0 || ok == 0:
		f.Status = FileStatusFailed
	case ok == len(f.Frames):
		f.Status = FileStatusComplete
	default:
		f.Status = FileStatusPartial
	}
}

// MaxConfidence returns the highest detection confidence across all frames,
// zero when the file has no detections.
func (f *FileResult) MaxConfidence() float32 {
	var max float32
	for _, fr := range f.Frames {
		for _, d := range fr.Detections {
			if d.Confidence > max {
				max = d.Confidence
			}
		}
	}
	return max
}
