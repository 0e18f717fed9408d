package port

import (
	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// ReportWriter accumulates finalized file results and writes the report.
// Add may flush intermediate checkpoints; Export writes the final report.
type ReportWriter interface {
	Add(res *entity.FileResult)
	Export() error
}
