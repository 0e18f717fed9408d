package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// Resume reads a previous report and returns the paths of files that fully
// completed. Only COMPLETE files are skipped on the next run: partially
// failed files are reprocessed whole, so no file ever carries a mix of old
// and new frame results.
func Resume(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch {
	case strings.HasSuffix(path, ".json"):
		return resumeJSON(f)
	case strings.HasSuffix(path, ".csv"):
		return resumeCSV(f)
	default:
		return nil, fmt.Errorf("unsupported resume format %q", path)
	}
}

func resumeJSON(r io.Reader) (map[string]bool, error) {
	var results []entity.FileResult
	if err := json.NewDecoder(r).Decode(&results); err != nil {
		return nil, fmt.Errorf("parse resume report: %w", err)
	}
	done := make(map[string]bool)
	for _, res := range results {
		if res.Status == entity.FileStatusComplete {
			done[res.Path] = true
		}
	}
	return done, nil
}

func resumeCSV(r io.Reader) (map[string]bool, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("parse resume report: %w", err)
	}
	pathCol, statusCol := -1, -1
	for i, name := range header {
		switch name {
		case "file":
			pathCol = i
		case "file_status":
			statusCol = i
		}
	}
	if pathCol < 0 || statusCol < 0 {
		return nil, fmt.Errorf("resume report missing file/file_status columns")
	}

	done := make(map[string]bool)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return done, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse resume report: %w", err)
		}
		if entity.FileStatus(row[statusCol]) == entity.FileStatusComplete {
			done[row[pathCol]] = true
		}
	}
}
