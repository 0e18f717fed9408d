package media

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

// Folders produced by earlier classification runs, skipped on re-scan.
var skipDirs = map[string]bool{
	"Animal":  true,
	"Person":  true,
	"Vehicle": true,
	"Blank":   true,
}

type Discovery struct{}

func NewDiscovery() *Discovery {
	return &Discovery{}
}

// Discover walks root in lexical order and returns every supported media
// file as a MediaItem. Item IDs follow discovery order and stay stable for
// the run.
func (d *Discovery) Discover(root string) ([]entity.MediaItem, error) {
	var items []entity.MediaItem

	err := filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := de.Name()
		if de.IsDir() {
			if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || name == "result.json" || name == "result.csv" {
			return nil
		}

		kind, ok := entity.KindOf(path)
		if !ok {
			return nil
		}
		items = append(items, entity.MediaItem{
			ID:   len(items),
			Path: path,
			Kind: kind,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	return items, nil
}
