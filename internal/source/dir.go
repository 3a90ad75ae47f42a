package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Source yields files that have not been acknowledged yet. Fetch is called
// on each poll cycle; a file keeps reappearing until Ack marks it handled,
// so a file whose ingest hit an infrastructure error is redelivered on a
// later cycle.
type Source interface {
	Fetch(ctx context.Context) ([]File, error)

	// Ack marks a file as fully handled (ingested or rejected). Unacked
	// files are returned again by the next Fetch.
	Ack(name string)
}

// DirSource picks up spreadsheets from a local drop directory.
type DirSource struct {
	dir   string
	acked map[string]bool
}

// NewDirSource creates a DirSource over dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, acked: make(map[string]bool)}
}

// Fetch lists the directory and reads every unacknowledged .xlsx file.
func (s *DirSource) Fetch(ctx context.Context) ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read dir %s", s.dir)
	}

	var files []File
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xlsx") {
			continue
		}
		if s.acked[e.Name()] {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "source: read %s", e.Name())
		}
		files = append(files, File{Name: e.Name(), Data: data})
	}
	return files, nil
}

func (s *DirSource) Ack(name string) {
	s.acked[name] = true
}
