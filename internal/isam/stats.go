package isam

import (
	"fmt"
	"strings"

	"github.com/cabewaldrop/isamdb/internal/storage"
)

// FileStats describes one paged file.
type FileStats struct {
	Path     string
	Pages    int
	Inserted int
	Deleted  int
	IO       storage.IOStats
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	PageSize int

	Index    FileStats
	Primary  FileStats
	Overflow FileStats

	// Retired is the I/O of files replaced by reorganization.
	Retired storage.IOStats
	// Cumulative is Retired plus the I/O of the current files.
	Cumulative storage.IOStats

	Reorganizations int

	OverflowRatio     float64
	DeletionRatio     float64
	OverflowThreshold float64
	DeletionThreshold float64
	AutoReorganize    bool
}

func fileStats[R storage.Record](f *storage.PagedFile[R]) FileStats {
	return FileStats{
		Path:     f.Path(),
		Pages:    f.PageAmount(),
		Inserted: f.Inserted(),
		Deleted:  f.Deleted(),
		IO:       f.Stats(),
	}
}

// String renders the snapshot as a multi-line report.
func (s Stats) String() string {
	var b strings.Builder
	row := func(name string, f FileStats) {
		fmt.Fprintf(&b, "%-9s pages=%-4d inserted=%-5d deleted=%-5d %s\n", name, f.Pages, f.Inserted, f.Deleted, f.IO)
	}
	row("index", s.Index)
	row("primary", s.Primary)
	row("overflow", s.Overflow)
	fmt.Fprintf(&b, "retired   %s\n", s.Retired)
	fmt.Fprintf(&b, "total     %s (%d operations)\n", s.Cumulative, s.Cumulative.Total())
	fmt.Fprintf(&b, "overflow ratio %.2f/%.2f, deletion ratio %.2f/%.2f, reorganizations %d, auto %t\n",
		s.OverflowRatio, s.OverflowThreshold, s.DeletionRatio, s.DeletionThreshold, s.Reorganizations, s.AutoReorganize)
	return b.String()
}
