// Package shapefile holds helpers shared by the go-shp readers and writers.
package shapefile

import (
	"errors"
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
)

// Close closes w, created at path, and moves its attribute table to
// "<base>.dbf". go-shp v0.1.1 writes the table as "<base>dbf", which
// shp.Open (and every other reader) does not find.
func Close(w *shp.Writer, path string) error {
	w.Close()

	base := strings.TrimSuffix(path, ".shp")
	err := os.Rename(base+"dbf", base+".dbf")
	if errors.Is(err, os.ErrNotExist) {
		// Already written with the dot, or no fields were set.
		return nil
	}
	return eris.Wrapf(err, "shapefile: rename attribute table of %s", path)
}
