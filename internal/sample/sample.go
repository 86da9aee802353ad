// Package sample defines the presence/absence points exchanged between
// pipeline stages.
package sample

import (
	"time"

	"github.com/sells-group/habitat-cli/internal/grid"
)

// Class is the label attached to a sample.
type Class string

const (
	Presence Class = "presence"
	Absence  Class = "absence"
)

// NoRegion marks a sample that has not been through region labeling.
const NoRegion = -1

// Sample is a geographic point tagged with a class and, once labeled, a
// region id.
type Sample struct {
	Cell   grid.CellID   `json:"cell"`
	Point  grid.Point    `json:"point"`
	Class  Class         `json:"class"`
	Region int           `json:"region"`
	Dwell  time.Duration `json:"dwell,omitempty"`
}

// Cells returns the cell of every sample, in order.
func Cells(samples []Sample) []grid.CellID {
	out := make([]grid.CellID, len(samples))
	for i, s := range samples {
		out[i] = s.Cell
	}
	return out
}

// CellSet indexes the cells occupied by samples.
func CellSet(samples []Sample) map[grid.CellID]struct{} {
	set := make(map[grid.CellID]struct{}, len(samples))
	for _, s := range samples {
		set[s.Cell] = struct{}{}
	}
	return set
}

// RegionCounts counts samples per region id.
func RegionCounts(samples []Sample) map[int]int {
	counts := make(map[int]int)
	for _, s := range samples {
		counts[s.Region]++
	}
	return counts
}

// Labeled reports whether every sample carries a region id.
func Labeled(samples []Sample) bool {
	if len(samples) == 0 {
		return false
	}
	for _, s := range samples {
		if s.Region == NoRegion {
			return false
		}
	}
	return true
}
