package storage

import "fmt"

// IOStats counts page transfers between a paged file and the disk.
type IOStats struct {
	Reads  int `json:"reads"`
	Writes int `json:"writes"`
}

// Add returns the element-wise sum of s and o.
func (s IOStats) Add(o IOStats) IOStats {
	return IOStats{Reads: s.Reads + o.Reads, Writes: s.Writes + o.Writes}
}

// Sub returns the element-wise difference s - o.
func (s IOStats) Sub(o IOStats) IOStats {
	return IOStats{Reads: s.Reads - o.Reads, Writes: s.Writes - o.Writes}
}

// Total returns reads + writes.
func (s IOStats) Total() int {
	return s.Reads + s.Writes
}

func (s IOStats) String() string {
	return fmt.Sprintf("reads=%d writes=%d", s.Reads, s.Writes)
}
