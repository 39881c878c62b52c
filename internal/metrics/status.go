package metrics

import "sort"

// Bucket is one row of a status-code or error distribution.
type Bucket struct {
	Key   string
	Count int
}

// FlattenCounts converts a distribution map into rows sorted by descending
// count, then by key for stability.
func FlattenCounts(counts map[string]int) []Bucket {
	if len(counts) == 0 {
		return nil
	}
	rows := make([]Bucket, 0, len(counts))
	for key, count := range counts {
		rows = append(rows, Bucket{Key: key, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Key < rows[j].Key
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
