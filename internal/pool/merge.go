package pool

import (
	"fmt"
	"maps"
	"slices"
)

// Merged maps member index to task id to decoded result.
type Merged[T any] map[int]map[int]T

// MergeResults decodes every message of every batch as a task-id keyed
// mapping and merges them per member. The result does not depend on the
// order in which members finished.
func MergeResults[T any](batches []Batch) (Merged[T], error) {
	out := make(Merged[T], len(batches))
	for _, b := range batches {
		tasks := out[b.Index]
		if tasks == nil {
			tasks = make(map[int]T)
			out[b.Index] = tasks
		}
		for i, m := range b.Messages {
			var results map[int]T
			if err := m.Decode(&results); err != nil {
				return nil, fmt.Errorf("member %d message %d: %w", b.Index, i, err)
			}
			for id, v := range results {
				tasks[id] = v
			}
		}
	}
	return out, nil
}

// Flatten returns every task result of m keyed by task id. On duplicate ids
// the member with the higher index wins.
func (m Merged[T]) Flatten() map[int]T {
	out := make(map[int]T)
	for _, idx := range slices.Sorted(maps.Keys(m)) {
		for id, v := range m[idx] {
			out[id] = v
		}
	}
	return out
}
