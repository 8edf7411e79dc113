package metrics

import (
	"cmp"
	"encoding/json"
	"slices"
)

// Sorted returns the snapshot as a list ordered by path.
func (m *Manager) Sorted() []*MetricSnapshot {
	out := make([]*MetricSnapshot, 0)
	for _, s := range m.GetSnapshot() {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *MetricSnapshot) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.Type, b.Type))
	})
	return out
}

// JSON renders the sorted snapshot, indented for humans.
func (m *Manager) JSON() ([]byte, error) {
	return json.MarshalIndent(m.Sorted(), "", "  ")
}
