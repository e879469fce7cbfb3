package hypermap

// Stats is a point-in-time occupancy snapshot, meant for the embedder's
// capacity decisions (the map itself enforces no load policy).
type Stats struct {
	Size       int
	Occupied   int
	LoadFactor float64
}

func (m *Map) Stats() Stats {
	occupied := m.Load()

	return Stats{
		Size:       int(m.size),
		Occupied:   occupied,
		LoadFactor: float64(occupied) / float64(m.size),
	}
}
