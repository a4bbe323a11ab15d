package balanced

// Phase names a stage of generation.
type Phase string

const (
	PhaseGrowth  Phase = "growth"
	PhasePruning Phase = "pruning"
)

// Progress describes how far a generation has come.
type Progress struct {
	Phase Phase
	// Index is the number of vectors processed in this phase so far.
	Index int
	// Total is the number of vectors this phase will process.
	Total int
	// Retained is the current size of the balanced distribution.
	Retained int
	// Pruned counts members marked for removal (pruning phase only).
	Pruned int
}

// ProgressFunc observes generation progress. It is called synchronously from
// the generating goroutine and must not call back into the model.
type ProgressFunc func(Progress)

func (m *Model) report(p Progress) {
	if m.progress != nil {
		m.progress(p)
	}
}
