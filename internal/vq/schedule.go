package vq

// ReinitSchedule decides at which epochs the codebook is replaced.
// Re-seeding from real encoder outputs early in training keeps a randomly
// initialized codebook from collapsing onto a handful of embeddings.
type ReinitSchedule struct {
	// InitEpochs is the last epoch (0-based, inclusive) at which a
	// re-initialization may happen.
	InitEpochs int
	// Interval is the spacing between re-initializations. Zero or negative
	// disables the schedule.
	Interval int
}

// Due reports whether the codebook should be replaced after epoch finishes.
func (s ReinitSchedule) Due(epoch int) bool {
	if s.Interval <= 0 || epoch < 0 {
		return false
	}
	return epoch <= s.InitEpochs && epoch%s.Interval == 0
}
