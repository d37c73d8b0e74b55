package interaction

// Phase is the run phase. It starts in Warmup and moves to Measurement
// exactly once.
type Phase int

const (
	// Warmup discards statistics while the network settles.
	Warmup Phase = iota
	// Measurement collects the statistics reported at the end of the run.
	Measurement
)

func (p Phase) String() string {
	if p == Measurement {
		return "measurement"
	}
	return "warmup"
}
