package model

// GlobalModelState is the server-side model at the end of a round.
// Round 0 is the freshly initialised model; every completed round yields a new value.
type GlobalModelState struct {
	Round   int             `toml:"round" json:"round"`
	Weights ParameterVector `toml:"weights" json:"weights"`
}

// Clone returns a copy whose weights share no memory with s.
func (s GlobalModelState) Clone() GlobalModelState {
	return GlobalModelState{
		Round:   s.Round,
		Weights: s.Weights.Clone(),
	}
}

// LocalResult is what one client hands back to the coordinator after local training.
type LocalResult struct {
	ClientID    string
	Weights     ParameterVector
	NumExamples int
	Loss        float64
}
