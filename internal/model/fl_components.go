package model

// Batch is an opaque unit of training data. The training backend knows its
// concrete type; the protocol only needs its example count.
type Batch interface {
	Len() int
}

// ClientDataset is one client's private partition, already cut into batches.
type ClientDataset struct {
	ClientID string
	Batches  []Batch
}

// NumExamples sums the example counts of all batches.
func (ds ClientDataset) NumExamples() int {
	n := 0
	for _, batch := range ds.Batches {
		n += batch.Len()
	}
	return n
}
