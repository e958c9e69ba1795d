package types

// State is the lifecycle state of an ingestion run.
type State string

const (
	StatePending         State = "PENDING"
	StateFetchingTree    State = "FETCHING_TREE"
	StateProcessingFiles State = "PROCESSING_FILES"
	StateEmbedding       State = "EMBEDDING"
	StateStoring         State = "STORING"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
