package ingest

import (
	"fmt"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/types"
)

// Observer is told about every state transition of a run.
type Observer func(state types.State, message string)

var transitions = map[types.State][]types.State{
	types.StatePending:         {types.StateFetchingTree, types.StateProcessingFiles, types.StateDone, types.StateFailed},
	types.StateFetchingTree:    {types.StateProcessingFiles, types.StateFailed},
	types.StateProcessingFiles: {types.StateEmbedding, types.StateFailed},
	types.StateEmbedding:       {types.StateStoring, types.StateFailed},
	types.StateStoring:         {types.StateDone, types.StateFailed},
}

// machine enforces the run lifecycle. Forum runs enter at PROCESSING_FILES;
// skipped runs go straight from PENDING to DONE.
type machine struct {
	state    types.State
	observer Observer
}

func newMachine(obs Observer) *machine {
	return &machine{state: types.StatePending, observer: obs}
}

func (m *machine) to(next types.State, message string) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			if m.observer != nil {
				m.observer(next, message)
			}
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", m.state, next)
}
