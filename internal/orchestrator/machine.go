package orchestrator

import "fmt"

// Phase is a state of the per-turn machine.
type Phase string

const (
	PhaseStart               Phase = "start"
	PhaseRouting             Phase = "routing"
	PhaseDispatching         Phase = "dispatching"
	PhaseAwaitingAgentResult Phase = "awaiting_agent_result"
	PhaseTerminal            Phase = "terminal"
)

var allowed = map[Phase][]Phase{
	PhaseStart:               {PhaseRouting},
	PhaseRouting:             {PhaseDispatching, PhaseTerminal},
	PhaseDispatching:         {PhaseAwaitingAgentResult},
	PhaseAwaitingAgentResult: {PhaseRouting, PhaseTerminal},
}

// machine records the phases a turn goes through and rejects transitions
// outside the table.
type machine struct {
	trace []Phase
}

func newMachine() *machine { return &machine{trace: []Phase{PhaseStart}} }

func (m *machine) current() Phase { return m.trace[len(m.trace)-1] }

func (m *machine) to(next Phase) error {
	from := m.current()
	for _, p := range allowed[from] {
		if p == next {
			m.trace = append(m.trace, next)
			return nil
		}
	}
	return fmt.Errorf("%w: transition %s -> %s", ErrStateInconsistent, from, next)
}

// Trace returns a copy of the visited phases.
func (m *machine) Trace() []Phase { return append([]Phase(nil), m.trace...) }
