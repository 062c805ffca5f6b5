package logic

import "time"

// maxTraceSteps bounds the evaluation trace kept per page view.
const maxTraceSteps = 256

// TraceStep records one decision taken for a slot.
type TraceStep struct {
	At      time.Time         `json:"at"`
	SlotID  string            `json:"slot_id"`
	Stage   string            `json:"stage"`
	Outcome string            `json:"outcome"`
	Details map[string]string `json:"details,omitempty"`
}

// EvaluationTrace captures the ordered decisions made for a page view. Only
// the most recent steps are retained.
type EvaluationTrace struct {
	Steps   []TraceStep `json:"steps"`
	Dropped int         `json:"dropped,omitempty"`
}

// AddStep appends a trace entry for the given stage.
func (t *EvaluationTrace) AddStep(at time.Time, slotID, stage, outcome string) {
	t.AddStepWithDetails(at, slotID, stage, outcome, nil)
}

// AddStepWithDetails appends a trace entry with additional details.
func (t *EvaluationTrace) AddStepWithDetails(at time.Time, slotID, stage, outcome string, details map[string]string) {
	if t == nil {
		return
	}
	if len(t.Steps) >= maxTraceSteps {
		n := copy(t.Steps, t.Steps[1:])
		t.Steps = t.Steps[:n]
		t.Dropped++
	}
	t.Steps = append(t.Steps, TraceStep{At: at, SlotID: slotID, Stage: stage, Outcome: outcome, Details: details})
}

// Copy returns a deep copy of the trace.
func (t *EvaluationTrace) Copy() EvaluationTrace {
	if t == nil {
		return EvaluationTrace{}
	}
	out := EvaluationTrace{Dropped: t.Dropped, Steps: make([]TraceStep, len(t.Steps))}
	for i, s := range t.Steps {
		if s.Details != nil {
			d := make(map[string]string, len(s.Details))
			for k, v := range s.Details {
				d[k] = v
			}
			s.Details = d
		}
		out.Steps[i] = s
	}
	return out
}
