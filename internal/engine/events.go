package engine

// Event is the closed set of messages an engine run emits on its event
// channel. A run emits zero or more Progress events followed by exactly one
// Finish or Failure, after which the channel closes.
type Event interface {
	isEvent()
}

// Progress phases, mirroring the lifecycle of a single stage.
const (
	PhaseStart  = "start"
	PhaseUpdate = "update"
	PhaseEnd    = "end"
)

// Progress reports stage-level advancement of a run.
type Progress struct {
	Phase        string // start, update or end
	Stage        string // human-readable stage name, e.g. "Translating"
	Overall      int    // overall percentage, 0-100
	PartIndex    int    // 1-based index of the current part
	TotalParts   int    // total parts in the document
	StageCurrent int    // units done within the current stage
	StageTotal   int    // total units in the current stage
}

// Finish is the successful terminal event carrying the output artifacts.
type Finish struct {
	MonoPath string
	DualPath string
}

// Failure is the unsuccessful terminal event.
type Failure struct {
	Detail string
}

func (Progress) isEvent() {}
func (Finish) isEvent()   {}
func (Failure) isEvent()  {}
