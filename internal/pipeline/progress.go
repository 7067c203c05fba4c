package pipeline

import (
	"sync"
	"time"
)

// Stage names a phase of a run.
type Stage string

const (
	StageSegmenting  Stage = "segmenting"
	StageEnriching   Stage = "enriching"
	StageDispatching Stage = "dispatching"
	StageAggregating Stage = "aggregating"
	StageDone        Stage = "done"
)

// Event is one progress notification. Percent strictly increases within a
// run; an update that would not advance it is not delivered.
type Event struct {
	Stage      Stage         `json:"stage"`
	Percent    float64       `json:"percent"`
	Message    string        `json:"message"`
	UnitsDone  int           `json:"unitsDone"`
	UnitsTotal int           `json:"unitsTotal"`
	Elapsed    time.Duration `json:"elapsedNs"`
}

// ProgressSink receives events. It is called from the dispatching
// goroutines but never concurrently.
type ProgressSink func(Event)

// stage spans within the 0-100 range.
var stageSpan = map[Stage][2]float64{
	StageSegmenting:  {0, 10},
	StageEnriching:   {10, 25},
	StageDispatching: {25, 95},
	StageAggregating: {95, 100},
	StageDone:        {100, 100},
}

type progress struct {
	mu    sync.Mutex
	sink  ProgressSink
	start time.Time
	last  float64
	sent  bool
	total int
	done  int
}

func newProgress(sink ProgressSink) *progress {
	return &progress{sink: sink, start: time.Now()}
}

// emit reports frac (0..1) of stage.
func (p *progress) emit(stage Stage, frac float64, msg string) {
	if p == nil || p.sink == nil {
		return
	}
	span := stageSpan[stage]
	frac = min(max(frac, 0), 1)
	pct := span[0] + (span[1]-span[0])*frac

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent && pct <= p.last {
		return
	}
	p.sent = true
	p.last = pct
	p.sink(Event{
		Stage:      stage,
		Percent:    pct,
		Message:    msg,
		UnitsDone:  p.done,
		UnitsTotal: p.total,
		Elapsed:    time.Since(p.start),
	})
}

func (p *progress) setTotal(n int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.total = n
	p.mu.Unlock()
}

// unitDone counts a finished unit and reports dispatch progress.
func (p *progress) unitDone(msg string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.done++
	frac := 1.0
	if p.total > 0 {
		frac = float64(p.done) / float64(p.total)
	}
	p.mu.Unlock()
	p.emit(StageDispatching, frac, msg)
}
