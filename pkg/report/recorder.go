package report

import (
	"sync"

	"perpsim/pkg/utility/fixed"
)

// Recorder collects realized trade results as they happen. It is wired to
// the engine's close listener, which may fire from any request goroutine.
type Recorder struct {
	mu   sync.Mutex
	pnls []fixed.Point
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Add(realized fixed.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pnls = append(r.pnls, realized)
}

func (r *Recorder) Pnls() []fixed.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fixed.Point(nil), r.pnls...)
}
