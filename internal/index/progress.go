package index

import "sync/atomic"

// State names the rebuild pipeline's current phase.
type State int32

const (
	StateIdle State = iota
	StateFetchingTree
	StateWalking
	StateFetchingFiles
	StateAssembling
	StateCommitting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingTree:
		return "fetching-tree"
	case StateWalking:
		return "walking"
	case StateFetchingFiles:
		return "fetching-files"
	case StateAssembling:
		return "assembling"
	case StateCommitting:
		return "committing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Progress tracks processed/total counters for the UI. Within one rebuild the
// counters only ever increase; they reset when a new rebuild starts or the
// current one fails.
type Progress struct {
	processed atomic.Int64
	total     atomic.Int64
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() (processed, total int64) {
	return p.processed.Load(), p.total.Load()
}

func (p *Progress) reset() {
	p.processed.Store(0)
	p.total.Store(0)
}

func (p *Progress) setTotal(n int64) {
	p.total.Store(n)
}

// mark counts one file as handled, success or failure alike.
func (p *Progress) mark() {
	p.processed.Add(1)
}
