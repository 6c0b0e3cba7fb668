package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eric2788/screenrec/pkg/pipeline"
	"github.com/eric2788/screenrec/utils"
)

type State string

const (
	Closed     State = "closed"
	Open       State = "open"
	Finalizing State = "finalizing"
)

var closedPtr *State = utils.Ptr(Closed)
var openPtr *State = utils.Ptr(Open)
var finalizingPtr *State = utils.Ptr(Finalizing)

// handle is one chunked stream. Its mutex serializes appends and finalize;
// state can be read without it.
type handle struct {
	mu sync.Mutex

	sessionID string
	kind      Kind
	tempPath  string
	pipe      *pipeline.Pipe[[]byte]
	startTime time.Time

	bytesWritten atomic.Uint64
	lastWrite    atomic.Int64
	state        atomic.Pointer[State]
}

func newHandle(sessionID string, kind Kind) *handle {
	h := &handle{
		sessionID: sessionID,
		kind:      kind,
	}
	h.state.Store(closedPtr)
	return h
}

func (h *handle) touch() {
	h.lastWrite.Store(time.Now().UnixNano())
}

func (h *handle) idle() time.Duration {
	return time.Since(time.Unix(0, h.lastWrite.Load()))
}
