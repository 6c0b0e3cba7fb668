package stream

import (
	"sort"
	"time"
)

type Stats struct {
	SessionID      string `json:"session_id"`
	Kind           Kind   `json:"kind"`
	State          State  `json:"state"`
	BytesWritten   uint64 `json:"bytes_written"`
	StartTime      int64  `json:"start_time"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
	IdleSeconds    int64  `json:"idle_seconds"`
	TempPath       string `json:"temp_path"`
}

func (s *Service) GetState(sessionID string, kind Kind) State {
	h, ok := s.table.Load(key{sessionID, kind})
	if !ok {
		return Closed
	} else if state := h.state.Load(); state == nil {
		return Closed
	} else {
		return *state
	}
}

func (s *Service) GetStats(sessionID string, kind Kind) (*Stats, bool) {
	h, ok := s.table.Load(key{sessionID, kind})
	if !ok || h.state.Load() == closedPtr {
		return nil, false
	}
	return h.stats(), true
}

// ListStats returns the stats of every open stream, optionally limited to one session.
func (s *Service) ListStats(sessionID string) []*Stats {
	list := make([]*Stats, 0)
	s.table.Range(func(k key, h *handle) bool {
		if sessionID != "" && k.sessionID != sessionID {
			return true
		}
		if h.state.Load() == closedPtr {
			return true
		}
		list = append(list, h.stats())
		return true
	})
	sort.Slice(list, func(i, j int) bool {
		if list[i].SessionID != list[j].SessionID {
			return list[i].SessionID < list[j].SessionID
		}
		return list[i].Kind < list[j].Kind
	})
	return list
}

func (s *Service) ActiveStreams() int {
	return s.table.Size()
}

func (h *handle) stats() *Stats {
	return &Stats{
		SessionID:      h.sessionID,
		Kind:           h.kind,
		State:          *h.state.Load(),
		BytesWritten:   h.bytesWritten.Load(),
		StartTime:      h.startTime.Unix(),
		ElapsedSeconds: int64(time.Since(h.startTime).Seconds()),
		IdleSeconds:    int64(h.idle().Seconds()),
		TempPath:       h.tempPath,
	}
}
