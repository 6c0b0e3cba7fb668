package stream

import (
	"context"
	"os"
	"time"
)

func (s *Service) expireIdlePeriodically(ctx context.Context, maxIdle time.Duration) {
	ticker := time.NewTicker(min(maxIdle, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.ExpireIdle(maxIdle); n > 0 {
				logger.Infof("expired %d idle streams", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ExpireIdle finalizes every open stream without a write for maxIdle and deletes
// its temp file. It returns how many streams were expired.
func (s *Service) ExpireIdle(maxIdle time.Duration) int {
	expired := 0
	s.table.Range(func(k key, h *handle) bool {
		if h.state.Load() != openPtr || h.idle() < maxIdle {
			return true
		}
		if s.expire(k, h, maxIdle) {
			expired++
		}
		return true
	})
	return expired
}

// expire closes h only if it is still open and idle once its mutex is held, so an
// append that was in flight during the scan keeps the stream alive.
func (s *Service) expire(k key, h *handle, maxIdle time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	idle := h.idle()
	if idle < maxIdle || !h.state.CompareAndSwap(openPtr, finalizingPtr) {
		return false
	}

	l := logger.WithField("session", k.sessionID).WithField("kind", k.kind)
	if err := h.pipe.Close(); err != nil {
		l.Warnf("error closing idle stream: %v", err)
	}
	s.table.Delete(k)
	s.live.Delete(h.tempPath)
	h.state.Store(closedPtr)

	if err := os.Remove(h.tempPath); err != nil && !os.IsNotExist(err) {
		l.Warnf("cannot remove idle stream file %s: %v", h.tempPath, err)
	}
	l.Infof("stream idle for %v, expired", idle.Round(time.Second))
	return true
}
