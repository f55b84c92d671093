package supervisor

import (
	"context"
	"math/rand"
	"time"

	"github.com/meshworks/relay/pkg/metrics"
	"github.com/meshworks/relay/pkg/types"
)

const (
	retryInitial = 1 * time.Second
	retryFactor  = 2
	retryCap     = 60 * time.Second
	retryJitter  = 0.2
)

// backoffState tracks one instance's pending reconnect
type backoffState struct {
	attempts int
	nextTry  time.Time
}

// retryLoop reconnects errored instances with exponential backoff.
// One scan per second; each due instance connects on its own goroutine
// so a slow PerformConnect never delays the others.
func (s *Supervisor) retryLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	pending := make(map[string]*backoffState)
	inflight := make(map[string]bool)
	done := make(chan retryResult)

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			for _, inst := range s.Registry.List() {
				id := inst.ID()
				if inflight[id] {
					continue
				}
				if inst.Status().Status != types.StatusError {
					delete(pending, id)
					continue
				}
				if cfg, ok := s.Registry.ConfigFor(id); ok && !cfg.IsEnabled() {
					continue
				}
				state, ok := pending[id]
				if !ok {
					state = &backoffState{nextTry: now}
					pending[id] = state
				}
				if now.Before(state.nextTry) {
					continue
				}
				inflight[id] = true
				metrics.ReconnectAttemptsTotal.WithLabelValues(id).Inc()
				go func(inst interface {
					Connect(context.Context) error
				}, id string) {
					err := inst.Connect(context.Background())
					done <- retryResult{id: id, err: err}
				}(inst, id)
			}

		case res := <-done:
			delete(inflight, res.id)
			state := pending[res.id]
			if res.err == nil {
				delete(pending, res.id)
				s.logger.Info().Str("connector_id", res.id).Msg("reconnected")
				continue
			}
			if state == nil {
				state = &backoffState{}
				pending[res.id] = state
			}
			state.attempts++
			delay := backoffDelay(state.attempts)
			state.nextTry = time.Now().Add(delay)
			s.logger.Warn().Err(res.err).Str("connector_id", res.id).
				Int("attempt", state.attempts).Dur("next_try_in", delay).
				Msg("reconnect failed")

		case <-s.stopCh:
			return
		}
	}
}

type retryResult struct {
	id  string
	err error
}

// backoffDelay is initial * factor^(attempts-1), capped, with ±20% jitter
func backoffDelay(attempts int) time.Duration {
	delay := retryInitial
	for i := 1; i < attempts && delay < retryCap; i++ {
		delay *= retryFactor
	}
	if delay > retryCap {
		delay = retryCap
	}
	jitter := 1 + retryJitter*(2*rand.Float64()-1)
	return time.Duration(float64(delay) * jitter)
}
