package cart

import (
	"context"
	"errors"
	"time"

	"food-ordering-kiosk/internal/entity"
)

// pendingWrite is a debounced quantity update waiting for its window to close.
type pendingWrite struct {
	userID   string
	key      entity.LineKey
	quantity int
	gen      uint64
	timer    *time.Timer
}

// scheduleLocked (re)arms the write for key with the latest quantity. Caller holds s.mu.
func (s *Synchronizer) scheduleLocked(userID string, key entity.LineKey, quantity int) {
	id := key.String()
	if p, ok := s.pending[id]; ok {
		p.timer.Stop()
	}
	p := &pendingWrite{userID: userID, key: key, quantity: quantity, gen: s.generation}
	p.timer = time.AfterFunc(s.cfg.DebounceWindow, func() {
		s.mu.Lock()
		if s.pending[id] != p {
			s.mu.Unlock()
			return
		}
		delete(s.pending, id)
		s.mu.Unlock()

		s.bg.Add(1)
		defer s.bg.Done()
		if err := s.write(context.Background(), p); err != nil {
			s.logger.Error().Err(err).Msgf("Error writing quantity for %s", key)
		}
	})
	s.pending[id] = p
}

// cancelPendingLocked drops matching writes without sending them. Caller holds s.mu.
func (s *Synchronizer) cancelPendingLocked(match func(*pendingWrite) bool) {
	for id, p := range s.pending {
		if match(p) {
			p.timer.Stop()
			delete(s.pending, id)
		}
	}
}

// flushKeys sends matching writes now instead of waiting for their timers.
func (s *Synchronizer) flushKeys(ctx context.Context, match func(*pendingWrite) bool) error {
	s.mu.Lock()
	var due []*pendingWrite
	for id, p := range s.pending {
		if match(p) {
			p.timer.Stop()
			delete(s.pending, id)
			due = append(due, p)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, p := range due {
		if err := s.write(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush sends every pending quantity write.
func (s *Synchronizer) Flush(ctx context.Context) error {
	return s.flushKeys(ctx, func(*pendingWrite) bool { return true })
}

// write persists one debounced quantity. On failure the view is reloaded from
// the remote table, since the optimistic quantity was never stored.
func (s *Synchronizer) write(ctx context.Context, p *pendingWrite) error {
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		if err := s.awaitClear(ctx, p.userID); err != nil {
			return err
		}
		return s.store.SetCartLineQuantity(ctx, p.userID, p.key, p.quantity)
	})
	if err == nil {
		s.publish(p.userID, entity.ChangeUpdate)
		return nil
	}

	s.mu.Lock()
	current := s.generation == p.gen
	s.mu.Unlock()
	if current {
		if lerr := s.Load(context.Background()); lerr != nil {
			s.logger.Error().Err(lerr).Msg("Error resyncing cart after failed quantity write")
		}
	}
	return err
}
