package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/mirror"
	"food-ordering-kiosk/internal/pricing"
	"food-ordering-kiosk/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const cartTable = "cart_items"

// Synchronizer presents one cart view to the UI and keeps it consistent with
// the local mirror, the device fallback and the remote cart table.
//
// A nil Store means the deployment has no remote cart table (kiosk mode); every
// session then stays local. The fallback only ever holds the anonymous cart.
type Synchronizer struct {
	cfg      Config
	store    Store
	mirror   *mirror.Mirror
	fallback Fallback
	pub      Publisher
	logger   zerolog.Logger

	mu         sync.Mutex
	userID     string
	lines      []entity.CartLine
	generation uint64
	version    uint64
	loadingFor uint64
	loading    bool
	adding     bool
	removing   bool
	pending    map[string]*pendingWrite
	reconcile  *time.Timer
	watchers   map[int]chan []entity.CartLine
	nextWatch  int
	clearing   map[string]chan struct{}

	bg sync.WaitGroup
}

func NewSynchronizer(cfg Config, store Store, m *mirror.Mirror, fb Fallback, pub Publisher, logger zerolog.Logger) *Synchronizer {
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 10 * time.Second
	}
	if fb == nil {
		cfg.FallbackEnabled = false
	}
	return &Synchronizer{
		cfg:      cfg,
		store:    store,
		mirror:   m,
		fallback: fb,
		pub:      pub,
		logger:   logger.With().Str("component", "cart").Logger(),
		pending:  map[string]*pendingWrite{},
		watchers: map[int]chan []entity.CartLine{},
		clearing: map[string]chan struct{}{},
	}
}

func (s *Synchronizer) remote(userID string) bool {
	return userID != "" && s.store != nil
}

func (s *Synchronizer) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Lines returns a copy of the current cart view.
func (s *Synchronizer) Lines() []entity.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := entity.CloneLines(s.lines)
	if out == nil {
		out = []entity.CartLine{}
	}
	return out
}

// Snapshot is the cart as order submission sees it.
func (s *Synchronizer) Snapshot() []entity.CartLine {
	return s.Lines()
}

func (s *Synchronizer) TotalPrice() decimal.Decimal {
	return pricing.TotalPrice(s.Lines())
}

// TotalItems counts distinct lines, not quantities.
func (s *Synchronizer) TotalItems() int {
	return pricing.TotalItems(s.Lines())
}

func (s *Synchronizer) Summary() pricing.Summary {
	return pricing.Summarize(s.Lines(), s.cfg.TaxRate)
}

func (s *Synchronizer) TaxRate() decimal.Decimal {
	return s.cfg.TaxRate
}

// Subscribe returns a channel that receives the cart view after every change.
// Slow readers only see the latest view.
func (s *Synchronizer) Subscribe() (<-chan []entity.CartLine, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatch
	s.nextWatch++
	ch := make(chan []entity.CartLine, 1)
	s.watchers[id] = ch
	ch <- entity.CloneLines(s.lines)

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
	}
}

// setLocked replaces the view, writes it through to the mirror and notifies
// subscribers. Caller holds s.mu for this and the other *Locked methods.
func (s *Synchronizer) setLocked(lines []entity.CartLine) {
	if lines == nil {
		lines = []entity.CartLine{}
	}
	s.lines = lines
	s.mirror.Set(s.userID, lines)
	s.notifyLocked()
}

func (s *Synchronizer) notifyLocked() {
	lines := s.lines
	for _, ch := range s.watchers {
		view := entity.CloneLines(lines)
		select {
		case ch <- view:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- view:
			default:
			}
		}
	}
}

func (s *Synchronizer) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("remote cart timed out after %s: %w", s.cfg.RemoteTimeout, err)
		}
		return err
	}
	return nil
}

// awaitClear blocks until a background ClearCart for userID has finished, so
// remote calls issued after a clear are never overtaken by it.
func (s *Synchronizer) awaitClear(ctx context.Context, userID string) error {
	s.mu.Lock()
	done := s.clearing[userID]
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetUser switches the session to userID (empty for anonymous) and loads its cart.
// The previous session's mirror entry is removed so no cart leaks across users.
func (s *Synchronizer) SetUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	same := s.userID == userID
	s.mu.Unlock()
	if same {
		return s.Load(ctx)
	}

	if err := s.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Pending cart writes failed before session switch")
	}

	s.mu.Lock()
	prev := s.userID
	s.mirror.Invalidate(prev)
	s.switchLocked(userID)
	s.mu.Unlock()

	s.logger.Info().Str("user_id", userID).Msg("Cart session changed")
	return s.Load(ctx)
}

// Logout drops the user's cached cart and returns to an anonymous session.
func (s *Synchronizer) Logout(ctx context.Context) error {
	return s.SetUser(ctx, "")
}

// switchLocked resets per-session state. Caller holds s.mu.
func (s *Synchronizer) switchLocked(userID string) {
	s.cancelPendingLocked(func(*pendingWrite) bool { return true })
	if s.reconcile != nil {
		s.reconcile.Stop()
		s.reconcile = nil
	}
	s.generation++
	s.userID = userID
	s.lines = []entity.CartLine{}
	s.notifyLocked()
}

// Load refreshes the view. A load already in flight for the same session makes
// this call a no-op.
func (s *Synchronizer) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.loading && s.loadingFor == s.generation {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.loadingFor = s.generation
	gen := s.generation
	userID := s.userID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.loadingFor == gen {
			s.loading = false
		}
		s.mu.Unlock()
	}()

	if !s.remote(userID) {
		return s.loadLocal(ctx, gen, userID)
	}

	// Serve the cached copy right away; the authoritative read below still runs.
	if cached, ok := s.mirror.Get(userID); ok {
		s.replace(gen, 0, cached, false)
	}

	s.mu.Lock()
	version := s.version
	s.mu.Unlock()

	var lines []entity.CartLine
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		if err := s.awaitClear(ctx, userID); err != nil {
			return err
		}
		var err error
		lines, err = s.store.ListCartLines(ctx, userID)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Msgf("Error loading cart for user %s", userID)
		return err
	}

	if len(lines) == 0 && s.cfg.FallbackEnabled {
		migrated, err := s.migrate(ctx, userID)
		if err != nil {
			return err
		}
		if migrated != nil {
			lines = migrated
		}
	}

	s.replace(gen, version, lines, true)
	return nil
}

func (s *Synchronizer) loadLocal(ctx context.Context, gen uint64, userID string) error {
	if userID == "" && s.cfg.FallbackEnabled {
		lines, err := s.fallback.Load(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Error loading device cart")
			return err
		}
		s.replace(gen, 0, lines, false)
		return nil
	}
	if cached, ok := s.mirror.Get(userID); ok && len(cached) > 0 {
		s.replace(gen, 0, cached, false)
		return nil
	}
	if userID != "" && s.cfg.FallbackEnabled {
		return s.adoptDeviceCart(ctx, gen, userID)
	}
	return nil
}

// adoptDeviceCart hands the anonymous device cart to a signed-in user whose
// cart lives only on this device. The device copy is cleared once the user's
// view holds the lines, so they are carried over once.
func (s *Synchronizer) adoptDeviceCart(ctx context.Context, gen uint64, userID string) error {
	local, err := s.fallback.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Could not read device cart for signed-in session")
		return nil
	}
	if len(local) == 0 {
		return nil
	}
	for i := range local {
		local[i].UserID = userID
	}
	if !s.replace(gen, 0, local, false) {
		return nil
	}
	if err := s.fallback.Clear(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error clearing device cart after sign-in")
	}
	s.logger.Info().Msgf("Carried %d device cart lines into session for user %s", len(local), userID)
	return nil
}

// replace installs loaded lines unless the session changed meanwhile. With
// checkVersion set, a local mutation made during the load wins over the read.
func (s *Synchronizer) replace(gen, version uint64, lines []entity.CartLine, checkVersion bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	if checkVersion && version != s.version {
		s.logger.Debug().Msg("Cart changed locally during load, keeping optimistic view")
		return false
	}
	lines = entity.CloneLines(lines)
	// Quantities still waiting in the debouncer are newer than the remote read.
	for _, p := range s.pending {
		if idx := entity.IndexOf(lines, p.key); idx >= 0 {
			lines[idx].Quantity = p.quantity
		}
	}
	s.setLocked(lines)
	return true
}

// migrate moves the device cart into the user's empty remote cart exactly once.
// Returns nil lines when there was nothing to migrate.
func (s *Synchronizer) migrate(ctx context.Context, userID string) ([]entity.CartLine, error) {
	local, err := s.fallback.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Could not read device cart for migration")
		return nil, nil
	}
	if len(local) == 0 {
		return nil, nil
	}

	var inserted []entity.LineKey
	for _, line := range local {
		line.UserID = userID
		err := s.withTimeout(ctx, func(ctx context.Context) error {
			return s.addRemote(ctx, userID, line, line.Quantity)
		})
		if err != nil {
			s.logger.Error().Err(err).Msgf("Error migrating device cart for user %s", userID)
			s.undoMigration(ctx, userID, inserted)
			return nil, err
		}
		inserted = append(inserted, line.Key())
	}

	if err := s.fallback.Clear(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error clearing device cart after migration")
	}
	s.logger.Info().Msgf("Migrated %d device cart lines for user %s", len(local), userID)
	s.publish(userID, entity.ChangeInsert)

	var lines []entity.CartLine
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		lines, err = s.store.ListCartLines(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// undoMigration deletes the rows a failed migration already inserted so the
// next load finds an empty remote cart and retries from the device copy.
func (s *Synchronizer) undoMigration(ctx context.Context, userID string, keys []entity.LineKey) {
	for _, key := range keys {
		err := s.withTimeout(ctx, func(ctx context.Context) error {
			return s.store.DeleteCartLine(ctx, userID, key)
		})
		if err != nil {
			s.logger.Error().Err(err).Msgf("Error undoing migrated line %s", key)
		}
	}
}

// addRemote increments the remote row for the line's key, inserting it when
// missing. A duplicate-key insert means another tap or device won the race,
// so it falls back to the increment path.
func (s *Synchronizer) addRemote(ctx context.Context, userID string, line entity.CartLine, delta int) error {
	key := line.Key()
	existing, err := s.store.FindCartLine(ctx, userID, key)
	if err == nil {
		return s.store.SetCartLineQuantity(ctx, userID, key, existing.Quantity+delta)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	line.Quantity = delta
	err = s.store.InsertCartLine(ctx, userID, line)
	if !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	s.logger.Debug().Msgf("Duplicate cart line %s, switching to update", key)
	existing, err = s.store.FindCartLine(ctx, userID, key)
	if err != nil {
		return err
	}
	return s.store.SetCartLineQuantity(ctx, userID, key, existing.Quantity+delta)
}

// mutate is the single optimistic-update primitive: apply the change to the
// view, persist it (remote op for authenticated sessions, device store for
// anonymous ones) and restore the previous view if persisting fails.
func (s *Synchronizer) mutate(ctx context.Context, change func([]entity.CartLine) []entity.CartLine, remoteOp func(ctx context.Context, userID string) error, kind entity.ChangeType) error {
	s.mu.Lock()
	gen := s.generation
	userID := s.userID
	before := entity.CloneLines(s.lines)
	after := change(entity.CloneLines(s.lines))
	s.version++
	s.setLocked(after)
	s.mu.Unlock()

	var err error
	switch {
	case s.remote(userID):
		err = s.withTimeout(ctx, func(ctx context.Context) error {
			if err := s.awaitClear(ctx, userID); err != nil {
				return err
			}
			return remoteOp(ctx, userID)
		})
		if err == nil {
			s.publish(userID, kind)
		}
	case userID == "" && s.cfg.FallbackEnabled:
		err = s.fallback.Save(ctx, after)
	}
	if err == nil {
		return nil
	}

	s.mu.Lock()
	if gen == s.generation {
		s.setLocked(before)
	}
	s.mu.Unlock()
	return err
}

// AddToCart adds quantity of an item (and optional size) to the cart.
func (s *Synchronizer) AddToCart(ctx context.Context, req AddRequest) error {
	line, err := req.line()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.adding {
		s.mu.Unlock()
		return ErrBusy
	}
	s.adding = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.adding = false
		s.mu.Unlock()
	}()

	key := line.Key()
	// A debounced write for this key must land before the increment reads it.
	if err := s.flushKeys(ctx, func(p *pendingWrite) bool { return p.key.Equal(key) }); err != nil {
		return err
	}

	delta := line.Quantity
	err = s.mutate(ctx, func(lines []entity.CartLine) []entity.CartLine {
		if idx := entity.IndexOf(lines, key); idx >= 0 {
			lines[idx].Quantity += delta
			return lines
		}
		return append(lines, line)
	}, func(ctx context.Context, userID string) error {
		l := line
		l.UserID = userID
		return s.addRemote(ctx, userID, l, delta)
	}, entity.ChangeInsert)
	if err != nil {
		s.logger.Error().Err(err).Msgf("Error adding %s to cart", key)
	}
	return err
}

// UpdateQuantity sets the quantity of one line. Non-positive quantities remove
// it. Remote writes are debounced per key and carry the latest quantity.
func (s *Synchronizer) UpdateQuantity(ctx context.Context, key entity.LineKey, quantity int) error {
	if quantity <= 0 {
		return s.RemoveFromCart(ctx, key)
	}

	s.mu.Lock()
	idx := entity.IndexOf(s.lines, key)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLineNotFound, key)
	}
	if userID := s.userID; s.remote(userID) {
		lines := entity.CloneLines(s.lines)
		lines[idx].Quantity = quantity
		s.version++
		s.setLocked(lines)
		s.scheduleLocked(userID, key, quantity)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// The session may have switched to a remote one since the check above;
	// mutate then writes the quantity straight through.
	return s.mutate(ctx, func(lines []entity.CartLine) []entity.CartLine {
		if idx := entity.IndexOf(lines, key); idx >= 0 {
			lines[idx].Quantity = quantity
		}
		return lines
	}, func(ctx context.Context, userID string) error {
		return s.store.SetCartLineQuantity(ctx, userID, key, quantity)
	}, entity.ChangeUpdate)
}

func (s *Synchronizer) beginRemove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removing {
		return ErrBusy
	}
	s.removing = true
	return nil
}

func (s *Synchronizer) endRemove() {
	s.mu.Lock()
	s.removing = false
	s.mu.Unlock()
}

// RemoveFromCart removes exactly one (food item, size) line.
func (s *Synchronizer) RemoveFromCart(ctx context.Context, key entity.LineKey) error {
	if err := s.beginRemove(); err != nil {
		return err
	}
	defer s.endRemove()

	s.mu.Lock()
	s.cancelPendingLocked(func(p *pendingWrite) bool { return p.key.Equal(key) })
	s.mu.Unlock()

	err := s.mutate(ctx, func(lines []entity.CartLine) []entity.CartLine {
		out := lines[:0]
		for _, l := range lines {
			if !l.Key().Equal(key) {
				out = append(out, l)
			}
		}
		return out
	}, func(ctx context.Context, userID string) error {
		return s.store.DeleteCartLine(ctx, userID, key)
	}, entity.ChangeDelete)
	if err != nil {
		s.logger.Error().Err(err).Msgf("Error removing %s from cart", key)
	}
	return err
}

// RemoveFoodItem removes every size variant of a food item.
func (s *Synchronizer) RemoveFoodItem(ctx context.Context, foodItemID string) error {
	if err := s.beginRemove(); err != nil {
		return err
	}
	defer s.endRemove()

	s.mu.Lock()
	s.cancelPendingLocked(func(p *pendingWrite) bool { return p.key.FoodItemID == foodItemID })
	s.mu.Unlock()

	err := s.mutate(ctx, func(lines []entity.CartLine) []entity.CartLine {
		out := lines[:0]
		for _, l := range lines {
			if l.FoodItemID != foodItemID {
				out = append(out, l)
			}
		}
		return out
	}, func(ctx context.Context, userID string) error {
		return s.store.DeleteFoodItemLines(ctx, userID, foodItemID)
	}, entity.ChangeDelete)
	if err != nil {
		s.logger.Error().Err(err).Msgf("Error removing food item %s from cart", foodItemID)
	}
	return err
}

// ClearCart empties the view and the device cart immediately. The remote delete
// runs in the background; its failure is logged.
func (s *Synchronizer) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	s.cancelPendingLocked(func(*pendingWrite) bool { return true })
	userID := s.userID
	s.version++
	s.setLocked(nil)
	s.mu.Unlock()

	if userID == "" && s.cfg.FallbackEnabled {
		if err := s.fallback.Clear(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error clearing device cart")
			return err
		}
	}

	if s.remote(userID) {
		// Later remote calls for this user wait on done; clears queue behind
		// each other.
		s.mu.Lock()
		prev := s.clearing[userID]
		done := make(chan struct{})
		s.clearing[userID] = done
		s.mu.Unlock()

		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			defer func() {
				s.mu.Lock()
				if s.clearing[userID] == done {
					delete(s.clearing, userID)
				}
				s.mu.Unlock()
				close(done)
			}()
			if prev != nil {
				<-prev
			}
			err := s.withTimeout(context.Background(), func(ctx context.Context) error {
				return s.store.ClearCart(ctx, userID)
			})
			if err != nil {
				s.logger.Error().Err(err).Msgf("Error clearing remote cart for user %s", userID)
				return
			}
			s.publish(userID, entity.ChangeDelete)
		}()
	}
	return nil
}

// HandleChange reacts to a change notification from another device. Bursts are
// coalesced into one reload after ReconcileWindow.
func (s *Synchronizer) HandleChange(evt entity.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.Table != cartTable || evt.Origin == s.cfg.Origin || evt.UserID == "" || evt.UserID != s.userID {
		return
	}
	if s.reconcile != nil {
		s.reconcile.Reset(s.cfg.ReconcileWindow)
		return
	}
	gen := s.generation
	s.reconcile = time.AfterFunc(s.cfg.ReconcileWindow, func() {
		s.mu.Lock()
		s.reconcile = nil
		current := s.generation == gen
		s.mu.Unlock()
		if !current {
			return
		}
		if err := s.Load(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Error reconciling cart after remote change")
		}
	})
}

func (s *Synchronizer) publish(userID string, kind entity.ChangeType) {
	if s.pub == nil {
		return
	}
	evt := entity.ChangeEvent{
		Table:  cartTable,
		Type:   kind,
		UserID: userID,
		Origin: s.cfg.Origin,
		At:     time.Now().UTC(),
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		err := s.withTimeout(context.Background(), func(ctx context.Context) error {
			return s.pub.PublishChange(ctx, evt)
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Error publishing cart change")
		}
	}()
}

// Close writes pending quantities, stops timers and waits for background work.
func (s *Synchronizer) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.mu.Lock()
	if s.reconcile != nil {
		s.reconcile.Stop()
		s.reconcile = nil
	}
	s.mu.Unlock()
	s.bg.Wait()
	return err
}
