package cart

import (
	"context"
	"errors"
	"sync"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/repository"
)

// memStore is an in-memory cart table keyed by user and line key.
type memStore struct {
	mu    sync.Mutex
	rows  map[string][]entity.CartLine
	calls map[string]int
	// fail maps an operation name to the error it returns next.
	fail map[string]error
	// failAfter makes InsertCartLine fail once this many inserts have succeeded.
	failAfter int
	inserts   int
	// duplicateOnce makes the next insert lose a race against another device.
	duplicateOnce bool
	// gate, when set, holds FindCartLine until it is closed; entered is
	// signalled as each call starts waiting.
	gate    chan struct{}
	entered chan struct{}
	// listGate and listEntered do the same for ListCartLines.
	listGate    chan struct{}
	listEntered chan struct{}
	// clearGate holds ClearCart until it is closed.
	clearGate chan struct{}
	// block makes FindCartLine hang until its context is done.
	block bool
}

func newMemStore() *memStore {
	return &memStore{
		rows:      map[string][]entity.CartLine{},
		calls:     map[string]int{},
		fail:      map[string]error{},
		failAfter: -1,
	}
}

func (m *memStore) hit(op string) error {
	m.calls[op]++
	if err, ok := m.fail[op]; ok {
		delete(m.fail, op)
		return err
	}
	return nil
}

func (m *memStore) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memStore) failNext(op string, err error) {
	m.mu.Lock()
	m.fail[op] = err
	m.mu.Unlock()
}

func (m *memStore) setFailAfter(n int) {
	m.mu.Lock()
	m.failAfter = n
	m.inserts = 0
	m.mu.Unlock()
}

func (m *memStore) seed(userID string, lines ...entity.CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range lines {
		l.UserID = userID
		m.rows[userID] = append(m.rows[userID], l)
	}
}

func (m *memStore) quantities(userID string) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, l := range m.rows[userID] {
		out[l.Key().String()] = l.Quantity
	}
	return out
}

func (m *memStore) ListCartLines(ctx context.Context, userID string) ([]entity.CartLine, error) {
	if m.listGate != nil {
		m.listEntered <- struct{}{}
		<-m.listGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("list"); err != nil {
		return nil, err
	}
	return entity.CloneLines(m.rows[userID]), nil
}

func (m *memStore) FindCartLine(ctx context.Context, userID string, key entity.LineKey) (*entity.CartLine, error) {
	if m.gate != nil {
		m.entered <- struct{}{}
		<-m.gate
	}
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("find"); err != nil {
		return nil, err
	}
	idx := entity.IndexOf(m.rows[userID], key)
	if idx < 0 {
		return nil, repository.ErrNotFound
	}
	line := m.rows[userID][idx].Clone()
	return &line, nil
}

func (m *memStore) InsertCartLine(ctx context.Context, userID string, line entity.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("insert"); err != nil {
		return err
	}
	if m.duplicateOnce {
		m.duplicateOnce = false
		raced := line.Clone()
		raced.UserID = userID
		raced.Quantity = 1
		m.rows[userID] = append(m.rows[userID], raced)
		return repository.ErrDuplicate
	}
	if m.failAfter >= 0 && m.inserts >= m.failAfter {
		return errors.New("connection reset")
	}
	if entity.IndexOf(m.rows[userID], line.Key()) >= 0 {
		return repository.ErrDuplicate
	}
	m.inserts++
	line.UserID = userID
	m.rows[userID] = append(m.rows[userID], line)
	return nil
}

func (m *memStore) SetCartLineQuantity(ctx context.Context, userID string, key entity.LineKey, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("set"); err != nil {
		return err
	}
	idx := entity.IndexOf(m.rows[userID], key)
	if idx < 0 {
		return repository.ErrNotFound
	}
	m.rows[userID][idx].Quantity = quantity
	return nil
}

func (m *memStore) remove(userID string, keep func(entity.CartLine) bool) {
	out := m.rows[userID][:0]
	for _, l := range m.rows[userID] {
		if keep(l) {
			out = append(out, l)
		}
	}
	m.rows[userID] = out
}

func (m *memStore) DeleteCartLine(ctx context.Context, userID string, key entity.LineKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("delete"); err != nil {
		return err
	}
	m.remove(userID, func(l entity.CartLine) bool { return !l.Key().Equal(key) })
	return nil
}

func (m *memStore) DeleteFoodItemLines(ctx context.Context, userID, foodItemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("deleteFood"); err != nil {
		return err
	}
	m.remove(userID, func(l entity.CartLine) bool { return l.FoodItemID != foodItemID })
	return nil
}

func (m *memStore) ClearCart(ctx context.Context, userID string) error {
	if m.clearGate != nil {
		<-m.clearGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("clear"); err != nil {
		return err
	}
	delete(m.rows, userID)
	return nil
}

// memFallback is the device store.
type memFallback struct {
	mu    sync.Mutex
	lines []entity.CartLine
	saves int
}

func (f *memFallback) Load(ctx context.Context) ([]entity.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return entity.CloneLines(f.lines), nil
}

func (f *memFallback) Save(ctx context.Context, lines []entity.CartLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.lines = entity.CloneLines(lines)
	return nil
}

func (f *memFallback) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = nil
	return nil
}

func (f *memFallback) get() []entity.CartLine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return entity.CloneLines(f.lines)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.ChangeEvent
}

func (p *recordingPublisher) PublishChange(ctx context.Context, evt entity.ChangeEvent) error {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
