package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/mirror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func burger() entity.FoodItem {
	return entity.FoodItem{ID: "burger", Name: "Burger", BasePrice: decimal.NewFromInt(8), IsAvailable: true}
}

func soda() entity.FoodItem {
	return entity.FoodItem{ID: "soda", Name: "Soda", BasePrice: decimal.NewFromInt(5), IsAvailable: true}
}

func pizza() entity.FoodItem {
	return entity.FoodItem{
		ID: "pizza", Name: "Pizza", BasePrice: decimal.NewFromInt(10), IsAvailable: true, HasSizes: true,
		Sizes: []entity.ItemSize{
			{ID: "small", FoodItemID: "pizza", Name: "Small", PriceDelta: decimal.Zero, IsDefault: true},
			{ID: "large", FoodItemID: "pizza", Name: "Large", PriceDelta: decimal.NewFromInt(2)},
		},
	}
}

func sizeKey(food, size string) entity.LineKey {
	return entity.NewLineKey(food, &size)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DebounceWindow = 40 * time.Millisecond
	cfg.ReconcileWindow = 40 * time.Millisecond
	cfg.RemoteTimeout = time.Second
	return cfg
}

func newSync(t *testing.T, store Store, fb *memFallback, pub Publisher) *Synchronizer {
	t.Helper()
	return newSyncWith(t, testConfig(), store, fb, pub)
}

func newSyncWith(t *testing.T, cfg Config, store Store, fb *memFallback, pub Publisher) *Synchronizer {
	t.Helper()
	m, err := mirror.New(8)
	require.NoError(t, err)
	var f Fallback
	if fb != nil {
		f = fb
	}
	s := NewSynchronizer(cfg, store, m, f, pub, zerolog.Nop())
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func quantityOf(lines []entity.CartLine, key entity.LineKey) int {
	if idx := entity.IndexOf(lines, key); idx >= 0 {
		return lines[idx].Quantity
	}
	return 0
}

func TestAddMergesSameKey(t *testing.T) {
	fb := &memFallback{}
	s := newSync(t, newMemStore(), fb, nil)
	ctx := context.Background()

	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger(), Quantity: 2}))

	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)

	saved := fb.get()
	require.Len(t, saved, 1)
	assert.Equal(t, 3, saved[0].Quantity)
}

func TestSizesAreSeparateLines(t *testing.T) {
	s := newSync(t, nil, &memFallback{}, nil)
	ctx := context.Background()

	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: pizza(), SizeID: "small"}))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: pizza(), SizeID: "large"}))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: soda()}))
	require.Len(t, s.Lines(), 3)

	require.NoError(t, s.RemoveFromCart(ctx, sizeKey("pizza", "small")))
	lines := s.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 1, quantityOf(lines, sizeKey("pizza", "large")))

	require.NoError(t, s.RemoveFoodItem(ctx, "pizza"))
	lines = s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "soda", lines[0].FoodItemID)
}

func TestTotalsCountLines(t *testing.T) {
	s := newSync(t, nil, &memFallback{}, nil)
	ctx := context.Background()

	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: pizza(), SizeID: "large", Quantity: 3}))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: soda()}))

	assert.True(t, s.TotalPrice().Equal(decimal.NewFromInt(41)))
	assert.Equal(t, 2, s.TotalItems())

	sum := s.Summary()
	assert.Equal(t, "41", sum.Subtotal.String())
	assert.Equal(t, "3.49", sum.Tax.String())
	assert.Equal(t, "44.49", sum.Total.String())
}

func TestAddValidation(t *testing.T) {
	s := newSync(t, nil, &memFallback{}, nil)
	ctx := context.Background()

	err := s.AddToCart(ctx, AddRequest{Item: pizza()})
	assert.ErrorIs(t, err, ErrSizeRequired)
	assert.ErrorIs(t, err, ErrValidation)

	off := burger()
	off.IsAvailable = false
	assert.ErrorIs(t, s.AddToCart(ctx, AddRequest{Item: off}), ErrValidation)
	assert.ErrorIs(t, s.AddToCart(ctx, AddRequest{Item: pizza(), SizeID: "huge"}), ErrValidation)
	assert.ErrorIs(t, s.AddToCart(ctx, AddRequest{Item: burger(), Quantity: -1}), ErrValidation)
	assert.Empty(t, s.Lines())
}

func TestAuthenticatedAddInsertsThenIncrements(t *testing.T) {
	store := newMemStore()
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))

	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))

	assert.Equal(t, map[string]int{"burger": 2}, store.quantities("u1"))
	assert.Equal(t, 1, store.count("insert"))
	assert.Equal(t, 1, store.count("set"))
	assert.Equal(t, 2, quantityOf(s.Lines(), entity.NewLineKey("burger", nil)))
}

func TestAddRollsBackOnRemoteFailure(t *testing.T) {
	store := newMemStore()
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))

	store.failNext("set", errors.New("network down"))
	err := s.AddToCart(ctx, AddRequest{Item: burger()})
	assert.EqualError(t, err, "network down")
	assert.Equal(t, 1, quantityOf(s.Lines(), entity.NewLineKey("burger", nil)))

	store.failNext("insert", errors.New("network down"))
	require.Error(t, s.AddToCart(ctx, AddRequest{Item: soda()}))
	assert.Len(t, s.Lines(), 1)
}

func TestDuplicateInsertFallsBackToUpdate(t *testing.T) {
	store := newMemStore()
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))

	store.duplicateOnce = true
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger(), Quantity: 2}))

	assert.Equal(t, map[string]int{"burger": 3}, store.quantities("u1"))
	assert.Equal(t, 2, store.count("find"))
}

func TestUpdateQuantityIsDebounced(t *testing.T) {
	store := newMemStore()
	store.seed("u1", entity.CartLine{ID: "c1", FoodItemID: "burger", Quantity: 1, FoodItem: burger()})
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))

	key := entity.NewLineKey("burger", nil)
	require.NoError(t, s.UpdateQuantity(ctx, key, 2))
	require.NoError(t, s.UpdateQuantity(ctx, key, 3))
	require.NoError(t, s.UpdateQuantity(ctx, key, 4))
	assert.Equal(t, 4, quantityOf(s.Lines(), key))

	require.Eventually(t, func() bool {
		return store.quantities("u1")["burger"] == 4
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, store.count("set"))
}

func TestFailedDebouncedWriteReloads(t *testing.T) {
	store := newMemStore()
	store.seed("u1", entity.CartLine{ID: "c1", FoodItemID: "burger", Quantity: 1, FoodItem: burger()})
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))
	lists := store.count("list")

	key := entity.NewLineKey("burger", nil)
	store.failNext("set", errors.New("timeout"))
	require.NoError(t, s.UpdateQuantity(ctx, key, 5))
	assert.Equal(t, 5, quantityOf(s.Lines(), key))

	require.Eventually(t, func() bool {
		return quantityOf(s.Lines(), key) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Greater(t, store.count("list"), lists)
}

func TestUpdateQuantityEdges(t *testing.T) {
	s := newSync(t, nil, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))

	assert.ErrorIs(t, s.UpdateQuantity(ctx, entity.NewLineKey("soda", nil), 2), ErrLineNotFound)

	require.NoError(t, s.UpdateQuantity(ctx, entity.NewLineKey("burger", nil), 0))
	assert.Empty(t, s.Lines())
}

func TestAddFlushesPendingQuantity(t *testing.T) {
	store := newMemStore()
	store.seed("u1", entity.CartLine{ID: "c1", FoodItemID: "burger", Quantity: 1, FoodItem: burger()})
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))

	key := entity.NewLineKey("burger", nil)
	require.NoError(t, s.UpdateQuantity(ctx, key, 4))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))

	assert.Equal(t, 5, store.quantities("u1")["burger"])
	assert.Equal(t, 5, quantityOf(s.Lines(), key))
}

func TestLoginMigratesDeviceCart(t *testing.T) {
	store := newMemStore()
	fb := &memFallback{}
	s := newSync(t, store, fb, nil)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx))

	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger(), Quantity: 2}))
	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	require.Len(t, fb.get(), 1)

	require.NoError(t, s.SetUser(ctx, "u1"))
	assert.Equal(t, map[string]int{"burger": 2}, store.quantities("u1"))
	assert.Empty(t, fb.get())
	lines = s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "burger", lines[0].FoodItemID)
	assert.Equal(t, 2, lines[0].Quantity)

	require.NoError(t, s.Load(ctx))
	assert.Equal(t, map[string]int{"burger": 2}, store.quantities("u1"))
	assert.Equal(t, 1, store.count("insert"))
}

func TestMigrationSkipsPopulatedRemoteCart(t *testing.T) {
	store := newMemStore()
	store.seed("u1", entity.CartLine{ID: "c1", FoodItemID: "soda", Quantity: 1, FoodItem: soda()})
	fb := &memFallback{}
	s := newSync(t, store, fb, nil)
	ctx := context.Background()

	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))
	require.NoError(t, s.SetUser(ctx, "u1"))

	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "soda", lines[0].FoodItemID)
	assert.Zero(t, store.count("insert"))
	assert.Len(t, fb.get(), 1)
}

func TestFailedMigrationIsUndone(t *testing.T) {
	store := newMemStore()
	fb := &memFallback{}
	s := newSync(t, store, fb, nil)
	ctx := context.Background()

	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: soda()}))

	store.setFailAfter(1)
	require.Error(t, s.SetUser(ctx, "u1"))
	assert.Empty(t, store.quantities("u1"))
	assert.Len(t, fb.get(), 2)

	store.setFailAfter(-1)
	require.NoError(t, s.Load(ctx))
	assert.Equal(t, map[string]int{"burger": 1, "soda": 1}, store.quantities("u1"))
	assert.Empty(t, fb.get())
	assert.Len(t, s.Lines(), 2)
}

func TestConcurrentAddIsBusy(t *testing.T) {
	store := newMemStore()
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))

	store.gate = make(chan struct{})
	store.entered = make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() { done <- s.AddToCart(ctx, AddRequest{Item: burger()}) }()
	<-store.entered

	assert.ErrorIs(t, s.AddToCart(ctx, AddRequest{Item: soda()}), ErrBusy)

	close(store.gate)
	require.NoError(t, <-done)
	assert.Equal(t, map[string]int{"burger": 1}, store.quantities("u1"))
}

func TestLogoutDropsUserCart(t *testing.T) {
	store := newMemStore()
	store.seed("u1", entity.CartLine{ID: "c1", FoodItemID: "burger", Quantity: 2, FoodItem: burger()})
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()

	require.NoError(t, s.SetUser(ctx, "u1"))
	_, ok := s.mirror.Get("u1")
	require.True(t, ok)
	assert.Len(t, s.Lines(), 1)

	require.NoError(t, s.Logout(ctx))
	_, ok = s.mirror.Get("u1")
	assert.False(t, ok)
	assert.Empty(t, s.Lines())
	assert.Equal(t, "", s.UserID())
}

func TestClearCartClearsRemote(t *testing.T) {
	store := newMemStore()
	store.seed("u1",
		entity.CartLine{ID: "c1", FoodItemID: "burger", Quantity: 2, FoodItem: burger()},
		entity.CartLine{ID: "c2", FoodItemID: "soda", Quantity: 1, FoodItem: soda()},
	)
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))

	require.NoError(t, s.ClearCart(ctx))
	assert.Empty(t, s.Lines())
	require.Eventually(t, func() bool {
		return len(store.quantities("u1")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHandleChangeCoalescesReloads(t *testing.T) {
	store := newMemStore()
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))
	lists := store.count("list")

	s.HandleChange(entity.ChangeEvent{Table: "cart_items", UserID: "u1", Origin: s.cfg.Origin})
	s.HandleChange(entity.ChangeEvent{Table: "cart_items", UserID: "u2", Origin: "tablet"})
	s.HandleChange(entity.ChangeEvent{Table: "orders", UserID: "u1", Origin: "tablet"})
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, lists, store.count("list"))

	store.seed("u1", entity.CartLine{ID: "c9", FoodItemID: "soda", Quantity: 3, FoodItem: soda()})
	for i := 0; i < 5; i++ {
		s.HandleChange(entity.ChangeEvent{Table: "cart_items", Type: entity.ChangeInsert, UserID: "u1", Origin: "tablet"})
	}
	require.Eventually(t, func() bool {
		return quantityOf(s.Lines(), entity.NewLineKey("soda", nil)) == 3
	}, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, lists+1, store.count("list"))
}

func TestRemoteWritesArePublished(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	s := newSync(t, store, &memFallback{}, pub)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))

	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	evt := pub.events[0]
	pub.mu.Unlock()
	assert.Equal(t, "cart_items", evt.Table)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, s.cfg.Origin, evt.Origin)
	assert.Equal(t, entity.ChangeInsert, evt.Type)
}

func TestSessionWithoutRemoteTableStaysLocal(t *testing.T) {
	fb := &memFallback{}
	s := newSync(t, nil, fb, nil)
	ctx := context.Background()

	require.NoError(t, s.SetUser(ctx, "u1"))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))
	assert.Len(t, s.Lines(), 1)
	assert.Empty(t, fb.get())

	require.NoError(t, s.Logout(ctx))
	assert.Empty(t, s.Lines())
}

func TestKioskLoginKeepsDeviceCart(t *testing.T) {
	fb := &memFallback{}
	s := newSync(t, nil, fb, nil)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger(), Quantity: 2}))
	require.Len(t, fb.get(), 1)

	require.NoError(t, s.SetUser(ctx, "u1"))
	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "u1", lines[0].UserID)
	assert.Empty(t, fb.get())

	require.NoError(t, s.Load(ctx))
	assert.Equal(t, 2, quantityOf(s.Lines(), entity.NewLineKey("burger", nil)))
	assert.Len(t, s.Lines(), 1)
}

func TestConcurrentLoadIsNoOp(t *testing.T) {
	store := newMemStore()
	store.seed("u1", entity.CartLine{ID: "c1", FoodItemID: "burger", Quantity: 1, FoodItem: burger()})
	s := newSync(t, store, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))
	require.Equal(t, 1, store.count("list"))

	store.listGate = make(chan struct{})
	store.listEntered = make(chan struct{}, 4)
	first := make(chan error, 1)
	go func() { first <- s.Load(ctx) }()
	<-store.listEntered

	require.NoError(t, s.Load(ctx))
	close(store.listGate)
	require.NoError(t, <-first)
	assert.Equal(t, 2, store.count("list"))
	assert.Len(t, s.Lines(), 1)
}

func TestRemoteTimeoutRollsBack(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	cfg.RemoteTimeout = 30 * time.Millisecond
	s := newSyncWith(t, cfg, store, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))

	store.block = true
	err := s.AddToCart(ctx, AddRequest{Item: burger()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.Lines())
	assert.Empty(t, store.quantities("u1"))
}

func TestAddAfterClearLandsAfterRemoteClear(t *testing.T) {
	store := newMemStore()
	store.seed("u1", entity.CartLine{ID: "c1", FoodItemID: "burger", Quantity: 3, FoodItem: burger()})
	s := newSync(t, store, &memFallback{}, nil)
	ctx := context.Background()
	require.NoError(t, s.SetUser(ctx, "u1"))

	store.clearGate = make(chan struct{})
	require.NoError(t, s.ClearCart(ctx))
	assert.Empty(t, s.Lines())

	added := make(chan error, 1)
	go func() { added <- s.AddToCart(ctx, AddRequest{Item: burger()}) }()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, store.count("find"))

	close(store.clearGate)
	require.NoError(t, <-added)
	assert.Equal(t, map[string]int{"burger": 1}, store.quantities("u1"))
	assert.Equal(t, 1, store.count("clear"))
	assert.Equal(t, 1, quantityOf(s.Lines(), entity.NewLineKey("burger", nil)))
}

func TestQuantityUpdateAcrossSessionSwitch(t *testing.T) {
	store := newMemStore()
	store.seed("u1", entity.CartLine{ID: "c1", FoodItemID: "burger", Quantity: 1, FoodItem: burger()})
	fb := &memFallback{lines: []entity.CartLine{{FoodItemID: "burger", Quantity: 1, FoodItem: burger()}}}
	s := newSync(t, store, fb, nil)
	ctx := context.Background()
	key := entity.NewLineKey("burger", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			user := ""
			if i%2 == 0 {
				user = "u1"
			}
			_ = s.SetUser(ctx, user)
		}
	}()
	for i := 0; i < 200; i++ {
		err := s.UpdateQuantity(ctx, key, i%3+1)
		if err != nil {
			assert.ErrorIs(t, err, ErrLineNotFound)
		}
	}
	<-done
	require.NoError(t, s.Flush(ctx))
}

func TestSubscribeSeesLatestView(t *testing.T) {
	s := newSync(t, nil, &memFallback{}, nil)
	ctx := context.Background()

	ch, cancel := s.Subscribe()
	defer cancel()
	assert.Empty(t, <-ch)

	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: burger()}))
	require.NoError(t, s.AddToCart(ctx, AddRequest{Item: soda()}))

	select {
	case view := <-ch:
		assert.Len(t, view, 2)
	case <-time.After(time.Second):
		t.Fatal("no cart update received")
	}
}
