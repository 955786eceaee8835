package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/pricing"
	"food-ordering-kiosk/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrEmptyCart           = fmt.Errorf("%w: cart is empty", ErrInvalidOrder)
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrDuplicateSubmission = errors.New("idempotent key already exists")
	ErrInProgress          = errors.New("order submission already in progress")
)

const (
	idempotentKeyTTL    = 24 * time.Hour
	defaultStoreTimeout = 10 * time.Second
)

// Store is the atomic order side of the remote store.
type Store interface {
	CreateOrderWithItems(ctx context.Context, req entity.OrderRequest) (*entity.Order, error)
	GetOrder(ctx context.Context, id string) (*entity.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status entity.OrderStatus) error
	UpdatePaymentStatus(ctx context.Context, id string, status entity.PaymentStatus) error
	SalesReport(ctx context.Context, from, to time.Time) ([]entity.SalesRow, error)
}

// Cart is the cart an order is submitted from.
type Cart interface {
	Snapshot() []entity.CartLine
	UserID() string
	ClearCart(ctx context.Context) error
}

type EventPublisher interface {
	PublishOrder(ctx context.Context, evt entity.OrderEvent) error
}

// CheckoutRequest carries the customer-facing fields of an order. Items and
// amounts always come from the cart.
type CheckoutRequest struct {
	OrderType       entity.OrderType     `json:"order_type"`
	PaymentMethod   entity.PaymentMethod `json:"payment_method"`
	CustomerName    string               `json:"customer_name"`
	CustomerPhone   string               `json:"customer_phone"`
	CustomerEmail   string               `json:"customer_email"`
	DeliveryAddress string               `json:"delivery_address"`
	Notes           string               `json:"notes"`
	IdempotentKey   string               `json:"-"`
}

// Service submits carts as orders and runs the staff order actions.
type Service struct {
	store   Store
	cart    Cart
	rdb     *redis.Client
	events  EventPublisher
	taxRate decimal.Decimal
	timeout time.Duration
	logger  zerolog.Logger

	mu         sync.Mutex
	submitting bool
}

// NewService creates an order service. rdb and events may be nil, which
// disables idempotency checks and order events respectively. A zero taxRate
// is honoured as tax-free. timeout bounds every store call.
func NewService(store Store, cart Cart, rdb *redis.Client, events EventPublisher, taxRate decimal.Decimal, timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Service{
		store:   store,
		cart:    cart,
		rdb:     rdb,
		events:  events,
		taxRate: taxRate,
		timeout: timeout,
		logger:  logger.With().Str("component", "order").Logger(),
	}
}

// Checkout converts the current cart into an order. The cart is cleared only
// after the order was created; on any failure it is left as it was.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*entity.Order, error) {
	if !req.OrderType.Valid() || req.OrderType == entity.OrderTypePOS {
		return nil, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, req.OrderType)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = entity.PaymentCash
	}
	if req.OrderType == entity.OrderTypeDelivery && req.DeliveryAddress == "" {
		return nil, fmt.Errorf("%w: delivery address is required", ErrInvalidOrder)
	}
	return s.submit(ctx, req, entity.PaymentPending, "created")
}

// CreatePOSOrder submits the cart as a point-of-sale order taken by staff.
// Cash and card sales are recorded as paid.
func (s *Service) CreatePOSOrder(ctx context.Context, actor entity.User, req CheckoutRequest) (*entity.Order, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: staff role required", repository.ErrForbidden)
	}
	req.OrderType = entity.OrderTypePOS
	if req.PaymentMethod == "" {
		req.PaymentMethod = entity.PaymentCash
	}
	payment := entity.PaymentPending
	if req.PaymentMethod == entity.PaymentCash || req.PaymentMethod == entity.PaymentCard {
		payment = entity.PaymentPaid
	}
	return s.submit(ctx, req, payment, "pos-created")
}

func (s *Service) submit(ctx context.Context, req CheckoutRequest, payment entity.PaymentStatus, event string) (*entity.Order, error) {
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidOrder, req.PaymentMethod)
	}

	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, ErrInProgress
	}
	s.submitting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.submitting = false
		s.mu.Unlock()
	}()

	lines := s.cart.Snapshot()
	if err := ValidateLines(lines); err != nil {
		return nil, err
	}

	key := req.IdempotentKey
	if key == "" {
		key = uuid.NewString()
	}
	if err := s.claimIdempotentKey(ctx, key); err != nil {
		return nil, err
	}

	orderReq := BuildRequest(lines, s.taxRate)
	orderReq.ID = uuid.NewString()
	orderReq.UserID = s.cart.UserID()
	orderReq.OrderType = req.OrderType
	orderReq.PaymentMethod = req.PaymentMethod
	orderReq.PaymentStatus = payment
	orderReq.CustomerName = req.CustomerName
	orderReq.CustomerPhone = req.CustomerPhone
	orderReq.CustomerEmail = req.CustomerEmail
	orderReq.DeliveryAddress = req.DeliveryAddress
	orderReq.Notes = req.Notes
	orderReq.IdempotentKey = key

	storeCtx, cancel := s.storeContext(ctx)
	created, err := s.store.CreateOrderWithItems(storeCtx, orderReq)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msg("Error creating order")
		// A timed-out create may still have committed; keeping the key turns
		// a retry into a duplicate-submission error instead of a second order.
		if !errors.Is(err, context.DeadlineExceeded) {
			s.releaseIdempotentKey(key)
		}
		return nil, err
	}
	s.logger.Info().Str("order_id", created.ID).Msgf("Order created with %d items, total %s", len(created.Items), created.TotalAmount)

	if err := s.cart.ClearCart(ctx); err != nil {
		s.logger.Error().Err(err).Msgf("Error clearing cart after order %s", created.ID)
	}
	s.publishOrderEvent(ctx, created, event)
	return created, nil
}

// ValidateLines checks a cart snapshot before anything is sent to the store.
func ValidateLines(lines []entity.CartLine) error {
	if len(lines) == 0 {
		return ErrEmptyCart
	}
	for i, line := range lines {
		if line.FoodItemID == "" {
			return fmt.Errorf("%w: line %d has no food item", ErrInvalidOrder, i+1)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: %s has quantity %d", ErrInvalidOrder, line.Key(), line.Quantity)
		}
		if !line.UnitPrice().IsPositive() {
			return fmt.Errorf("%w: %s has no price", ErrInvalidOrder, line.Key())
		}
	}
	return nil
}

// BuildRequest copies cart lines into order items and fills in the amounts.
func BuildRequest(lines []entity.CartLine, taxRate decimal.Decimal) entity.OrderRequest {
	items := make([]entity.OrderItem, 0, len(lines))
	for _, line := range lines {
		item := entity.OrderItem{
			FoodItemID: line.FoodItemID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice(),
			TotalPrice: line.LineTotal(),
			Notes:      line.Notes,
		}
		if line.SizeID != nil {
			id := *line.SizeID
			item.SizeID = &id
		}
		items = append(items, item)
	}
	sum := pricing.Summarize(lines, taxRate)
	return entity.OrderRequest{
		Items:       items,
		Subtotal:    sum.Subtotal,
		TaxAmount:   sum.Tax,
		TotalAmount: sum.Total,
	}
}

// storeContext bounds one store call.
func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) Get(ctx context.Context, id string) (*entity.Order, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Msgf("Error getting order %s", id)
		return nil, err
	}
	return order, nil
}

// UpdateStatus moves an order one step along its lifecycle, or cancels it.
func (s *Service) UpdateStatus(ctx context.Context, actor entity.User, id string, status entity.OrderStatus) (*entity.Order, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: staff role required", repository.ErrForbidden)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, status)
	}

	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
	}

	storeCtx, cancel := s.storeContext(ctx)
	err = s.store.UpdateOrderStatus(storeCtx, id, status)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msgf("Error updating status of order %s", id)
		return nil, err
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()

	event := "updated"
	if status == entity.StatusCancelled {
		event = "cancelled"
	}
	s.publishOrderEvent(ctx, order, event)
	return order, nil
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, actor entity.User, id string, status entity.PaymentStatus) (*entity.Order, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: staff role required", repository.ErrForbidden)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrInvalidOrder, status)
	}

	storeCtx, cancel := s.storeContext(ctx)
	err := s.store.UpdatePaymentStatus(storeCtx, id, status)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msgf("Error updating payment of order %s", id)
		return nil, err
	}
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishOrderEvent(ctx, order, "payment-updated")
	return order, nil
}

// SalesReport returns daily order counts and revenue between from and to.
func (s *Service) SalesReport(ctx context.Context, actor entity.User, from, to time.Time) ([]entity.SalesRow, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", repository.ErrForbidden)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("%w: report range is empty", ErrInvalidOrder)
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	rows, err := s.store.SalesReport(ctx, from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error building sales report")
		return nil, err
	}
	return rows, nil
}

// publishOrderEvent is best effort; the order already exists when it runs.
func (s *Service) publishOrderEvent(ctx context.Context, order *entity.Order, event string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrder(ctx, entity.OrderEvent{Event: event, Order: *order}); err != nil {
		s.logger.Warn().Err(err).Msgf("Error publishing order-%s for %s", event, order.ID)
	}
}

func idempotentRedisKey(key string) string {
	return fmt.Sprintf("idempotent-key:%s", key)
}

// claimIdempotentKey reserves key for 24 hours; a second submission with the
// same key is rejected.
func (s *Service) claimIdempotentKey(ctx context.Context, key string) error {
	if s.rdb == nil {
		return nil
	}
	ok, err := s.rdb.SetNX(ctx, idempotentRedisKey(key), "exists", idempotentKeyTTL).Result()
	if err != nil {
		s.logger.Error().Err(err).Msg("Error checking idempotent key")
		return err
	}
	if !ok {
		return ErrDuplicateSubmission
	}
	return nil
}

// releaseIdempotentKey frees a key whose order was never created so the same
// submission can be retried.
func (s *Service) releaseIdempotentKey(key string) {
	if s.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.rdb.Del(ctx, idempotentRedisKey(key)).Err(); err != nil {
		s.logger.Error().Err(err).Msgf("Error releasing idempotent key %s", key)
	}
}
