package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrBusy         = errors.New("cart operation already in progress")
	ErrValidation   = errors.New("invalid cart request")
	ErrSizeRequired = fmt.Errorf("%w: a size must be selected for this item", ErrValidation)
	ErrLineNotFound = errors.New("cart line not found")
)

// Store is the remote cart table.
type Store interface {
	ListCartLines(ctx context.Context, userID string) ([]entity.CartLine, error)
	FindCartLine(ctx context.Context, userID string, key entity.LineKey) (*entity.CartLine, error)
	InsertCartLine(ctx context.Context, userID string, line entity.CartLine) error
	SetCartLineQuantity(ctx context.Context, userID string, key entity.LineKey, quantity int) error
	DeleteCartLine(ctx context.Context, userID string, key entity.LineKey) error
	DeleteFoodItemLines(ctx context.Context, userID, foodItemID string) error
	ClearCart(ctx context.Context, userID string) error
}

// Fallback persists the cart of a session with no authenticated user.
type Fallback interface {
	Load(ctx context.Context) ([]entity.CartLine, error)
	Save(ctx context.Context, lines []entity.CartLine) error
	Clear(ctx context.Context) error
}

// Publisher announces successful remote cart writes to other devices.
type Publisher interface {
	PublishChange(ctx context.Context, evt entity.ChangeEvent) error
}

type Config struct {
	// FallbackEnabled persists the anonymous cart on the device and migrates it
	// into the remote table on the first authenticated load.
	FallbackEnabled bool
	DebounceWindow  time.Duration
	RemoteTimeout   time.Duration
	ReconcileWindow time.Duration
	// Origin tags published change events so this device ignores its own echoes.
	Origin  string
	TaxRate decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		FallbackEnabled: true,
		DebounceWindow:  500 * time.Millisecond,
		RemoteTimeout:   10 * time.Second,
		ReconcileWindow: 250 * time.Millisecond,
		Origin:          uuid.NewString(),
		TaxRate:         pricing.DefaultTaxRate,
	}
}

// AddRequest describes one add-to-cart action. Quantity defaults to 1.
type AddRequest struct {
	Item      entity.FoodItem
	Quantity  int
	SizeID    string
	SizeName  string
	SizePrice *decimal.Decimal
	Notes     string
}

// line validates the request and builds the cart line it would add.
func (r AddRequest) line() (entity.CartLine, error) {
	if r.Item.ID == "" {
		return entity.CartLine{}, fmt.Errorf("%w: food item id is required", ErrValidation)
	}
	qty := r.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return entity.CartLine{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if !r.Item.IsAvailable {
		return entity.CartLine{}, fmt.Errorf("%w: %s is not available", ErrValidation, r.Item.ID)
	}

	line := entity.CartLine{
		ID:         uuid.NewString(),
		FoodItemID: r.Item.ID,
		Quantity:   qty,
		Notes:      r.Notes,
		FoodItem:   r.Item,
	}
	line.FoodItem.Sizes = nil

	if r.SizeID == "" {
		if r.Item.HasSizes {
			return entity.CartLine{}, ErrSizeRequired
		}
		return line, nil
	}

	sizeID := r.SizeID
	line.SizeID = &sizeID
	if size, ok := r.Item.Size(sizeID); ok {
		s := *size
		line.Size = &s
		return line, nil
	}
	if len(r.Item.Sizes) > 0 {
		return entity.CartLine{}, fmt.Errorf("%w: unknown size %q for %s", ErrValidation, sizeID, r.Item.ID)
	}
	line.Size = &entity.ItemSize{ID: sizeID, FoodItemID: r.Item.ID, Name: r.SizeName}
	if r.SizePrice != nil {
		line.Size.PriceDelta = *r.SizePrice
	}
	return line, nil
}
