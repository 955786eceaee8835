package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"food-ordering-kiosk/internal/auth"
	"food-ordering-kiosk/internal/cart"
	"food-ordering-kiosk/internal/catalog"
	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/order"
	"food-ordering-kiosk/internal/receipt"
	"food-ordering-kiosk/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HealthFunc reports whether the remote store is reachable.
type HealthFunc func(ctx context.Context) error

type Deps struct {
	Cart      *cart.Synchronizer
	Orders    *order.Service
	Catalog   *catalog.Service
	Session   *auth.Session
	Printer   receipt.Printer
	Health    HealthFunc
	TaxRate   decimal.Decimal
	JWTSecret string
	Mode      string
	Logger    zerolog.Logger
}

type Handler struct {
	cart    *cart.Synchronizer
	orders  *order.Service
	catalog *catalog.Service
	session *auth.Session
	printer receipt.Printer
	health  HealthFunc
	taxRate decimal.Decimal
	secret  string
	mode    string
	logger  zerolog.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		cart:    d.Cart,
		orders:  d.Orders,
		catalog: d.Catalog,
		session: d.Session,
		printer: d.Printer,
		health:  d.Health,
		taxRate: d.TaxRate,
		secret:  d.JWTSecret,
		mode:    d.Mode,
		logger:  d.Logger.With().Str("component", "api").Logger(),
	}
}

// Register mounts every route on e. Staff routes require a bearer token.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)

	e.POST("/session/login", h.Login)
	e.POST("/session", h.StartSession)
	e.DELETE("/session", h.EndSession)

	e.GET("/cart", h.GetCart)
	e.POST("/cart/items", h.AddItem)
	e.PATCH("/cart/items", h.UpdateItem)
	e.DELETE("/cart/items/:food_item_id", h.RemoveItem)
	e.DELETE("/cart/food-items/:food_item_id", h.RemoveFoodItem)
	e.DELETE("/cart", h.ClearCart)
	e.GET("/cart/live", h.LiveCart)

	e.POST("/checkout", h.Checkout)
	e.GET("/orders/:id/receipt", h.Receipt)
	e.POST("/orders/:id/print", h.PrintReceipt)

	e.GET("/menu/food-items", h.FoodItems)
	e.GET("/menu/categories", h.Categories)

	staff := echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(h.secret),
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(auth.Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		},
	})
	e.POST("/pos/orders", h.CreatePOSOrder, staff)
	e.PATCH("/orders/:id/status", h.UpdateOrderStatus, staff)
	e.PATCH("/orders/:id/payment", h.UpdatePaymentStatus, staff)
	e.GET("/reports/sales", h.SalesReport, staff)
}

func (h *Handler) Health(c echo.Context) error {
	body := map[string]interface{}{
		"status":  "ok",
		"service": "food-ordering-kiosk",
		"mode":    h.mode,
		"time":    time.Now().Format(time.RFC3339),
	}
	if h.health != nil {
		if err := h.health(c.Request().Context()); err != nil {
			body["status"] = "degraded"
			body["backend"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return c.JSON(http.StatusOK, body)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cart.ErrValidation), errors.Is(err, order.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, cart.ErrBusy), errors.Is(err, order.ErrInProgress),
		errors.Is(err, order.ErrDuplicateSubmission), errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, repository.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msgf("%s %s failed", c.Request().Method, c.Path())
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

// actor returns the staff member whose token the jwt middleware verified.
func actor(c echo.Context) (entity.User, bool) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return entity.User{}, false
	}
	claims, ok := token.Claims.(*auth.Claims)
	if !ok {
		return entity.User{}, false
	}
	return claims.User(), true
}
