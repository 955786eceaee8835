package api

import (
	"net/http"

	"food-ordering-kiosk/internal/cart"
	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/pricing"

	"github.com/labstack/echo/v4"
)

type cartResponse struct {
	UserID string            `json:"user_id,omitempty"`
	Items  []entity.CartLine `json:"items"`
	pricing.Summary
}

type addItemRequest struct {
	FoodItemID string `json:"food_item_id"`
	SizeID     string `json:"size_id"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes"`
}

type updateItemRequest struct {
	FoodItemID string `json:"food_item_id"`
	SizeID     string `json:"size_id"`
	Quantity   int    `json:"quantity"`
}

func (h *Handler) cartView() cartResponse {
	lines := h.cart.Lines()
	return cartResponse{
		UserID:  h.cart.UserID(),
		Items:   lines,
		Summary: pricing.Summarize(lines, h.taxRate),
	}
}

func lineKey(foodItemID, sizeID string) entity.LineKey {
	return entity.NewLineKey(foodItemID, &sizeID)
}

func (h *Handler) GetCart(c echo.Context) error {
	return c.JSON(http.StatusOK, h.cartView())
}

func (h *Handler) AddItem(c echo.Context) error {
	ctx := c.Request().Context()
	req := addItemRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if req.FoodItemID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "food_item_id is required"})
	}

	item, err := h.catalog.FoodItem(ctx, req.FoodItemID)
	if err != nil {
		return h.fail(c, err)
	}
	err = h.cart.AddToCart(ctx, cart.AddRequest{
		Item:     *item,
		Quantity: req.Quantity,
		SizeID:   req.SizeID,
		Notes:    req.Notes,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.cartView())
}

// UpdateItem sets a line's quantity. Zero or less removes the line.
func (h *Handler) UpdateItem(c echo.Context) error {
	req := updateItemRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if req.FoodItemID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "food_item_id is required"})
	}

	if err := h.cart.UpdateQuantity(c.Request().Context(), lineKey(req.FoodItemID, req.SizeID), req.Quantity); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.cartView())
}

func (h *Handler) RemoveItem(c echo.Context) error {
	key := lineKey(c.Param("food_item_id"), c.QueryParam("size_id"))
	if err := h.cart.RemoveFromCart(c.Request().Context(), key); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.cartView())
}

func (h *Handler) RemoveFoodItem(c echo.Context) error {
	if err := h.cart.RemoveFoodItem(c.Request().Context(), c.Param("food_item_id")); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.cartView())
}

func (h *Handler) ClearCart(c echo.Context) error {
	if err := h.cart.ClearCart(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.cartView())
}
