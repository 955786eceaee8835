package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"food-ordering-kiosk/internal/catalog"
	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/order"
	"food-ordering-kiosk/internal/receipt"
	"food-ordering-kiosk/internal/report"

	"github.com/labstack/echo/v4"
)

const dateLayout = "2006-01-02"

type statusRequest struct {
	Status entity.OrderStatus `json:"status"`
}

type paymentRequest struct {
	PaymentStatus entity.PaymentStatus `json:"payment_status"`
}

func (h *Handler) Checkout(c echo.Context) error {
	req := order.CheckoutRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	req.IdempotentKey = c.Request().Header.Get("Idempotent-Key")

	created, err := h.orders.Checkout(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) CreatePOSOrder(c echo.Context) error {
	user, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	req := order.CheckoutRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	req.IdempotentKey = c.Request().Header.Get("Idempotent-Key")

	created, err := h.orders.CreatePOSOrder(c.Request().Context(), user, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdateOrderStatus(c echo.Context) error {
	user, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	req := statusRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}

	updated, err := h.orders.UpdateStatus(c.Request().Context(), user, c.Param("id"), req.Status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) UpdatePaymentStatus(c echo.Context) error {
	user, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	req := paymentRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}

	updated, err := h.orders.UpdatePaymentStatus(c.Request().Context(), user, c.Param("id"), req.PaymentStatus)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) receipt(c echo.Context) (receipt.Receipt, error) {
	o, err := h.orders.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return receipt.Receipt{}, err
	}
	return receipt.Build(*o, h.taxRate), nil
}

func (h *Handler) Receipt(c echo.Context) error {
	r, err := h.receipt(c)
	if err != nil {
		return h.fail(c, err)
	}
	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		return h.fail(c, err)
	}
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, buf.Bytes())
}

func (h *Handler) PrintReceipt(c echo.Context) error {
	if h.printer == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no receipt printer configured"})
	}
	r, err := h.receipt(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.printer.Print(c.Request().Context(), r); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "printed", "order_number": r.Number})
}

// SalesReport returns rows for [from, to). Dates are YYYY-MM-DD; to defaults
// to the day after from. format=xlsx downloads a spreadsheet.
func (h *Handler) SalesReport(c echo.Context) error {
	user, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	from, err := time.Parse(dateLayout, c.QueryParam("from"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid from date"})
	}
	to := from.AddDate(0, 0, 1)
	if raw := c.QueryParam("to"); raw != "" {
		if to, err = time.Parse(dateLayout, raw); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid to date"})
		}
	}

	rows, err := h.orders.SalesReport(c.Request().Context(), user, from, to)
	if err != nil {
		return h.fail(c, err)
	}
	rep := report.New(from, to, rows)

	if c.QueryParam("format") != "xlsx" {
		return c.JSON(http.StatusOK, rep)
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, rep); err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", rep.Filename()))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *Handler) FoodItems(c echo.Context) error {
	filter := catalog.Filter{CategoryID: c.QueryParam("category_id")}
	filter.AvailableOnly, _ = strconv.ParseBool(c.QueryParam("available"))
	filter.FeaturedOnly, _ = strconv.ParseBool(c.QueryParam("featured"))

	items, err := h.catalog.FoodItems(c.Request().Context(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Categories(c echo.Context) error {
	cats, err := h.catalog.Categories(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cats)
}
