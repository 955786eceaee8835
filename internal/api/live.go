package api

import (
	"net/http"
	"time"

	"food-ordering-kiosk/internal/pricing"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveCart streams the cart view over a websocket until the client goes away.
// The subscription delivers the current view first.
func (h *Handler) LiveCart(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn().Err(err).Msg("Live cart upgrade failed")
		return nil
	}
	defer conn.Close()

	updates, cancel := h.cart.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case lines, ok := <-updates:
			if !ok {
				return nil
			}
			view := cartResponse{
				UserID:  h.cart.UserID(),
				Items:   lines,
				Summary: pricing.Summarize(lines, h.taxRate),
			}
			if err := h.writeCart(conn, view); err != nil {
				h.logger.Debug().Err(err).Msg("Live cart client went away")
				return nil
			}
		}
	}
}

func (h *Handler) writeCart(conn *websocket.Conn, view cartResponse) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(view)
}
