package api

import (
	"net/http"

	"food-ordering-kiosk/internal/auth"

	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	cartResponse
}

func (h *Handler) sessionView(claims *auth.Claims) sessionResponse {
	user := claims.User()
	return sessionResponse{
		UserID:       user.ID,
		Name:         user.Name,
		Role:         string(user.Role),
		cartResponse: h.cartView(),
	}
}

func (h *Handler) Login(c echo.Context) error {
	req := loginRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email and password are required"})
	}

	claims, err := h.session.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if claims == nil {
			return h.fail(c, err)
		}
		h.logger.Warn().Err(err).Msg("Signed in but the cart could not be loaded")
	}
	return c.JSON(http.StatusOK, h.sessionView(claims))
}

// StartSession adopts a token issued elsewhere, for example by the storefront's
// own login page.
func (h *Handler) StartSession(c echo.Context) error {
	req := tokenRequest{}
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "token is required"})
	}

	claims, err := h.session.Start(c.Request().Context(), req.Token)
	if err != nil {
		if claims == nil {
			return h.fail(c, err)
		}
		h.logger.Warn().Err(err).Msg("Signed in but the cart could not be loaded")
	}
	return c.JSON(http.StatusOK, h.sessionView(claims))
}

func (h *Handler) EndSession(c echo.Context) error {
	if err := h.session.End(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.cartView())
}
