package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"food-ordering-kiosk/internal/entity"
)

// RESTStore talks to the generic REST backend used by the kiosk front end.
type RESTStore struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

func NewRESTStore(baseURL string, client *http.Client) *RESTStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &RESTStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// SetToken sets the bearer token attached to every request. Empty clears it.
func (s *RESTStore) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *RESTStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.mu.RLock()
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	s.mu.RUnlock()
	if key, ok := body.(entity.OrderRequest); ok && key.IdempotentKey != "" {
		req.Header.Set("Idempotent-Key", key.IdempotentKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError keeps the backend's message verbatim for the UI.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var body apiError
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			msg = body.Error
		} else if body.Message != "" {
			msg = body.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	}
	return fmt.Errorf("backend returned %d: %s", resp.StatusCode, msg)
}

// Health calls GET /health.
func (s *RESTStore) Health(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/health", nil, nil)
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a session token. The token is not stored;
// callers decide whether to SetToken after validating it.
func (s *RESTStore) Login(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}
	var out loginResponse
	if err := s.do(ctx, http.MethodPost, "/login", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	return out.Token, nil
}

// CreateOrderWithItems posts the whole order in one request; the backend
// creates the order and its items atomically.
func (s *RESTStore) CreateOrderWithItems(ctx context.Context, req entity.OrderRequest) (*entity.Order, error) {
	var order entity.Order
	if err := s.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *RESTStore) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	var order entity.Order
	if err := s.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *RESTStore) UpdateOrderStatus(ctx context.Context, id string, status entity.OrderStatus) error {
	body := map[string]entity.OrderStatus{"status": status}
	return s.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id), body, nil)
}

func (s *RESTStore) UpdatePaymentStatus(ctx context.Context, id string, status entity.PaymentStatus) error {
	body := map[string]entity.PaymentStatus{"payment_status": status}
	return s.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id), body, nil)
}

func (s *RESTStore) SalesReport(ctx context.Context, from, to time.Time) ([]entity.SalesRow, error) {
	q := url.Values{}
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", to.Format(time.RFC3339))
	var rows []entity.SalesRow
	if err := s.do(ctx, http.MethodGet, "/reports/sales?"+q.Encode(), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *RESTStore) ListFoodItems(ctx context.Context) ([]entity.FoodItem, error) {
	var items []entity.FoodItem
	if err := s.do(ctx, http.MethodGet, "/food-items", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *RESTStore) ListCategories(ctx context.Context) ([]entity.Category, error) {
	var categories []entity.Category
	if err := s.do(ctx, http.MethodGet, "/categories", nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}
