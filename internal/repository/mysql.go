package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/sharding"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MySQLStore reads and writes the hosted restaurant database directly.
// Cart rows are routed by user id and orders by order id. The catalog tables
// are replicated on every shard; catalog reads go to shard 0.
type MySQLStore struct {
	dbShards []*sql.DB
	router   *sharding.ShardRouter
	now      func() time.Time
}

func NewMySQLStore(dbShards []*sql.DB, router *sharding.ShardRouter) *MySQLStore {
	return &MySQLStore{dbShards: dbShards, router: router, now: time.Now}
}

func (r *MySQLStore) shard(key string) *sql.DB {
	return r.dbShards[r.router.GetShard(key)]
}

func (r *MySQLStore) catalog() *sql.DB {
	return r.dbShards[0]
}

func (r *MySQLStore) Ping(ctx context.Context) error {
	for i, db := range r.dbShards {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("shard %d: %w", i, err)
		}
	}
	return nil
}

const cartLineColumns = `c.id, c.food_item_id, c.size_id, c.quantity, COALESCE(c.notes, ''),
		f.name, f.description, f.price, COALESCE(f.category_id, ''), f.is_available, f.is_featured, f.has_sizes, f.preparation_time,
		s.name, s.price_modifier, s.is_default`

// ListCartLines returns the user's cart rows joined with their food item and size.
func (r *MySQLStore) ListCartLines(ctx context.Context, userID string) ([]entity.CartLine, error) {
	query := `SELECT ` + cartLineColumns + `
		FROM cart_items c
		JOIN food_items f ON f.id = c.food_item_id
		LEFT JOIN item_sizes s ON s.id = c.size_id
		WHERE c.user_id = ?
		ORDER BY c.created_at, c.id`

	rows, err := r.shard(userID).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	lines := []entity.CartLine{}
	for rows.Next() {
		var (
			line      entity.CartLine
			sizeID    sql.NullString
			sizeName  sql.NullString
			sizeDelta decimal.NullDecimal
			sizeDef   sql.NullBool
		)
		err := rows.Scan(&line.ID, &line.FoodItemID, &sizeID, &line.Quantity, &line.Notes,
			&line.FoodItem.Name, &line.FoodItem.Description, &line.FoodItem.BasePrice, &line.FoodItem.CategoryID,
			&line.FoodItem.IsAvailable, &line.FoodItem.IsFeatured, &line.FoodItem.HasSizes, &line.FoodItem.PrepTimeMinutes,
			&sizeName, &sizeDelta, &sizeDef)
		if err != nil {
			return nil, err
		}
		line.UserID = userID
		line.FoodItem.ID = line.FoodItemID
		if sizeID.Valid {
			id := sizeID.String
			line.SizeID = &id
			if sizeName.Valid {
				line.Size = &entity.ItemSize{
					ID:         id,
					FoodItemID: line.FoodItemID,
					Name:       sizeName.String,
					PriceDelta: sizeDelta.Decimal,
					IsDefault:  sizeDef.Bool,
				}
			}
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// FindCartLine looks up the row for the exact (food item, size) key.
func (r *MySQLStore) FindCartLine(ctx context.Context, userID string, key entity.LineKey) (*entity.CartLine, error) {
	query := `SELECT id, quantity, COALESCE(notes, '') FROM cart_items WHERE user_id = ? AND food_item_id = ? AND size_key = ?`

	line := &entity.CartLine{UserID: userID, FoodItemID: key.FoodItemID, SizeID: key.SizeID}
	err := r.shard(userID).QueryRowContext(ctx, query, userID, key.FoodItemID, key.SizeKey()).Scan(&line.ID, &line.Quantity, &line.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, translate(err)
	}
	return line, nil
}

func (r *MySQLStore) InsertCartLine(ctx context.Context, userID string, line entity.CartLine) error {
	query := `INSERT INTO cart_items (id, user_id, food_item_id, size_id, size_key, quantity, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	id := line.ID
	if id == "" {
		id = uuid.NewString()
	}
	key := line.Key()
	_, err := r.shard(userID).ExecContext(ctx, query, id, userID, key.FoodItemID, nullString(key.SizeID), key.SizeKey(), line.Quantity, line.Notes, r.now())
	return translate(err)
}

func (r *MySQLStore) SetCartLineQuantity(ctx context.Context, userID string, key entity.LineKey, quantity int) error {
	query := `UPDATE cart_items SET quantity = ? WHERE user_id = ? AND food_item_id = ? AND size_key = ?`
	res, err := r.shard(userID).ExecContext(ctx, query, quantity, userID, key.FoodItemID, key.SizeKey())
	if err != nil {
		return translate(err)
	}
	// The DSN sets clientFoundRows, so an unchanged quantity still counts as a match.
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCartLine removes one line. The size is part of the key so sibling size
// variants of the same food item are left alone.
func (r *MySQLStore) DeleteCartLine(ctx context.Context, userID string, key entity.LineKey) error {
	query := `DELETE FROM cart_items WHERE user_id = ? AND food_item_id = ? AND size_key = ?`
	_, err := r.shard(userID).ExecContext(ctx, query, userID, key.FoodItemID, key.SizeKey())
	return translate(err)
}

// DeleteFoodItemLines removes every size variant of a food item from the cart.
func (r *MySQLStore) DeleteFoodItemLines(ctx context.Context, userID, foodItemID string) error {
	query := `DELETE FROM cart_items WHERE user_id = ? AND food_item_id = ?`
	_, err := r.shard(userID).ExecContext(ctx, query, userID, foodItemID)
	return translate(err)
}

func (r *MySQLStore) ClearCart(ctx context.Context, userID string) error {
	query := `DELETE FROM cart_items WHERE user_id = ?`
	_, err := r.shard(userID).ExecContext(ctx, query, userID)
	return translate(err)
}

// CreateOrderWithItems inserts the order and all of its items in one
// transaction. Nothing is committed if any statement fails.
func (r *MySQLStore) CreateOrderWithItems(ctx context.Context, req entity.OrderRequest) (*entity.Order, error) {
	if len(req.Items) == 0 {
		return nil, errors.New("order has no items")
	}
	orderID := req.ID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	db := r.shard(orderID)
	now := r.now()

	// Start a transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	orderQuery := `INSERT INTO orders (id, user_id, customer_name, customer_phone, customer_email, delivery_address, order_type, status, payment_method, payment_status, notes, subtotal, tax_amount, total_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	paymentStatus := req.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = entity.PaymentPending
	}
	_, err = tx.ExecContext(ctx, orderQuery, orderID, nullString(optional(req.UserID)), req.CustomerName, req.CustomerPhone, req.CustomerEmail,
		req.DeliveryAddress, req.OrderType, entity.StatusPending, req.PaymentMethod, paymentStatus, req.Notes,
		req.Subtotal, req.TaxAmount, req.TotalAmount, now, now)
	if err != nil {
		tx.Rollback()
		return nil, translate(err)
	}

	// Batch insert of the items
	itemQuery := `INSERT INTO order_items (id, order_id, food_item_id, size_id, quantity, unit_price, total_price, notes) VALUES `
	placeholders := make([]string, 0, len(req.Items))
	values := make([]interface{}, 0, len(req.Items)*8)
	items := make([]entity.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		item.ID = uuid.NewString()
		item.OrderID = orderID
		items = append(items, item)
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?)")
		values = append(values, item.ID, orderID, item.FoodItemID, nullString(item.SizeID), item.Quantity, item.UnitPrice, item.TotalPrice, item.Notes)
	}
	itemQuery += strings.Join(placeholders, ", ")

	_, err = tx.ExecContext(ctx, itemQuery, values...)
	if err != nil {
		tx.Rollback()
		return nil, translate(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created, err := r.GetOrder(ctx, orderID)
	if err != nil {
		// The order is committed. Reporting the read-back failure would make
		// the caller retry and insert it twice, so answer from what was written.
		return &entity.Order{
			ID:              orderID,
			UserID:          req.UserID,
			CustomerName:    req.CustomerName,
			CustomerPhone:   req.CustomerPhone,
			CustomerEmail:   req.CustomerEmail,
			DeliveryAddress: req.DeliveryAddress,
			OrderType:       req.OrderType,
			PaymentMethod:   req.PaymentMethod,
			PaymentStatus:   paymentStatus,
			Status:          entity.StatusPending,
			Notes:           req.Notes,
			Subtotal:        req.Subtotal,
			TaxAmount:       req.TaxAmount,
			TotalAmount:     req.TotalAmount,
			Items:           items,
			CreatedAt:       now,
			UpdatedAt:       now,
		}, nil
	}
	return created, nil
}

// GetOrder returns an order with its items joined to food item and size display data.
func (r *MySQLStore) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	orderQuery := `SELECT id, COALESCE(user_id, ''), customer_name, customer_phone, customer_email, delivery_address, order_type, status,
		payment_method, payment_status, notes, subtotal, tax_amount, total_amount, created_at, updated_at
		FROM orders WHERE id = ?`
	itemQuery := `SELECT oi.id, oi.food_item_id, oi.size_id, oi.quantity, oi.unit_price, oi.total_price, COALESCE(oi.notes, ''),
		f.name, s.name
		FROM order_items oi
		JOIN food_items f ON f.id = oi.food_item_id
		LEFT JOIN item_sizes s ON s.id = oi.size_id
		WHERE oi.order_id = ?
		ORDER BY oi.id`

	db := r.shard(id)

	order := &entity.Order{}
	err := db.QueryRowContext(ctx, orderQuery, id).Scan(&order.ID, &order.UserID, &order.CustomerName, &order.CustomerPhone,
		&order.CustomerEmail, &order.DeliveryAddress, &order.OrderType, &order.Status, &order.PaymentMethod, &order.PaymentStatus,
		&order.Notes, &order.Subtotal, &order.TaxAmount, &order.TotalAmount, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, translate(err)
	}

	rows, err := db.QueryContext(ctx, itemQuery, id)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item     entity.OrderItem
			sizeID   sql.NullString
			foodName string
			sizeName sql.NullString
		)
		err := rows.Scan(&item.ID, &item.FoodItemID, &sizeID, &item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.Notes, &foodName, &sizeName)
		if err != nil {
			return nil, err
		}
		item.OrderID = order.ID
		item.FoodItem = &entity.FoodItem{ID: item.FoodItemID, Name: foodName}
		if sizeID.Valid {
			sid := sizeID.String
			item.SizeID = &sid
			item.Size = &entity.ItemSize{ID: sid, FoodItemID: item.FoodItemID, Name: sizeName.String}
		}
		order.Items = append(order.Items, item)
	}
	return order, rows.Err()
}

func (r *MySQLStore) UpdateOrderStatus(ctx context.Context, id string, status entity.OrderStatus) error {
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`
	return r.updateOrder(ctx, id, query, status, r.now(), id)
}

func (r *MySQLStore) UpdatePaymentStatus(ctx context.Context, id string, status entity.PaymentStatus) error {
	query := `UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ?`
	return r.updateOrder(ctx, id, query, status, r.now(), id)
}

func (r *MySQLStore) updateOrder(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := r.shard(id).ExecContext(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SalesReport aggregates completed and in-flight orders per day over every shard.
func (r *MySQLStore) SalesReport(ctx context.Context, from, to time.Time) ([]entity.SalesRow, error) {
	query := `SELECT DATE_FORMAT(created_at, '%Y-%m-%d') AS day, COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM orders
		WHERE status <> ? AND created_at >= ? AND created_at < ?
		GROUP BY day`

	byDay := map[string]*entity.SalesRow{}
	for _, db := range r.dbShards {
		rows, err := db.QueryContext(ctx, query, entity.StatusCancelled, from, to)
		if err != nil {
			return nil, translate(err)
		}
		for rows.Next() {
			var row entity.SalesRow
			if err := rows.Scan(&row.Day, &row.Orders, &row.Revenue); err != nil {
				rows.Close()
				return nil, err
			}
			if acc, ok := byDay[row.Day]; ok {
				acc.Orders += row.Orders
				acc.Revenue = acc.Revenue.Add(row.Revenue)
				continue
			}
			byDay[row.Day] = &row
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	report := make([]entity.SalesRow, 0, len(byDay))
	for _, row := range byDay {
		report = append(report, *row)
	}
	sort.Slice(report, func(i, j int) bool { return report[i].Day < report[j].Day })
	return report, nil
}

// ListFoodItems returns the menu with each item's sizes attached.
func (r *MySQLStore) ListFoodItems(ctx context.Context) ([]entity.FoodItem, error) {
	itemQuery := `SELECT id, name, description, price, COALESCE(category_id, ''), COALESCE(image_url, ''), is_available, is_featured, has_sizes, preparation_time
		FROM food_items ORDER BY name`
	sizeQuery := `SELECT id, food_item_id, name, price_modifier, is_default FROM item_sizes ORDER BY food_item_id, price_modifier`

	db := r.catalog()
	rows, err := db.QueryContext(ctx, itemQuery)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	items := []entity.FoodItem{}
	index := map[string]int{}
	for rows.Next() {
		var f entity.FoodItem
		err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.BasePrice, &f.CategoryID, &f.ImageURL, &f.IsAvailable, &f.IsFeatured, &f.HasSizes, &f.PrepTimeMinutes)
		if err != nil {
			return nil, err
		}
		index[f.ID] = len(items)
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sizeRows, err := db.QueryContext(ctx, sizeQuery)
	if err != nil {
		return nil, translate(err)
	}
	defer sizeRows.Close()

	for sizeRows.Next() {
		var s entity.ItemSize
		if err := sizeRows.Scan(&s.ID, &s.FoodItemID, &s.Name, &s.PriceDelta, &s.IsDefault); err != nil {
			return nil, err
		}
		if i, ok := index[s.FoodItemID]; ok {
			items[i].Sizes = append(items[i].Sizes, s)
		}
	}
	return items, sizeRows.Err()
}

func (r *MySQLStore) ListCategories(ctx context.Context) ([]entity.Category, error) {
	query := `SELECT id, name, is_active, sort_order FROM categories ORDER BY sort_order, name`
	rows, err := r.catalog().QueryContext(ctx, query)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	categories := []entity.Category{}
	for rows.Next() {
		var c entity.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.IsActive, &c.SortOrder); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
