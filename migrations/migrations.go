package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

// Tables in creation order; later tables reference earlier ones.
var tables = []struct {
	name  string
	query string
}{
	{"categories", `
		CREATE TABLE IF NOT EXISTS categories (
			id CHAR(36) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			sort_order INT NOT NULL DEFAULT 0
		);
	`},
	{"food_items", `
		CREATE TABLE IF NOT EXISTS food_items (
			id CHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			price DECIMAL(10,2) NOT NULL,
			category_id CHAR(36) NULL,
			image_url VARCHAR(512) NULL,
			is_available BOOLEAN NOT NULL DEFAULT TRUE,
			is_featured BOOLEAN NOT NULL DEFAULT FALSE,
			has_sizes BOOLEAN NOT NULL DEFAULT FALSE,
			preparation_time INT NOT NULL DEFAULT 0,
			FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE SET NULL
		);
	`},
	{"item_sizes", `
		CREATE TABLE IF NOT EXISTS item_sizes (
			id CHAR(36) PRIMARY KEY,
			food_item_id CHAR(36) NOT NULL,
			name VARCHAR(100) NOT NULL,
			price_modifier DECIMAL(10,2) NOT NULL DEFAULT 0,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			FOREIGN KEY (food_item_id) REFERENCES food_items(id) ON DELETE CASCADE
		);
	`},
	{"cart_items", `
		CREATE TABLE IF NOT EXISTS cart_items (
			id CHAR(36) PRIMARY KEY,
			user_id CHAR(36) NOT NULL,
			food_item_id CHAR(36) NOT NULL,
			size_id CHAR(36) NULL,
			size_key CHAR(36) NOT NULL DEFAULT '',
			quantity INT NOT NULL,
			notes TEXT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE KEY cart_line_uq (user_id, food_item_id, size_key),
			INDEX cart_user_idx (user_id)
		);
	`},
	{"orders", `
		CREATE TABLE IF NOT EXISTS orders (
			id CHAR(36) PRIMARY KEY,
			user_id CHAR(36) NULL,
			customer_name VARCHAR(255) NOT NULL DEFAULT '',
			customer_phone VARCHAR(50) NOT NULL DEFAULT '',
			customer_email VARCHAR(255) NOT NULL DEFAULT '',
			delivery_address TEXT NOT NULL,
			order_type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			payment_method VARCHAR(20) NOT NULL,
			payment_status VARCHAR(20) NOT NULL,
			notes TEXT NOT NULL,
			subtotal DECIMAL(10,2) NOT NULL,
			tax_amount DECIMAL(10,2) NOT NULL,
			total_amount DECIMAL(10,2) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			INDEX orders_created_idx (created_at)
		);
	`},
	{"order_items", `
		CREATE TABLE IF NOT EXISTS order_items (
			id CHAR(36) PRIMARY KEY,
			order_id CHAR(36) NOT NULL,
			food_item_id CHAR(36) NOT NULL,
			size_id CHAR(36) NULL,
			quantity INT NOT NULL,
			unit_price DECIMAL(10,2) NOT NULL,
			total_price DECIMAL(10,2) NOT NULL,
			notes TEXT NULL,
			FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
		);
	`},
}

// AutoMigrate creates every table on every shard if it does not exist.
// A statement that fails is retried up to retries times, one second apart.
func AutoMigrate(retries int, dbs ...*sql.DB) error {
	for _, table := range tables {
		if err := migrate(retries, table.query, dbs...); err != nil {
			return fmt.Errorf("create table %s: %w", table.name, err)
		}
	}
	return nil
}

func migrate(retries int, query string, dbs ...*sql.DB) error {
	for _, db := range dbs {
		_, err := db.Exec(query)
		if err != nil {
			// Retry creating the table
			for i := 0; i < retries; i++ {
				time.Sleep(1 * time.Second)
				_, err = db.Exec(query)
				if err == nil {
					break
				}
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
