package entity

import "github.com/shopspring/decimal"

type FoodItem struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	BasePrice       decimal.Decimal `json:"price"`
	CategoryID      string          `json:"category_id"`
	ImageURL        string          `json:"image_url,omitempty"`
	IsAvailable     bool            `json:"is_available"`
	IsFeatured      bool            `json:"is_featured"`
	HasSizes        bool            `json:"has_sizes"`
	PrepTimeMinutes int             `json:"preparation_time"`
	Sizes           []ItemSize      `json:"item_sizes,omitempty"`
}

// ItemSize belongs to exactly one FoodItem. PriceDelta is added to the base price.
type ItemSize struct {
	ID         string          `json:"id"`
	FoodItemID string          `json:"food_item_id"`
	Name       string          `json:"name"`
	PriceDelta decimal.Decimal `json:"price_modifier"`
	IsDefault  bool            `json:"is_default"`
}

// DefaultSize returns the size flagged as default, or nil.
func (f FoodItem) DefaultSize() *ItemSize {
	for i := range f.Sizes {
		if f.Sizes[i].IsDefault {
			return &f.Sizes[i]
		}
	}
	return nil
}

// Size looks up one of the item's sizes by id.
func (f FoodItem) Size(id string) (*ItemSize, bool) {
	for i := range f.Sizes {
		if f.Sizes[i].ID == id {
			return &f.Sizes[i], true
		}
	}
	return nil, false
}

type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	SortOrder int    `json:"sort_order"`
}

/*
MySQL tables (see migrations package):

CREATE TABLE food_items (
	id CHAR(36) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	description TEXT NOT NULL,
	price DECIMAL(10,2) NOT NULL,
	category_id CHAR(36) NULL,
	...
);

CREATE TABLE item_sizes (
	id CHAR(36) PRIMARY KEY,
	food_item_id CHAR(36) NOT NULL REFERENCES food_items(id),
	name VARCHAR(100) NOT NULL,
	price_modifier DECIMAL(10,2) NOT NULL DEFAULT 0,
	is_default BOOLEAN NOT NULL DEFAULT FALSE
);
*/
