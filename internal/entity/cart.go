package entity

import (
	"github.com/shopspring/decimal"
)

// LineKey is the natural key of a cart line. A nil SizeID is its own key,
// distinct from every non-nil size of the same food item.
type LineKey struct {
	FoodItemID string  `json:"food_item_id"`
	SizeID     *string `json:"size_id,omitempty"`
}

func NewLineKey(foodItemID string, sizeID *string) LineKey {
	if sizeID != nil && *sizeID == "" {
		sizeID = nil
	}
	return LineKey{FoodItemID: foodItemID, SizeID: sizeID}
}

func (k LineKey) String() string {
	if k.SizeID == nil {
		return k.FoodItemID
	}
	return k.FoodItemID + ":" + *k.SizeID
}

// SizeKey is the value stored in the cart_items.size_key column; MySQL unique
// indexes treat NULLs as distinct, so the null size is stored as "".
func (k LineKey) SizeKey() string {
	if k.SizeID == nil {
		return ""
	}
	return *k.SizeID
}

func (k LineKey) Equal(o LineKey) bool {
	if k.FoodItemID != o.FoodItemID {
		return false
	}
	if k.SizeID == nil || o.SizeID == nil {
		return k.SizeID == nil && o.SizeID == nil
	}
	return *k.SizeID == *o.SizeID
}

type CartLine struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	FoodItemID string    `json:"food_item_id"`
	SizeID     *string   `json:"size_id,omitempty"`
	Quantity   int       `json:"quantity"`
	Notes      string    `json:"notes,omitempty"`
	FoodItem   FoodItem  `json:"food_items"`
	Size       *ItemSize `json:"item_sizes,omitempty"`
}

func (l CartLine) Key() LineKey {
	return NewLineKey(l.FoodItemID, l.SizeID)
}

// UnitPrice is the base price plus the size delta.
func (l CartLine) UnitPrice() decimal.Decimal {
	price := l.FoodItem.BasePrice
	if l.Size != nil {
		price = price.Add(l.Size.PriceDelta)
	}
	return price
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Clone copies the line including its pointer fields.
func (l CartLine) Clone() CartLine {
	c := l
	if l.SizeID != nil {
		id := *l.SizeID
		c.SizeID = &id
	}
	if l.Size != nil {
		s := *l.Size
		c.Size = &s
	}
	if l.FoodItem.Sizes != nil {
		c.FoodItem.Sizes = append([]ItemSize(nil), l.FoodItem.Sizes...)
	}
	return c
}

func CloneLines(lines []CartLine) []CartLine {
	if lines == nil {
		return nil
	}
	out := make([]CartLine, len(lines))
	for i, l := range lines {
		out[i] = l.Clone()
	}
	return out
}

// IndexOf returns the position of the line with the given key, or -1.
func IndexOf(lines []CartLine, key LineKey) int {
	for i := range lines {
		if lines[i].Key().Equal(key) {
			return i
		}
	}
	return -1
}

/*
MySQL table:

CREATE TABLE cart_items (
	id CHAR(36) PRIMARY KEY,
	user_id CHAR(36) NOT NULL,
	food_item_id CHAR(36) NOT NULL,
	size_id CHAR(36) NULL,
	size_key CHAR(36) NOT NULL DEFAULT '',
	quantity INT NOT NULL,
	notes TEXT NULL,
	UNIQUE KEY cart_line_uq (user_id, food_item_id, size_key)
);
*/
