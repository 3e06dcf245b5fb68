package models

import (
	"time"
)

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type Cart struct {
	UserID    string     `gorm:"primaryKey;size:64"`
	Items     []CartItem `gorm:"serializer:json"`
	Version   int64      `gorm:"not null;default:1"`
	UpdatedAt time.Time
}

// Add appends a line or increases the quantity of an existing one.
func (c *Cart) Add(productID string, quantity int64) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			return
		}
	}
	c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: quantity})
}

// Subtract lowers the quantity of productID, dropping the line when nothing
// is left. It reports whether the cart changed.
func (c *Cart) Subtract(productID string, quantity int64) bool {
	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		c.Items[i].Quantity -= quantity
		if c.Items[i].Quantity <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		}
		return true
	}
	return false
}

// Remove drops the line for productID, reporting whether it existed.
func (c *Cart) Remove(productID string) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}
