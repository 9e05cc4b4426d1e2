// Package cart aggregates line items before checkout. Prices and stock held
// here are snapshots for display; checkout re-reads both.
package cart

import (
	"errors"
	"sort"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrExceedsStock    = errors.New("quantity exceeds available stock")
	ErrLineNotFound    = errors.New("cart line not found")
)

// Key identifies a line: the same product in another variant is another line.
type Key struct {
	ProductID        string `json:"product_id"`
	SelectedMaterial string `json:"selected_material,omitempty"`
	SelectedColor    string `json:"selected_color,omitempty"`
}

type Line struct {
	ProductID        string `json:"product_id"`
	Name             string `json:"name"`
	Quantity         int    `json:"quantity"`
	SelectedMaterial string `json:"selected_material,omitempty"`
	SelectedColor    string `json:"selected_color,omitempty"`
	UnitPrice        int64  `json:"unit_price"`
	StockSnapshot    int    `json:"stock_snapshot"`
}

func (l Line) Key() Key {
	return Key{ProductID: l.ProductID, SelectedMaterial: l.SelectedMaterial, SelectedColor: l.SelectedColor}
}

type Cart struct {
	Lines []Line `json:"lines"`
}

func New() *Cart {
	return &Cart{Lines: []Line{}}
}

func (c *Cart) find(k Key) int {
	for i := range c.Lines {
		if c.Lines[i].Key() == k {
			return i
		}
	}
	return -1
}

// Add merges line into the cart. A matching line gets its quantity bumped and
// its price and stock snapshot refreshed.
func (c *Cart) Add(line Line) error {
	if line.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	if i := c.find(line.Key()); i >= 0 {
		existing := &c.Lines[i]
		existing.Quantity += line.Quantity
		existing.UnitPrice = line.UnitPrice
		existing.StockSnapshot = line.StockSnapshot
		if line.Name != "" {
			existing.Name = line.Name
		}
		return nil
	}

	c.Lines = append(c.Lines, line)
	return nil
}

// UpdateQuantity sets the quantity of an existing line
func (c *Cart) UpdateQuantity(k Key, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	i := c.find(k)
	if i < 0 {
		return ErrLineNotFound
	}
	if quantity > c.Lines[i].StockSnapshot {
		return ErrExceedsStock
	}
	c.Lines[i].Quantity = quantity
	return nil
}

func (c *Cart) Remove(k Key) error {
	i := c.find(k)
	if i < 0 {
		return ErrLineNotFound
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return nil
}

func (c *Cart) Clear() {
	c.Lines = []Line{}
}

// ItemCount is the total number of units across lines
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// Subtotal is computed from snapshot prices
func (c *Cart) Subtotal() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.UnitPrice * int64(l.Quantity)
	}
	return total
}

// CheckoutLine is what checkout needs from a cart line. Prices are left out on purpose.
type CheckoutLine struct {
	ProductID        string
	Quantity         int
	SelectedMaterial string
	SelectedColor    string
}

// CheckoutLines returns the lines in a stable order for submission
func (c *Cart) CheckoutLines() []CheckoutLine {
	out := make([]CheckoutLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		out = append(out, CheckoutLine{
			ProductID:        l.ProductID,
			Quantity:         l.Quantity,
			SelectedMaterial: l.SelectedMaterial,
			SelectedColor:    l.SelectedColor,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
