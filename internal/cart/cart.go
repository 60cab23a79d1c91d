// Package cart implements pricing and line merging for a chat shopping cart.
// Everything here is pure: no I/O, no clocks, no globals.
package cart

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 99

var (
	// ErrQuantityLimit is returned when a line would exceed MaxLineQuantity.
	ErrQuantityLimit = errors.New("cart: quantity limit exceeded")
	// ErrLineNotFound is returned when a line id does not exist in the cart.
	ErrLineNotFound = errors.New("cart: line not found")
	// ErrInvalidQuantity is returned when adding a non-positive quantity.
	ErrInvalidQuantity = errors.New("cart: quantity must be positive")
)

// Money is an amount in integer minor units (e.g. cents).
type Money int64

// VariationChoice is the option picked for one variation group.
type VariationChoice struct {
	GroupID       string `json:"group_id"`
	GroupName     string `json:"group_name,omitempty"`
	OptionID      string `json:"option_id"`
	OptionName    string `json:"option_name,omitempty"`
	PriceModifier Money  `json:"price_modifier"`
}

// AddonChoice is a selected add-on.
type AddonChoice struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Price Money  `json:"price"`
}

// ItemSpec describes a fully configured item about to be added to a cart.
// Variations are keyed by variation group id.
type ItemSpec struct {
	MenuItemID string                     `json:"menu_item_id"`
	Name       string                     `json:"name"`
	BasePrice  Money                      `json:"base_price"`
	Variations map[string]VariationChoice `json:"variations,omitempty"`
	Addons     []AddonChoice              `json:"addons,omitempty"`
	Quantity   int                        `json:"quantity"`
}

// Line is one cart row. UnitPrice and Subtotal are derived from the other
// fields and recomputed on every mutation.
type Line struct {
	ID         string            `json:"id"`
	MenuItemID string            `json:"menu_item_id"`
	Name       string            `json:"name"`
	BasePrice  Money             `json:"base_price"`
	Variations []VariationChoice `json:"variations,omitempty"`
	Addons     []AddonChoice     `json:"addons,omitempty"`
	Quantity   int               `json:"quantity"`
	UnitPrice  Money             `json:"unit_price"`
	Subtotal   Money             `json:"subtotal"`
}

// Cart is an ordered sequence of lines.
type Cart struct {
	Lines []Line `json:"lines"`
}

// Empty reports whether the cart has no lines.
func (c Cart) Empty() bool { return len(c.Lines) == 0 }

// ItemCount returns the total quantity across all lines.
func (c Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// Find returns the line with the given id.
func (c Cart) Find(lineID string) (Line, bool) {
	for _, l := range c.Lines {
		if l.ID == lineID {
			return l, true
		}
	}
	return Line{}, false
}

// UnitPrice returns base + Σ variation modifiers + Σ addon prices.
func UnitPrice(spec ItemSpec) Money {
	p := spec.BasePrice
	for _, v := range spec.Variations {
		p += v.PriceModifier
	}
	seen := make(map[string]bool, len(spec.Addons))
	for _, a := range spec.Addons {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		p += a.Price
	}
	return p
}

// Identity returns the canonical identity of a configured item: item id,
// sorted group:option pairs, and the sorted add-on id set.
func Identity(spec ItemSpec) string {
	vars := make([]string, 0, len(spec.Variations))
	for gid, v := range spec.Variations {
		vars = append(vars, gid+":"+v.OptionID)
	}
	sort.Strings(vars)

	seen := make(map[string]bool, len(spec.Addons))
	addons := make([]string, 0, len(spec.Addons))
	for _, a := range spec.Addons {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		addons = append(addons, a.ID)
	}
	sort.Strings(addons)

	return spec.MenuItemID + "|" + strings.Join(vars, ",") + "|" + strings.Join(addons, ",")
}

// LineID derives a short stable line id from an item identity.
func LineID(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])[:10]
}

// AddOrMergeLine adds the configured item to a copy of the cart. When a line
// with the same identity already exists its quantity is increased instead.
func AddOrMergeLine(c Cart, spec ItemSpec) (Cart, error) {
	if spec.Quantity <= 0 {
		return c, ErrInvalidQuantity
	}
	id := LineID(Identity(spec))
	out := c.clone()
	for i := range out.Lines {
		if out.Lines[i].ID != id {
			continue
		}
		qty := out.Lines[i].Quantity + spec.Quantity
		if qty > MaxLineQuantity {
			return c, fmt.Errorf("%w: %d > %d", ErrQuantityLimit, qty, MaxLineQuantity)
		}
		out.Lines[i].Quantity = qty
		recomputeLine(&out.Lines[i])
		return out, nil
	}
	if spec.Quantity > MaxLineQuantity {
		return c, fmt.Errorf("%w: %d > %d", ErrQuantityLimit, spec.Quantity, MaxLineQuantity)
	}
	out.Lines = append(out.Lines, newLine(id, spec))
	return out, nil
}

// UpdateQuantity sets a line's quantity on a copy of the cart. A quantity of
// zero or less removes the line.
func UpdateQuantity(c Cart, lineID string, qty int) (Cart, error) {
	idx := -1
	for i, l := range c.Lines {
		if l.ID == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return c, fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}
	if qty > MaxLineQuantity {
		return c, fmt.Errorf("%w: %d > %d", ErrQuantityLimit, qty, MaxLineQuantity)
	}
	out := c.clone()
	if qty <= 0 {
		out.Lines = append(out.Lines[:idx], out.Lines[idx+1:]...)
		return out, nil
	}
	out.Lines[idx].Quantity = qty
	recomputeLine(&out.Lines[idx])
	return out, nil
}

// Total returns the sum of line subtotals, derived from unit price and
// quantity rather than any stored value.
func Total(c Cart) Money {
	var t Money
	for _, l := range c.Lines {
		t += lineUnitPrice(l) * Money(l.Quantity)
	}
	return t
}

// Recompute returns a copy of the cart with every derived field rebuilt.
// Carts decoded from storage go through this before use.
func Recompute(c Cart) Cart {
	out := c.clone()
	for i := range out.Lines {
		recomputeLine(&out.Lines[i])
	}
	return out
}

func newLine(id string, spec ItemSpec) Line {
	vars := make([]VariationChoice, 0, len(spec.Variations))
	for gid, v := range spec.Variations {
		v.GroupID = gid
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].GroupID < vars[j].GroupID })

	addons := make([]AddonChoice, 0, len(spec.Addons))
	seen := make(map[string]bool, len(spec.Addons))
	for _, a := range spec.Addons {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		addons = append(addons, a)
	}
	sort.Slice(addons, func(i, j int) bool { return addons[i].ID < addons[j].ID })

	l := Line{
		ID:         id,
		MenuItemID: spec.MenuItemID,
		Name:       spec.Name,
		BasePrice:  spec.BasePrice,
		Variations: vars,
		Addons:     addons,
		Quantity:   spec.Quantity,
	}
	recomputeLine(&l)
	return l
}

func lineUnitPrice(l Line) Money {
	p := l.BasePrice
	for _, v := range l.Variations {
		p += v.PriceModifier
	}
	for _, a := range l.Addons {
		p += a.Price
	}
	return p
}

func recomputeLine(l *Line) {
	l.UnitPrice = lineUnitPrice(*l)
	l.Subtotal = l.UnitPrice * Money(l.Quantity)
}

func (c Cart) clone() Cart {
	if c.Lines == nil {
		return Cart{}
	}
	lines := make([]Line, len(c.Lines))
	copy(lines, c.Lines)
	return Cart{Lines: lines}
}
