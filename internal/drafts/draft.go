package drafts

import (
	"fmt"
	"strings"
	"time"

	"laundry/internal/backend"
	"laundry/internal/validate"

	"github.com/shopspring/decimal"
)

const (
	logisticsDateLayout = "2006-01-02"
	logisticsTimeLayout = "15:04"

	// DefaultMinTurnaround is the shortest allowed gap between pickup and delivery.
	DefaultMinTurnaround = 24 * time.Hour
)

type CartItem struct {
	ServiceID int64           `json:"service_id" validate:"required,gt=0"`
	Name      string          `json:"name" validate:"max=120"`
	Quantity  int             `json:"quantity" validate:"min=1,max=999"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"money"`
}

// Logistics is a pickup or delivery slot.
type Logistics struct {
	Date    string `json:"date" validate:"required,datetime=2006-01-02"`
	Time    string `json:"time" validate:"required,datetime=15:04"`
	Address string `json:"address" validate:"required,max=255"`
}

// At returns the slot as an instant. Both slots are read in the same zone, so
// comparisons between them do not depend on it.
func (l Logistics) At(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(logisticsDateLayout+" "+logisticsTimeLayout, l.Date+" "+l.Time, loc)
}

type Pricing struct {
	Subtotal     decimal.Decimal `json:"subtotal" validate:"money"`
	PickupCost   decimal.Decimal `json:"pickup_cost" validate:"money"`
	DeliveryCost decimal.Decimal `json:"delivery_cost" validate:"money"`
	UrgentCost   decimal.Decimal `json:"urgent_cost" validate:"money"`
	Total        decimal.Decimal `json:"total" validate:"money"`
}

// Sum is subtotal plus every surcharge.
func (p Pricing) Sum() decimal.Decimal {
	return p.Subtotal.Add(p.PickupCost).Add(p.DeliveryCost).Add(p.UrgentCost)
}

// OrderDraft is an order the customer has put together but that the backend
// has not seen yet.
type OrderDraft struct {
	Branch    int64      `json:"branch" validate:"required,gt=0"`
	CartItems []CartItem `json:"cart_items" validate:"required,min=1,dive"`
	Pickup    *Logistics `json:"pickup,omitempty"`
	Delivery  *Logistics `json:"delivery,omitempty"`
	IsUrgent  bool       `json:"is_urgent"`
	Pricing   Pricing    `json:"pricing"`
	Notes     string     `json:"notes" validate:"max=500"`
}

// Validate checks field rules plus the cross-field ones: pricing must add up,
// the cart subtotal must match the line items, and delivery must come at least
// minTurnaround after pickup.
func (d *OrderDraft) Validate(minTurnaround time.Duration) error {
	verr := &validate.ValidationError{}
	if err := validate.Struct(d); err != nil {
		ve, ok := err.(*validate.ValidationError)
		if !ok {
			return err
		}
		verr = ve
	}

	if !d.Pricing.Total.Equal(d.Pricing.Sum()) {
		verr.Add("pricing.total", fmt.Sprintf("must equal %s", d.Pricing.Sum().StringFixed(2)))
	}
	if !d.Pricing.Total.IsPositive() {
		verr.Add("pricing.total", "must be greater than 0")
	}
	if len(d.CartItems) > 0 && !d.Pricing.Subtotal.Equal(d.itemsTotal()) {
		verr.Add("pricing.subtotal", fmt.Sprintf("must equal the cart total %s", d.itemsTotal().StringFixed(2)))
	}
	if !d.IsUrgent && d.Pricing.UrgentCost.IsPositive() {
		verr.Add("pricing.urgent_cost", "must be 0 for a non-urgent order")
	}

	if d.Pickup != nil && d.Delivery != nil && verr.Fields["pickup.date"] == "" && verr.Fields["delivery.date"] == "" {
		pickup, perr := d.Pickup.At(time.UTC)
		delivery, derr := d.Delivery.At(time.UTC)
		switch {
		case perr != nil:
			verr.Add("pickup.time", "is invalid")
		case derr != nil:
			verr.Add("delivery.time", "is invalid")
		case delivery.Before(pickup.Add(minTurnaround)):
			verr.Add("delivery.date", fmt.Sprintf("must be at least %s after pickup", humanDuration(minTurnaround)))
		}
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

func (d *OrderDraft) itemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range d.CartItems {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// ToPayload builds the backend order body. paymentStatus is what the order is
// created with: "pending" for cash, bank and order-first wallet checkouts.
func (d *OrderDraft) ToPayload(method backend.Method, paymentStatus string) backend.OrderPayload {
	lines := make([]backend.OrderLine, 0, len(d.CartItems))
	for _, it := range d.CartItems {
		lines = append(lines, backend.OrderLine{
			ServiceID: it.ServiceID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	p := backend.OrderPayload{
		BranchID:      d.Branch,
		Services:      lines,
		IsUrgent:      d.IsUrgent,
		Subtotal:      d.Pricing.Subtotal,
		PickupCost:    d.Pricing.PickupCost,
		DeliveryCost:  d.Pricing.DeliveryCost,
		UrgentCost:    d.Pricing.UrgentCost,
		TotalAmount:   d.Pricing.Total,
		Description:   strings.TrimSpace(d.Notes),
		PaymentMethod: method.PaymentType(),
		PaymentStatus: paymentStatus,
	}
	if d.Pickup != nil {
		p.PickupDate, p.PickupTime, p.PickupAddress = d.Pickup.Date, d.Pickup.Time, d.Pickup.Address
	}
	if d.Delivery != nil {
		p.DeliveryDate, p.DeliveryTime, p.DeliveryAddress = d.Delivery.Date, d.Delivery.Time, d.Delivery.Address
	}
	return p
}

func humanDuration(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}
