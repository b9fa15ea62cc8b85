// README: Order aggregate, suborder delivery record and status definitions.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"dukani/internal/types"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusConfirmed  Status = "CONFIRMED"
)

type SuborderStatus string

const (
	SubPending        SuborderStatus = "PENDING"
	SubProcessing     SuborderStatus = "PROCESSING"
	SubReadyForPickup SuborderStatus = "READY_FOR_PICKUP"
	SubAssigned       SuborderStatus = "ASSIGNED"
	SubPickedUp       SuborderStatus = "PICKED_UP"
	SubInTransit      SuborderStatus = "IN_TRANSIT"
	SubDelivered      SuborderStatus = "DELIVERED"
	SubConfirmed      SuborderStatus = "CONFIRMED"
	SubCancelled      SuborderStatus = "CANCELLED"
)

// AllSuborderStatuses lists the delivery-aware enum in workflow order.
var AllSuborderStatuses = []SuborderStatus{
	SubPending, SubProcessing, SubReadyForPickup, SubAssigned, SubPickedUp,
	SubInTransit, SubDelivered, SubConfirmed, SubCancelled,
}

func (s SuborderStatus) Terminal() bool {
	return s == SubConfirmed || s == SubCancelled
}

// Settled suborders no longer block order completion.
func (s SuborderStatus) Settled() bool {
	return s == SubDelivered || s == SubConfirmed || s == SubCancelled
}

// RequiresRider is true for every status at or after ASSIGNED on the delivery path.
func (s SuborderStatus) RequiresRider() bool {
	switch s {
	case SubAssigned, SubPickedUp, SubInTransit, SubDelivered, SubConfirmed:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutPaid    PayoutStatus = "PAID"
	PayoutHold    PayoutStatus = "HOLD"
)

const PaymentMethodMpesa = "MPESA"

type LineItem struct {
	ProductID types.ID        `json:"productId"`
	VendorID  types.ID        `json:"vendorId"`
	ShopID    types.ID        `json:"shopId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Street     string `json:"address"`
	City       string `json:"city"`
	County     string `json:"county,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

type Payment struct {
	Method            string        `json:"paymentMethod"`
	Status            PaymentStatus `json:"paymentStatus"`
	MpesaTransaction  string        `json:"mpesaTransactionId,omitempty"`
	CheckoutRequestID string        `json:"checkoutRequestId,omitempty"`
}

// RiderRef identifies an assigned rider. Resolve it through the rider
// directory to obtain contact details.
type RiderRef struct {
	ID types.ID `json:"id"`
}

type DeliveryDetails struct {
	PickupAddress    string     `json:"pickupAddress"`
	DropoffAddress   string     `json:"dropoffAddress"`
	EstimatedTime    *time.Time `json:"estimatedTime,omitempty"`
	ActualTime       *time.Time `json:"actualTime,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	ConfirmationCode *string    `json:"confirmationCode"`
	RiderConfirmedAt *time.Time `json:"riderConfirmedAt"`
}

type Suborder struct {
	ID                types.ID        `json:"_id"`
	VendorID          types.ID        `json:"vendorId"`
	ShopID            types.ID        `json:"shopId"`
	Rider             *RiderRef       `json:"rider,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Commission        decimal.Decimal `json:"commission"`
	NetAmount         decimal.Decimal `json:"netAmount"`
	DeliveryFee       decimal.Decimal `json:"deliveryFee"`
	RiderPayoutStatus PayoutStatus    `json:"riderPayoutStatus"`
	Status            SuborderStatus  `json:"status"`
	StatusVersion     int             `json:"statusVersion"`
	Delivery          DeliveryDetails `json:"deliveryDetails"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// RiderID returns the assigned rider id, or "" when unassigned.
func (s *Suborder) RiderID() types.ID {
	if s.Rider == nil {
		return ""
	}
	return s.Rider.ID
}

func (s *Suborder) AssignedTo(id types.ID) bool {
	return id != "" && s.RiderID() == id
}

type Order struct {
	ID               types.ID        `json:"_id"`
	OrderID          string          `json:"orderId"`
	BuyerID          types.ID        `json:"buyerId"`
	Items            []LineItem      `json:"items"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	PlatformFee      decimal.Decimal `json:"platformFee"`
	ShippingFee      decimal.Decimal `json:"shippingFee"`
	DeliveryFeeTotal decimal.Decimal `json:"deliveryFeeTotal"`
	Currency         string          `json:"currency"`
	Payment          Payment         `json:"payment"`
	Shipping         Address         `json:"shippingAddress"`
	Status           Status          `json:"status"`
	StatusVersion    int             `json:"statusVersion"`
	Suborders        []Suborder      `json:"suborders"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (o *Order) Suborder(id types.ID) (*Suborder, bool) {
	for i := range o.Suborders {
		if o.Suborders[i].ID == id {
			return &o.Suborders[i], true
		}
	}
	return nil, false
}

// SuborderFor returns the vendor's suborder, if the vendor sells on this order.
func (o *Order) SuborderFor(vendorID types.ID) (*Suborder, bool) {
	for i := range o.Suborders {
		if o.Suborders[i].VendorID == vendorID {
			return &o.Suborders[i], true
		}
	}
	return nil, false
}

// ItemsFor returns the line items sold by vendorID.
func (o *Order) ItemsFor(vendorID types.ID) []LineItem {
	var out []LineItem
	for _, it := range o.Items {
		if it.VendorID == vendorID {
			out = append(out, it)
		}
	}
	return out
}

// ExpectedTotal is the customer-facing total implied by the suborders and fees.
// DeliveryFeeTotal is rider payout bookkeeping and is not charged on top.
func (o *Order) ExpectedTotal() decimal.Decimal {
	total := o.ShippingFee.Add(o.PlatformFee)
	for _, s := range o.Suborders {
		total = total.Add(s.Amount)
	}
	return total
}

// SumDeliveryFees is the rider delivery fees across all suborders.
func (o *Order) SumDeliveryFees() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range o.Suborders {
		sum = sum.Add(s.DeliveryFee)
	}
	return sum
}

type Event struct {
	ID         int64
	OrderID    types.ID
	SuborderID *types.ID
	FromStatus string
	ToStatus   string
	ActorType  types.Role
	ActorID    *types.ID
	CreatedAt  time.Time
}
