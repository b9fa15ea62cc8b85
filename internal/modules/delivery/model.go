// README: Rider directory, assignment and the rider-facing delivery surface.
package delivery

import (
	"time"

	"github.com/shopspring/decimal"

	"dukani/internal/modules/order"
	"dukani/internal/types"
)

// User is a directory entry. Riders are users with RoleDelivery.
type User struct {
	ID        types.ID   `json:"_id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Role      types.Role `json:"role"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
}

// RiderDetail is a resolved order.RiderRef.
type RiderDetail struct {
	ID       types.ID `json:"_id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Phone    string   `json:"phone"`
	IsActive bool     `json:"isActive"`
}

func (u User) Rider() RiderDetail {
	return RiderDetail{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone, IsActive: u.IsActive}
}

// Assignment is one delivery as the assigned rider sees it.
type Assignment struct {
	OrderID       types.ID              `json:"orderId"`
	OrderRef      string                `json:"orderRef"`
	SuborderID    types.ID              `json:"suborderId"`
	Status        order.SuborderStatus  `json:"status"`
	Items         []order.LineItem      `json:"items"`
	Delivery      order.DeliveryDetails `json:"deliveryDetails"`
	DeliveryFee   decimal.Decimal       `json:"deliveryFee"`
	PayoutStatus  order.PayoutStatus    `json:"riderPayoutStatus"`
	CustomerName  string                `json:"customerName"`
	CustomerPhone string                `json:"customerPhone"`
	Rider         RiderDetail           `json:"rider"`
	Actions       []order.ActionKind    `json:"actions"`
}
