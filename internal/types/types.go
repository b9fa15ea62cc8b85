// README: Shared identifiers and the acting-user value passed into every authorization decision.
package types

type ID string

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
	RoleDelivery Role = "delivery"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleVendor, RoleAdmin, RoleDelivery:
		return true
	}
	return false
}

// ActingUser is the caller of an operation. ViewAs is only honoured for
// admins, who may impersonate the customer's permitted action set.
type ActingUser struct {
	ID     ID
	Role   Role
	ViewAs Role
}

// EffectiveRole is the role used for authorization and projection.
func (u ActingUser) EffectiveRole() Role {
	if u.Role == RoleAdmin && u.ViewAs == RoleCustomer {
		return RoleCustomer
	}
	return u.Role
}

// Impersonating reports whether an admin is acting through the customer view.
func (u ActingUser) Impersonating() bool {
	return u.Role == RoleAdmin && u.ViewAs == RoleCustomer
}
