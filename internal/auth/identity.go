package auth

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleWaiter     Role = "waiter"
	RoleKitchen    Role = "kitchen"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var staffRoles = map[Role]bool{
	RoleWaiter:     true,
	RoleKitchen:    true,
	RoleAdmin:      true,
	RoleSuperAdmin: true,
}

func (r Role) IsStaff() bool { return staffRoles[r] }

// Identity is what the identity collaborator vouches for. Guests carry a
// session id instead of a user id; exactly one of the two identifies them.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role"`
	IsGuest   bool   `json:"is_guest"`
	SessionID string `json:"session_id"`
	TableID   string `json:"table_id"`
}

// OwnerKey is the value stored on rows this identity owns.
func (id Identity) OwnerKey() string {
	if id.IsGuest {
		return "session:" + id.SessionID
	}
	return id.ID
}

// ActorTopicKey addresses this identity's personal notification topic.
func (id Identity) ActorTopicKey() string { return id.OwnerKey() }
