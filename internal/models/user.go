package models

// Role is the privilege level of a signed-in identity.
// Ordering: reader < trainer < admin < super-admin.
type Role string

const (
	RoleReader     Role = "reader"
	RoleTrainer    Role = "trainer"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super-admin"
)

var roleRank = map[Role]int{
	RoleReader:     1,
	RoleTrainer:    2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// Rank returns the position of r in the role order; unknown roles rank lowest.
func (r Role) Rank() int {
	return roleRank[r]
}

// AtLeast reports whether r is min or above.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= min.Rank() && r.Rank() > 0
}

// IsAdmin reports admin or super-admin.
func (r Role) IsAdmin() bool {
	return r.AtLeast(RoleAdmin)
}

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Sort orders accepted in profile preferences and list queries.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
	SortName   = "name"
)

// Preferences are per-user UI settings persisted on the profile.
type Preferences struct {
	SortOrder string `json:"sortOrder"`
}

// Profile is the identity record stored under profiles/{uid}.
type Profile struct {
	UID         string      `json:"uid,omitempty"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	Role        Role        `json:"role"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   int64       `json:"createdAt,omitempty"`
}

// SessionContext is the resolved identity of a session. It is fixed for the lifetime of
// the session.
type SessionContext struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Actor returns the attribution block written next to mutations.
func (s SessionContext) Actor() Actor {
	return Actor{UID: s.UID, Email: s.Email, Username: s.Username, Role: s.Role}
}

// Actor identifies who performed a write.
type Actor struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Map renders the actor as a document field value.
func (a Actor) Map() map[string]interface{} {
	return map[string]interface{}{
		"uid":      a.UID,
		"email":    a.Email,
		"username": a.Username,
		"role":     string(a.Role),
	}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
