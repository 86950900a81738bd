package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleEmployee   UserRole = "EMPLOYEE"
	RoleUser       UserRole = "USER"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleEmployee, RoleUser:
		return true
	}
	return false
}

// Session is the caller identity for one API request. It is built from the bearer token and
// passed explicitly to every workflow operation.
type Session struct {
	UserID   string
	Email    string
	FullName string
	Roles    []UserRole
}

// HasRole reports whether the session carries any of roles.
func (s Session) HasRole(roles ...UserRole) bool {
	for _, have := range s.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsStaff reports whether the session can work requests on behalf of the university.
func (s Session) IsStaff() bool {
	return s.HasRole(RoleEmployee, RoleAdmin, RoleSuperAdmin)
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
