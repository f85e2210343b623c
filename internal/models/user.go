package models

import "time"

// Roles
const (
	RoleAdmin     = "admin"
	RoleWarehouse = "warehouse"
	RoleBranch    = "branch"
)

type User struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose in JSON
	Role         string    `json:"role"`
	BranchID     *int      `json:"branch_id,omitempty"` // required when role is branch
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse represents the response after successful authentication
type AuthResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// Caller is the resolved identity behind an operation.
type Caller struct {
	UserID   int
	Role     string
	BranchID *int
}

// SystemCaller is used by maintenance commands that run outside a request.
func SystemCaller() Caller {
	return Caller{Role: RoleAdmin}
}

func (c Caller) IsStaff() bool {
	return c.Role == RoleAdmin || c.Role == RoleWarehouse
}

// OwnsBranch reports whether a branch user is bound to branchID.
func (c Caller) OwnsBranch(branchID *int) bool {
	if c.BranchID == nil || branchID == nil {
		return false
	}
	return *c.BranchID == *branchID
}
