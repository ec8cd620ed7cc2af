package model

import "time"

// Roles carried in the JWT "role" claim.
const (
    RoleCustomer  = "CUSTOMER"
    RoleOrganizer = "ORGANIZER"
    RoleAdmin     = "ADMIN"
)

// ValidRole reports whether r can be assigned at registration.  ADMIN is
// provisioned out of band.
func ValidRole(r string) bool { return r == RoleCustomer || r == RoleOrganizer }

// User represents an application user record as stored in the `users`
// table.  Handlers define their own response types; this struct is used by
// the repository layer.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – CUSTOMER, ORGANIZER or ADMIN.
//  IsActive     – whether the account is active.
type User struct {
    ID           uint64    // users.id
    Email        string    // users.email
    PasswordHash string    // users.password_hash
    Role         string    // users.role
    IsActive     bool      // users.is_active
    CreatedAt    time.Time // users.created_at
    UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The plain
// token is not stored; only its SHA-256 hash.
type RefreshToken struct {
    ID        uint64     // refresh_tokens.id
    UserID    uint64     // refresh_tokens.user_id
    TokenHash string     // refresh_tokens.token_hash
    ExpiresAt time.Time  // refresh_tokens.expires_at
    RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
    CreatedAt time.Time  // refresh_tokens.created_at
}
