package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens issued by the identity provider.
type JWTClaims struct {
	UserID   string     `json:"user_id"`
	Roles    []UserRole `json:"roles"`
	Email    string     `json:"email"`
	FullName string     `json:"full_name"`
	jwt.RegisteredClaims
}

// Session converts the claims into a workflow session.
func (c *JWTClaims) Session() Session {
	if c == nil {
		return Session{}
	}
	roles := make([]UserRole, 0, len(c.Roles))
	for _, r := range c.Roles {
		if r.Valid() {
			roles = append(roles, r)
		}
	}
	return Session{UserID: c.UserID, Email: c.Email, FullName: c.FullName, Roles: roles}
}
