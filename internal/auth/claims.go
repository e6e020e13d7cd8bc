package auth

import "github.com/golang-jwt/jwt/v5"

// CallClaims are the only supported JWT claims shape for call access tokens.
//
// A call token is scoped to one booking and one room; it exists only to let
// the holder join that room within the token's short lifetime. It is not a
// general-purpose identity token.
type CallClaims struct {
	jwt.RegisteredClaims

	UserID    string `json:"user_id"`
	BookingID string `json:"booking_id"`
	Room      string `json:"room"`
	Role      string `json:"role"`
}
