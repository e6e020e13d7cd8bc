package auth

import (
	"errors"
	"time"

	"github.com/StreallyX/callastar-sub000/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Manager struct {
	secret   []byte
	issuer   string
	audience string
	tokenTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	ttl := cfg.CallTokenTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		tokenTTL: ttl,
	}, nil
}

/* ===================== ISSUE TOKEN ===================== */

// IssueCallToken mints a short-lived token scoped to one booking's room.
func (m *Manager) IssueCallToken(now time.Time, userID, bookingID, room, role string) (string, error) {
	if userID == "" || bookingID == "" || room == "" {
		return "", errors.New("user_id, booking_id and room are required")
	}

	claims := CallClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			ID:        uuid.NewString(),
		},
		UserID:    userID,
		BookingID: bookingID,
		Room:      room,
		Role:      role,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, now time.Time) (CallClaims, error) {
	var claims CallClaims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return CallClaims{}, err
	}

	// Build ONE validator
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}

	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	validator := jwt.NewValidator(opts...)
	if err := validator.Validate(claims.RegisteredClaims); err != nil {
		return CallClaims{}, err
	}

	// Custom claims validation
	if claims.UserID == "" {
		return CallClaims{}, errors.New("user_id missing")
	}
	if claims.BookingID == "" {
		return CallClaims{}, errors.New("booking_id missing")
	}
	if claims.Room == "" {
		return CallClaims{}, errors.New("room missing")
	}

	return claims, nil
}

// VerifyForBooking additionally pins the token to a specific booking.
func (m *Manager) VerifyForBooking(tokenString, bookingID string, now time.Time) (CallClaims, error) {
	claims, err := m.Verify(tokenString, now)
	if err != nil {
		return CallClaims{}, err
	}
	if claims.BookingID != bookingID {
		return CallClaims{}, errors.New("token is scoped to a different booking")
	}
	return claims, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
