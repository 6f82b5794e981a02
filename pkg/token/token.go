package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleType set user role
type RoleType string

const (
	// RoleAdmin is the admin role
	RoleAdmin RoleType = "admin"
	// RoleMember is the member role
	RoleMember RoleType = "member"
)

var (
	// ErrInvalidToken signature, method or expiry check failed
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingUser token carries no user_id
	ErrMissingUser = errors.New("token without user_id")
)

// Claims chat token claims, device_id is set when the token is bound to one device
type Claims struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Secret Key for JWT signing and validation
var (
	JWTSecret       = []byte("secure_secret_key")
	tokenExpiration = 60 * time.Minute
)

// SetSecret replace signing secret, empty secret is ignored
func SetSecret(secret string) {
	if secret != "" {
		JWTSecret = []byte(secret)
	}
}

// GenerateJWT generates a token for user without device binding
func GenerateJWT(userID, role, issuer string) (string, error) {
	return GenerateDeviceJWT(userID, "", role, issuer)
}

// GenerateDeviceJWT generates a token bound to one device
func GenerateDeviceJWT(userID, deviceID, role, issuer string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		DeviceID: deviceID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(JWTSecret)
}

// ParseJWT parses a JWT and extracts the Claims
func ParseJWT(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return JWTSecret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrMissingUser
	}
	return claims, nil
}
