package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signStaffToken issues an HS256 staff token for tenant h1. A negative ttl
// yields an already expired token.
func signStaffToken(t testing.TB, secret, subject string, ttl time.Duration) string {
	t.Helper()
	return signTenantStaffToken(t, secret, subject, "h1", ttl)
}

func signTenantStaffToken(t testing.TB, secret, subject, tenantID string, ttl time.Duration) string {
	t.Helper()
	claims := StaffClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
