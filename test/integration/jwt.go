package integration

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/govflow/govflow/internal/auth"
	"github.com/govflow/govflow/model"
)

// TestClaims holds the configurable claims for forging test JWT tokens.
type TestClaims struct {
	UserID string
	Role   model.Role
	Email  string
	Issuer string
	// ExpiresIn defaults to one hour. Negative values yield an expired token.
	ExpiresIn time.Duration
}

func (c TestClaims) build() auth.Claims {
	now := time.Now()
	expiresIn := c.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	issuer := c.Issuer
	if issuer == "" {
		issuer = "govflow"
	}
	return auth.Claims{
		ID:    c.UserID,
		Role:  c.Role,
		Email: c.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   c.UserID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
}

// GenerateToken signs claims with the harness secret.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	h.t.Helper()
	return signHS256(h.t, claims, testSecret)
}

// GenerateTokenWithSecret signs claims with an arbitrary secret.
func (h *TestHarness) GenerateTokenWithSecret(claims TestClaims, secret string) string {
	h.t.Helper()
	return signHS256(h.t, claims, secret)
}

// GenerateExpiredToken returns a correctly signed token that expired an hour
// ago, well outside the verifier's leeway.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	h.t.Helper()
	claims.ExpiresIn = -time.Hour
	return signHS256(h.t, claims, testSecret)
}

// GenerateUnsignedToken returns a token using the "none" algorithm.
func (h *TestHarness) GenerateUnsignedToken(claims TestClaims) string {
	h.t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims.build()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		h.t.Fatalf("sign none token: %v", err)
	}
	return signed
}

// ClaimsFor returns claims matching a seeded account.
func ClaimsFor(a Account) TestClaims {
	return TestClaims{UserID: a.ID, Role: model.Role(a.Role), Email: a.Email}
}

func signHS256(t *testing.T, claims TestClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims.build()).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
