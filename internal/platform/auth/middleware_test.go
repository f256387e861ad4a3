package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string, extra map[string]string) (context.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got context.Context
	err := mw(func(c echo.Context) error {
		got = c.Request().Context()
		return c.String(http.StatusOK, "ok")
	})(c)
	return got, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "", nil)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header, nil)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "clinic",
			Audience:  jwt.ClaimStrings{"growth-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles:     []string{RolePatient},
		PatientID: "patient-9",
	}
	cfg := JWTConfig{Issuer: "clinic", Audience: "growth-api", SigningKey: testSigningKey}

	ctx, err := runMiddleware(t, JWTMiddleware(cfg), "Bearer "+createTestToken(t, claims, testSigningKey), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(ctx) != "user-123" {
		t.Errorf("expected user-123, got %q", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RolePatient {
		t.Errorf("unexpected roles %v", roles)
	}
	if PatientIDFromContext(ctx) != "patient-9" {
		t.Errorf("expected patient-9, got %q", PatientIDFromContext(ctx))
	}
}

func TestJWTMiddleware_RejectedTokens(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	noSubject := valid
	noSubject.Subject = ""
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name   string
		claims jwt.RegisteredClaims
		key    []byte
	}{
		{"expired", expired, testSigningKey},
		{"no expiry", noExpiry, testSigningKey},
		{"no subject", noSubject, testSigningKey},
		{"wrong issuer", wrongIssuer, testSigningKey},
		{"wrong key", valid, []byte("another-key-another-key-another!!")},
	}
	cfg := JWTConfig{Issuer: "clinic", SigningKey: testSigningKey}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := tt.claims
			if tt.name != "wrong issuer" {
				claims.Issuer = "clinic"
			}
			token := createTestToken(t, Claims{RegisteredClaims: claims, Roles: []string{RoleDoctor}}, tt.key)
			_, err := runMiddleware(t, JWTMiddleware(cfg), "Bearer "+token, nil)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestIssueToken_RoundTrip(t *testing.T) {
	cfg := JWTConfig{Issuer: "clinic", Audience: "growth-api", SigningKey: testSigningKey}
	token, err := IssueToken(cfg, "nurse-1", []string{RoleNurse}, "", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := ParseToken(cfg, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "nurse-1" || len(claims.Roles) != 1 || claims.Roles[0] != RoleNurse {
		t.Errorf("unexpected claims %+v", claims)
	}

	if _, err := IssueToken(JWTConfig{}, "x", nil, "", time.Hour); err == nil {
		t.Error("expected error without signing key")
	}
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	ctx, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{}), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(ctx) != "dev-user" {
		t.Errorf("expected dev-user, got %q", UserIDFromContext(ctx))
	}
	if !HasRole(ctx, RoleDoctor) {
		t.Error("dev user should be admin")
	}
}

func TestDevAuthMiddleware_RoleOverride(t *testing.T) {
	ctx, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{}), "", map[string]string{
		devRoleHeader:   RolePatient,
		"X-Dev-Patient": "p-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if HasRole(ctx, RoleDoctor) {
		t.Error("patient override should not grant doctor")
	}
	if PatientIDFromContext(ctx) != "p-1" {
		t.Errorf("expected p-1, got %q", PatientIDFromContext(ctx))
	}
}

func TestDevAuthMiddleware_ValidatesSuppliedToken(t *testing.T) {
	_, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer bogus", nil)
	expectStatus(t, err, http.StatusUnauthorized)
}
