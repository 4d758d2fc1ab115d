package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-at-least-32-chars!"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("home-assistant", RoleOperator, testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "home-assistant" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "home-assistant")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if !claims.Can(PermParameterWrite) {
		t.Error("operator token should grant ariston:write")
	}
	if claims.Can(PermTokenIssue) {
		t.Error("operator token should not grant ariston:admin")
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("svc", RoleViewer, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != defaultTTL {
		t.Errorf("TTL = %v, want %v", ttl, defaultTTL)
	}
}

func TestGenerateToken_InvalidRole(t *testing.T) {
	if _, err := GenerateToken("svc", Role("root"), testSecret, time.Minute); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("GenerateToken() error = %v, want ErrInvalidRole", err)
	}
}

// signRaw signs arbitrary claims, bypassing GenerateToken's checks.
func signRaw(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

func TestParseToken_Rejects(t *testing.T) {
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "svc",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	noSubject := valid
	noSubject.Subject = ""

	goodToken, err := GenerateToken("svc", RoleViewer, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"garbage", "not-a-valid-jwt", testSecret},
		{"wrong secret", goodToken, "another-secret-key-at-least-32-chars"},
		{"expired", signRaw(t, jwt.SigningMethodHS256, &Claims{expired, RoleViewer}, []byte(testSecret)), testSecret},
		{"no expiry", signRaw(t, jwt.SigningMethodHS256, &Claims{noExpiry, RoleViewer}, []byte(testSecret)), testSecret},
		{"no subject", signRaw(t, jwt.SigningMethodHS256, &Claims{noSubject, RoleViewer}, []byte(testSecret)), testSecret},
		{"unknown role", signRaw(t, jwt.SigningMethodHS256, &Claims{valid, Role("root")}, []byte(testSecret)), testSecret},
		{"HS512", signRaw(t, jwt.SigningMethodHS512, &Claims{valid, RoleViewer}, []byte(testSecret)), testSecret},
		{"alg none", signRaw(t, jwt.SigningMethodNone, &Claims{valid, RoleAdmin}, jwt.UnsafeAllowNoneSignatureType), testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
