package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/forgecommerce/storefront/internal/auth"
)

const testSecret = "test-secret-minimum-length-32-chars"

func TestJWT_AdminToken_RoundTrip(t *testing.T) {
	mgr := auth.NewJWTManager(testSecret)

	token, err := mgr.GenerateAdminToken("ops@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "ops@example.com" {
		t.Errorf("subject: got %q, want %q", claims.Subject, "ops@example.com")
	}
	if claims.Role != auth.RoleAdmin {
		t.Errorf("role: got %q, want %q", claims.Role, auth.RoleAdmin)
	}
	if claims.ID == "" {
		t.Error("expected a token ID")
	}
}

func TestJWT_Expired(t *testing.T) {
	mgr := auth.NewJWTManager(testSecret)

	token, err := mgr.GenerateAdminToken("ops@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	if _, err := mgr.ValidateToken(token); err != auth.ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_WrongSecret(t *testing.T) {
	mgr1 := auth.NewJWTManager("secret-one-minimum-length-32-chars")
	mgr2 := auth.NewJWTManager("secret-two-minimum-length-32-chars")

	token, _ := mgr1.GenerateAdminToken("x@x.com", time.Hour)
	_, err := mgr2.ValidateToken(token)
	if err != auth.ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_RejectsNonAdminRole(t *testing.T) {
	claims := auth.AdminClaims{
		Role: "customer",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "forgecommerce",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := auth.NewJWTManager(testSecret).ValidateToken(token); err != auth.ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_RejectsUnsignedToken(t *testing.T) {
	claims := auth.AdminClaims{
		Role: auth.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "forgecommerce",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := auth.NewJWTManager(testSecret).ValidateToken(token); err != auth.ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_GarbageToken(t *testing.T) {
	mgr := auth.NewJWTManager(testSecret)
	_, err := mgr.ValidateToken("not.a.valid.jwt")
	if err != auth.ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_EmptyToken(t *testing.T) {
	mgr := auth.NewJWTManager(testSecret)
	_, err := mgr.ValidateToken("")
	if err != auth.ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_MissingSecret(t *testing.T) {
	mgr := auth.NewJWTManager("")

	if _, err := mgr.GenerateAdminToken("x", time.Hour); !errors.Is(err, auth.ErrMissingSecret) {
		t.Errorf("generate: expected ErrMissingSecret, got %v", err)
	}
	if _, err := mgr.ValidateToken("a.b.c"); !errors.Is(err, auth.ErrMissingSecret) {
		t.Errorf("validate: expected ErrMissingSecret, got %v", err)
	}
}
