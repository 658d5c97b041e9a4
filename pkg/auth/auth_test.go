package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndParseToken(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, err := m.GenerateToken(42, RoleDriver)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := m.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("user id = %d, want 42", claims.UserID)
	}
	if claims.Role != RoleDriver {
		t.Errorf("role = %s, want DRIVER", claims.Role)
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := NewJWTManager("secret-a", time.Hour).GenerateToken(42, RolePassenger)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := NewJWTManager("secret-b", time.Hour).ParseToken(token); err == nil {
		t.Fatal("expected verification to fail with a different secret")
	}
}

func TestParseExpiredToken(t *testing.T) {
	token, err := NewJWTManager("test-secret", -time.Minute).GenerateToken(42, RolePassenger)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := NewJWTManager("test-secret", time.Hour).ParseToken(token); err == nil {
		t.Fatal("expected an expired token to be rejected")
	}
}

func TestAuthMiddleware(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok {
			t.Error("claims missing from request context")
		} else if claims.UserID != 42 {
			t.Errorf("user id = %d, want 42", claims.UserID)
		}
		w.WriteHeader(http.StatusOK)
	})

	driverToken, err := m.GenerateToken(42, RoleDriver)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	passengerToken, err := m.GenerateToken(42, RolePassenger)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	cases := []struct {
		name   string
		header string
		roles  []Role
		want   int
	}{
		{"missing_header", "", nil, http.StatusUnauthorized},
		{"malformed_header", "Token abc", nil, http.StatusUnauthorized},
		{"garbage_token", "Bearer not-a-token", nil, http.StatusUnauthorized},
		{"valid_any_role", "Bearer " + driverToken, nil, http.StatusOK},
		{"role_match", "Bearer " + driverToken, []Role{RoleDriver, RoleAdmin}, http.StatusOK},
		{"role_mismatch", "Bearer " + passengerToken, []Role{RoleDriver, RoleAdmin}, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			m.AuthMiddleware(next, tc.roles...).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}
