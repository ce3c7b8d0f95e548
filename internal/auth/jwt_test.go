package auth

import (
	"testing"
	"time"
)

func TestGenerateValidateRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	token, err := svc.Generate(Identity{UserID: "u1", OrgID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	identity, err := svc.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if identity.UserID != "u1" || identity.OrgID != "org-1" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestValidateRejectsBadTokens(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	good, err := svc.Generate(Identity{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		svc   *JWTService
	}{
		{name: "garbage", token: "not.a.jwt", svc: svc},
		{name: "wrong secret", token: good, svc: NewJWTService("other-secret", time.Hour)},
		{name: "empty", token: "", svc: svc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.svc.Validate(tt.token); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestGenerateRequiresUserID(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	if _, err := svc.Generate(Identity{}); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestDisabledService(t *testing.T) {
	var svc *JWTService
	if _, err := svc.Validate("anything"); err != ErrAuthDisabled {
		t.Errorf("err = %v, want ErrAuthDisabled", err)
	}
	empty := NewJWTService("", 0)
	if _, err := empty.Generate(Identity{UserID: "u1"}); err != ErrAuthDisabled {
		t.Errorf("err = %v, want ErrAuthDisabled", err)
	}
}
