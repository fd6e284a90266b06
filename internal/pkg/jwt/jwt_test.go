package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("secret", time.Minute)
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, "maker@example.com", "authenticated")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	got, _ := claims.UserID()
	if got != userID {
		t.Fatalf("expected %s, got %s", userID, got)
	}
}

func TestValidateRejectsExpiredAndForeignTokens(t *testing.T) {
	expired := NewService("secret", -time.Minute)
	token, _ := expired.GenerateAccessToken(uuid.New(), "", "authenticated")
	if _, err := NewService("secret", time.Minute).ValidateAccessToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	other := NewService("other-secret", time.Minute)
	token, _ = other.GenerateAccessToken(uuid.New(), "", "authenticated")
	if _, err := NewService("secret", time.Minute).ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
