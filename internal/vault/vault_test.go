package vault

import (
	"context"
	"errors"
	"testing"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"
)

func TestSetThenCredentialsForRoundTrips(t *testing.T) {
	v := New()
	v.Set("user-1", core.Credentials{APIKey: "key", APISecret: "secret"})

	got, err := v.CredentialsFor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CredentialsFor: %v", err)
	}
	if got.APIKey != "key" || got.APISecret != "secret" {
		t.Errorf("got %+v", got)
	}
}

func TestCredentialsForUnknownUserReturnsNotFound(t *testing.T) {
	v := New()
	_, err := v.CredentialsFor(context.Background(), "nobody")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveDeletesCredentials(t *testing.T) {
	v := New()
	v.Set("user-1", core.Credentials{APIKey: "key", APISecret: "secret"})
	v.Remove("user-1")

	if _, err := v.CredentialsFor(context.Background(), "user-1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after Remove, got %v", err)
	}
}

func TestSetReplacesExistingCredentials(t *testing.T) {
	v := New()
	v.Set("user-1", core.Credentials{APIKey: "old", APISecret: "old"})
	v.Set("user-1", core.Credentials{APIKey: "new", APISecret: "new"})

	got, err := v.CredentialsFor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CredentialsFor: %v", err)
	}
	if got.APIKey != "new" {
		t.Errorf("expected the later Set to win, got %q", got.APIKey)
	}
}
