// ABOUTME: Tests for identity context propagation
// ABOUTME: Covers WithIdentity, FromContext and the UserID shortcut

package auth

import (
	"context"
	"testing"
)

func TestWithIdentity_RoundTrip(t *testing.T) {
	id := &Identity{UserID: "user-1", Method: MethodJWT}
	ctx := WithIdentity(context.Background(), id)

	got := FromContext(ctx)
	if got != id {
		t.Errorf("FromContext() = %+v, want %+v", got, id)
	}
	if UserID(ctx) != "user-1" {
		t.Errorf("UserID() = %q, want %q", UserID(ctx), "user-1")
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %+v, want nil", got)
	}
	if got := UserID(context.Background()); got != "" {
		t.Errorf("UserID() = %q, want empty", got)
	}
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), identityKey{}, "not an identity")
	if got := FromContext(ctx); got != nil {
		t.Errorf("FromContext() = %+v, want nil", got)
	}
}
