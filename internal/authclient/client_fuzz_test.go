package authclient

import (
	"testing"
	"time"
)

func FuzzConvertTokens(f *testing.F) {
	f.Add("access", "refresh", "user-1", "a@b.c", int64(3600), int64(0))
	f.Add("", "refresh", "user-1", "", int64(0), int64(1700000000))
	f.Add("access", "refresh", "", "", int64(-5), int64(-5))

	c := &HTTPClient{now: func() time.Time { return time.Unix(1_000_000, 0) }}
	f.Fuzz(func(t *testing.T, access, refresh, userID, email string, expiresIn, expiresAt int64) {
		resp := tokenResponse{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresIn:    expiresIn,
			ExpiresAt:    expiresAt,
		}
		if len(userID)%2 == 0 {
			resp.User = &userPayload{ID: userID, Email: email}
		} else {
			resp.ID, resp.Email = userID, email
		}

		tokens, err := c.convertTokens(resp)
		if access == "" || refresh == "" || userID == "" {
			if err == nil {
				t.Fatalf("expected error for incomplete response %+v", resp)
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tokens.User.ID != userID {
			t.Fatalf("user id = %q, want %q", tokens.User.ID, userID)
		}
		if tokens.ExpiresAt.IsZero() {
			t.Fatalf("expiry should never be zero")
		}
	})
}
