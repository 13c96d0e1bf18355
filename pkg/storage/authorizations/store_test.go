package authorizations

import (
	"context"
	"testing"
	"time"

	"github.com/stepflow/gateway/pkg/secrets"
	"github.com/stepflow/gateway/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cipher, err := secrets.NewCipher("test-master-key", "test-salt")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	store, err := Open(Config{Driver: "sqlite", DSN: ":memory:", AutoMigrate: true, Cipher: cipher})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAuthorizationUpsertAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	created, err := store.UpsertAuthorization(ctx, storage.AuthorizationRecord{
		UserID:          "user-1",
		DocumentID:      "doc-1",
		AuthConfigID:    "cfg-1",
		AccessToken:     "access-token",
		RefreshToken:    "refresh-token",
		TokenType:       "Bearer",
		ExpiresAt:       &expiry,
		Scope:           "read profile",
		ProviderSubject: "sub-123",
		Active:          true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var raw row
	if err := store.tableDB().Where("id = ?", created.ID).First(&raw).Error; err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if !secrets.IsEncrypted(raw.AccessToken) || !secrets.IsEncrypted(raw.RefreshToken) {
		t.Fatalf("tokens stored unencrypted")
	}

	fetched, err := store.GetAuthorization(ctx, "user-1", "doc-1", "")
	if err != nil || fetched == nil {
		t.Fatalf("get: %v %v", fetched, err)
	}
	if fetched.AccessToken != "access-token" || fetched.RefreshToken != "refresh-token" {
		t.Fatalf("expected decrypted tokens, got %+v", fetched)
	}

	// refresh path updates in place
	updated, err := store.UpsertAuthorization(ctx, storage.AuthorizationRecord{
		UserID:       "user-1",
		DocumentID:   "doc-1",
		AuthConfigID: "cfg-1",
		AccessToken:  "rotated",
		TokenType:    "Bearer",
		Active:       true,
	})
	if err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("expected in-place update, got new id")
	}
}

func TestDeactivateAuthorization(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertAuthorization(ctx, storage.AuthorizationRecord{
		UserID:       "user-1",
		DocumentID:   "doc-1",
		AuthConfigID: "cfg-1",
		AccessToken:  "tok",
		Active:       true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.DeactivateAuthorization(ctx, created.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if fetched, _ := store.GetAuthorization(ctx, "user-1", "doc-1", ""); fetched != nil {
		t.Fatalf("expected inactive grant to be hidden")
	}
}

func TestTouchAuthorizationUsed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertAuthorization(ctx, storage.AuthorizationRecord{
		UserID:       "user-1",
		DocumentID:   "doc-1",
		AuthConfigID: "cfg-1",
		AccessToken:  "tok",
		Active:       true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.TouchAuthorizationUsed(ctx, created.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	fetched, _ := store.GetAuthorization(ctx, "user-1", "doc-1", "cfg-1")
	if fetched == nil || fetched.LastUsedAt == nil {
		t.Fatalf("expected last used timestamp, got %+v", fetched)
	}
}
