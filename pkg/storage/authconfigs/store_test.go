package authconfigs

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

func TestAuthConfigCRUD(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertAuthConfig(ctx, storage.AuthConfigRecord{
		DocumentID: "doc-1",
		Scheme:     storage.SchemeBearer,
		ConfigJSON: `{"prefix":"Bearer"}`,
		Global:     true,
		Priority:   10,
	})
	if err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	if created.ID == "" || created.Status != storage.StatusActive {
		t.Fatalf("unexpected created record: %+v", created)
	}

	fetched, err := store.GetAuthConfig(ctx, created.ID)
	if err != nil || fetched == nil {
		t.Fatalf("get config: %v %v", fetched, err)
	}
	if fetched.Scheme != storage.SchemeBearer || fetched.Priority != 10 {
		t.Fatalf("unexpected fetched record: %+v", fetched)
	}

	list, err := store.ListAuthConfigs(ctx, "doc-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list configs: %v %v", list, err)
	}

	if err := store.DeleteAuthConfig(ctx, created.ID); err != nil {
		t.Fatalf("delete config: %v", err)
	}
	if fetched, _ := store.GetAuthConfig(ctx, created.ID); fetched != nil {
		t.Fatalf("expected soft-deleted config to be hidden")
	}
}

func TestCredentialEncryptedAtRest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertCredential(ctx, storage.CredentialRecord{
		AuthConfigID: "cfg-1",
		Kind:         storage.CredentialStatic,
		Key:          "token",
		Value:        "super-secret",
	})
	if err != nil {
		t.Fatalf("upsert credential: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}

	var raw credentialRow
	if err := store.credentialDB().Where("id = ?", created.ID).First(&raw).Error; err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	if raw.Value == "super-secret" || !secrets.IsEncrypted(raw.Value) {
		t.Fatalf("credential stored unencrypted: %q", raw.Value)
	}

	fetched, err := store.GetCredential(ctx, "cfg-1", "token")
	if err != nil || fetched == nil {
		t.Fatalf("get credential: %v %v", fetched, err)
	}
	if fetched.Value != "super-secret" {
		t.Fatalf("expected decrypted value, got %q", fetched.Value)
	}
}

func TestCredentialUpdateBumpsVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertCredential(ctx, storage.CredentialRecord{
		AuthConfigID: "cfg-1",
		Kind:         storage.CredentialStatic,
		Key:          "token",
		Value:        "v1",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := store.UpsertCredential(ctx, storage.CredentialRecord{
		AuthConfigID: "cfg-1",
		Kind:         storage.CredentialStatic,
		Key:          "token",
		Value:        "v2",
	})
	if err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected update in place, got new id")
	}
	if second.Version != first.Version+1 {
		t.Fatalf("expected version bump, got %d -> %d", first.Version, second.Version)
	}
}

func TestMarkCredentialRefreshed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertCredential(ctx, storage.CredentialRecord{
		AuthConfigID: "cfg-1",
		Kind:         storage.CredentialExternal,
		Key:          "access_token",
		Value:        "old",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := store.MarkCredentialRefreshed(ctx, created.ID, "new", &expiry); err != nil {
		t.Fatalf("mark refreshed: %v", err)
	}
	fetched, err := store.GetCredential(ctx, "cfg-1", "access_token")
	if err != nil || fetched == nil {
		t.Fatalf("get: %v %v", fetched, err)
	}
	if fetched.Value != "new" {
		t.Fatalf("expected refreshed value, got %q", fetched.Value)
	}
	if fetched.Version != created.Version+1 {
		t.Fatalf("expected version bump on refresh, got %d", fetched.Version)
	}
	if fetched.LastRefreshedAt == nil {
		t.Fatalf("expected last refreshed timestamp")
	}
}
