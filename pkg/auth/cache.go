package auth

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stepflow/gateway/pkg/storage"
)

// Recorder receives one audit record per materialization attempt.
type Recorder interface {
	RecordAuthAttempt(ctx context.Context, record storage.AuthLogRecord)
}

type cacheEntry struct {
	material Material
	// fingerprint is the combined credential version the material was
	// built from. A mismatch against the stored versions means the
	// credentials rotated, possibly through another instance.
	fingerprint int64
	// refreshAt is the proactive refresh point: hard expiry minus the
	// credential's refresh lead.
	refreshAt time.Time
	// hardExpiresAt is the credential deadline. Stale entries may be
	// served within the grace window but never past this instant.
	hardExpiresAt time.Time
}

func (e cacheEntry) live(now time.Time) bool {
	return now.Before(e.refreshAt)
}

func (e cacheEntry) usable(now time.Time, grace time.Duration) bool {
	if e.hardExpiresAt.IsZero() {
		return now.Before(e.refreshAt.Add(grace))
	}
	return now.Before(e.hardExpiresAt)
}

// Cache materializes auth headers per config and collapses concurrent
// refreshes for the same key into a single upstream call. Keys are
// per-config (and per-user for user-scoped grants), so unrelated configs
// never serialize on each other.
type Cache struct {
	Registry    *Registry
	Credentials storage.AuthConfigStore
	Audit       Recorder
	Logger      *log.Logger

	// GracePeriod bounds how long a stale entry may still be served when
	// a refresh fails. DefaultTTL applies to material without an expiry.
	GracePeriod time.Duration
	DefaultTTL  time.Duration

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache returns a cache over the given provider registry and
// credential store.
func NewCache(registry *Registry, credentials storage.AuthConfigStore, audit Recorder) *Cache {
	return &Cache{
		Registry:    registry,
		Credentials: credentials,
		Audit:       audit,
		GracePeriod: 30 * time.Second,
		DefaultTTL:  5 * time.Minute,
		entries:     make(map[string]cacheEntry),
	}
}

// Materialize returns live auth material for a config, refreshing through
// the scheme's provider when the cached entry is absent, past its refresh
// point, or built from an older credential version.
func (c *Cache) Materialize(ctx context.Context, config storage.AuthConfigRecord, userID string) (Material, error) {
	start := time.Now()
	key := config.ID + "|" + userID

	credentials, err := c.listCredentials(ctx, config.ID)
	if err != nil {
		c.record(ctx, config, "", "failure", time.Since(start), err.Error())
		return Material{}, err
	}
	fingerprint := credentialFingerprint(credentials)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && entry.live(start) && entry.fingerprint == fingerprint {
		c.record(ctx, config, MethodCached, "success", time.Since(start), "")
		return entry.material, nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		now := time.Now()
		c.mu.RLock()
		current, exists := c.entries[key]
		c.mu.RUnlock()
		if exists && current.live(now) && current.fingerprint == fingerprint {
			return refreshOutcome{material: current.material, method: MethodCached}, nil
		}

		outcome, err := c.refresh(ctx, config, userID, key, credentials)
		if err != nil {
			// Grace-period fallback: prefer stale-but-not-hard-expired
			// material over failing every waiter.
			if exists && current.usable(now, c.GracePeriod) {
				c.logf("serving stale auth material config=%s err=%v", config.ID, err)
				c.record(ctx, config, MethodCached, "success", time.Since(now), "stale fallback: "+err.Error())
				return refreshOutcome{material: current.material, method: MethodCached}, nil
			}
			return nil, err
		}
		return outcome, nil
	})
	if err != nil {
		c.record(ctx, config, "", "failure", time.Since(start), err.Error())
		return Material{}, err
	}
	outcome := value.(refreshOutcome)
	if outcome.method != MethodCached {
		c.record(ctx, config, outcome.method, "success", time.Since(start), "")
	} else {
		c.record(ctx, config, MethodCached, "success", time.Since(start), "")
	}
	return outcome.material, nil
}

type refreshOutcome struct {
	material Material
	method   string
}

func (c *Cache) refresh(ctx context.Context, config storage.AuthConfigRecord, userID, key string, credentials []storage.CredentialRecord) (refreshOutcome, error) {
	provider, ok := c.Registry.Provider(config.Scheme)
	if !ok {
		return refreshOutcome{}, NewError(KindConfig, "unsupported auth scheme: "+config.Scheme)
	}
	payload, err := ParsePayload(config.ConfigJSON)
	if err != nil {
		return refreshOutcome{}, err
	}

	request := Request{Config: config, Payload: payload, Credentials: credentials, UserID: userID}
	result, err := RetryWithBackoff(ctx, func() (Result, error) {
		return provider.Authenticate(ctx, request)
	})
	if err != nil {
		return refreshOutcome{}, err
	}

	if result.Credential != nil && c.Credentials != nil {
		if err := c.Credentials.MarkCredentialRefreshed(ctx, result.Credential.ID, result.Credential.Value, result.Credential.ExpiresAt); err != nil {
			c.logf("persisting refreshed credential config=%s err=%v", config.ID, err)
		}
		// The writeback bumps stored versions; re-read so the entry
		// fingerprint matches what the store now holds.
		if updated, err := c.listCredentials(ctx, config.ID); err == nil {
			credentials = updated
		}
	}

	c.store(key, credentials, result.Material)
	return refreshOutcome{material: result.Material, method: result.Method}, nil
}

func (c *Cache) listCredentials(ctx context.Context, configID string) ([]storage.CredentialRecord, error) {
	if c.Credentials == nil {
		return nil, nil
	}
	credentials, err := c.Credentials.ListCredentials(ctx, configID)
	if err != nil {
		return nil, WrapError(KindCredential, "loading credentials", err)
	}
	return credentials, nil
}

func (c *Cache) store(key string, credentials []storage.CredentialRecord, material Material) {
	now := time.Now()
	entry := cacheEntry{material: material, fingerprint: credentialFingerprint(credentials)}
	if material.ExpiresAt.IsZero() {
		entry.refreshAt = now.Add(c.DefaultTTL)
	} else {
		entry.hardExpiresAt = material.ExpiresAt
		lead := maxLead(credentials)
		refreshAt := material.ExpiresAt.Add(-lead)
		if refreshAt.Before(now) {
			// Already inside the refresh window: the next materialize
			// attempts a refresh, the entry only backs the grace fallback.
			refreshAt = now
		}
		entry.refreshAt = refreshAt
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate drops every entry derived from a config. Config updates
// call this; credential rotation is also caught by the version
// fingerprint without it.
func (c *Cache) Invalidate(configID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key == configID || len(key) > len(configID) && key[:len(configID)+1] == configID+"|" {
			delete(c.entries, key)
		}
	}
}

func (c *Cache) record(ctx context.Context, config storage.AuthConfigRecord, method, status string, latency time.Duration, message string) {
	if c.Audit == nil {
		return
	}
	c.Audit.RecordAuthAttempt(ctx, storage.AuthLogRecord{
		AuthConfigID: config.ID,
		Scheme:       config.Scheme,
		Status:       status,
		Method:       method,
		LatencyMS:    latency.Milliseconds(),
		ErrorMessage: message,
	})
}

func (c *Cache) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// credentialFingerprint folds every credential's version into a single
// value. Any rotation, addition, or removal changes it.
func credentialFingerprint(credentials []storage.CredentialRecord) int64 {
	var fingerprint int64
	for _, credential := range credentials {
		fingerprint += credential.Version
	}
	return fingerprint
}

func maxLead(credentials []storage.CredentialRecord) time.Duration {
	var lead time.Duration
	for _, credential := range credentials {
		if d := time.Duration(credential.RefreshLeadSeconds) * time.Second; d > lead {
			lead = d
		}
	}
	return lead
}
