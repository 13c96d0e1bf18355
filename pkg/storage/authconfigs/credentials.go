package authconfigs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stepflow/gateway/pkg/storage"
)

// UpsertCredential inserts a credential or updates it in place. A value
// change bumps the version so derived cache entries stop matching.
func (s *Store) UpsertCredential(ctx context.Context, record storage.CredentialRecord) (storage.CredentialRecord, error) {
	if s == nil || s.db == nil {
		return storage.CredentialRecord{}, errors.New("store is not initialized")
	}
	if record.AuthConfigID == "" || record.Key == "" {
		return storage.CredentialRecord{}, errors.New("auth config id and key are required")
	}
	sealed, err := s.seal(record.Value)
	if err != nil {
		return storage.CredentialRecord{}, err
	}
	now := time.Now().UTC()

	var existing credentialRow
	err = s.credentialDB().WithContext(ctx).
		Where("auth_config_id = ? AND cred_key = ?", record.AuthConfigID, record.Key).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record.ID = uuid.NewString()
		record.Version = 1
		record.CreatedAt = now
		record.UpdatedAt = now
		data := toCredentialRow(record)
		data.Value = sealed
		if err := s.credentialDB().WithContext(ctx).Create(&data).Error; err != nil {
			return storage.CredentialRecord{}, err
		}
		return record, nil
	case err != nil:
		return storage.CredentialRecord{}, err
	}

	record.ID = existing.ID
	record.Version = existing.Version + 1
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = now
	updates := map[string]interface{}{
		"kind":                 record.Kind,
		"cred_value":           sealed,
		"version":              record.Version,
		"expires_at":           record.ExpiresAt,
		"refresh_lead_seconds": record.RefreshLeadSeconds,
		"updated_at":           now,
	}
	err = s.credentialDB().WithContext(ctx).Where("id = ?", existing.ID).Updates(updates).Error
	if err != nil {
		return storage.CredentialRecord{}, err
	}
	return record, nil
}

// GetCredential returns a decrypted credential, nil when missing.
func (s *Store) GetCredential(ctx context.Context, authConfigID, key string) (*storage.CredentialRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data credentialRow
	err := s.credentialDB().WithContext(ctx).
		Where("auth_config_id = ? AND cred_key = ?", authConfigID, key).
		First(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record, err := s.openRow(data)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListCredentials returns all decrypted credentials for an auth config.
func (s *Store) ListCredentials(ctx context.Context, authConfigID string) ([]storage.CredentialRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var rows []credentialRow
	err := s.credentialDB().WithContext(ctx).
		Where("auth_config_id = ?", authConfigID).
		Order("cred_key ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	results := make([]storage.CredentialRecord, 0, len(rows))
	for _, data := range rows {
		record, err := s.openRow(data)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, nil
}

// MarkCredentialRefreshed records the outcome of a refresh: new value,
// new expiry, refresh timestamp. An unchanged value keeps the version.
func (s *Store) MarkCredentialRefreshed(ctx context.Context, id, value string, expiresAt *time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("id is required")
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"expires_at":        expiresAt,
		"last_refreshed_at": now,
		"updated_at":        now,
	}
	if value != "" {
		sealed, err := s.seal(value)
		if err != nil {
			return err
		}
		updates["cred_value"] = sealed
		updates["version"] = gorm.Expr("version + 1")
	}
	return s.credentialDB().WithContext(ctx).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) seal(value string) (string, error) {
	if s.cipher == nil || value == "" {
		return value, nil
	}
	sealed, err := s.cipher.EncryptString(value)
	if err != nil {
		return "", fmt.Errorf("encrypt credential: %w", err)
	}
	return sealed, nil
}

func (s *Store) openRow(data credentialRow) (storage.CredentialRecord, error) {
	record := fromCredentialRow(data)
	if s.cipher == nil || record.Value == "" {
		return record, nil
	}
	plaintext, err := s.cipher.DecryptString(record.Value)
	if err != nil {
		return storage.CredentialRecord{}, fmt.Errorf("decrypt credential %s: %w", record.ID, err)
	}
	record.Value = plaintext
	return record, nil
}

func toCredentialRow(record storage.CredentialRecord) credentialRow {
	return credentialRow{
		ID:                 record.ID,
		AuthConfigID:       record.AuthConfigID,
		Kind:               record.Kind,
		Key:                record.Key,
		Value:              record.Value,
		Version:            record.Version,
		ExpiresAt:          record.ExpiresAt,
		RefreshLeadSeconds: record.RefreshLeadSeconds,
		LastRefreshedAt:    record.LastRefreshedAt,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
}

func fromCredentialRow(data credentialRow) storage.CredentialRecord {
	return storage.CredentialRecord{
		ID:                 data.ID,
		AuthConfigID:       data.AuthConfigID,
		Kind:               data.Kind,
		Key:                data.Key,
		Value:              data.Value,
		Version:            data.Version,
		ExpiresAt:          data.ExpiresAt,
		RefreshLeadSeconds: data.RefreshLeadSeconds,
		LastRefreshedAt:    data.LastRefreshedAt,
		CreatedAt:          data.CreatedAt,
		UpdatedAt:          data.UpdatedAt,
	}
}
