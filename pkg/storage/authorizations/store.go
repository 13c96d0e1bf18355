// Package authorizations persists completed OAuth2 grants on GORM.
// Access and refresh tokens are encrypted at rest.
package authorizations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stepflow/gateway/pkg/secrets"
	"github.com/stepflow/gateway/pkg/storage"
)

// Config configures the authorization store.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	Table       string
	AutoMigrate bool
	Pool        storage.PoolConfig
	Cipher      *secrets.Cipher
}

// Store implements storage.AuthorizationStore on top of GORM.
type Store struct {
	db     *gorm.DB
	table  string
	cipher *secrets.Cipher
}

type row struct {
	ID              string     `gorm:"column:id;size:64;primaryKey"`
	UserID          string     `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_user_doc_config,priority:1"`
	DocumentID      string     `gorm:"column:document_id;size:64;not null;uniqueIndex:idx_user_doc_config,priority:2"`
	AuthConfigID    string     `gorm:"column:auth_config_id;size:64;not null;uniqueIndex:idx_user_doc_config,priority:3"`
	AccessToken     string     `gorm:"column:access_token;type:text"`
	RefreshToken    string     `gorm:"column:refresh_token;type:text"`
	TokenType       string     `gorm:"column:token_type;size:32"`
	ExpiresAt       *time.Time `gorm:"column:expires_at;index"`
	Scope           string     `gorm:"column:scope;size:256"`
	ProviderSubject string     `gorm:"column:provider_subject;size:128;index"`
	Active          bool       `gorm:"column:is_active;not null;default:true;index"`
	LastUsedAt      *time.Time `gorm:"column:last_used_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Open creates a GORM-backed authorization store.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" && cfg.Dialect == "" {
		return nil, errors.New("storage driver or dialect is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver, err := storage.ResolveSQLDriver(cfg.Driver, cfg.Dialect)
	if err != nil {
		return nil, err
	}
	gormDB, err := storage.OpenGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := storage.ApplyPoolConfig(gormDB, cfg.Pool); err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = "gateway_user_api_authorizations"
	}
	store := &Store{db: gormDB, table: table, cipher: cfg.Cipher}
	if cfg.AutoMigrate {
		if err := store.tableDB().AutoMigrate(&row{}); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Session(&gorm.Session{NewDB: true}).Table(s.table)
}

// UpsertAuthorization creates or replaces the grant for a
// (user, document, auth config) triple.
func (s *Store) UpsertAuthorization(ctx context.Context, record storage.AuthorizationRecord) (storage.AuthorizationRecord, error) {
	if s == nil || s.db == nil {
		return storage.AuthorizationRecord{}, errors.New("store is not initialized")
	}
	if record.UserID == "" || record.AuthConfigID == "" {
		return storage.AuthorizationRecord{}, errors.New("user id and auth config id are required")
	}
	now := time.Now().UTC()

	var existing row
	err := s.tableDB().WithContext(ctx).
		Where("user_id = ? AND document_id = ? AND auth_config_id = ?", record.UserID, record.DocumentID, record.AuthConfigID).
		First(&existing).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return storage.AuthorizationRecord{}, err
	}
	if isNew {
		record.ID = uuid.NewString()
		record.CreatedAt = now
	} else {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	}
	record.UpdatedAt = now

	data, err := s.sealRow(record)
	if err != nil {
		return storage.AuthorizationRecord{}, err
	}
	if err := s.tableDB().WithContext(ctx).Save(&data).Error; err != nil {
		return storage.AuthorizationRecord{}, err
	}
	return record, nil
}

// GetAuthorization returns the active grant for a user against a document.
// An empty authConfigID matches any config. Returns nil when no active
// grant exists.
func (s *Store) GetAuthorization(ctx context.Context, userID, documentID, authConfigID string) (*storage.AuthorizationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	query := s.tableDB().WithContext(ctx).
		Where("user_id = ? AND document_id = ? AND is_active = ?", userID, documentID, true)
	if authConfigID != "" {
		query = query.Where("auth_config_id = ?", authConfigID)
	}
	var data row
	err := query.Order("updated_at DESC").First(&data).Error
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

// DeactivateAuthorization flips a grant inactive, e.g. after a failed refresh.
func (s *Store) DeactivateAuthorization(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	return s.tableDB().WithContext(ctx).Where("id = ?", id).Updates(map[string]interface{}{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	}).Error
}

// TouchAuthorizationUsed stamps the grant's last-used time.
func (s *Store) TouchAuthorizationUsed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	return s.tableDB().WithContext(ctx).Where("id = ?", id).Update("last_used_at", time.Now().UTC()).Error
}

func (s *Store) sealRow(record storage.AuthorizationRecord) (row, error) {
	data := toRow(record)
	if s.cipher == nil {
		return data, nil
	}
	var err error
	if data.AccessToken != "" {
		if data.AccessToken, err = s.cipher.EncryptString(data.AccessToken); err != nil {
			return row{}, fmt.Errorf("encrypt access token: %w", err)
		}
	}
	if data.RefreshToken != "" {
		if data.RefreshToken, err = s.cipher.EncryptString(data.RefreshToken); err != nil {
			return row{}, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	return data, nil
}

func (s *Store) openRow(data row) (storage.AuthorizationRecord, error) {
	record := fromRow(data)
	if s.cipher == nil {
		return record, nil
	}
	var err error
	if record.AccessToken != "" {
		if record.AccessToken, err = s.cipher.DecryptString(record.AccessToken); err != nil {
			return storage.AuthorizationRecord{}, fmt.Errorf("decrypt access token: %w", err)
		}
	}
	if record.RefreshToken != "" {
		if record.RefreshToken, err = s.cipher.DecryptString(record.RefreshToken); err != nil {
			return storage.AuthorizationRecord{}, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return record, nil
}

func toRow(record storage.AuthorizationRecord) row {
	return row{
		ID:              record.ID,
		UserID:          record.UserID,
		DocumentID:      record.DocumentID,
		AuthConfigID:    record.AuthConfigID,
		AccessToken:     record.AccessToken,
		RefreshToken:    record.RefreshToken,
		TokenType:       record.TokenType,
		ExpiresAt:       record.ExpiresAt,
		Scope:           record.Scope,
		ProviderSubject: record.ProviderSubject,
		Active:          record.Active,
		LastUsedAt:      record.LastUsedAt,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func fromRow(data row) storage.AuthorizationRecord {
	return storage.AuthorizationRecord{
		ID:              data.ID,
		UserID:          data.UserID,
		DocumentID:      data.DocumentID,
		AuthConfigID:    data.AuthConfigID,
		AccessToken:     data.AccessToken,
		RefreshToken:    data.RefreshToken,
		TokenType:       data.TokenType,
		ExpiresAt:       data.ExpiresAt,
		Scope:           data.Scope,
		ProviderSubject: data.ProviderSubject,
		Active:          data.Active,
		LastUsedAt:      data.LastUsedAt,
		CreatedAt:       data.CreatedAt,
		UpdatedAt:       data.UpdatedAt,
	}
}
