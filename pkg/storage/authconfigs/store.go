// Package authconfigs persists auth configs and their credentials on GORM.
// Credential values are encrypted before they reach the database and
// decrypted on the way out.
package authconfigs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stepflow/gateway/pkg/secrets"
	"github.com/stepflow/gateway/pkg/storage"
)

// Config configures the auth config store.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	Table       string
	AutoMigrate bool
	Pool        storage.PoolConfig
	Cipher      *secrets.Cipher
}

// Store implements storage.AuthConfigStore on top of GORM.
type Store struct {
	db              *gorm.DB
	table           string
	credentialTable string
	cipher          *secrets.Cipher
}

type configRow struct {
	ID         string    `gorm:"column:id;size:64;primaryKey"`
	DocumentID string    `gorm:"column:document_id;size:64;not null;index"`
	EndpointID string    `gorm:"column:endpoint_id;size:64;index"`
	Scheme     string    `gorm:"column:scheme;size:32;not null"`
	ConfigJSON string    `gorm:"column:config_json;type:text"`
	Required   bool      `gorm:"column:required;not null;default:false"`
	Global     bool      `gorm:"column:is_global;not null;default:true"`
	Priority   int       `gorm:"column:priority;not null;default:0"`
	Status     string    `gorm:"column:status;size:16;not null;default:'active';index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime;index"`
}

type credentialRow struct {
	ID                 string     `gorm:"column:id;size:64;primaryKey"`
	AuthConfigID       string     `gorm:"column:auth_config_id;size:64;not null;index;uniqueIndex:idx_cred_config_key,priority:1"`
	Kind               string     `gorm:"column:kind;size:32;not null"`
	Key                string     `gorm:"column:cred_key;size:128;not null;uniqueIndex:idx_cred_config_key,priority:2"`
	Value              string     `gorm:"column:cred_value;type:text"`
	Version            int64      `gorm:"column:version;not null;default:1"`
	ExpiresAt          *time.Time `gorm:"column:expires_at;index"`
	RefreshLeadSeconds int64      `gorm:"column:refresh_lead_seconds;not null;default:0"`
	LastRefreshedAt    *time.Time `gorm:"column:last_refreshed_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Open creates a GORM-backed auth config store.
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
		table = "gateway_auth_configs"
	}
	store := &Store{
		db:              gormDB,
		table:           table,
		credentialTable: table + "_credentials",
		cipher:          cfg.Cipher,
	}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
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

func (s *Store) migrate() error {
	if err := s.configDB().AutoMigrate(&configRow{}); err != nil {
		return err
	}
	return s.credentialDB().AutoMigrate(&credentialRow{})
}

func (s *Store) configDB() *gorm.DB {
	return s.db.Session(&gorm.Session{NewDB: true}).Table(s.table)
}

func (s *Store) credentialDB() *gorm.DB {
	return s.db.Session(&gorm.Session{NewDB: true}).Table(s.credentialTable)
}

// UpsertAuthConfig inserts or updates an auth config.
func (s *Store) UpsertAuthConfig(ctx context.Context, record storage.AuthConfigRecord) (storage.AuthConfigRecord, error) {
	if s == nil || s.db == nil {
		return storage.AuthConfigRecord{}, errors.New("store is not initialized")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = storage.StatusActive
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	data := toConfigRow(record)
	err := s.configDB().WithContext(ctx).Save(&data).Error
	if err != nil {
		return storage.AuthConfigRecord{}, err
	}
	return fromConfigRow(data), nil
}

// GetAuthConfig returns an auth config by id, nil when missing or deleted.
func (s *Store) GetAuthConfig(ctx context.Context, id string) (*storage.AuthConfigRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("id is required")
	}
	var data configRow
	err := s.configDB().WithContext(ctx).Where("id = ? AND status <> ?", id, storage.StatusDeleted).First(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromConfigRow(data)
	return &record, nil
}

// ListAuthConfigs returns all non-deleted configs for a document.
func (s *Store) ListAuthConfigs(ctx context.Context, documentID string) ([]storage.AuthConfigRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var rows []configRow
	err := s.configDB().WithContext(ctx).
		Where("document_id = ? AND status <> ?", documentID, storage.StatusDeleted).
		Order("priority DESC, updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	results := make([]storage.AuthConfigRecord, 0, len(rows))
	for _, data := range rows {
		results = append(results, fromConfigRow(data))
	}
	return results, nil
}

// DeleteAuthConfig soft-deletes a config by flipping its status.
func (s *Store) DeleteAuthConfig(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	return s.configDB().WithContext(ctx).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     storage.StatusDeleted,
		"updated_at": time.Now().UTC(),
	}).Error
}

func toConfigRow(record storage.AuthConfigRecord) configRow {
	return configRow{
		ID:         record.ID,
		DocumentID: record.DocumentID,
		EndpointID: record.EndpointID,
		Scheme:     record.Scheme,
		ConfigJSON: record.ConfigJSON,
		Required:   record.Required,
		Global:     record.Global,
		Priority:   record.Priority,
		Status:     record.Status,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}

func fromConfigRow(data configRow) storage.AuthConfigRecord {
	return storage.AuthConfigRecord{
		ID:         data.ID,
		DocumentID: data.DocumentID,
		EndpointID: data.EndpointID,
		Scheme:     data.Scheme,
		ConfigJSON: data.ConfigJSON,
		Required:   data.Required,
		Global:     data.Global,
		Priority:   data.Priority,
		Status:     data.Status,
		CreatedAt:  data.CreatedAt,
		UpdatedAt:  data.UpdatedAt,
	}
}
