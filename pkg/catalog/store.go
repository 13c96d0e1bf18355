package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stepflow/gateway/pkg/storage"
)

// Config configures the endpoint directory store.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	Table       string
	AutoMigrate bool
	Pool        storage.PoolConfig
}

// Store is a GORM-backed Directory. Auth config lookups delegate to the
// auth config store.
type Store struct {
	db          *gorm.DB
	table       string
	authConfigs storage.AuthConfigStore
}

type row struct {
	ID           string    `gorm:"column:id;size:64;primaryKey"`
	DocumentID   string    `gorm:"column:document_id;size:64;not null;index;index:idx_endpoints_doc_method,priority:1"`
	BaseURL      string    `gorm:"column:base_url;size:512"`
	Path         string    `gorm:"column:path;size:512;not null"`
	Method       string    `gorm:"column:method;size:16;not null;index:idx_endpoints_doc_method,priority:2"`
	TimeoutMS    int64     `gorm:"column:timeout_ms;not null;default:0"`
	AuthRequired bool      `gorm:"column:auth_required;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Open creates a GORM-backed endpoint directory.
func Open(cfg Config, authConfigs storage.AuthConfigStore) (*Store, error) {
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
		table = "gateway_endpoints"
	}
	store := &Store{db: gormDB, table: table, authConfigs: authConfigs}
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

// UpsertEndpoint registers or updates an endpoint row.
func (s *Store) UpsertEndpoint(ctx context.Context, endpoint Endpoint) (Endpoint, error) {
	if s == nil || s.db == nil {
		return Endpoint{}, errors.New("store is not initialized")
	}
	if endpoint.ID == "" {
		endpoint.ID = uuid.NewString()
	}
	endpoint.Method = strings.ToUpper(strings.TrimSpace(endpoint.Method))
	data := row{
		ID:           endpoint.ID,
		DocumentID:   endpoint.DocumentID,
		BaseURL:      endpoint.BaseURL,
		Path:         endpoint.Path,
		Method:       endpoint.Method,
		TimeoutMS:    endpoint.TimeoutMS,
		AuthRequired: endpoint.AuthRequired,
	}
	if err := s.tableDB().WithContext(ctx).Save(&data).Error; err != nil {
		return Endpoint{}, err
	}
	return endpoint, nil
}

// GetEndpoint returns an endpoint by id, nil when missing.
func (s *Store) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data row
	err := s.tableDB().WithContext(ctx).Where("id = ?", id).First(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	endpoint := fromRow(data)
	return &endpoint, nil
}

// FindEndpoint matches a concrete (path, method) against the document's
// registered endpoint templates.
func (s *Store) FindEndpoint(ctx context.Context, documentID, path, method string) (*Endpoint, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	query := s.tableDB().WithContext(ctx).Where("method = ?", method)
	if documentID != "" {
		query = query.Where("document_id = ?", documentID)
	}
	var rows []row
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, data := range rows {
		if data.Path == path || MatchPath(data.Path, path) {
			endpoint := fromRow(data)
			return &endpoint, nil
		}
	}
	return nil, nil
}

// GetAuthConfigsForDocument returns the document's active auth configs.
func (s *Store) GetAuthConfigsForDocument(ctx context.Context, documentID string) ([]storage.AuthConfigRecord, error) {
	if s.authConfigs == nil {
		return nil, nil
	}
	return s.authConfigs.ListAuthConfigs(ctx, documentID)
}

func fromRow(data row) Endpoint {
	return Endpoint{
		ID:           data.ID,
		DocumentID:   data.DocumentID,
		BaseURL:      data.BaseURL,
		Path:         data.Path,
		Method:       data.Method,
		TimeoutMS:    data.TimeoutMS,
		AuthRequired: data.AuthRequired,
	}
}
