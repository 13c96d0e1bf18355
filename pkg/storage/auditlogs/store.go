// Package auditlogs persists authentication attempts, call executions and
// the rolling per-endpoint statistics they feed. Log rows are append-only;
// the stats row is the only mutable surface and is updated with single-row
// atomic SQL expressions.
package auditlogs

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/stepflow/gateway/pkg/secrets"
	"github.com/stepflow/gateway/pkg/storage"
)

// Config configures the audit store.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	TablePrefix string
	AutoMigrate bool
	Pool        storage.PoolConfig
	Cipher      *secrets.Cipher
}

// Store implements storage.AuditStore on top of GORM.
type Store struct {
	db     *gorm.DB
	prefix string
	cipher *secrets.Cipher
}

type authLogRow struct {
	ID           string    `gorm:"column:id;size:64;primaryKey"`
	AuthConfigID string    `gorm:"column:auth_config_id;size:64;index;index:idx_auth_logs_config_created,priority:1"`
	Scheme       string    `gorm:"column:scheme;size:32;index"`
	Status       string    `gorm:"column:status;size:16;not null;index"`
	Method       string    `gorm:"column:method;size:32;not null"`
	LatencyMS    int64     `gorm:"column:latency_ms;not null;default:0"`
	ClientIP     string    `gorm:"column:client_ip;size:64"`
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime;index;index:idx_auth_logs_config_created,priority:2,sort:desc"`
}

type callLogRow struct {
	ID            string    `gorm:"column:id;size:64;primaryKey"`
	EndpointID    string    `gorm:"column:endpoint_id;size:64;index;index:idx_call_logs_endpoint_created,priority:1"`
	DocumentID    string    `gorm:"column:document_id;size:64;index"`
	Method        string    `gorm:"column:method;size:16"`
	URL           string    `gorm:"column:url;size:1024"`
	RequestBody   string    `gorm:"column:request_body;type:text"`
	ResponseBody  string    `gorm:"column:response_body;type:text"`
	HeadersJSON   string    `gorm:"column:headers_json;type:text"`
	StatusCode    int       `gorm:"column:status_code;not null;default:0;index"`
	RequestBytes  int64     `gorm:"column:request_bytes;not null;default:0"`
	ResponseBytes int64     `gorm:"column:response_bytes;not null;default:0"`
	LatencyMS     int64     `gorm:"column:latency_ms;not null;default:0"`
	ErrorType     string    `gorm:"column:error_type;size:64;index"`
	ErrorMessage  string    `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime;index;index:idx_call_logs_endpoint_created,priority:2,sort:desc"`
}

type callbackLogRow struct {
	ID              string    `gorm:"column:id;size:64;primaryKey"`
	AuthStateID     string    `gorm:"column:auth_state_id;size:64;index"`
	UserID          string    `gorm:"column:user_id;size:64;index"`
	Status          string    `gorm:"column:status;size:16;not null"`
	TokenResponse   string    `gorm:"column:token_response;type:text"`
	ProviderSubject string    `gorm:"column:provider_subject;size:128"`
	ClientIP        string    `gorm:"column:client_ip;size:64"`
	LatencyMS       int64     `gorm:"column:latency_ms;not null;default:0"`
	ErrorMessage    string    `gorm:"column:error_message;type:text"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

type statsRow struct {
	EndpointID        string    `gorm:"column:endpoint_id;size:64;primaryKey"`
	CallCount         int64     `gorm:"column:call_count;not null;default:0"`
	SuccessCount      int64     `gorm:"column:success_count;not null;default:0"`
	ErrorCount        int64     `gorm:"column:error_count;not null;default:0"`
	AvgResponseTimeMS float64   `gorm:"column:avg_response_time_ms;not null;default:0"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Open creates a GORM-backed audit store.
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
	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = "gateway"
	}
	store := &Store{db: gormDB, prefix: prefix, cipher: cfg.Cipher}
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
	if err := s.authLogDB().AutoMigrate(&authLogRow{}); err != nil {
		return err
	}
	if err := s.callLogDB().AutoMigrate(&callLogRow{}); err != nil {
		return err
	}
	if err := s.callbackLogDB().AutoMigrate(&callbackLogRow{}); err != nil {
		return err
	}
	return s.statsDB().AutoMigrate(&statsRow{})
}

func (s *Store) authLogDB() *gorm.DB {
	return s.db.Session(&gorm.Session{NewDB: true}).Table(s.prefix + "_auth_logs")
}

func (s *Store) callLogDB() *gorm.DB {
	return s.db.Session(&gorm.Session{NewDB: true}).Table(s.prefix + "_call_logs")
}

func (s *Store) callbackLogDB() *gorm.DB {
	return s.db.Session(&gorm.Session{NewDB: true}).Table(s.prefix + "_oauth2_callback_logs")
}

func (s *Store) statsDB() *gorm.DB {
	return s.db.Session(&gorm.Session{NewDB: true}).Table(s.prefix + "_endpoint_stats")
}
