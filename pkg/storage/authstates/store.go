// Package authstates persists in-flight OAuth2 authorization states on GORM.
package authstates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/stepflow/gateway/pkg/secrets"
	"github.com/stepflow/gateway/pkg/storage"
)

// Config configures the auth state store.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	Table       string
	AutoMigrate bool
	Pool        storage.PoolConfig
	Cipher      *secrets.Cipher
}

// Store implements storage.AuthStateStore on top of GORM.
type Store struct {
	db     *gorm.DB
	table  string
	cipher *secrets.Cipher
}

type row struct {
	ID              string    `gorm:"column:id;size:64;primaryKey"`
	AuthConfigID    string    `gorm:"column:auth_config_id;size:64;not null;index"`
	DocumentID      string    `gorm:"column:document_id;size:64;index"`
	UserID          string    `gorm:"column:user_id;size:64;index"`
	State           string    `gorm:"column:state;size:128;not null;uniqueIndex"`
	CodeVerifier    string    `gorm:"column:code_verifier;type:text"`
	CodeChallenge   string    `gorm:"column:code_challenge;size:128"`
	ChallengeMethod string    `gorm:"column:challenge_method;size:16;not null;default:'S256'"`
	RedirectURI     string    `gorm:"column:redirect_uri;size:512"`
	Scope           string    `gorm:"column:scope;size:256"`
	ClientID        string    `gorm:"column:client_id;size:128"`
	Consumed        bool      `gorm:"column:consumed;not null;default:false"`
	ExpiresAt       time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Open creates a GORM-backed auth state store.
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
		table = "gateway_oauth2_auth_states"
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

// CreateAuthState persists a new authorization state. The code verifier is
// encrypted before it hits the database.
func (s *Store) CreateAuthState(ctx context.Context, record storage.AuthStateRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if record.ID == "" || record.State == "" {
		return errors.New("id and state are required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data := toRow(record)
	if s.cipher != nil && data.CodeVerifier != "" {
		sealed, err := s.cipher.EncryptString(data.CodeVerifier)
		if err != nil {
			return fmt.Errorf("encrypt code verifier: %w", err)
		}
		data.CodeVerifier = sealed
	}
	return s.tableDB().WithContext(ctx).Create(&data).Error
}

// GetAuthStateByState looks up a state row by its anti-CSRF nonce.
// Returns nil when no row matches.
func (s *Store) GetAuthStateByState(ctx context.Context, state string) (*storage.AuthStateRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return nil, errors.New("state is required")
	}
	var data row
	err := s.tableDB().WithContext(ctx).Where("state = ?", state).First(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.cipher != nil && data.CodeVerifier != "" {
		plaintext, err := s.cipher.DecryptString(data.CodeVerifier)
		if err != nil {
			return nil, fmt.Errorf("decrypt code verifier: %w", err)
		}
		data.CodeVerifier = plaintext
	}
	record := fromRow(data)
	return &record, nil
}

// ConsumeAuthState marks a state used. Returns false when the state was
// already consumed, making replayed callbacks detectable with a single
// atomic row update.
func (s *Store) ConsumeAuthState(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store is not initialized")
	}
	result := s.tableDB().WithContext(ctx).
		Where("id = ? AND consumed = ?", id, false).
		Update("consumed", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeleteExpiredAuthStates removes states whose TTL elapsed before the cutoff.
func (s *Store) DeleteExpiredAuthStates(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	result := s.tableDB().WithContext(ctx).Where("expires_at < ?", before).Delete(&row{})
	return result.RowsAffected, result.Error
}

func toRow(record storage.AuthStateRecord) row {
	return row{
		ID:              record.ID,
		AuthConfigID:    record.AuthConfigID,
		DocumentID:      record.DocumentID,
		UserID:          record.UserID,
		State:           record.State,
		CodeVerifier:    record.CodeVerifier,
		CodeChallenge:   record.CodeChallenge,
		ChallengeMethod: record.ChallengeMethod,
		RedirectURI:     record.RedirectURI,
		Scope:           record.Scope,
		ClientID:        record.ClientID,
		Consumed:        record.Consumed,
		ExpiresAt:       record.ExpiresAt,
		CreatedAt:       record.CreatedAt,
	}
}

func fromRow(data row) storage.AuthStateRecord {
	return storage.AuthStateRecord{
		ID:              data.ID,
		AuthConfigID:    data.AuthConfigID,
		DocumentID:      data.DocumentID,
		UserID:          data.UserID,
		State:           data.State,
		CodeVerifier:    data.CodeVerifier,
		CodeChallenge:   data.CodeChallenge,
		ChallengeMethod: data.ChallengeMethod,
		RedirectURI:     data.RedirectURI,
		Scope:           data.Scope,
		ClientID:        data.ClientID,
		Consumed:        data.Consumed,
		ExpiresAt:       data.ExpiresAt,
		CreatedAt:       data.CreatedAt,
	}
}
