package auditlogs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow/gateway/pkg/storage"
)

// CreateAuthLogs inserts authentication attempt records.
func (s *Store) CreateAuthLogs(ctx context.Context, records []storage.AuthLogRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]authLogRow, 0, len(records))
	for _, record := range records {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		rows = append(rows, authLogRow{
			ID:           record.ID,
			AuthConfigID: record.AuthConfigID,
			Scheme:       record.Scheme,
			Status:       record.Status,
			Method:       record.Method,
			LatencyMS:    record.LatencyMS,
			ClientIP:     record.ClientIP,
			ErrorMessage: record.ErrorMessage,
			CreatedAt:    record.CreatedAt,
		})
	}
	return s.authLogDB().WithContext(ctx).Create(&rows).Error
}

// CreateCallLogs inserts call execution records.
func (s *Store) CreateCallLogs(ctx context.Context, records []storage.CallLogRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]callLogRow, 0, len(records))
	for _, record := range records {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		rows = append(rows, callLogRow{
			ID:            record.ID,
			EndpointID:    record.EndpointID,
			DocumentID:    record.DocumentID,
			Method:        record.Method,
			URL:           record.URL,
			RequestBody:   record.RequestBody,
			ResponseBody:  record.ResponseBody,
			HeadersJSON:   record.HeadersJSON,
			StatusCode:    record.StatusCode,
			RequestBytes:  record.RequestBytes,
			ResponseBytes: record.ResponseBytes,
			LatencyMS:     record.LatencyMS,
			ErrorType:     record.ErrorType,
			ErrorMessage:  record.ErrorMessage,
			CreatedAt:     record.CreatedAt,
		})
	}
	return s.callLogDB().WithContext(ctx).Create(&rows).Error
}

// CreateCallbackLogs inserts OAuth2 callback records, encrypting the token
// response payload before it hits the database.
func (s *Store) CreateCallbackLogs(ctx context.Context, records []storage.CallbackLogRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]callbackLogRow, 0, len(records))
	for _, record := range records {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		tokenResponse := record.TokenResponse
		if s.cipher != nil && tokenResponse != "" {
			sealed, err := s.cipher.EncryptString(tokenResponse)
			if err != nil {
				return fmt.Errorf("encrypt token response: %w", err)
			}
			tokenResponse = sealed
		}
		rows = append(rows, callbackLogRow{
			ID:              record.ID,
			AuthStateID:     record.AuthStateID,
			UserID:          record.UserID,
			Status:          record.Status,
			TokenResponse:   tokenResponse,
			ProviderSubject: record.ProviderSubject,
			ClientIP:        record.ClientIP,
			LatencyMS:       record.LatencyMS,
			ErrorMessage:    record.ErrorMessage,
			CreatedAt:       record.CreatedAt,
		})
	}
	return s.callbackLogDB().WithContext(ctx).Create(&rows).Error
}

// PurgeBefore removes log rows older than the cutoff. Stats rows are kept.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	var removed int64
	result := s.authLogDB().WithContext(ctx).Where("created_at < ?", cutoff).Delete(&authLogRow{})
	if result.Error != nil {
		return removed, result.Error
	}
	removed += result.RowsAffected
	result = s.callLogDB().WithContext(ctx).Where("created_at < ?", cutoff).Delete(&callLogRow{})
	if result.Error != nil {
		return removed, result.Error
	}
	removed += result.RowsAffected
	result = s.callbackLogDB().WithContext(ctx).Where("created_at < ?", cutoff).Delete(&callbackLogRow{})
	if result.Error != nil {
		return removed, result.Error
	}
	removed += result.RowsAffected
	return removed, nil
}
