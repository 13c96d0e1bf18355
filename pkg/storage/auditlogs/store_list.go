package auditlogs

import (
	"context"
	"errors"

	"github.com/stepflow/gateway/pkg/storage"
)

// ListRecentCalls returns call logs, newest first.
func (s *Store) ListRecentCalls(ctx context.Context, filter storage.CallLogFilter) ([]storage.CallLogRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	query := s.callLogDB().WithContext(ctx).Order("created_at DESC")
	if filter.EndpointID != "" {
		query = query.Where("endpoint_id = ?", filter.EndpointID)
	}
	if filter.DocumentID != "" {
		query = query.Where("document_id = ?", filter.DocumentID)
	}
	if filter.ErrorsOnly {
		query = query.Where("error_type <> '' OR status_code >= 400")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows []callLogRow
	if err := query.Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]storage.CallLogRecord, 0, len(rows))
	for _, data := range rows {
		results = append(results, storage.CallLogRecord{
			ID:            data.ID,
			EndpointID:    data.EndpointID,
			DocumentID:    data.DocumentID,
			Method:        data.Method,
			URL:           data.URL,
			RequestBody:   data.RequestBody,
			ResponseBody:  data.ResponseBody,
			HeadersJSON:   data.HeadersJSON,
			StatusCode:    data.StatusCode,
			RequestBytes:  data.RequestBytes,
			ResponseBytes: data.ResponseBytes,
			LatencyMS:     data.LatencyMS,
			ErrorType:     data.ErrorType,
			ErrorMessage:  data.ErrorMessage,
			CreatedAt:     data.CreatedAt,
		})
	}
	return results, nil
}

// ListRecentAuthAttempts returns authentication logs, newest first.
func (s *Store) ListRecentAuthAttempts(ctx context.Context, limit int) ([]storage.AuthLogRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []authLogRow
	err := s.authLogDB().WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	results := make([]storage.AuthLogRecord, 0, len(rows))
	for _, data := range rows {
		results = append(results, storage.AuthLogRecord{
			ID:           data.ID,
			AuthConfigID: data.AuthConfigID,
			Scheme:       data.Scheme,
			Status:       data.Status,
			Method:       data.Method,
			LatencyMS:    data.LatencyMS,
			ClientIP:     data.ClientIP,
			ErrorMessage: data.ErrorMessage,
			CreatedAt:    data.CreatedAt,
		})
	}
	return results, nil
}
