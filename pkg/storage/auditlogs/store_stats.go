package auditlogs

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/stepflow/gateway/pkg/storage"
)

// RecordCallOutcome bumps the rolling counters for an endpoint with a
// single-row atomic UPDATE. All column references inside the expressions
// read the pre-update values, so concurrent writers never lose increments.
// The average uses the incremental mean, not (old+new)/2.
func (s *Store) RecordCallOutcome(ctx context.Context, endpointID string, statusCode int, hasStatus bool, latencyMS int64) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if endpointID == "" {
		return errors.New("endpoint id is required")
	}
	successDelta := 0
	errorDelta := 0
	if hasStatus {
		if statusCode < 400 {
			successDelta = 1
		} else {
			errorDelta = 1
		}
	}
	updates := map[string]interface{}{
		"call_count":    gorm.Expr("call_count + 1"),
		"success_count": gorm.Expr("success_count + ?", successDelta),
		"error_count":   gorm.Expr("error_count + ?", errorDelta),
		"avg_response_time_ms": gorm.Expr(
			"avg_response_time_ms + (? - avg_response_time_ms) / (call_count + 1)",
			float64(latencyMS),
		),
		"updated_at": time.Now().UTC(),
	}

	result := s.statsDB().WithContext(ctx).Where("endpoint_id = ?", endpointID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// First call for this endpoint: insert, then fall back to the update
	// path if a concurrent writer won the insert race.
	seed := statsRow{
		EndpointID:        endpointID,
		CallCount:         1,
		SuccessCount:      int64(successDelta),
		ErrorCount:        int64(errorDelta),
		AvgResponseTimeMS: float64(latencyMS),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.statsDB().WithContext(ctx).Create(&seed).Error; err == nil {
		return nil
	}
	return s.statsDB().WithContext(ctx).Where("endpoint_id = ?", endpointID).Updates(updates).Error
}

// GetEndpointStats returns the counters for one endpoint, nil when the
// endpoint has never been called.
func (s *Store) GetEndpointStats(ctx context.Context, endpointID string) (*storage.EndpointStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data statsRow
	err := s.statsDB().WithContext(ctx).Where("endpoint_id = ?", endpointID).First(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stats := fromStatsRow(data)
	return &stats, nil
}

// ListEndpointStats returns counters ordered by call volume.
func (s *Store) ListEndpointStats(ctx context.Context, limit int) ([]storage.EndpointStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	query := s.statsDB().WithContext(ctx).Order("call_count DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []statsRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]storage.EndpointStats, 0, len(rows))
	for _, data := range rows {
		results = append(results, fromStatsRow(data))
	}
	return results, nil
}

func fromStatsRow(data statsRow) storage.EndpointStats {
	return storage.EndpointStats{
		EndpointID:        data.EndpointID,
		CallCount:         data.CallCount,
		SuccessCount:      data.SuccessCount,
		ErrorCount:        data.ErrorCount,
		AvgResponseTimeMS: data.AvgResponseTimeMS,
		UpdatedAt:         data.UpdatedAt,
	}
}
