// Package audit persists every executed command to a local sqlite file so
// field engineers can reconstruct what the cloud asked the station to do.
// Collected metrics are deliberately not persisted.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"station-bridge/internal/command"
	"station-bridge/internal/model"
)

// Store wraps the sqlite connection.
type Store struct {
	orm       *gorm.DB
	stationID string
}

var _ command.Recorder = (*Store)(nil)

// Open opens (creating if needed) the audit database and migrates its
// schema.
func Open(path, stationID string) (*Store, error) {
	orm, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	if err := orm.AutoMigrate(&model.CommandRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &Store{orm: orm, stationID: stationID}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordCommand appends one executed command to the trail.
func (s *Store) RecordCommand(ctx context.Context, commandID, cmdType, params string, result command.Result) error {
	rec := &model.CommandRecord{
		ID:         uuid.NewString(),
		CommandID:  commandID,
		StationID:  s.stationID,
		Type:       cmdType,
		Params:     params,
		Success:    result.Success,
		Output:     result.Output,
		ReturnCode: result.ReturnCode,
		Error:      result.Error,
	}
	return s.orm.WithContext(ctx).Create(rec).Error
}

// Recent returns the latest executed commands, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []model.CommandRecord
	if err := s.orm.WithContext(ctx).
		Where("station_id = ?", s.stationID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
