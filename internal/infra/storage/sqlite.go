package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trade_sim/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the best-effort tick and simulation log.
// It satisfies domain.TickRecorder and domain.SimulationRecorder.
type Storage struct {
	db *gorm.DB
}

var (
	_ domain.TickRecorder       = (*Storage)(nil)
	_ domain.SimulationRecorder = (*Storage)(nil)
)

// NewStorage opens (or creates) the SQLite database at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure Go driver, no cgo
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db)
}

func newStorage(db *gorm.DB) (*Storage, error) {
	if err := db.AutoMigrate(&domain.TickRecord{}, &domain.SimulationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Tick Operations
// ======================================================================================

// SaveTick appends one top-of-book row.
func (s *Storage) SaveTick(ctx context.Context, tick *domain.TickRecord) error {
	if tick.ReceivedAt.IsZero() {
		tick.ReceivedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(tick).Error
}

// RecentTicks returns up to limit rows for instrument, newest first.
func (s *Storage) RecentTicks(ctx context.Context, instrument string, limit int) ([]domain.TickRecord, error) {
	var ticks []domain.TickRecord
	err := s.db.WithContext(ctx).
		Where("instrument = ?", instrument).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Find(&ticks).Error
	return ticks, err
}

// PruneTicks deletes rows received before cutoff and returns how many went.
func (s *Storage) PruneTicks(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("received_at < ?", cutoff).Delete(&domain.TickRecord{})
	return res.RowsAffected, res.Error
}

// ======================================================================================
// Simulation Operations
// ======================================================================================

// SaveSimulation stores an audit row, assigning an ID if it has none.
func (s *Storage) SaveSimulation(ctx context.Context, rec *domain.SimulationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// GetSimulation retrieves one audit row by ID.
func (s *Storage) GetSimulation(ctx context.Context, id string) (*domain.SimulationRecord, error) {
	var rec domain.SimulationRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecentSimulations returns up to limit audit rows, newest first.
func (s *Storage) RecentSimulations(ctx context.Context, limit int) ([]domain.SimulationRecord, error) {
	var recs []domain.SimulationRecord
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}
