// Package history keeps a log of finished calls in SQLite.
package history

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"voicelink/call"
)

// CallRecord is one row of the history table.
type CallRecord struct {
	ID            string `gorm:"primaryKey"`
	Role          string
	Remote        string
	StartedAt     time.Time `gorm:"index"`
	EndedAt       time.Time
	Reason        string
	BytesSent     int64
	BytesReceived int64
}

// Duration is how long the call was active.
func (r CallRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Store is a call.Recorder backed by a SQLite database.
type Store struct {
	db  *gorm.DB
	log *logrus.Entry
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.AutoMigrate(&CallRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	log.Debugf("call history at %s", path)
	return &Store{db: db, log: log}, nil
}

// RecordCall stores a finished call.
func (s *Store) RecordCall(rec call.Record) error {
	row := CallRecord{
		ID:            rec.ID,
		Role:          rec.Role.String(),
		Remote:        rec.Remote,
		StartedAt:     rec.Started,
		EndedAt:       rec.Ended,
		Reason:        rec.Reason.String(),
		BytesSent:     rec.BytesSent,
		BytesReceived: rec.BytesReceived,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert call %s: %w", rec.ID, err)
	}
	s.log.WithField("call", rec.ID).Debug("call recorded")
	return nil
}

// Recent returns up to limit calls, newest first.
func (s *Store) Recent(limit int) ([]CallRecord, error) {
	var rows []CallRecord
	if err := s.db.Order("started_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return rows, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
