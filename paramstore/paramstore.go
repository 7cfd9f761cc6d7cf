// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package paramstore keeps named model snapshots in a SQLite database.
package paramstore

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/nlpodyssey/lcem"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no snapshot has the requested name.
var ErrNotFound = errors.New("snapshot not found")

// Record is a stored snapshot.
type Record struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Name        string `gorm:"not null;uniqueIndex"`
	NumContexts int    `gorm:"not null"`
	NumFeatures int    `gorm:"not null"`
	// Data is the gob encoding of an lcem.Snapshot.
	Data []byte `gorm:"not null"`
}

// Models lists the tables of the store.
var Models = []any{
	&Record{},
}

// Store is a snapshot database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating it if needed) the SQLite database at filename.
func Open(filename string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(filename), &gorm.Config{
		Logger: NewLogger(log.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save stores the snapshot of m under name, replacing any previous one.
func (s *Store) Save(name string, m *lcem.Model) error {
	snapshot := m.Snapshot()
	var buf bytes.Buffer
	if err := lcem.EncodeSnapshot(snapshot, &buf); err != nil {
		return err
	}
	r := Record{
		Name:        name,
		NumContexts: len(snapshot.Config.AllTasks),
		NumFeatures: snapshot.Config.NumFeatures,
		Data:        buf.Bytes(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "num_contexts", "num_features", "data"}),
	}).Create(&r).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot %q: %w", name, err)
	}
	log.Debug().Str("name", name).Int("bytes", len(r.Data)).Msg("snapshot saved")
	return nil
}

// Load rebuilds the model stored under name, in evaluation mode.
func (s *Store) Load(name string) (*lcem.Model, error) {
	var r Record
	err := s.db.Where("name = ?", name).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %q: %w", name, err)
	}
	snapshot, err := lcem.DecodeSnapshot(bytes.NewReader(r.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %q: %w", name, err)
	}
	return lcem.FromSnapshot(snapshot)
}

// List returns the stored records without their data, ordered by name.
func (s *Store) List() ([]Record, error) {
	var records []Record
	err := s.db.Omit("data").Order("name").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return records, nil
}

// Delete removes the snapshot stored under name.
func (s *Store) Delete(name string) error {
	res := s.db.Where("name = ?", name).Delete(&Record{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete snapshot %q: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}
