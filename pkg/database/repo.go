package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// inserts multiple crash records into the database
func AddCrashRecords(ctx context.Context, db *gorm.DB, records []*CrashRecord) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(records).Error
}

// NewCrashRecord creates a new CrashRecord object with the provided parameters
func NewCrashRecord(
	runID string,
	target string,
	fingerprint string,
	path string,
	seedID string,
	foundAt time.Time,
	metadata Metadata,
) *CrashRecord {
	if foundAt.IsZero() {
		foundAt = time.Now()
	}
	return &CrashRecord{
		RunID:       runID,
		Target:      target,
		Fingerprint: fingerprint,
		Path:        path,
		SeedID:      seedID,
		CreatedAt:   foundAt,
		Metadata:    metadata,
	}
}
