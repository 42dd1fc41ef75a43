package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// CrashRecord represents a record in the public.crash_records table
type CrashRecord struct {
	ID          int       `gorm:"primaryKey;column:id"`
	RunID       string    `gorm:"column:run_id;not null;index"`
	Target      string    `gorm:"column:target;not null"`
	Fingerprint string    `gorm:"column:fingerprint;not null;index"`
	Path        string    `gorm:"column:path;not null"`
	SeedID      string    `gorm:"column:seed_id"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	Metadata    Metadata  `gorm:"column:metadata;type:jsonb"`
}

func (CrashRecord) TableName() string {
	return "crash_records"
}

// Metadata represents the jsonb field in the crash_records table
type Metadata map[string]any

// Value implements the driver.Valuer interface for the Metadata type
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for the Metadata type
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, m)
}
