package types

import (
	"time"

	"github.com/google/uuid"
)

// Campaign identifies one fuzzing run of one target
type Campaign struct {
	RunID     string    `json:"run_id"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

func NewCampaign(target string) *Campaign {
	return &Campaign{
		RunID:     uuid.New().String(),
		Target:    target,
		StartedAt: time.Now(),
	}
}
