// Package ratelimit tracks the Bitrix24 per-method operating-time budget and
// gates requests before the portal starts rejecting them.
//
// Every REST response carries a "time" block. Its "operating" field is the
// number of seconds the method has consumed in the current window and
// "operating_reset_at" is the Unix time the window resets. The portal blocks
// a method once it passes OperatingLimit seconds per window.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix prefixes the per-method Redis hash holding tracker state.
const RedisKeyPrefix = "crm:operating:"

// Redis hash fields.
const (
	fieldOperating  = "operating"
	fieldResetAt    = "reset_at"
	fieldLastUpdate = "last_update"
)

// Thresholds in seconds of operating time per window.
const (
	// OperatingLimit is the point at which Bitrix24 rejects the method.
	OperatingLimit = 480.0

	// ThresholdCritical blocks requests at or above this value.
	ThresholdCritical = 450.0

	// ThresholdWarning logs warnings at or above this value.
	ThresholdWarning = 360.0
)

// Timing is the "time" block of a Bitrix24 response.
type Timing struct {
	Start            float64 `json:"start"`
	Finish           float64 `json:"finish"`
	Duration         float64 `json:"duration"`
	Processing       float64 `json:"processing"`
	Operating        float64 `json:"operating"`
	OperatingResetAt int64   `json:"operating_reset_at"`
}

// OperatingState is the last known operating-time budget of one method.
// State is shared across processes via Redis.
type OperatingState struct {
	Method     string    `json:"method"`
	Operating  float64   `json:"operating"`
	ResetAt    time.Time `json:"reset_at"`
	LastUpdate time.Time `json:"last_update"`
	IsHealthy  bool      `json:"is_healthy"`
}

// windowOpen reports whether the recorded window has not reset yet.
func (s *OperatingState) windowOpen() bool {
	return time.Now().Before(s.ResetAt)
}

// NeedsCriticalBlock returns true if requests for the method should be refused.
func (s *OperatingState) NeedsCriticalBlock() bool {
	return s.windowOpen() && s.Operating >= ThresholdCritical
}

// NeedsWarning returns true in the warning band below the critical threshold.
func (s *OperatingState) NeedsWarning() bool {
	return s.windowOpen() && s.Operating >= ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *OperatingState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth updates IsHealthy from Operating and ResetAt.
func (s *OperatingState) UpdateHealth() {
	s.IsHealthy = !s.windowOpen() || s.Operating < ThresholdWarning
}
