// Package device keeps the per-device notification state: preferences and the
// recent-message history. Everything is persisted through a storage.KV.
package device

// Persisted keys. The names match the original web client's localStorage keys.
const (
	KeyEnabled   = "love-notifications-enabled"
	KeyStartDate = "love-notifications-start-date"
	KeyLastFired = "last-notification-date"
	KeyHistory   = "love-message-history"
)

// DateLayout is the lastFiredDate format (local calendar date).
const DateLayout = "2006-01-02"

// DefaultHistorySize is the history capacity when none is configured.
const DefaultHistorySize = 10
