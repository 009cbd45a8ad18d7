// Package entities contains the core domain objects for the aquaflow application
package entities

import (
	"time"
)

// Channel identifiers used throughout the system. The mains meter is the
// principal inflow; branch sensors (S1..S4) measure individual outflows.
const (
	ChannelMains = "mains"
)

// FlowReading represents a single flow sample from one channel
type FlowReading struct {
	ID        int64
	Channel   string    // "mains" or a branch sensor id like "S1"
	Pulses    int       // Raw hall-effect pulse count (0 for branch sensors)
	FlowLPS   float64   // Flow rate in litres per second
	VolumeL   float64   // Volume in litres attributed to this sample
	Timestamp time.Time // When the sample was taken
}

// Leak event types. A mismatch means the mains flow and the sum of branch
// flows disagree by more than the threshold; a hidden leak means water is
// flowing through the mains while every branch sensor reads zero.
const (
	LeakTypeMismatch   = "mismatch"
	LeakTypeHiddenLeak = "hidden_leak"
)

// LeakEvent represents a closed window of anomalous flow balance
type LeakEvent struct {
	ID         int64
	Type       string    // "mismatch" or "hidden_leak"
	Start      time.Time // First anomalous sample in the window
	End        time.Time // Last anomalous sample in the window
	DurationS  float64   // Window length in seconds
	MaxDiffLPS float64   // Largest |mains - sum(branches)| seen in the window
	VolumeL    float64   // Mains volume that passed during the window
	Notified   bool      // Whether an alert has been sent for this event
}

// Forecast model names
const (
	ModelMovingAverage    = "moving_average"
	ModelLinearRegression = "linear_regression"
)

// Forecast represents one predicted daily volume
type Forecast struct {
	ID          int64
	Day         time.Time // Midnight of the predicted day
	VolumeL     float64   // Predicted volume in litres
	Model       string    // Which model produced the prediction
	GeneratedAt time.Time
}

// UsageSummary aggregates consumption over a period
type UsageSummary struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	VolumeL     float64 // Total volume in litres
	AvgFlowLPS  float64 // Mean flow rate over the period
	PeakFlowLPS float64 // Highest flow rate seen in the period
	CostBRL     float64 // Estimated cost at the configured tariff
}

// DailyVolume is one day's total consumption, used as forecaster input
type DailyVolume struct {
	Day     time.Time
	VolumeL float64
}

// HourlyVolume is one hour's consumption, used for intra-day usage reports
type HourlyVolume struct {
	Hour       time.Time // Start of the hour
	VolumeL    float64
	AvgFlowLPS float64
}
