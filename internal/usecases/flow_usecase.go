// Package usecases contains the application's business logic
package usecases

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lmoreira/aquaflow/internal/entities"
	"github.com/lmoreira/aquaflow/internal/integration/openai"
	"github.com/lmoreira/aquaflow/internal/repository"
)

// Per-sample integration deltas. The firmware emits roughly one sample per
// second; anything outside this range means the stream was interrupted and
// the gap must not be billed as consumption.
const (
	minSampleDelta = 1 * time.Second
	maxSampleDelta = 60 * time.Second
)

// FlowUseCase handles business logic for flow monitoring
type FlowUseCase struct {
	repo          repository.ReadingRepository
	detector      *LeakDetector
	forecaster    *Forecaster
	openAIService openai.OpenAIService

	tariffBRLPerM3 float64

	// Last seen timestamp per channel, used to integrate volume across
	// ingest batches without a repository round trip per sample.
	// Guarded by mu: the serial and poller goroutines ingest concurrently.
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewFlowUseCase creates a new flow use case
func NewFlowUseCase(repo repository.ReadingRepository, detector *LeakDetector, forecaster *Forecaster, tariffBRLPerM3 float64) *FlowUseCase {
	if tariffBRLPerM3 <= 0 {
		tariffBRLPerM3 = 4.50
	}
	return &FlowUseCase{
		repo:           repo,
		detector:       detector,
		forecaster:     forecaster,
		tariffBRLPerM3: tariffBRLPerM3,
		lastSeen:       make(map[string]time.Time),
	}
}

// previousTimestamp returns the last known sample time for a channel,
// falling back to the repository on the first batch after startup
func (uc *FlowUseCase) previousTimestamp(channel string) time.Time {
	if ts, ok := uc.lastSeen[channel]; ok {
		return ts
	}

	latest, err := uc.repo.LatestReading(channel)
	if err != nil {
		log.Printf("Failed to look up latest reading for channel %s: %v", channel, err)
		return time.Time{}
	}
	if latest == nil {
		return time.Time{}
	}
	return latest.Timestamp
}

// IngestReadings integrates per-sample volume and persists the batch.
// Volume is the flow rate times the gap to the channel's previous sample,
// with the gap clamped so stream interruptions do not inflate totals.
func (uc *FlowUseCase) IngestReadings(readings []entities.FlowReading) error {
	if len(readings) == 0 {
		return nil
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	for i := range readings {
		rd := &readings[i]

		delta := minSampleDelta
		if prev := uc.previousTimestamp(rd.Channel); !prev.IsZero() {
			gap := rd.Timestamp.Sub(prev)
			if gap > maxSampleDelta {
				gap = maxSampleDelta
			}
			if gap >= minSampleDelta {
				delta = gap
			}
		}

		rd.VolumeL = rd.FlowLPS * delta.Seconds()
		uc.lastSeen[rd.Channel] = rd.Timestamp
	}

	if err := uc.repo.SaveReadings(readings); err != nil {
		return fmt.Errorf("failed to save readings: %v", err)
	}
	return nil
}

// Summarize computes a usage summary over the mains channel for a period
func (uc *FlowUseCase) Summarize(from, to time.Time) (*entities.UsageSummary, error) {
	readings, err := uc.repo.GetReadings(entities.ChannelMains, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load readings for summary: %v", err)
	}

	summary := &entities.UsageSummary{
		PeriodStart: from,
		PeriodEnd:   to,
	}

	var flowSum float64
	for _, rd := range readings {
		summary.VolumeL += rd.VolumeL
		flowSum += rd.FlowLPS
		if rd.FlowLPS > summary.PeakFlowLPS {
			summary.PeakFlowLPS = rd.FlowLPS
		}
	}
	if len(readings) > 0 {
		summary.AvgFlowLPS = flowSum / float64(len(readings))
	}
	summary.CostBRL = summary.VolumeL / 1000.0 * uc.tariffBRLPerM3

	return summary, nil
}

// SummarizePeriod resolves a named period ("today", "week", "month") to a
// time range anchored at now and summarizes it
func (uc *FlowUseCase) SummarizePeriod(period string) (*entities.UsageSummary, error) {
	now := time.Now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var from time.Time
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "", "today", "hoje":
		from = todayStart
	case "week", "semana":
		from = todayStart.AddDate(0, 0, -7)
	case "month", "mes", "mês":
		from = todayStart.AddDate(0, 0, -30)
	default:
		return nil, fmt.Errorf("unknown period '%s'", period)
	}

	return uc.Summarize(from, now)
}

// ScanForLeaks runs the balance detector over a time range and persists
// any windows it finds
func (uc *FlowUseCase) ScanForLeaks(from, to time.Time) ([]entities.LeakEvent, error) {
	readings, err := uc.repo.GetAllReadings(from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load readings for leak scan: %v", err)
	}

	events := uc.detector.Scan(readings)
	for i := range events {
		if err := uc.repo.SaveLeakEvent(&events[i]); err != nil {
			return nil, fmt.Errorf("failed to save leak event: %v", err)
		}
	}

	return events, nil
}

// GetLeakEvents retrieves leak events since the cutoff
func (uc *FlowUseCase) GetLeakEvents(since time.Time) ([]entities.LeakEvent, error) {
	return uc.repo.GetLeakEvents(since)
}

// GetUnnotifiedLeakEvents retrieves leak events that still need an alert
func (uc *FlowUseCase) GetUnnotifiedLeakEvents() ([]entities.LeakEvent, error) {
	return uc.repo.UnnotifiedLeakEvents()
}

// MarkLeakNotified flags a leak event as alerted
func (uc *FlowUseCase) MarkLeakNotified(id int64) error {
	return uc.repo.MarkLeakNotified(id)
}

// RefreshForecasts retrains both models on the training window of daily
// mains volumes and stores the predictions. The current (partial) day is
// excluded from training so it does not drag the fit down.
func (uc *FlowUseCase) RefreshForecasts(trainingDays int) error {
	if trainingDays <= 0 {
		trainingDays = 30
	}

	since := time.Now().AddDate(0, 0, -trainingDays)
	history, err := uc.repo.DailyVolumes(entities.ChannelMains, since)
	if err != nil {
		return fmt.Errorf("failed to load daily volumes: %v", err)
	}

	// Drop today's partial total
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if len(history) > 0 && !history[len(history)-1].Day.Before(today) {
		history = history[:len(history)-1]
	}

	maForecasts, err := uc.forecaster.MovingAverage(history)
	if err != nil {
		return fmt.Errorf("moving average model: %w", err)
	}

	lrForecasts, err := uc.forecaster.LinearRegression(history)
	if err != nil {
		return fmt.Errorf("linear regression model: %w", err)
	}

	if err := uc.repo.SaveForecasts(append(maForecasts, lrForecasts...)); err != nil {
		return fmt.Errorf("failed to save forecasts: %v", err)
	}

	log.Printf("Refreshed forecasts from %d days of history", len(history))
	return nil
}

// GetForecasts retrieves stored forecasts for a model
func (uc *FlowUseCase) GetForecasts(model string) ([]entities.Forecast, error) {
	return uc.repo.GetForecasts(model)
}

// PruneOldReadings removes raw readings past the retention window.
// Leak events and forecasts are kept.
func (uc *FlowUseCase) PruneOldReadings(retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := uc.repo.PruneReadings(cutoff)
	return err
}

// GetChannels returns the channel ids present in the repository
func (uc *FlowUseCase) GetChannels() ([]string, error) {
	log.Println("Retrieving list of channels")
	return uc.repo.Channels()
}

// HourlyVolumes returns per-hour consumption for a channel since the cutoff
func (uc *FlowUseCase) HourlyVolumes(channel string, since time.Time) ([]entities.HourlyVolume, error) {
	return uc.repo.HourlyVolumes(channel, since)
}

// GetLastUpdateTime returns the most recent reading timestamp
func (uc *FlowUseCase) GetLastUpdateTime() (time.Time, error) {
	return uc.repo.LastUpdateTime()
}

// LatestReading returns the newest reading for a channel
func (uc *FlowUseCase) LatestReading(channel string) (*entities.FlowReading, error) {
	return uc.repo.LatestReading(channel)
}

// FormatSummary formats a usage summary for display
func (uc *FlowUseCase) FormatSummary(label string, summary *entities.UsageSummary) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Water usage (%s):\n\n", label))
	result.WriteString(fmt.Sprintf("💧 Volume: %.1f L\n", summary.VolumeL))
	result.WriteString(fmt.Sprintf("📊 Average flow: %.3f L/s\n", summary.AvgFlowLPS))
	result.WriteString(fmt.Sprintf("🌊 Peak flow: %.3f L/s\n", summary.PeakFlowLPS))
	result.WriteString(fmt.Sprintf("💰 Estimated cost: R$ %.2f\n", summary.CostBRL))
	result.WriteString(fmt.Sprintf("\n🕒 Period: %s to %s",
		summary.PeriodStart.Format("2006-01-02 15:04"),
		summary.PeriodEnd.Format("2006-01-02 15:04")))
	return result.String()
}

// FormatLeakEvent formats one leak event for display
func (uc *FlowUseCase) FormatLeakEvent(ev entities.LeakEvent) string {
	var result strings.Builder

	switch ev.Type {
	case entities.LeakTypeHiddenLeak:
		result.WriteString("🚨 Hidden leak suspected!\n")
		result.WriteString("Water is flowing through the mains while all branch sensors read zero.\n")
	default:
		result.WriteString("⚠️ Flow mismatch detected!\n")
		result.WriteString("The mains meter and the branch sensors disagree.\n")
	}

	result.WriteString(fmt.Sprintf("\n🕒 From: %s\n", ev.Start.Format("2006-01-02 15:04:05")))
	result.WriteString(fmt.Sprintf("🕒 To: %s\n", ev.End.Format("2006-01-02 15:04:05")))
	result.WriteString(fmt.Sprintf("⏱ Duration: %.0f s\n", ev.DurationS))
	result.WriteString(fmt.Sprintf("📊 Max difference: %.3f L/s\n", ev.MaxDiffLPS))
	result.WriteString(fmt.Sprintf("💧 Volume lost: %.1f L\n", ev.VolumeL))
	result.WriteString("\nRecommendation: close all taps and check whether the mains meter still turns.")
	return result.String()
}

// FormatForecasts formats stored forecasts for display
func (uc *FlowUseCase) FormatForecasts(forecasts []entities.Forecast) string {
	if len(forecasts) == 0 {
		return "No forecast available yet. Predictions need at least two full days of data."
	}

	var result strings.Builder
	result.WriteString("Predicted daily consumption:\n\n")

	var total float64
	for _, f := range forecasts {
		result.WriteString(fmt.Sprintf("📅 %s: %.1f L\n", f.Day.Format("2006-01-02"), f.VolumeL))
		total += f.VolumeL
	}

	result.WriteString(fmt.Sprintf("\n💧 Total: %.1f L (≈ R$ %.2f)\n", total, total/1000.0*uc.tariffBRLPerM3))
	result.WriteString(fmt.Sprintf("🕒 Generated: %s", forecasts[0].GeneratedAt.Format("2006-01-02 15:04:05")))
	return result.String()
}

// FormatHourlyReport formats per-hour consumption for display
func (uc *FlowUseCase) FormatHourlyReport(hours []entities.HourlyVolume) string {
	if len(hours) == 0 {
		return "No readings recorded in the last 24 hours."
	}

	var result strings.Builder
	result.WriteString("Hourly consumption (last 24h):\n\n")

	var total float64
	for _, h := range hours {
		result.WriteString(fmt.Sprintf("🕒 %s: %.1f L (avg %.3f L/s)\n",
			h.Hour.Format("2006-01-02 15:00"), h.VolumeL, h.AvgFlowLPS))
		total += h.VolumeL
	}

	result.WriteString(fmt.Sprintf("\n💧 Total: %.1f L (≈ R$ %.2f)", total, total/1000.0*uc.tariffBRLPerM3))
	return result.String()
}

// FormatStatus formats the latest reading per channel for display
func (uc *FlowUseCase) FormatStatus() (string, error) {
	channels, err := uc.GetChannels()
	if err != nil {
		return "", fmt.Errorf("failed to get channels: %v", err)
	}
	if len(channels) == 0 {
		return "No readings recorded yet.", nil
	}

	var result strings.Builder
	result.WriteString("Current readings:\n\n")

	for _, channel := range channels {
		latest, err := uc.LatestReading(channel)
		if err != nil {
			return "", fmt.Errorf("failed to get latest reading for %s: %v", channel, err)
		}
		if latest == nil {
			continue
		}
		result.WriteString(fmt.Sprintf("📍 %s: %.3f L/s\n", channel, latest.FlowLPS))
	}

	lastUpdate, _ := uc.GetLastUpdateTime()
	result.WriteString(fmt.Sprintf("\n🕒 Last update: %s", lastUpdate.Format("2006-01-02 15:04:05")))
	return result.String(), nil
}
