package repository

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lmoreira/aquaflow/internal/entities"
)

// newTestRepo creates a repository backed by a temp-dir database
func newTestRepo(t *testing.T) *SQLiteReadingRepository {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "aquaflow-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	dbPath := filepath.Join(tempDir, "test-flowdata.db")
	repo, err := NewSQLiteReadingRepository(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

// TestSaveAndGetReadings tests the reading round trip
func TestSaveAndGetReadings(t *testing.T) {
	repo := newTestRepo(t)

	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)
	readings := []entities.FlowReading{
		{Channel: "mains", Pulses: 42, FlowLPS: 0.02, VolumeL: 0.02, Timestamp: base},
		{Channel: "mains", Pulses: 44, FlowLPS: 0.021, VolumeL: 0.021, Timestamp: base.Add(time.Second)},
		{Channel: "S1", FlowLPS: 0.01, VolumeL: 0.01, Timestamp: base},
		{Channel: "S2", FlowLPS: 0.005, VolumeL: 0.005, Timestamp: base},
	}

	if err := repo.SaveReadings(readings); err != nil {
		t.Fatalf("Failed to save readings: %v", err)
	}

	retrieved, err := repo.GetReadings("mains", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to retrieve readings: %v", err)
	}
	if len(retrieved) != 2 {
		t.Fatalf("Expected 2 mains readings, got %d", len(retrieved))
	}
	if retrieved[0].Pulses != 42 || retrieved[1].Pulses != 44 {
		t.Errorf("Readings out of order: %d, %d", retrieved[0].Pulses, retrieved[1].Pulses)
	}

	all, err := repo.GetAllReadings(base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to retrieve all readings: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected 4 readings across channels, got %d", len(all))
	}

	channels, err := repo.Channels()
	if err != nil {
		t.Fatalf("Failed to retrieve channels: %v", err)
	}
	if len(channels) != 3 {
		t.Fatalf("Expected 3 channels, got %d", len(channels))
	}
	if channels[0] != "S1" || channels[1] != "S2" || channels[2] != "mains" {
		t.Errorf("Unexpected channel order: %v", channels)
	}
}

// TestSaveReadingsUpsert tests that re-saving the same sample replaces it
func TestSaveReadingsUpsert(t *testing.T) {
	repo := newTestRepo(t)

	ts := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)
	first := []entities.FlowReading{{Channel: "mains", Pulses: 42, FlowLPS: 0.02, VolumeL: 0.02, Timestamp: ts}}
	second := []entities.FlowReading{{Channel: "mains", Pulses: 45, FlowLPS: 0.03, VolumeL: 0.03, Timestamp: ts}}

	if err := repo.SaveReadings(first); err != nil {
		t.Fatalf("Failed to save first batch: %v", err)
	}
	if err := repo.SaveReadings(second); err != nil {
		t.Fatalf("Failed to save second batch: %v", err)
	}

	retrieved, err := repo.GetReadings("mains", ts.Add(-time.Second), ts.Add(time.Second))
	if err != nil {
		t.Fatalf("Failed to retrieve readings: %v", err)
	}
	if len(retrieved) != 1 {
		t.Fatalf("Expected 1 reading after upsert, got %d", len(retrieved))
	}
	if retrieved[0].Pulses != 45 {
		t.Errorf("Expected upserted pulse count 45, got %d", retrieved[0].Pulses)
	}
}

// TestLatestReading tests the newest-sample lookup
func TestLatestReading(t *testing.T) {
	repo := newTestRepo(t)

	// No data yet
	latest, err := repo.LatestReading("mains")
	if err != nil {
		t.Fatalf("LatestReading failed on empty database: %v", err)
	}
	if latest != nil {
		t.Fatalf("Expected nil for empty channel, got %+v", latest)
	}

	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)
	readings := []entities.FlowReading{
		{Channel: "mains", Pulses: 42, FlowLPS: 0.02, Timestamp: base},
		{Channel: "mains", Pulses: 44, FlowLPS: 0.021, Timestamp: base.Add(time.Second)},
	}
	if err := repo.SaveReadings(readings); err != nil {
		t.Fatalf("Failed to save readings: %v", err)
	}

	latest, err = repo.LatestReading("mains")
	if err != nil {
		t.Fatalf("LatestReading failed: %v", err)
	}
	if latest == nil {
		t.Fatal("Expected a reading, got nil")
	}
	if latest.Pulses != 44 {
		t.Errorf("Expected newest reading with 44 pulses, got %d", latest.Pulses)
	}
}

// TestDailyVolumes tests the per-day aggregation used by the forecaster
func TestDailyVolumes(t *testing.T) {
	repo := newTestRepo(t)

	day1 := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)
	day2 := day1.AddDate(0, 0, 1)

	readings := []entities.FlowReading{
		{Channel: "mains", FlowLPS: 0.02, VolumeL: 10, Timestamp: day1},
		{Channel: "mains", FlowLPS: 0.02, VolumeL: 15, Timestamp: day1.Add(time.Hour)},
		{Channel: "mains", FlowLPS: 0.02, VolumeL: 20, Timestamp: day2},
		{Channel: "S1", FlowLPS: 0.01, VolumeL: 99, Timestamp: day1}, // other channel, ignored
	}
	if err := repo.SaveReadings(readings); err != nil {
		t.Fatalf("Failed to save readings: %v", err)
	}

	volumes, err := repo.DailyVolumes("mains", day1.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("Failed to get daily volumes: %v", err)
	}

	if len(volumes) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(volumes))
	}
	if volumes[0].VolumeL != 25 {
		t.Errorf("Expected 25 L on day 1, got %g", volumes[0].VolumeL)
	}
	if volumes[1].VolumeL != 20 {
		t.Errorf("Expected 20 L on day 2, got %g", volumes[1].VolumeL)
	}
}

// TestHourlyVolumes tests the per-hour aggregation behind the usage report
func TestHourlyVolumes(t *testing.T) {
	repo := newTestRepo(t)

	hour1 := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)
	hour2 := hour1.Add(time.Hour)

	readings := []entities.FlowReading{
		{Channel: "mains", FlowLPS: 0.02, VolumeL: 10, Timestamp: hour1.Add(5 * time.Minute)},
		{Channel: "mains", FlowLPS: 0.04, VolumeL: 15, Timestamp: hour1.Add(20 * time.Minute)},
		{Channel: "mains", FlowLPS: 0.02, VolumeL: 20, Timestamp: hour2.Add(10 * time.Minute)},
		{Channel: "S1", FlowLPS: 0.01, VolumeL: 99, Timestamp: hour1}, // other channel, ignored
	}
	if err := repo.SaveReadings(readings); err != nil {
		t.Fatalf("Failed to save readings: %v", err)
	}

	volumes, err := repo.HourlyVolumes("mains", hour1.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Failed to get hourly volumes: %v", err)
	}

	if len(volumes) != 2 {
		t.Fatalf("Expected 2 hours, got %d", len(volumes))
	}
	if volumes[0].VolumeL != 25 {
		t.Errorf("Expected 25 L in the first hour, got %g", volumes[0].VolumeL)
	}
	if diff := volumes[0].AvgFlowLPS - 0.03; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected 0.03 L/s average in the first hour, got %g", volumes[0].AvgFlowLPS)
	}
	if volumes[1].VolumeL != 20 {
		t.Errorf("Expected 20 L in the second hour, got %g", volumes[1].VolumeL)
	}
	if !volumes[1].Hour.After(volumes[0].Hour) {
		t.Errorf("Expected hours in ascending order, got %v then %v", volumes[0].Hour, volumes[1].Hour)
	}

	// A cutoff after the first hour drops it
	later, err := repo.HourlyVolumes("mains", hour2)
	if err != nil {
		t.Fatalf("Failed to get hourly volumes with cutoff: %v", err)
	}
	if len(later) != 1 {
		t.Fatalf("Expected 1 hour after the cutoff, got %d", len(later))
	}
}

// TestLeakEventLifecycle tests saving, listing, and notifying leak events
func TestLeakEventLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	start := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)
	event := &entities.LeakEvent{
		Type:       entities.LeakTypeHiddenLeak,
		Start:      start,
		End:        start.Add(30 * time.Second),
		DurationS:  30,
		MaxDiffLPS: 0.5,
		VolumeL:    15,
	}

	if err := repo.SaveLeakEvent(event); err != nil {
		t.Fatalf("Failed to save leak event: %v", err)
	}
	if event.ID == 0 {
		t.Error("Expected the saved event to receive an ID")
	}

	pending, err := repo.UnnotifiedLeakEvents()
	if err != nil {
		t.Fatalf("Failed to list unnotified events: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 unnotified event, got %d", len(pending))
	}
	if pending[0].Type != entities.LeakTypeHiddenLeak {
		t.Errorf("Expected hidden_leak type, got %s", pending[0].Type)
	}

	if err := repo.MarkLeakNotified(event.ID); err != nil {
		t.Fatalf("Failed to mark event notified: %v", err)
	}

	pending, err = repo.UnnotifiedLeakEvents()
	if err != nil {
		t.Fatalf("Failed to list unnotified events: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no unnotified events after marking, got %d", len(pending))
	}

	events, err := repo.GetLeakEvents(start.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Failed to list leak events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 leak event, got %d", len(events))
	}
	if !events[0].Notified {
		t.Error("Expected the event to be marked notified")
	}
}

// TestForecastUpsert tests that regenerating forecasts replaces old rows
func TestForecastUpsert(t *testing.T) {
	repo := newTestRepo(t)

	day := time.Date(2025, time.August, 21, 0, 0, 0, 0, time.Local)
	first := []entities.Forecast{
		{Day: day, VolumeL: 100, Model: entities.ModelMovingAverage, GeneratedAt: time.Now()},
	}
	second := []entities.Forecast{
		{Day: day, VolumeL: 120, Model: entities.ModelMovingAverage, GeneratedAt: time.Now()},
		{Day: day, VolumeL: 130, Model: entities.ModelLinearRegression, GeneratedAt: time.Now()},
	}

	if err := repo.SaveForecasts(first); err != nil {
		t.Fatalf("Failed to save first forecasts: %v", err)
	}
	if err := repo.SaveForecasts(second); err != nil {
		t.Fatalf("Failed to save second forecasts: %v", err)
	}

	ma, err := repo.GetForecasts(entities.ModelMovingAverage)
	if err != nil {
		t.Fatalf("Failed to get moving average forecasts: %v", err)
	}
	if len(ma) != 1 {
		t.Fatalf("Expected 1 moving average forecast, got %d", len(ma))
	}
	if ma[0].VolumeL != 120 {
		t.Errorf("Expected upserted volume 120, got %g", ma[0].VolumeL)
	}

	lr, err := repo.GetForecasts(entities.ModelLinearRegression)
	if err != nil {
		t.Fatalf("Failed to get linear regression forecasts: %v", err)
	}
	if len(lr) != 1 {
		t.Fatalf("Expected 1 linear regression forecast, got %d", len(lr))
	}
}

// TestPruneReadings tests the retention cutoff
func TestPruneReadings(t *testing.T) {
	repo := newTestRepo(t)

	old := time.Now().AddDate(0, 0, -100)
	recent := time.Now().Add(-time.Hour)

	readings := []entities.FlowReading{
		{Channel: "mains", FlowLPS: 0.02, VolumeL: 1, Timestamp: old},
		{Channel: "mains", FlowLPS: 0.02, VolumeL: 1, Timestamp: recent},
	}
	if err := repo.SaveReadings(readings); err != nil {
		t.Fatalf("Failed to save readings: %v", err)
	}

	removed, err := repo.PruneReadings(time.Now().AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("Failed to prune readings: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 pruned reading, got %d", removed)
	}

	latest, err := repo.LatestReading("mains")
	if err != nil {
		t.Fatalf("LatestReading failed: %v", err)
	}
	if latest == nil {
		t.Fatal("Expected the recent reading to survive pruning")
	}
}

// TestLastUpdateTime tests the newest-timestamp lookup on an empty and
// populated database
func TestLastUpdateTime(t *testing.T) {
	repo := newTestRepo(t)

	lastUpdate, err := repo.LastUpdateTime()
	if err != nil {
		t.Fatalf("LastUpdateTime failed on empty database: %v", err)
	}
	if !lastUpdate.IsZero() {
		t.Errorf("Expected zero time for empty database, got %v", lastUpdate)
	}

	ts := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)
	if err := repo.SaveReadings([]entities.FlowReading{
		{Channel: "mains", FlowLPS: 0.02, Timestamp: ts},
	}); err != nil {
		t.Fatalf("Failed to save reading: %v", err)
	}

	lastUpdate, err = repo.LastUpdateTime()
	if err != nil {
		t.Fatalf("LastUpdateTime failed: %v", err)
	}
	if lastUpdate.IsZero() {
		t.Error("Expected a non-zero last update time")
	}
}
