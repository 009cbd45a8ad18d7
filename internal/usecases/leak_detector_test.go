package usecases

import (
	"testing"
	"time"

	"github.com/lmoreira/aquaflow/internal/entities"
)

// newSecondDetector builds a detector with per-second buckets so each
// makeBalance call below is one balance sample
func newSecondDetector(thresholdLPS float64, minWindowSamples int) *LeakDetector {
	detector := NewLeakDetector(thresholdLPS, minWindowSamples)
	detector.BucketSize = time.Second
	return detector
}

// makeBalance builds one second's readings: a mains sample plus branch samples
func makeBalance(ts time.Time, mainsLPS float64, branches ...float64) []entities.FlowReading {
	readings := []entities.FlowReading{
		{Channel: entities.ChannelMains, FlowLPS: mainsLPS, VolumeL: mainsLPS, Timestamp: ts},
	}
	for i, flow := range branches {
		readings = append(readings, entities.FlowReading{
			Channel:   []string{"S1", "S2", "S3", "S4"}[i],
			FlowLPS:   flow,
			Timestamp: ts,
		})
	}
	return readings
}

// TestScanNoLeak tests that balanced flow produces no events
func TestScanNoLeak(t *testing.T) {
	detector := newSecondDetector(0.2, 2)
	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)

	var readings []entities.FlowReading
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		readings = append(readings, makeBalance(ts, 0.30, 0.15, 0.15)...)
	}

	events := detector.Scan(readings)
	if len(events) != 0 {
		t.Fatalf("Expected no leak events for balanced flow, got %d", len(events))
	}
}

// TestScanMismatchWindow tests detection and summary of a mismatch window
func TestScanMismatchWindow(t *testing.T) {
	detector := newSecondDetector(0.2, 2)
	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)

	var readings []entities.FlowReading
	// 2 balanced samples, 4 mismatched, 2 balanced again
	for i := 0; i < 2; i++ {
		readings = append(readings, makeBalance(base.Add(time.Duration(i)*time.Second), 0.30, 0.15, 0.15)...)
	}
	for i := 2; i < 6; i++ {
		readings = append(readings, makeBalance(base.Add(time.Duration(i)*time.Second), 0.80, 0.15, 0.15)...)
	}
	for i := 6; i < 8; i++ {
		readings = append(readings, makeBalance(base.Add(time.Duration(i)*time.Second), 0.30, 0.15, 0.15)...)
	}

	events := detector.Scan(readings)
	if len(events) != 1 {
		t.Fatalf("Expected 1 leak event, got %d", len(events))
	}

	ev := events[0]
	if ev.Type != entities.LeakTypeMismatch {
		t.Errorf("Expected mismatch type, got %s", ev.Type)
	}
	if !ev.Start.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Expected window start at +2s, got %v", ev.Start)
	}
	if !ev.End.Equal(base.Add(5 * time.Second)) {
		t.Errorf("Expected window end at +5s, got %v", ev.End)
	}
	if ev.DurationS != 3 {
		t.Errorf("Expected duration 3s, got %g", ev.DurationS)
	}

	wantDiff := 0.80 - 0.30
	if diff := ev.MaxDiffLPS - wantDiff; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected max diff %g, got %g", wantDiff, ev.MaxDiffLPS)
	}

	// Volume lost is the mains volume over the 4 anomalous samples
	wantVolume := 0.80 * 4
	if diff := ev.VolumeL - wantVolume; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected volume %g L, got %g", wantVolume, ev.VolumeL)
	}
}

// TestScanHiddenLeak tests the hidden leak classification when branches
// read zero while the mains flows
func TestScanHiddenLeak(t *testing.T) {
	detector := newSecondDetector(0.2, 2)
	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)

	var readings []entities.FlowReading
	for i := 0; i < 5; i++ {
		readings = append(readings, makeBalance(base.Add(time.Duration(i)*time.Second), 0.05, 0, 0)...)
	}
	// A clean zero sample closes the window
	readings = append(readings, makeBalance(base.Add(5*time.Second), 0, 0, 0)...)

	events := detector.Scan(readings)
	if len(events) != 1 {
		t.Fatalf("Expected 1 leak event, got %d", len(events))
	}
	if events[0].Type != entities.LeakTypeHiddenLeak {
		t.Errorf("Expected hidden_leak type, got %s", events[0].Type)
	}
}

// TestScanMismatchNotHidden tests that a window with branch flow is typed
// mismatch even if some samples had zero branch flow
func TestScanMismatchNotHidden(t *testing.T) {
	detector := newSecondDetector(0.2, 2)
	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)

	var readings []entities.FlowReading
	readings = append(readings, makeBalance(base, 0.05, 0, 0)...)
	readings = append(readings, makeBalance(base.Add(time.Second), 0.80, 0.15, 0.15)...)
	readings = append(readings, makeBalance(base.Add(2*time.Second), 0.80, 0.15, 0.15)...)

	events := detector.Scan(readings)
	if len(events) != 1 {
		t.Fatalf("Expected 1 leak event, got %d", len(events))
	}
	if events[0].Type != entities.LeakTypeMismatch {
		t.Errorf("Expected mismatch type, got %s", events[0].Type)
	}
}

// TestScanDebounce tests that single-sample blips are discarded
func TestScanDebounce(t *testing.T) {
	detector := newSecondDetector(0.2, 2)
	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)

	var readings []entities.FlowReading
	readings = append(readings, makeBalance(base, 0.30, 0.15, 0.15)...)
	readings = append(readings, makeBalance(base.Add(time.Second), 0.80, 0.15, 0.15)...) // blip
	readings = append(readings, makeBalance(base.Add(2*time.Second), 0.30, 0.15, 0.15)...)

	events := detector.Scan(readings)
	if len(events) != 0 {
		t.Fatalf("Expected the single-sample blip to be discarded, got %d events", len(events))
	}
}

// TestScanOpenWindowAtEnd tests that an ongoing leak is reported without
// waiting for a clean sample
func TestScanOpenWindowAtEnd(t *testing.T) {
	detector := newSecondDetector(0.2, 2)
	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)

	var readings []entities.FlowReading
	for i := 0; i < 3; i++ {
		readings = append(readings, makeBalance(base.Add(time.Duration(i)*time.Second), 0.80, 0.15, 0.15)...)
	}

	events := detector.Scan(readings)
	if len(events) != 1 {
		t.Fatalf("Expected the open window to be emitted, got %d events", len(events))
	}
}

// TestScanInterleavedTimestamps tests that balanced flow stays balanced when
// the mains and branch samples never share an exact timestamp. The serial
// reader stamps with the host clock and the device poller with the device
// clock, so adjacent samples land on different seconds.
func TestScanInterleavedTimestamps(t *testing.T) {
	detector := NewLeakDetector(0.2, 2)
	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)

	var readings []entities.FlowReading
	for i := 0; i < 20; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		if i%2 == 1 {
			readings = append(readings, entities.FlowReading{
				Channel: entities.ChannelMains, FlowLPS: 0.30, VolumeL: 0.30, Timestamp: ts,
			})
		} else {
			readings = append(readings, entities.FlowReading{
				Channel: "S1", FlowLPS: 0.30, Timestamp: ts,
			})
		}
	}

	events := detector.Scan(readings)
	if len(events) != 0 {
		t.Fatalf("Expected no leak events for interleaved balanced flow, got %d", len(events))
	}
}

// TestScanMainsOnlyNoBranchData tests that a poller outage does not read as
// a hidden leak: buckets without any branch sample are skipped
func TestScanMainsOnlyNoBranchData(t *testing.T) {
	detector := NewLeakDetector(0.2, 2)
	base := time.Date(2025, time.August, 20, 10, 0, 0, 0, time.Local)

	var readings []entities.FlowReading
	for i := 0; i < 10; i++ {
		readings = append(readings, entities.FlowReading{
			Channel:   entities.ChannelMains,
			FlowLPS:   0.30,
			VolumeL:   0.30,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	events := detector.Scan(readings)
	if len(events) != 0 {
		t.Fatalf("Expected no leak events without branch data, got %d", len(events))
	}
}

// TestScanEmptyInput tests that no readings produce no events
func TestScanEmptyInput(t *testing.T) {
	detector := newSecondDetector(0.2, 2)
	if events := detector.Scan(nil); len(events) != 0 {
		t.Fatalf("Expected no events for empty input, got %d", len(events))
	}
}
