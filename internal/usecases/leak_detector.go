package usecases

import (
	"log"
	"sort"
	"time"

	"github.com/lmoreira/aquaflow/internal/entities"
)

// LeakDetector finds windows where the mains flow and the sum of branch
// flows disagree. Two conditions open a window: the absolute difference
// exceeding the threshold (a mismatch) and water flowing through the mains
// while every branch sensor reads zero (a hidden leak).
type LeakDetector struct {
	ThresholdLPS     float64       // Minimum |mains - sum(branches)| to flag, in L/s
	MinWindowSamples int           // Windows with fewer samples are discarded
	BucketSize       time.Duration // Alignment bucket, normally the poll interval
}

// NewLeakDetector creates a detector with the given threshold.
// A threshold of zero falls back to the 0.2 L/s default.
func NewLeakDetector(thresholdLPS float64, minWindowSamples int) *LeakDetector {
	if thresholdLPS <= 0 {
		thresholdLPS = 0.2
	}
	if minWindowSamples <= 0 {
		minWindowSamples = 2
	}
	return &LeakDetector{
		ThresholdLPS:     thresholdLPS,
		MinWindowSamples: minWindowSamples,
		BucketSize:       2 * time.Second,
	}
}

// balanceSample is one time bucket of mains flow versus branch flow
type balanceSample struct {
	timestamp    time.Time
	mainsLPS     float64
	branchSumLPS float64
	mainsVolumeL float64
}

// alignReadings buckets readings to the alignment interval and pairs the
// mean mains flow with the sum of mean branch flows per bucket. The two
// sources stamp their own clocks (the serial reader uses wall time, the
// poller the device page), so exact-timestamp joins would never match.
// Buckets where only one side reported are dropped: without both the
// meter and at least one branch sensor there is no balance to check, and
// a poller outage must not read as a hidden leak.
func (d *LeakDetector) alignReadings(readings []entities.FlowReading) []balanceSample {
	size := d.BucketSize
	if size <= 0 {
		size = 2 * time.Second
	}

	type channelAccum struct {
		sum   float64
		count int
	}
	type bucketAccum struct {
		mains        channelAccum
		mainsVolumeL float64
		branches     map[string]*channelAccum
	}

	buckets := make(map[int64]*bucketAccum)
	for _, rd := range readings {
		key := rd.Timestamp.Truncate(size).Unix()
		b, ok := buckets[key]
		if !ok {
			b = &bucketAccum{branches: make(map[string]*channelAccum)}
			buckets[key] = b
		}

		if rd.Channel == entities.ChannelMains {
			b.mains.sum += rd.FlowLPS
			b.mains.count++
			b.mainsVolumeL += rd.VolumeL
		} else {
			ch, ok := b.branches[rd.Channel]
			if !ok {
				ch = &channelAccum{}
				b.branches[rd.Channel] = ch
			}
			ch.sum += rd.FlowLPS
			ch.count++
		}
	}

	samples := make([]balanceSample, 0, len(buckets))
	for key, b := range buckets {
		if b.mains.count == 0 || len(b.branches) == 0 {
			continue
		}

		var branchSum float64
		for _, ch := range b.branches {
			branchSum += ch.sum / float64(ch.count)
		}

		samples = append(samples, balanceSample{
			timestamp:    time.Unix(key, 0),
			mainsLPS:     b.mains.sum / float64(b.mains.count),
			branchSumLPS: branchSum,
			mainsVolumeL: b.mainsVolumeL,
		})
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].timestamp.Before(samples[j].timestamp)
	})

	return samples
}

// openWindow accumulates anomalous samples until a clean one closes it
type openWindow struct {
	samples      []balanceSample
	maxDiffLPS   float64
	volumeL      float64
	allBranchoff bool // every sample so far had zero branch flow
	anyMainsFlow bool // at least one sample had mains flow
}

func (w *openWindow) add(s balanceSample, diff float64) {
	if len(w.samples) == 0 {
		w.allBranchoff = true
	}
	w.samples = append(w.samples, s)
	if diff > w.maxDiffLPS {
		w.maxDiffLPS = diff
	}
	w.volumeL += s.mainsVolumeL
	if s.branchSumLPS != 0 {
		w.allBranchoff = false
	}
	if s.mainsLPS > 0 {
		w.anyMainsFlow = true
	}
}

func (w *openWindow) close() entities.LeakEvent {
	start := w.samples[0].timestamp
	end := w.samples[len(w.samples)-1].timestamp

	eventType := entities.LeakTypeMismatch
	if w.allBranchoff && w.anyMainsFlow {
		eventType = entities.LeakTypeHiddenLeak
	}

	return entities.LeakEvent{
		Type:       eventType,
		Start:      start,
		End:        end,
		DurationS:  end.Sub(start).Seconds(),
		MaxDiffLPS: w.maxDiffLPS,
		VolumeL:    w.volumeL,
	}
}

// Scan walks the readings in time order and returns the closed leak windows.
// A window still open at the end of the readings is emitted as well, since
// an ongoing leak must not wait for the next clean sample to be reported.
func (d *LeakDetector) Scan(readings []entities.FlowReading) []entities.LeakEvent {
	samples := d.alignReadings(readings)

	var events []entities.LeakEvent
	var window *openWindow

	emit := func() {
		if window == nil {
			return
		}
		if len(window.samples) >= d.MinWindowSamples {
			events = append(events, window.close())
		}
		window = nil
	}

	for _, s := range samples {
		diff := s.mainsLPS - s.branchSumLPS
		if diff < 0 {
			diff = -diff
		}

		isMismatch := diff > d.ThresholdLPS
		isHiddenLeak := s.branchSumLPS == 0 && s.mainsLPS > 0

		if isMismatch || isHiddenLeak {
			if window == nil {
				window = &openWindow{}
			}
			window.add(s, diff)
		} else {
			emit()
		}
	}
	emit()

	if len(events) > 0 {
		log.Printf("Leak scan found %d anomalous windows in %d samples", len(events), len(samples))
	}
	return events
}
