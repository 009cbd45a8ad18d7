package integration

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lmoreira/aquaflow/internal/entities"
)

// DevicePoller fetches branch sensor readings from the ESP32's embedded
// status page. The firmware serves a small HTML table with one row per
// branch sensor (S1..S4) and the current flow in L/s, plus an update
// timestamp in the page header.
type DevicePoller struct {
	statusURL   string
	minInterval time.Duration

	mutex     sync.RWMutex
	lastData  []entities.FlowReading
	lastFetch time.Time
}

// NewDevicePoller creates a poller for the given device status URL
func NewDevicePoller(url string, minInterval time.Duration) *DevicePoller {
	if url == "" {
		// Default address the firmware registers on the local network
		url = "http://esp32-vazao.local/status"
	}
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	return &DevicePoller{
		statusURL:   url,
		minInterval: minInterval,
	}
}

// Poll returns branch readings, reusing the previous fetch when it is
// younger than the minimum interval
func (p *DevicePoller) Poll() ([]entities.FlowReading, error) {
	p.mutex.RLock()
	if !p.lastFetch.IsZero() && time.Since(p.lastFetch) < p.minInterval {
		data := p.lastData
		p.mutex.RUnlock()
		return data, nil
	}
	p.mutex.RUnlock()

	data, err := p.FetchBranchReadings()
	if err != nil {
		return nil, err
	}

	p.mutex.Lock()
	p.lastData = data
	p.lastFetch = time.Now()
	p.mutex.Unlock()

	return data, nil
}

// FetchBranchReadings retrieves the branch sensor table from the device
func (p *DevicePoller) FetchBranchReadings() ([]entities.FlowReading, error) {
	// Send an HTTP GET request to the device
	res, err := http.Get(p.statusURL)
	if err != nil {
		log.Printf("Error fetching device status: %v", err)
		return nil, fmt.Errorf("failed to fetch device status page: %v", err)
	}
	defer res.Body.Close()

	// Check for successful response
	if res.StatusCode != 200 {
		log.Printf("Received unexpected status code from device: %d %s", res.StatusCode, res.Status)
		return nil, fmt.Errorf("unexpected status code from device: %d %s", res.StatusCode, res.Status)
	}

	// Parse the HTML document
	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		log.Printf("Error parsing device status page: %v", err)
		return nil, fmt.Errorf("failed to parse device status page: %v", err)
	}

	// Extract the update timestamp from the page header
	timestamp := p.ExtractTimestamp(doc)

	var data []entities.FlowReading
	rowCount := 0
	skipped := 0

	// Iterate over each table row in the document
	doc.Find("table tr").Each(func(index int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		rowCount++

		// Extract channel id from the first cell
		channel := strings.TrimSpace(cells.Eq(0).Text())

		// Skip header rows and the mains meter row, which arrives over serial
		if channel == "" || strings.EqualFold(channel, "Sensor") ||
			strings.EqualFold(channel, entities.ChannelMains) {
			skipped++
			return
		}

		// Extract the flow value, tolerating a trailing unit label
		flowStr := strings.TrimSpace(cells.Eq(1).Text())
		flowStr = strings.TrimSpace(strings.TrimSuffix(flowStr, "L/s"))
		flowStr = strings.ReplaceAll(flowStr, ",", ".")

		flowLPS, err := strconv.ParseFloat(flowStr, 64)
		if err != nil {
			skipped++
			log.Printf("Skipping branch row with invalid flow '%s': %v", flowStr, err)
			return
		}

		data = append(data, entities.FlowReading{
			Channel:   channel,
			FlowLPS:   flowLPS,
			Timestamp: timestamp,
		})
	})

	log.Printf("Parsed %d device rows, extracted %d branch readings (%d skipped)", rowCount, len(data), skipped)
	return data, nil
}

// ExtractTimestamp finds the update timestamp in the device status page.
// The firmware prints a header like "Atualizado: 2025-08-29 14:03:21";
// if no timestamp can be found the current time is used.
func (p *DevicePoller) ExtractTimestamp(doc *goquery.Document) time.Time {
	var timestamp time.Time

	doc.Find("h1, h2, h3, p, div").EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		idx := strings.Index(text, "Atualizado:")
		if idx < 0 {
			return true
		}

		candidate := strings.TrimSpace(text[idx+len("Atualizado:"):])
		if len(candidate) > 19 {
			candidate = candidate[:19]
		}

		parsed, err := time.ParseInLocation("2006-01-02 15:04:05", candidate, time.Local)
		if err != nil {
			log.Printf("Failed to parse device timestamp '%s': %v", candidate, err)
			return true
		}

		timestamp = parsed
		return false
	})

	if timestamp.IsZero() {
		return time.Now()
	}
	return timestamp
}
