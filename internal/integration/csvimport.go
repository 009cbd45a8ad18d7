package integration

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmoreira/aquaflow/internal/entities"
)

// CSVImporter loads historical samples exported by the earlier Python
// prototype. The expected header is:
//
//	Timestamp,Pulsos,Vazão (L/min),S1 – Vazão (L/s),...,S4 – Vazão (L/s)
//
// Column matching is tolerant of spacing and dash variants since the
// exports were hand-edited spreadsheets.
type CSVImporter struct{}

// csvColumns maps header positions to their meaning
type csvColumns struct {
	timestamp int
	pulses    int
	mainsLPM  int
	branches  map[int]string // column index -> channel id
}

// mapColumns inspects the header row and locates the known columns
func mapColumns(header []string) (*csvColumns, error) {
	cols := &csvColumns{
		timestamp: -1,
		pulses:    -1,
		mainsLPM:  -1,
		branches:  make(map[int]string),
	}

	for i, name := range header {
		name = strings.TrimSpace(name)
		switch {
		case strings.EqualFold(name, "Timestamp"):
			cols.timestamp = i
		case strings.EqualFold(name, "Pulsos"):
			cols.pulses = i
		case strings.Contains(name, "L/min"):
			cols.mainsLPM = i
		case strings.Contains(name, "L/s") && strings.HasPrefix(name, "S"):
			// Channel id is the leading token, e.g. "S1 – Vazão (L/s)" -> "S1"
			fields := strings.FieldsFunc(name, func(r rune) bool {
				return r == ' ' || r == '–' || r == '-'
			})
			if len(fields) > 0 {
				cols.branches[i] = fields[0]
			}
		}
	}

	if cols.timestamp < 0 {
		return nil, fmt.Errorf("CSV header has no Timestamp column: %v", header)
	}
	if cols.mainsLPM < 0 && len(cols.branches) == 0 {
		return nil, fmt.Errorf("CSV header has no flow columns: %v", header)
	}

	return cols, nil
}

// Import reads readings from r and returns them in file order.
// Rows that fail to parse are counted and skipped.
func (im *CSVImporter) Import(r io.Reader) ([]entities.FlowReading, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // hand-edited exports have ragged rows

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %v", err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var readings []entities.FlowReading
	rowCount := 0
	skipped := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			log.Printf("Skipping unreadable CSV row: %v", err)
			continue
		}
		rowCount++

		timestamp, err := parseCSVTimestamp(record[cols.timestamp])
		if err != nil {
			skipped++
			log.Printf("Skipping row with bad timestamp '%s': %v", record[cols.timestamp], err)
			continue
		}

		// Mains meter: pulses plus flow in L/min, normalized to L/s
		if cols.mainsLPM >= 0 && cols.mainsLPM < len(record) {
			flowLPM, err := parseCSVFloat(record[cols.mainsLPM])
			if err != nil {
				skipped++
				log.Printf("Skipping mains value '%s' at %s: %v", record[cols.mainsLPM], timestamp, err)
			} else {
				pulses := 0
				if cols.pulses >= 0 && cols.pulses < len(record) {
					if p, err := strconv.Atoi(strings.TrimSpace(record[cols.pulses])); err == nil {
						pulses = p
					}
				}
				readings = append(readings, entities.FlowReading{
					Channel:   entities.ChannelMains,
					Pulses:    pulses,
					FlowLPS:   flowLPM / 60.0,
					Timestamp: timestamp,
				})
			}
		}

		// Branch sensors already report L/s
		for idx, channel := range cols.branches {
			if idx >= len(record) {
				continue
			}
			flowLPS, err := parseCSVFloat(record[idx])
			if err != nil {
				skipped++
				log.Printf("Skipping %s value '%s' at %s: %v", channel, record[idx], timestamp, err)
				continue
			}
			readings = append(readings, entities.FlowReading{
				Channel:   channel,
				FlowLPS:   flowLPS,
				Timestamp: timestamp,
			})
		}
	}

	log.Printf("Imported %d CSV rows into %d readings (%d values skipped)", rowCount, len(readings), skipped)
	return readings, nil
}

// ImportFile imports readings from a CSV file on disk
func (im *CSVImporter) ImportFile(path string) ([]entities.FlowReading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file %s: %v", path, err)
	}
	defer f.Close()

	return im.Import(f)
}

// parseCSVTimestamp accepts the formats the prototype wrote over time
func parseCSVTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	timestamp, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	if err == nil {
		return timestamp, nil
	}

	timestamp, err = time.ParseInLocation("02/01/2006 15:04:05", s, time.Local)
	if err == nil {
		return timestamp, nil
	}

	return time.Parse(time.RFC3339, s)
}

// parseCSVFloat tolerates decimal commas and blank cells (treated as zero)
func parseCSVFloat(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
