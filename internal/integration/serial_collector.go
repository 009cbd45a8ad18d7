// Package integration handles external data sources
package integration

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/lmoreira/aquaflow/internal/entities"
	"go.bug.st/serial"
)

// SerialCollector reads flow samples from the ESP32 firmware over a serial
// port. The firmware prints one line per second in the form:
//
//	Pulsos: 42 | Vazão: 1.23 L/min | 0.0205 L/s
type SerialCollector struct {
	PortName string
	BaudRate int
}

// NewSerialCollector creates a collector for the given port
func NewSerialCollector(portName string, baudRate int) *SerialCollector {
	if portName == "" {
		portName = "/dev/ttyUSB0"
	}
	if baudRate == 0 {
		baudRate = 115200
	}
	return &SerialCollector{
		PortName: portName,
		BaudRate: baudRate,
	}
}

// ParseSensorLine extracts a mains reading from one firmware output line.
// Lines that do not contain sensor data return ok=false; malformed sensor
// lines return an error so the caller can log and skip them.
func ParseSensorLine(line string, now time.Time) (entities.FlowReading, bool, error) {
	if !strings.Contains(line, "Pulsos") {
		return entities.FlowReading{}, false, nil
	}

	// Strip the labels and units, leaving "42 | 1.23 | 0.0205"
	cleaned := line
	for _, label := range []string{"Pulsos:", "Vazão:", "Vazao:", "L/min", "L/s"} {
		cleaned = strings.ReplaceAll(cleaned, label, "")
	}

	parts := strings.Split(cleaned, "|")
	if len(parts) != 3 {
		return entities.FlowReading{}, false, fmt.Errorf("expected 3 fields, got %d in line: %s", len(parts), line)
	}

	pulses, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return entities.FlowReading{}, false, fmt.Errorf("invalid pulse count in line '%s': %v", line, err)
	}

	flowLPM, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return entities.FlowReading{}, false, fmt.Errorf("invalid L/min flow in line '%s': %v", line, err)
	}

	flowLPS, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return entities.FlowReading{}, false, fmt.Errorf("invalid L/s flow in line '%s': %v", line, err)
	}

	// The firmware prints both units; prefer the L/s field but fall back to
	// converting L/min when the last field is zero and the rate is not
	if flowLPS == 0 && flowLPM > 0 {
		flowLPS = flowLPM / 60.0
	}

	return entities.FlowReading{
		Channel:   entities.ChannelMains,
		Pulses:    pulses,
		FlowLPS:   flowLPS,
		Timestamp: now,
	}, true, nil
}

// Collect reads firmware lines from r until EOF or context cancellation,
// invoking handle for each valid sample. Malformed lines are logged and
// skipped, never fatal.
func (c *SerialCollector) Collect(ctx context.Context, r io.Reader, handle func(entities.FlowReading)) error {
	scanner := bufio.NewScanner(r)
	lineCount := 0
	skipped := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			log.Printf("Serial collection stopped after %d lines (%d skipped)", lineCount, skipped)
			return ctx.Err()
		default:
		}

		lineCount++
		line := strings.TrimSpace(scanner.Text())

		reading, ok, err := ParseSensorLine(line, time.Now())
		if err != nil {
			skipped++
			log.Printf("Skipping malformed sensor line: %v", err)
			continue
		}
		if !ok {
			continue
		}

		handle(reading)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading sensor stream: %v", err)
	}

	log.Printf("Sensor stream ended after %d lines (%d skipped)", lineCount, skipped)
	return nil
}

// Run opens the serial port and collects samples until the context is cancelled
func (c *SerialCollector) Run(ctx context.Context, handle func(entities.FlowReading)) error {
	log.Printf("Opening serial port %s at %d baud", c.PortName, c.BaudRate)

	port, err := serial.Open(c.PortName, &serial.Mode{BaudRate: c.BaudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %v", c.PortName, err)
	}

	return c.collectFrom(ctx, port, handle)
}

// collectFrom owns the port for one collection run. The watcher goroutine
// closes the port on cancellation so the blocked read returns, and exits
// with the run so reconnect loops do not accumulate watchers.
func (c *SerialCollector) collectFrom(ctx context.Context, port io.ReadCloser, handle func(entities.FlowReading)) error {
	defer port.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-done:
		}
	}()

	return c.Collect(ctx, port, handle)
}
