// Package ingest parses raw delimited power consumption text into typed
// records. Malformed rows are dropped and counted, never fatal.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"gridsight/core"
	"gridsight/metrics"

	"go.uber.org/zap"
)

// Format selects the field delimiter for a raw file.
type Format string

const (
	// FormatSemicolon is the native household_power_consumption.txt layout.
	FormatSemicolon Format = "txt"
	// FormatCSV is the comma-delimited variant of the same columns.
	FormatCSV Format = "csv"
)

const (
	// sentinel marks a missing value in the source data.
	sentinel = "?"
	// timestampLayout combines the Date and Time columns (day/month/year).
	timestampLayout = "2/1/2006 15:04:05"
	// columnCount is Date + Time + the seven feature columns.
	columnCount = 2 + core.FeatureCount

	// maxLineBytes bounds a single input line.
	maxLineBytes = 64 * 1024
)

// FormatForFilename picks a Format from a file extension, defaulting to the
// semicolon layout.
func FormatForFilename(name string) Format {
	if strings.HasSuffix(strings.ToLower(name), ".csv") {
		return FormatCSV
	}
	return FormatSemicolon
}

// ParseResult holds the parsed records plus row-level accounting. Records
// preserve input order.
type ParseResult struct {
	Records     []core.Record
	RowsParsed  int
	RowsDropped int
}

// PowerParser turns raw delimited text into core.Records.
type PowerParser struct {
	logger *zap.SugaredLogger
}

// NewPowerParser creates a parser. A nil logger falls back to a no-op.
func NewPowerParser(logger *zap.SugaredLogger) *PowerParser {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PowerParser{logger: logger}
}

// Parse reads all rows from r. Row-level failures (short rows, unparseable
// timestamps, sentinel or non-numeric feature values) drop the row and
// increment RowsDropped; only I/O failures abort the whole read.
func (p *PowerParser) Parse(r io.Reader, format Format) (*ParseResult, error) {
	delim := ";"
	if format == FormatCSV {
		delim = ","
	}

	result := &ParseResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		if lineNo == 1 && isHeader(line, delim) {
			continue
		}

		rec, reason := parseRow(line, delim)
		if reason != "" {
			result.RowsDropped++
			metrics.RowsDropped.WithLabelValues(reason).Inc()
			p.logger.Debugw("Dropped row", "line", lineNo, "reason", reason)
			continue
		}

		result.Records = append(result.Records, rec)
		result.RowsParsed++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	metrics.RowsParsed.Add(float64(result.RowsParsed))
	p.logger.Infow("Parsed power consumption data",
		"rows_parsed", result.RowsParsed,
		"rows_dropped", result.RowsDropped)

	return result, nil
}

// isHeader detects the Date;Time;Global_active_power;... header row.
func isHeader(line, delim string) bool {
	first := strings.SplitN(line, delim, 2)[0]
	return strings.EqualFold(strings.TrimSpace(first), "Date")
}

// parseRow parses one data row. An empty reason means success.
func parseRow(line, delim string) (core.Record, string) {
	fields := strings.Split(line, delim)
	if len(fields) != columnCount {
		return core.Record{}, "short_row"
	}

	ts, err := time.Parse(timestampLayout, strings.TrimSpace(fields[0])+" "+strings.TrimSpace(fields[1]))
	if err != nil {
		return core.Record{}, "bad_timestamp"
	}

	var values [core.FeatureCount]float64
	for i := 0; i < core.FeatureCount; i++ {
		raw := strings.TrimSpace(fields[2+i])
		if raw == "" || raw == sentinel {
			return core.Record{}, "missing_value"
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return core.Record{}, "bad_value"
		}
		values[i] = v
	}

	return core.Record{
		Timestamp:           ts,
		GlobalActivePower:   values[core.FeatureGlobalActivePower],
		GlobalReactivePower: values[core.FeatureGlobalReactivePower],
		Voltage:             values[core.FeatureVoltage],
		GlobalIntensity:     values[core.FeatureGlobalIntensity],
		SubMetering1:        values[core.FeatureSubMetering1],
		SubMetering2:        values[core.FeatureSubMetering2],
		SubMetering3:        values[core.FeatureSubMetering3],
	}, ""
}
