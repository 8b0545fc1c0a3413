// Package feed loads bar history for replay.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/evdnx/trisignal/types"
)

var ErrMissingColumn = errors.New("csv: missing column")

// Load opens path and reads it with ReadCSV.
func Load(path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads candles with a header row naming time|timestamp|datetime,
// open, high, low, close and volume|vol (any order, any case). Rows are
// returned in file order; ordering is checked by the engine.
func ReadCSV(r io.Reader) ([]types.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make([]int, 0, 6)
	for _, names := range [][]string{
		{"time", "timestamp", "datetime"},
		{"open"}, {"high"}, {"low"}, {"close"},
		{"volume", "vol"},
	} {
		i, ok := column(cols, names...)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, names[0])
		}
		idx = append(idx, i)
	}

	var out []types.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		b, err := parseRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func parseRow(rec []string, idx []int) (types.Bar, error) {
	field := func(i int) string {
		if idx[i] >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx[i]])
	}
	ts, err := ParseTime(field(0))
	if err != nil {
		return types.Bar{}, err
	}
	var vals [5]float64
	for i := range vals {
		v, err := strconv.ParseFloat(field(i+1), 64)
		if err != nil {
			return types.Bar{}, err
		}
		vals[i] = v
	}
	return types.Bar{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// ParseTime supports RFC3339, "2006-01-02 15:04:05" (UTC) and UNIX
// seconds or milliseconds.
func ParseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.DateTime, s); err == nil {
		return ts, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %q", s)
}

func column(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return 0, false
}
