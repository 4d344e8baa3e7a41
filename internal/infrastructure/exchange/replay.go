package exchange

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vitos/paper_signal_engine/internal/domain"
)

// ReplayFeed serves recorded bars as if they were arriving live. Each
// symbol exposes bars up to a cursor; Advance reveals one more. Quotes are
// the close of the latest visible bar, stamped with the current time.
//
// CSV rows are:
//
//	time,symbol,open,high,low,close,volume
//
// where time is RFC3339 or unix milliseconds. A header row is allowed.
type ReplayFeed struct {
	mu      sync.Mutex
	bars    map[string][]domain.PriceBar
	cursor  int
	timeNow func() time.Time
}

var (
	_ domain.MarketData = (*ReplayFeed)(nil)
	_ domain.Clock      = (*ReplayFeed)(nil)
)

// NewReplayFeed starts with warmup bars visible per symbol.
func NewReplayFeed(bars []domain.PriceBar, warmup int) *ReplayFeed {
	bySymbol := make(map[string][]domain.PriceBar)
	for _, b := range bars {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], b)
	}
	for _, series := range bySymbol {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })
	}
	if warmup < 1 {
		warmup = 1
	}
	return &ReplayFeed{bars: bySymbol, cursor: warmup, timeNow: time.Now}
}

func LoadReplayFile(path string, warmup int) (*ReplayFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := ReadBarsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewReplayFeed(bars, warmup), nil
}

func ReadBarsCSV(r io.Reader) ([]domain.PriceBar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []domain.PriceBar
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return bars, nil
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		bar, err := parseBarRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
}

func parseBarRow(row []string) (domain.PriceBar, error) {
	if len(row) < 7 {
		return domain.PriceBar{}, fmt.Errorf("want 7 fields, got %d", len(row))
	}
	t, err := parseTime(strings.TrimSpace(row[0]))
	if err != nil {
		return domain.PriceBar{}, err
	}
	var v [5]float64
	for i := range v {
		field := strings.TrimSpace(row[i+2])
		if v[i], err = strconv.ParseFloat(field, 64); err != nil {
			return domain.PriceBar{}, fmt.Errorf("bad number %q: %w", field, err)
		}
	}
	return domain.PriceBar{
		Symbol: strings.TrimSpace(row[1]),
		Time:   t,
		Open:   v[0],
		High:   v[1],
		Low:    v[2],
		Close:  v[3],
		Volume: v[4],
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
	}
	return t, nil
}

func (f *ReplayFeed) visible(symbol string) ([]domain.PriceBar, error) {
	series, ok := f.bars[symbol]
	if !ok || len(series) == 0 {
		return nil, fmt.Errorf("replay %s: %w", symbol, domain.ErrDataUnavailable)
	}
	n := f.cursor
	if n > len(series) {
		n = len(series)
	}
	return series[:n], nil
}

// GetBars ignores period; the recording has one resolution.
func (f *ReplayFeed) GetBars(ctx context.Context, symbol, period string) ([]domain.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bars, err := f.visible(symbol)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PriceBar, len(bars))
	copy(out, bars)
	return out, nil
}

func (f *ReplayFeed) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bars, err := f.visible(symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	last := bars[len(bars)-1]
	return domain.Quote{Symbol: symbol, Price: last.Close, Time: f.timeNow()}, nil
}

// Now is the time of the newest visible bar across all symbols.
func (f *ReplayFeed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest time.Time
	for symbol := range f.bars {
		bars, err := f.visible(symbol)
		if err != nil {
			continue
		}
		if t := bars[len(bars)-1].Time; t.After(latest) {
			latest = t
		}
	}
	return latest
}

// Advance reveals the next bar. It reports false once every series is
// fully visible.
func (f *ReplayFeed) Advance() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	longest := 0
	for _, series := range f.bars {
		if len(series) > longest {
			longest = len(series)
		}
	}
	if f.cursor >= longest {
		return false
	}
	f.cursor++
	return true
}

func (f *ReplayFeed) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.bars))
	for s := range f.bars {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
