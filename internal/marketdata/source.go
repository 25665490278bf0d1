// Package marketdata implements C1, the market data source: a streaming
// CSV reader that validates the input schema, drops invalid bars with a
// counted warning, derives the rolling dollar-volume feature in a single
// forward pass, and (for price_series_mode=raw_reconstructed) precomputes a
// per-symbol dividend-unwind multiplier table ahead of the streaming pass.
package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtestsim/internal/barmodel"
	"backtestsim/internal/simerrors"
)

// RollingWindow is N in the rolling dollar-volume feature (252 trading
// observations in v1).
const RollingWindow = 252

const (
	PriceSeriesAsIs            = "as_is"
	PriceSeriesRawReconstructed = "raw_reconstructed"
)

const dateLayout = "2006-01-02"

var requiredColumns = []string{"Date", "Ticker", "Open", "High", "Low", "Close", "Volume", "Dividends", "Stock Splits"}

// Source streams MarketSnapshots for dates within [start, end] in strictly
// ascending order. It is single-consumer and non-restartable, matching the
// "lazy sequence, one pass" contract.
type Source struct {
	f       *os.File
	r       *csv.Reader
	colIdx  map[string]int
	start   time.Time
	end     time.Time
	mode    string

	rolling     *rollingWindows
	multipliers map[string]map[time.Time]decimal.Decimal // symbol -> date -> multiplier

	pending  *barmodel.Bar // one-row lookahead
	lineNo   int
	exhausted bool

	log      *zap.Logger
	dropped  int
	warnings []simerrors.Warning
}

// Open validates the header row, and for raw_reconstructed mode performs a
// full preliminary scan of the file to build the dividend-unwind multiplier
// table, before returning a Source positioned at the first data row.
func Open(path string, start, end time.Time, priceMode string, log *zap.Logger) (*Source, error) {
	if priceMode == "" {
		priceMode = PriceSeriesAsIs
	}
	colIdx, err := readHeader(path)
	if err != nil {
		return nil, err
	}

	var multipliers map[string]map[time.Time]decimal.Decimal
	if priceMode == PriceSeriesRawReconstructed {
		multipliers, err = precomputeMultipliers(path, colIdx)
		if err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindDataError, "open data file", err)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil { // skip header, already validated
		f.Close()
		return nil, simerrors.Wrap(simerrors.KindDataError, "re-read header", err)
	}

	s := &Source{
		f:           f,
		r:           r,
		colIdx:      colIdx,
		start:       start,
		end:         end,
		mode:        priceMode,
		rolling:     newRollingWindows(RollingWindow),
		multipliers: multipliers,
		lineNo:      1,
		log:         log,
	}
	if err := s.fill(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Source) Close() error { return s.f.Close() }

// Warnings returns the accumulated DataWarning-kind entries (invalid bars
// dropped) for the manifest.
func (s *Source) Warnings() []simerrors.Warning { return s.warnings }

func (s *Source) DroppedCount() int { return s.dropped }

func readHeader(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindDataError, "open data file", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindDataError, "read header row", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, simerrors.New(simerrors.KindDataError, fmt.Sprintf("missing required column %q", col))
		}
	}
	return idx, nil
}

// Next returns the next snapshot in ascending date order, or ok=false once
// the stream (or the [start,end] window) is exhausted.
func (s *Source) Next() (barmodel.Snapshot, bool, error) {
	if s.pending == nil {
		return barmodel.Snapshot{}, false, nil
	}
	if s.pending.Date.After(s.end) {
		return barmodel.Snapshot{}, false, nil
	}

	snap := barmodel.Snapshot{
		Date:     s.pending.Date,
		Bars:     make(map[string]barmodel.Bar),
		Features: make(map[string]barmodel.Features),
	}
	currentDate := s.pending.Date

	for s.pending != nil && s.pending.Date.Equal(currentDate) {
		bar := *s.pending
		dollarVolume := bar.Close.Mul(decimal.NewFromInt(bar.Volume))
		sum, full := s.rolling.Observe(bar.Symbol, dollarVolume)
		snap.Bars[bar.Symbol] = bar
		snap.Features[bar.Symbol] = barmodel.Features{RollingDollarVolume252: sum, Valid252: full}

		if err := s.fill(); err != nil {
			return barmodel.Snapshot{}, false, err
		}
	}

	return snap, true, nil
}

// fill advances the one-row lookahead buffer, skipping rows before the
// configured start date and invalid bars (recorded as warnings).
func (s *Source) fill() error {
	for {
		record, err := s.r.Read()
		if err == io.EOF {
			s.pending = nil
			return nil
		}
		if err != nil {
			return simerrors.Wrap(simerrors.KindDataError, fmt.Sprintf("line %d: malformed row", s.lineNo), err)
		}
		s.lineNo++

		bar, parseErr := s.parseRow(record)
		if parseErr != nil {
			return parseErr
		}
		if bar.Date.Before(s.start) {
			continue
		}
		if !bar.Valid() {
			s.dropped++
			s.warnings = append(s.warnings, simerrors.NewWarning(simerrors.KindDataWarning,
				"line %d: dropped invalid bar for %s on %s (close<=0)", s.lineNo, bar.Symbol, bar.Date.Format(dateLayout)))
			continue
		}
		s.pending = &bar
		return nil
	}
}

func (s *Source) parseRow(record []string) (barmodel.Bar, error) {
	get := func(col string) string {
		idx, ok := s.colIdx[col]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	date, err := time.Parse(dateLayout, get("Date"))
	if err != nil {
		return barmodel.Bar{}, simerrors.DataError(s.lineNo, "unparseable date %q: %v", get("Date"), err)
	}

	symbol := get("Ticker")
	if symbol == "" {
		return barmodel.Bar{}, simerrors.DataError(s.lineNo, "missing ticker symbol")
	}

	open, err1 := parseDecimal(get("Open"))
	high, err2 := parseDecimal(get("High"))
	low, err3 := parseDecimal(get("Low"))
	rawClose, err4 := parseDecimal(get("Close"))
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return barmodel.Bar{}, simerrors.DataError(s.lineNo, "non-numeric OHLC field for %s", symbol)
	}

	volumeStr := get("Volume")
	var volume int64
	if volumeStr != "" {
		f, err := strconv.ParseFloat(volumeStr, 64)
		if err != nil {
			return barmodel.Bar{}, simerrors.DataError(s.lineNo, "non-numeric volume field for %s", symbol)
		}
		volume = int64(f)
	}

	dividend, err := parseDecimalDefault(get("Dividends"), decimal.Zero)
	if err != nil {
		return barmodel.Bar{}, simerrors.DataError(s.lineNo, "non-numeric dividend field for %s", symbol)
	}
	splitRatio, err := parseDecimalDefault(get("Stock Splits"), decimal.Zero)
	if err != nil {
		return barmodel.Bar{}, simerrors.DataError(s.lineNo, "non-numeric split field for %s", symbol)
	}
	if splitRatio.IsZero() {
		splitRatio = decimal.NewFromInt(1)
	}

	closePrice := rawClose
	if s.mode == PriceSeriesRawReconstructed {
		closePrice = s.reconstructedClose(symbol, date, rawClose)
	}

	return barmodel.Bar{
		Date:       date,
		Symbol:     symbol,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePrice,
		Volume:     volume,
		Dividend:   dividend,
		SplitRatio: splitRatio,
	}, nil
}

func (s *Source) reconstructedClose(symbol string, date time.Time, rawClose decimal.Decimal) decimal.Decimal {
	bySymbol, ok := s.multipliers[symbol]
	if !ok {
		return rawClose
	}
	mult, ok := bySymbol[date]
	if !ok {
		return rawClose
	}
	return rawClose.Mul(mult)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseDecimalDefault(s string, def decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return def, nil
	}
	return decimal.NewFromString(s)
}
