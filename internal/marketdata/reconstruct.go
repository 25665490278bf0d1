package marketdata

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"backtestsim/internal/simerrors"
)

type rawObservation struct {
	date     time.Time
	close    decimal.Decimal
	dividend decimal.Decimal
}

// precomputeMultipliers performs the full preliminary scan required by
// price_series_mode=raw_reconstructed: for each symbol, walk backwards from
// its last observation accumulating a (1 - dividend/close) factor at every
// ex-dividend date, producing a per-date multiplier that un-applies the
// forward dividend-reinvestment assumption baked into the input close.
func precomputeMultipliers(path string, colIdx map[string]int) (map[string]map[time.Time]decimal.Decimal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindDataError, "open data file for reconstruction pass", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return nil, simerrors.Wrap(simerrors.KindDataError, "re-read header for reconstruction pass", err)
	}

	bySymbol := make(map[string][]rawObservation)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, simerrors.Wrap(simerrors.KindDataError, "reconstruction pass: malformed row", err)
		}

		dateStr := field(record, colIdx, "Date")
		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			continue // surfaced again, fatally, by the streaming pass
		}
		symbol := field(record, colIdx, "Ticker")
		closeVal, err := parseDecimal(field(record, colIdx, "Close"))
		if err != nil || !closeVal.IsPositive() {
			continue
		}
		dividend, err := parseDecimalDefault(field(record, colIdx, "Dividends"), decimal.Zero)
		if err != nil {
			continue
		}

		bySymbol[symbol] = append(bySymbol[symbol], rawObservation{date: date, close: closeVal, dividend: dividend})
	}

	result := make(map[string]map[time.Time]decimal.Decimal, len(bySymbol))
	for symbol, obs := range bySymbol {
		sort.Slice(obs, func(i, j int) bool { return obs[i].date.Before(obs[j].date) })

		table := make(map[time.Time]decimal.Decimal, len(obs))
		multiplier := decimal.NewFromInt(1)
		for i := len(obs) - 1; i >= 0; i-- {
			o := obs[i]
			table[o.date] = multiplier
			if o.dividend.IsPositive() && o.close.IsPositive() {
				factor := decimal.NewFromInt(1).Sub(o.dividend.Div(o.close))
				multiplier = multiplier.Mul(factor)
			}
		}
		result[symbol] = table
	}
	return result, nil
}

func field(record []string, colIdx map[string]int, col string) string {
	idx, ok := colIdx[col]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}
