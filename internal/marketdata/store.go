package marketdata

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"backtestsim/internal/barmodel"
	"backtestsim/internal/simerrors"
)

// Store backs the --engine in_memory mode: the whole dataset is loaded once
// into a local SQLite database (in-process, pure-Go driver), after which
// Cursor replays it as the same ordered snapshot sequence the streaming
// Source produces. In raw_reconstructed mode the dividend-unwind multipliers
// are computed by a separate pass over the CSV (precomputeMultipliers)
// before loading; the database is not used for that pass.
type Store struct {
	db     *sql.DB
	log    *zap.Logger
	warnings []simerrors.Warning
	dropped  int
}

// OpenStore loads path into an in-memory SQLite database restricted to
// [start, end], applying the same validity rules and price-series mode as
// the streaming Source.
func OpenStore(path string, start, end time.Time, priceMode string, log *zap.Logger) (*Store, error) {
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

	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_pragma=journal_mode(MEMORY)&_pragma=synchronous(OFF)")
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindDataError, "open in-memory store", err)
	}
	if _, err := db.Exec(`CREATE TABLE bars (
		date TEXT NOT NULL,
		symbol TEXT NOT NULL,
		open TEXT NOT NULL,
		high TEXT NOT NULL,
		low TEXT NOT NULL,
		close TEXT NOT NULL,
		volume INTEGER NOT NULL,
		dividend TEXT NOT NULL,
		split_ratio TEXT NOT NULL,
		PRIMARY KEY (date, symbol)
	)`); err != nil {
		db.Close()
		return nil, simerrors.Wrap(simerrors.KindDataError, "create bars table", err)
	}

	s := &Store{db: db, log: log}
	if err := s.load(path, colIdx, start, end, priceMode, multipliers); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Warnings() []simerrors.Warning { return s.warnings }

func (s *Store) DroppedCount() int { return s.dropped }

func (s *Store) load(path string, colIdx map[string]int, start, end time.Time, priceMode string, multipliers map[string]map[time.Time]decimal.Decimal) error {
	f, err := os.Open(path)
	if err != nil {
		return simerrors.Wrap(simerrors.KindDataError, "open data file", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return simerrors.Wrap(simerrors.KindDataError, "re-read header", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return simerrors.Wrap(simerrors.KindDataError, "begin load transaction", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO bars
		(date, symbol, open, high, low, close, volume, dividend, split_ratio)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return simerrors.Wrap(simerrors.KindDataError, "prepare insert", err)
	}
	defer stmt.Close()

	line := 1
	for {
		record, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			tx.Rollback()
			return simerrors.Wrap(simerrors.KindDataError, fmt.Sprintf("line %d: malformed row", line), rerr)
		}
		line++

		dateStr := field(record, colIdx, "Date")
		date, perr := time.Parse(dateLayout, dateStr)
		if perr != nil {
			tx.Rollback()
			return simerrors.DataError(line, "unparseable date %q: %v", dateStr, perr)
		}
		if date.Before(start) || date.After(end) {
			continue
		}
		symbol := field(record, colIdx, "Ticker")
		if symbol == "" {
			tx.Rollback()
			return simerrors.DataError(line, "missing ticker symbol")
		}

		open, e1 := parseDecimal(field(record, colIdx, "Open"))
		high, e2 := parseDecimal(field(record, colIdx, "High"))
		low, e3 := parseDecimal(field(record, colIdx, "Low"))
		rawClose, e4 := parseDecimal(field(record, colIdx, "Close"))
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
			tx.Rollback()
			return simerrors.DataError(line, "non-numeric OHLC field for %s", symbol)
		}

		volumeStr := field(record, colIdx, "Volume")
		var volume int64
		if volumeStr != "" {
			vf, verr := parseDecimal(volumeStr)
			if verr != nil {
				tx.Rollback()
				return simerrors.DataError(line, "non-numeric volume field for %s", symbol)
			}
			volume = vf.IntPart()
		}

		dividend, derr := parseDecimalDefault(field(record, colIdx, "Dividends"), decimal.Zero)
		if derr != nil {
			tx.Rollback()
			return simerrors.DataError(line, "non-numeric dividend field for %s", symbol)
		}
		splitRatio, serr := parseDecimalDefault(field(record, colIdx, "Stock Splits"), decimal.Zero)
		if serr != nil {
			tx.Rollback()
			return simerrors.DataError(line, "non-numeric split field for %s", symbol)
		}
		if splitRatio.IsZero() {
			splitRatio = decimal.NewFromInt(1)
		}

		closePrice := rawClose
		if priceMode == PriceSeriesRawReconstructed {
			if bySymbol, ok := multipliers[symbol]; ok {
				if mult, ok := bySymbol[date]; ok {
					closePrice = rawClose.Mul(mult)
				}
			}
		}

		if !closePrice.IsPositive() {
			s.dropped++
			s.warnings = append(s.warnings, simerrors.NewWarning(simerrors.KindDataWarning,
				"line %d: dropped invalid bar for %s on %s (close<=0)", line, symbol, date.Format(dateLayout)))
			continue
		}

		if _, err := stmt.Exec(dateStr, symbol, open.String(), high.String(), low.String(),
			closePrice.String(), volume, dividend.String(), splitRatio.String()); err != nil {
			tx.Rollback()
			return simerrors.Wrap(simerrors.KindDataError, "insert bar", err)
		}
	}
	return tx.Commit()
}

// Cursor replays the loaded dataset as an ordered snapshot sequence,
// recomputing rolling features exactly as the streaming Source does.
type Cursor struct {
	store   *Store
	dates   []string
	idx     int
	rolling *rollingWindows
}

func (s *Store) Cursor() (*Cursor, error) {
	rows, err := s.db.Query(`SELECT DISTINCT date FROM bars ORDER BY date ASC`)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindDataError, "query distinct dates", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, simerrors.Wrap(simerrors.KindDataError, "scan date", err)
		}
		dates = append(dates, d)
	}
	return &Cursor{store: s, dates: dates, rolling: newRollingWindows(RollingWindow)}, nil
}

func (c *Cursor) Next() (barmodel.Snapshot, bool, error) {
	if c.idx >= len(c.dates) {
		return barmodel.Snapshot{}, false, nil
	}
	dateStr := c.dates[c.idx]
	c.idx++
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return barmodel.Snapshot{}, false, simerrors.Wrap(simerrors.KindDataError, "parse stored date", err)
	}

	rows, err := c.store.db.Query(`SELECT symbol, open, high, low, close, volume, dividend, split_ratio
		FROM bars WHERE date = ? ORDER BY symbol ASC`, dateStr)
	if err != nil {
		return barmodel.Snapshot{}, false, simerrors.Wrap(simerrors.KindDataError, "query bars for date", err)
	}
	defer rows.Close()

	snap := barmodel.Snapshot{Date: date, Bars: make(map[string]barmodel.Bar), Features: make(map[string]barmodel.Features)}
	for rows.Next() {
		var symbol, openS, highS, lowS, closeS, dividendS, splitS string
		var volume int64
		if err := rows.Scan(&symbol, &openS, &highS, &lowS, &closeS, &volume, &dividendS, &splitS); err != nil {
			return barmodel.Snapshot{}, false, simerrors.Wrap(simerrors.KindDataError, "scan bar row", err)
		}
		open, _ := decimal.NewFromString(openS)
		high, _ := decimal.NewFromString(highS)
		low, _ := decimal.NewFromString(lowS)
		closeP, _ := decimal.NewFromString(closeS)
		dividend, _ := decimal.NewFromString(dividendS)
		splitRatio, _ := decimal.NewFromString(splitS)

		bar := barmodel.Bar{
			Date: date, Symbol: symbol, Open: open, High: high, Low: low,
			Close: closeP, Volume: volume, Dividend: dividend, SplitRatio: splitRatio,
		}
		dollarVolume := closeP.Mul(decimal.NewFromInt(volume))
		sum, full := c.rolling.Observe(symbol, dollarVolume)
		snap.Bars[symbol] = bar
		snap.Features[symbol] = barmodel.Features{RollingDollarVolume252: sum, Valid252: full}
	}
	return snap, true, nil
}

func (c *Cursor) Close() error              { return nil }
func (c *Cursor) Warnings() []simerrors.Warning { return c.store.Warnings() }
func (c *Cursor) DroppedCount() int          { return c.store.DroppedCount() }
