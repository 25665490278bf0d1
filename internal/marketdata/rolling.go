package marketdata

import "github.com/shopspring/decimal"

// ring is a fixed-capacity ring buffer of dollar-volume observations for a
// single symbol. It never grows after construction, per the arena-allocated
// per-symbol state this package keeps in a hash map.
type ring struct {
	buf   []decimal.Decimal
	sum   decimal.Decimal
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]decimal.Decimal, capacity)}
}

// push records today's dollar volume and returns the rolling sum together
// with whether the window is fully populated (252 observations seen).
func (r *ring) push(dollarVolume decimal.Decimal) (decimal.Decimal, bool) {
	capacity := len(r.buf)
	if r.count == capacity {
		r.sum = r.sum.Sub(r.buf[r.head])
	} else {
		r.count++
	}
	r.buf[r.head] = dollarVolume
	r.sum = r.sum.Add(dollarVolume)
	r.head = (r.head + 1) % capacity
	return r.sum, r.count == capacity
}

// rollingWindows is the per-symbol arena of ring buffers backing the
// rolling dollar-volume feature (252-day window by default).
type rollingWindows struct {
	window int
	byAvr  map[string]*ring
}

func newRollingWindows(window int) *rollingWindows {
	return &rollingWindows{window: window, byAvr: make(map[string]*ring)}
}

// Observe feeds one day's dollar volume for symbol and returns the updated
// rolling sum and whether it is backed by a full window.
func (w *rollingWindows) Observe(symbol string, dollarVolume decimal.Decimal) (decimal.Decimal, bool) {
	r, ok := w.byAvr[symbol]
	if !ok {
		r = newRing(w.window)
		w.byAvr[symbol] = r
	}
	return r.push(dollarVolume)
}
