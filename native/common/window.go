package common

import (
	"errors"
	"math"
	"time"

	"github.com/holiman/uint256"
)

var (
	ErrWindowCountExceeded  = errors.New("window count exceeded")
	ErrWindowAmountExceeded = errors.New("window amount exceeded")
	ErrWindowOverflow       = errors.New("window counter overflow")
)

// WindowUsage captures the counters accumulated inside a rolling window. The
// window opens at Start, the time of the first action recorded in it.
type WindowUsage struct {
	Count  uint64
	Amount *uint256.Int
	Start  time.Time
}

// WindowLimits defines the caps enforced for a rolling window. Zero values
// disable the corresponding cap.
type WindowLimits struct {
	Length    time.Duration
	MaxCount  uint64
	MaxAmount *uint256.Int
}

// Clone returns a deep copy of the usage counters.
func (u WindowUsage) Clone() WindowUsage {
	clone := WindowUsage{Count: u.Count, Start: u.Start}
	if u.Amount != nil {
		clone.Amount = new(uint256.Int).Set(u.Amount)
	} else {
		clone.Amount = new(uint256.Int)
	}
	return clone
}

// Expired reports whether the window that opened at Start has fully elapsed.
func (u WindowUsage) Expired(length time.Duration, now time.Time) bool {
	if u.Start.IsZero() {
		return true
	}
	return length > 0 && now.Sub(u.Start) >= length
}

// Roll returns the usage as observed at now. Counters from an elapsed window
// are reported as zero; nothing is swept eagerly.
func Roll(prev WindowUsage, length time.Duration, now time.Time) WindowUsage {
	if prev.Expired(length, now) {
		return WindowUsage{Amount: new(uint256.Int)}
	}
	return prev.Clone()
}

// CheckWindow verifies whether the additional count and amount fit within the
// configured limits. The returned usage reflects the updated counters when the
// limits are not exceeded; on failure prev is returned unchanged. The count cap
// is evaluated before the amount cap.
func CheckWindow(q WindowLimits, now time.Time, prev WindowUsage, addCount uint64, addAmount *uint256.Int) (WindowUsage, error) {
	next := Roll(prev, q.Length, now)
	if next.Start.IsZero() {
		next.Start = now
	}

	if addCount > 0 {
		if next.Count > math.MaxUint64-addCount {
			return prev, ErrWindowOverflow
		}
		next.Count += addCount
	}
	if q.MaxCount > 0 && next.Count > q.MaxCount {
		return prev, ErrWindowCountExceeded
	}

	if addAmount != nil && !addAmount.IsZero() {
		sum, overflow := new(uint256.Int).AddOverflow(next.Amount, addAmount)
		if overflow {
			return prev, ErrWindowOverflow
		}
		next.Amount = sum
	}
	if q.MaxAmount != nil && !q.MaxAmount.IsZero() && next.Amount.Gt(q.MaxAmount) {
		return prev, ErrWindowAmountExceeded
	}

	return next, nil
}

// Remaining returns how much amount headroom is left in the window at now.
func Remaining(q WindowLimits, now time.Time, prev WindowUsage) *uint256.Int {
	if q.MaxAmount == nil || q.MaxAmount.IsZero() {
		return new(uint256.Int).SetAllOne()
	}
	current := Roll(prev, q.Length, now)
	if current.Amount.Cmp(q.MaxAmount) >= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(q.MaxAmount, current.Amount)
}
