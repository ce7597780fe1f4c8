package utils

import "time"

// Now is swappable so tests can pin the clock.
var Now = time.Now

// NowMs returns the current wall clock as epoch milliseconds, the unit all
// meeting deadlines use.
func NowMs() int64 {
	return Now().UnixMilli()
}
