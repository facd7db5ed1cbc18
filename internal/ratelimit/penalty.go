package ratelimit

import "time"

const (
	firstOffenseBlock  = 5 * time.Minute
	secondOffenseBlock = time.Hour
	thirdOffenseBlock  = 24 * time.Hour
	maxOffenseBlock    = 7 * 24 * time.Hour
)

// BlockDuration maps the number of prior violations in the trailing window
// to the next block's duration. Pure and total; it never mutates history.
func BlockDuration(violations int) time.Duration {
	switch {
	case violations <= 0:
		return firstOffenseBlock
	case violations == 1:
		return secondOffenseBlock
	case violations == 2:
		return thirdOffenseBlock
	default:
		return maxOffenseBlock
	}
}
