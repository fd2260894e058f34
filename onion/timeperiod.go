package onion

import "time"

const (
	// TimePeriodLength is the credential rotation period in minutes (1 day).
	TimePeriodLength = 1440
	// rotationTimeOffset shifts rotation to 12:00 UTC instead of midnight,
	// absorbing the clock-skew margins used elsewhere in the protocol:
	// 12 voting periods of 60 minutes each.
	rotationTimeOffset = 12 * 60
)

// TimePeriodNum computes the time period number indexing which rotating
// service credentials (blinded keys, subcredentials) are valid at t.
// tp = (minutes_since_epoch - rotation_time_offset) / time_period_length
//
// The division is exact at boundaries: 11:59:59 UTC still belongs to the
// old period, 12:00:00 UTC to the new one.
func TimePeriodNum(t time.Time) uint64 {
	minutesSinceEpoch := uint64(t.Unix() / 60)
	return (minutesSinceEpoch - rotationTimeOffset) / TimePeriodLength
}

// NextTimePeriodNum returns the period number following the one t falls in.
func NextTimePeriodNum(t time.Time) uint64 {
	return TimePeriodNum(t) + 1
}
