package obis

import "time"

// bucketSeconds returns the quantisation bucket width for a profile root
// OBIS (spec §3 time-index table). Month/year buckets are the documented
// 30-day/365-day approximations.
func bucketSeconds(profile ID) (int64, bool) {
	switch profile {
	case Profile1Minute:
		return 60, true
	case Profile15Minute:
		return 900, true
	case Profile60Minute:
		return 3600, true
	case Profile24Hour:
		return 86400, true
	case Profile1Month:
		return 30 * 86400, true
	case Profile1Year:
		return 365 * 86400, true
	default:
		return 0, false
	}
}

// BucketDuration exposes a profile's quantisation bucket width as a
// time.Duration, used by callers (the push scheduler's rasterisation, spec
// §4.11) that need the granularity itself rather than a computed index.
func BucketDuration(profile ID) (time.Duration, bool) {
	sec, ok := bucketSeconds(profile)
	if !ok {
		return 0, false
	}
	return time.Duration(sec) * time.Second, true
}

// QuantizeIndex computes a profile's time-index for t: floor(unix-seconds /
// bucket width) (spec §3).
func QuantizeIndex(profile ID, t time.Time) (int64, bool) {
	bucket, ok := bucketSeconds(profile)
	if !ok {
		return 0, false
	}
	sec := t.Unix()
	if sec < 0 {
		return 0, false
	}
	return sec / bucket, true
}

// DequantizeIndex returns the bucket's start time, the inverse of
// QuantizeIndex used when presenting stored rows back as timestamps.
func DequantizeIndex(profile ID, idx int64) (time.Time, bool) {
	bucket, ok := bucketSeconds(profile)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(idx*bucket, 0).UTC(), true
}
