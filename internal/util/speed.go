package util

import "strconv"

// FormatSpeed renders a rate limit given in kb/s using the largest unit that
// divides it exactly:
//
//	FormatSpeed(2000000) → "2Gb/s"
//	FormatSpeed(5000)    → "5Mb/s"
//	FormatSpeed(1500)    → "1500kb/s"
func FormatSpeed(kbps int) string {
	switch {
	case kbps != 0 && kbps%1_000_000 == 0:
		return strconv.Itoa(kbps/1_000_000) + "Gb/s"
	case kbps != 0 && kbps%1_000 == 0:
		return strconv.Itoa(kbps/1_000) + "Mb/s"
	default:
		return strconv.Itoa(kbps) + "kb/s"
	}
}

// FormatLimit is FormatSpeed for optional limits; nil and zero mean no limit.
func FormatLimit(kbps *int) string {
	if kbps == nil || *kbps <= 0 {
		return "unlimited"
	}
	return FormatSpeed(*kbps)
}
