// Package audio turns recorder WAV files into amplitude samples anchored on
// an absolute time axis.
package audio

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnparsableFilename means the file name does not end in _YYYYMMDD_HHMMSS.
var ErrUnparsableFilename = errors.New("filename does not carry a YYYYMMDD_HHMMSS timestamp")

const filenameLayout = "20060102_150405"

// ParseFilenameTimestamp extracts the acquisition start from names like
// 24F319046484A67E_20250623_140000.WAV. The instant is always UTC.
func ParseFilenameTimestamp(name string) (time.Time, bool) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	date, clock := parts[len(parts)-2], parts[len(parts)-1]
	if len(date) != 8 || len(clock) != 6 || !allDigits(date) || !allDigits(clock) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(filenameLayout, date+"_"+clock, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
