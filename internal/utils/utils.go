package utils

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

func SetLogLevel(level string) {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(log.DebugLevel)
	case "info":
		Log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(log.WarnLevel)
	case "error":
		Log.SetLevel(log.ErrorLevel)
	case "fatal":
		Log.SetLevel(log.FatalLevel)
	default:
		log.Fatal("Bad error level string")
	}
}

// APIDateLayout is the datetime format the upstream API expects for the
// start_date and end_date query parameters.
const APIDateLayout = "2006-01-02T15:04"

// ParseDate accepts the formats users and the upstream API actually produce:
// plain dates, API-style minutes precision, and full RFC3339.
func ParseDate(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02",
		APIDateLayout,
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006-01-02T15:04:05.000-07:00",
	}
	var lastErr error
	for _, l := range layouts {
		t, err := time.Parse(l, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// DaysBetween returns the number of whole days from start to end, rounded up,
// never less than 1 for a valid (start <= end) pair.
func DaysBetween(start, end time.Time) int {
	diff := end.Sub(start)
	d := int(diff.Hours() / 24)
	if diff%(24*time.Hour) != 0 {
		d++
	}
	if d < 1 {
		d = 1
	}
	return d
}
