package parser

import "time"

// knownTimeLayouts is tried in order against string timestamp values; agent
// tools emit a handful of RFC3339 variants (with/without fractional seconds,
// with/without a zone offset).
var knownTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

// parseTimestampString parses a string timestamp into Unix-millis, trying
// known layouts in order.
func parseTimestampString(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, layout := range knownTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
