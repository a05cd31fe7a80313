package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlackTS is a parsed Slack message timestamp ("1743246576.867459").
type SlackTS struct {
	Sec   int64
	Micro int64
}

// ParseSlackTS parses a Slack timestamp without going through float64,
// which cannot hold sixteen significant digits exactly.
func ParseSlackTS(ts string) (SlackTS, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return SlackTS{}, fmt.Errorf("empty slack timestamp")
	}

	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return SlackTS{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
	}

	var micro int64
	if fracPart != "" {
		if len(fracPart) > 6 {
			fracPart = fracPart[:6]
		}
		fracPart += strings.Repeat("0", 6-len(fracPart))
		micro, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return SlackTS{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
		}
	}

	return SlackTS{Sec: sec, Micro: micro}, nil
}

// Time converts the timestamp to a UTC time.
func (s SlackTS) Time() time.Time {
	return time.Unix(s.Sec, s.Micro*int64(time.Microsecond)).UTC()
}

// CompareTS orders two Slack timestamps. Unparsable values sort before
// parsable ones and are compared lexically among themselves.
func CompareTS(a, b string) int {
	pa, errA := ParseSlackTS(a)
	pb, errB := ParseSlackTS(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}

	switch {
	case pa.Sec < pb.Sec:
		return -1
	case pa.Sec > pb.Sec:
		return 1
	case pa.Micro < pb.Micro:
		return -1
	case pa.Micro > pb.Micro:
		return 1
	}
	return 0
}

// AfterTS reports whether a is strictly newer than b. An empty b is older
// than everything.
func AfterTS(a, b string) bool {
	if b == "" {
		return a != ""
	}
	return CompareTS(a, b) > 0
}

// MaxTS returns the newer of two timestamps.
func MaxTS(a, b string) string {
	if AfterTS(b, a) {
		return b
	}
	return a
}

// UnixToSlackTS renders Unix seconds as a Slack "oldest" cursor.
func UnixToSlackTS(unix int64) string {
	return strconv.FormatInt(unix, 10)
}

// MessageLink builds the permalink of a message in a workspace.
func MessageLink(domain, channelID, ts string) string {
	return fmt.Sprintf("https://%s.slack.com/archives/%s/p%s", domain, channelID, strings.Replace(ts, ".", "", 1))
}

// HumanTime formats a Slack timestamp the way message context is shown to
// the answer model.
func HumanTime(ts string) string {
	parsed, err := ParseSlackTS(ts)
	if err != nil {
		return ts
	}
	return parsed.Time().Format("January 2, 2006, 3:04PM")
}
