package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Timestamp is a point in the source timeline, in seconds. It unmarshals from
// a JSON number ("93.5"), a numeric string ("93.5"), or a clock string
// ("1:33", "01:33", "1:01:33").
type Timestamp float64

func (t Timestamp) Seconds() float64 { return float64(t) }

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*t = Timestamp(num)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("timestamp must be a number or string: %s", string(data))
	}
	secs, err := ParseTimestamp(str)
	if err != nil {
		return err
	}
	*t = Timestamp(secs)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(t))
}

// ParseTimestamp converts "m:ss", "h:mm:ss", or plain seconds to seconds.
// "1:33" and "01:33.5" and "93.5" are all accepted; "1:2:3:4" is not.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	total := 0.0
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}
