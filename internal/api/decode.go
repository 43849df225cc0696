package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// isHTML reports whether body looks like an HTML page rather than JSON.
// Gateways in front of the backend answer with error pages on occasion; those
// must never reach the JSON decoder.
func isHTML(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<html"))
}

func decodeJSON(data []byte, out any) error {
	if isHTML(data) {
		return &DecodingError{Err: fmt.Errorf("response body is HTML, not JSON")}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodingError{Err: err}
	}
	return nil
}

const (
	microsLayout = "2006-01-02T15:04:05.000000"
	bareLayout   = "2006-01-02T15:04:05"
)

// Timestamp decodes the backend's assorted timestamp spellings. Parsers are
// tried in order: strict ISO-8601, ISO-8601 with fractional seconds, then two
// zone-less layouts interpreted as UTC. The UTC interpretation of zone-less
// values is an assumption about the backend, not a documented contract.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	for _, layout := range []string{microsLayout, bareLayout} {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
