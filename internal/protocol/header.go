package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	Version         = "5.3"
	DefaultUsername = "kernel"
)

// Header identifies one message.
type Header struct {
	MsgID    string    `json:"msg_id"`
	Username string    `json:"username"`
	Session  string    `json:"session"`
	Date     Timestamp `json:"date"`
	MsgType  string    `json:"msg_type"`
	Version  string    `json:"version"`
}

// NewHeader stamps a fresh id and the current time.
func NewHeader(msgType, session, username string) Header {
	if username == "" {
		username = DefaultUsername
	}
	return Header{
		MsgID:    uuid.NewString(),
		Username: username,
		Session:  session,
		Date:     Timestamp{Time: time.Now().UTC()},
		MsgType:  msgType,
		Version:  Version,
	}
}

// IsZero reports whether h carries no identity. Decoded "{}" parents are zero.
func (h Header) IsZero() bool {
	return h.MsgID == "" && h.MsgType == ""
}

// Timestamp is an ISO 8601 date. Frontends disagree on fractional digits
// and zone suffixes, so decoding accepts several layouts and leaves the time
// zero when none match.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.Time.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(ts.Time.UTC().Format(time.RFC3339Nano))
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		ts.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	ts.Time = time.Time{}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return nil
}
