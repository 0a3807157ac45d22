package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/trailhound/trailhound/internal/gps"
)

// ErrNotReport is returned by ParseReport for payloads that are not a
// JSON object carrying a non-empty string id. Such frames are noise or
// foreign traffic and get dropped by the receive consumer.
var ErrNotReport = errors.New("codec: payload is not a report")

// Report is the wire payload: the sender's device ID plus its fix,
// serialized as one flat JSON object ({"id":...,"lat":...,...}).
type Report struct {
	ID string `json:"id"`
	gps.Fix
}

// MarshalPayload serializes the report as compact JSON. Absent fix fields
// produce absent keys, never nulls.
func (r Report) MarshalPayload() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return b, nil
}

// ParseReport decodes an unpacked frame into a Report.
//
// The payload must be a JSON object with a non-empty string "id";
// anything else returns ErrNotReport. Optional fix keys are taken when
// present with the right JSON type and silently ignored otherwise, so a
// peer running a newer firmware with extra or odd fields still tracks.
func ParseReport(payload []byte) (Report, error) {
	if !gjson.ValidBytes(payload) {
		return Report{}, ErrNotReport
	}

	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return Report{}, ErrNotReport
	}

	id := root.Get("id")
	if id.Type != gjson.String || id.Str == "" {
		return Report{}, ErrNotReport
	}

	rpt := Report{ID: id.Str}
	if v := root.Get("lat"); v.Type == gjson.Number {
		rpt.Lat = gps.Float64(v.Float())
	}
	if v := root.Get("lon"); v.Type == gjson.Number {
		rpt.Lon = gps.Float64(v.Float())
	}
	if v := root.Get("sat"); v.Type == gjson.Number {
		rpt.Sat = gps.Int(int(v.Int()))
	}
	if v := root.Get("ut"); v.Type == gjson.Number {
		rpt.UT = gps.Int64(v.Int())
	}
	if v := root.Get("alt"); v.Type == gjson.Number {
		rpt.Alt = gps.Float64(v.Float())
	}
	if v := root.Get("gh"); v.Type == gjson.String {
		rpt.GH = gps.String(v.Str)
	}

	return rpt, nil
}
