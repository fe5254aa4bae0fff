package tools

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/localtransport"
)

// BuiltinServerName is the name of the in-process server with the builtin tools
const BuiltinServerName = "builtin"

// TimeRequest is the input of the current_time tool
type TimeRequest struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name; UTC if empty,example=Europe/Paris"`
}

// TimeResult is the output of the current_time tool
type TimeResult struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
}

// GetContent implements ContentProvider
func (r *TimeResult) GetContent() string {
	return r.Time + " (" + r.Timezone + ")"
}

// NewBuiltinServer returns the in-process server with the builtin tools.
// now is used as the clock, nil means time.Now.
func NewBuiltinServer(version string, now func() time.Time) (*localtransport.Server, error) {
	if now == nil {
		now = time.Now
	}

	srv := localtransport.NewServer(BuiltinServerName, version)
	err := Register(srv, "current_time", "Returns the current date and time in the requested time zone.",
		func(_ context.Context, in *TimeRequest) (*TimeResult, error) {
			tz := in.Timezone
			if tz == "" {
				tz = "UTC"
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, errors.Newf("unknown time zone %q", tz)
			}
			return &TimeResult{
				Time:     now().In(loc).Format(time.RFC3339),
				Timezone: tz,
			}, nil
		})
	if err != nil {
		return nil, err
	}
	return srv, nil
}
