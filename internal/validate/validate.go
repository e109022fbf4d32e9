package validate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"netmaster/internal/apperr"
	"netmaster/internal/models"
)

const (
	CodeMalformed           = "malformed_json"
	CodeMissingField        = "missing_field"
	CodeInvalidType         = "invalid_type"
	CodeOutOfRange          = "out_of_range"
	CodeInvalidHost         = "invalid_host"
	CodeTimestampOutOfRange = "timestamp_out_of_range"

	PastSkew   = time.Hour
	FutureSkew = time.Minute

	maxPlatform     = 100
	maxArchitecture = 50
)

var requiredFields = []string{"hostname", "ip_address", "timestamp", "cpu_percent", "memory_percent", "disk_percent"}

// Result is an accepted sample together with the optional fields that were
// present but unusable and therefore left out.
type Result struct {
	Sample  models.Sample
	Ignored []string
}

// Sample checks a raw agent report against now and returns the canonical
// record. Every rejection is an *apperr.Error of kind validation.
func Sample(raw []byte, now time.Time) (Result, error) {
	if !gjson.ValidBytes(raw) {
		return Result{}, apperr.Validation(CodeMalformed, "", "request body is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Result{}, apperr.Validation(CodeMalformed, "", "request body must be a JSON object")
	}
	for _, f := range requiredFields {
		if !doc.Get(f).Exists() {
			return Result{}, apperr.Validation(CodeMissingField, f, "missing required field: "+f)
		}
	}

	var c canonical
	var err error
	if c.Hostname, err = hostField(doc, "hostname"); err != nil {
		return Result{}, err
	}
	if c.IPAddress, err = hostField(doc, "ip_address"); err != nil {
		return Result{}, err
	}
	ts, err := timestamp(doc.Get("timestamp"), now)
	if err != nil {
		return Result{}, err
	}
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"cpu_percent", &c.CPUPercent},
		{"memory_percent", &c.MemoryPercent},
		{"disk_percent", &c.DiskPercent},
	} {
		f, ok := number(doc.Get(p.name))
		if !ok {
			return Result{}, apperr.Validation(CodeInvalidType, p.name, p.name+" must be a number")
		}
		*p.dst = f
	}

	var res Result
	if n, ok := integer(doc.Get("processes")); ok {
		c.Processes = &n
	} else if doc.Get("processes").Exists() {
		res.Ignored = append(res.Ignored, "processes")
	}
	if f, ok := number(doc.Get("uptime")); ok {
		c.Uptime = &f
	} else if doc.Get("uptime").Exists() {
		res.Ignored = append(res.Ignored, "uptime")
	}

	if err := engine().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return Result{}, apperr.Validation(codeForTag(fe.Tag()), fe.Field(), messageFor(fe))
		}
		return Result{}, apperr.Validation(CodeInvalidType, "", err.Error())
	}

	s := models.Sample{
		HostID:        c.IPAddress,
		Hostname:      c.Hostname,
		Timestamp:     ts,
		CPUPercent:    round2(c.CPUPercent),
		MemoryPercent: round2(c.MemoryPercent),
		DiskPercent:   round2(c.DiskPercent),
		ProcessCount:  c.Processes,
	}
	if c.Uptime != nil {
		u := round2(*c.Uptime)
		s.UptimeSeconds = &u
	}
	if p, ok := text(doc.Get("platform"), maxPlatform); ok {
		s.Platform = p
	} else if doc.Get("platform").Exists() {
		res.Ignored = append(res.Ignored, "platform")
	}
	if a, ok := text(doc.Get("architecture"), maxArchitecture); ok {
		s.Architecture = a
	} else if doc.Get("architecture").Exists() {
		res.Ignored = append(res.Ignored, "architecture")
	}
	res.Sample = s
	return res, nil
}

func hostField(doc gjson.Result, name string) (string, error) {
	r := doc.Get(name)
	if r.Type != gjson.String {
		return "", apperr.Validation(CodeInvalidType, name, name+" must be a string")
	}
	if len(r.Str) > 255 || hasControl(r.Str) {
		return "", apperr.Validation(CodeInvalidHost, name, "invalid "+name)
	}
	return strings.TrimSpace(r.Str), nil
}

// timestamp accepts unix seconds as a number or numeric string, or an
// RFC 3339 string.
func timestamp(r gjson.Result, now time.Time) (time.Time, error) {
	var ts time.Time
	if f, ok := number(r); ok {
		sec, frac := math.Modf(f)
		ts = time.Unix(int64(sec), int64(frac*1e9))
	} else if r.Type == gjson.String {
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(r.Str))
		if err != nil {
			return time.Time{}, apperr.Validation(CodeInvalidType, "timestamp", "timestamp must be unix seconds or RFC 3339")
		}
		ts = t
	} else {
		return time.Time{}, apperr.Validation(CodeInvalidType, "timestamp", "timestamp must be unix seconds or RFC 3339")
	}
	if ts.Before(now.Add(-PastSkew)) || ts.After(now.Add(FutureSkew)) {
		return time.Time{}, apperr.Validation(CodeTimestampOutOfRange, "timestamp",
			fmt.Sprintf("timestamp %s outside accepted window", ts.UTC().Format(time.RFC3339)))
	}
	return ts.UTC(), nil
}

func number(r gjson.Result) (float64, bool) {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func integer(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		if math.IsNaN(r.Num) {
			return 0, false
		}
		return int(math.Max(math.MinInt32, math.Min(math.MaxInt32, r.Num))), true
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(r.Str))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func text(r gjson.Result, max int) (string, bool) {
	switch r.Type {
	case gjson.String:
		return Sanitize(r.Str, max), true
	case gjson.Number:
		return Sanitize(r.Raw, max), true
	}
	return "", false
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
