// Package events defines the structures carried on the logs.events and rule.changed topics.
package events

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Event is one normalized log line. Events are never mutated after decoding.
type Event struct {
	TenantID     string         `json:"tenantId"`
	SystemID     string         `json:"systemId"`
	Timestamp    time.Time      `json:"timestamp"`
	Level        string         `json:"level"`
	Module       string         `json:"module,omitempty"`
	Operation    string         `json:"operation,omitempty"`
	ResponseTime *int64         `json:"responseTime,omitempty"` // milliseconds
	UserID       string         `json:"userId,omitempty"`
	IP           string         `json:"ip,omitempty"`
	RequestURL   string         `json:"requestUrl,omitempty"`
	StatusCode   *int           `json:"statusCode,omitempty"`
	Exception    string         `json:"exception,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// Field resolves a field name against the well-known attributes first and the
// free-form fields second. A nil or absent value reports false.
func (e *Event) Field(name string) (any, bool) {
	switch name {
	case "tenantId":
		return nonEmpty(e.TenantID)
	case "systemId":
		return nonEmpty(e.SystemID)
	case "timestamp":
		if e.Timestamp.IsZero() {
			return nil, false
		}
		return e.Timestamp, true
	case "level":
		return nonEmpty(e.Level)
	case "module":
		return nonEmpty(e.Module)
	case "operation":
		return nonEmpty(e.Operation)
	case "responseTime":
		if e.ResponseTime == nil {
			return nil, false
		}
		return *e.ResponseTime, true
	case "userId":
		return nonEmpty(e.UserID)
	case "ip":
		return nonEmpty(e.IP)
	case "requestUrl":
		return nonEmpty(e.RequestURL)
	case "statusCode":
		if e.StatusCode == nil {
			return nil, false
		}
		return *e.StatusCode, true
	case "exception":
		return nonEmpty(e.Exception)
	}
	v, ok := e.Fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func nonEmpty(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

// ToMap flattens the event into the wire map form. Free-form fields sit at the top level.
func (e *Event) ToMap() map[string]any {
	m := make(map[string]any, len(e.Fields)+12)
	for k, v := range e.Fields {
		m[k] = v
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put("tenantId", e.TenantID)
	put("systemId", e.SystemID)
	if !e.Timestamp.IsZero() {
		m["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	put("level", e.Level)
	put("module", e.Module)
	put("operation", e.Operation)
	put("userId", e.UserID)
	put("ip", e.IP)
	put("requestUrl", e.RequestURL)
	put("exception", e.Exception)
	if e.ResponseTime != nil {
		m["responseTime"] = float64(*e.ResponseTime)
	}
	if e.StatusCode != nil {
		m["statusCode"] = float64(*e.StatusCode)
	}
	return m
}

// FromMap builds an Event from a decoded key/value record. Keys that are not
// well-known attributes are kept as free-form fields, and a nested "fields" object is
// merged into them.
func FromMap(m map[string]any) (*Event, error) {
	e := &Event{Fields: make(map[string]any)}
	for k, v := range m {
		var err error
		switch k {
		case "tenantId", "tenant_id":
			e.TenantID = asString(v)
		case "systemId", "system_id":
			e.SystemID = asString(v)
		case "timestamp":
			e.Timestamp, err = asTime(v)
		case "level":
			e.Level = strings.ToUpper(asString(v))
		case "module":
			e.Module = asString(v)
		case "operation":
			e.Operation = asString(v)
		case "userId", "user_id":
			e.UserID = asString(v)
		case "ip":
			e.IP = asString(v)
		case "requestUrl", "request_url":
			e.RequestURL = asString(v)
		case "exception":
			e.Exception = asString(v)
		case "responseTime", "response_time":
			if v != nil {
				var n int64
				n, err = asInt64(v)
				e.ResponseTime = &n
			}
		case "statusCode", "status_code":
			if v != nil {
				var n int64
				n, err = asInt64(v)
				code := int(n)
				e.StatusCode = &code
			}
		case "fields":
			if nested, ok := v.(map[string]any); ok {
				for fk, fv := range nested {
					e.Fields[fk] = normalizeNumber(fv)
				}
			} else {
				e.Fields[k] = normalizeNumber(v)
			}
		default:
			e.Fields[k] = normalizeNumber(v)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", k, err)
		}
	}
	if len(e.Fields) == 0 {
		e.Fields = nil
	}
	return e, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func asInt64(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("not a finite number")
		}
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

// asTime accepts RFC 3339 strings and epoch milliseconds.
func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, nil
		}
		ms, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognised timestamp %q", t)
		}
		return time.UnixMilli(ms).UTC(), nil
	default:
		ms, err := asInt64(v)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
}

// normalizeNumber turns json.Number into float64 so free-form fields look the same
// regardless of wire format.
func normalizeNumber(v any) any {
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}
