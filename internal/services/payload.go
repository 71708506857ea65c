package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/motiondata/internal/models"
)

// Payload is a decoded JSON request body. Numbers are kept as json.Number so
// amounts and timestamps are parsed exactly once, here.
type Payload map[string]any

// ParsePayload decodes body leniently: anything that is not a JSON object,
// including an empty or malformed body, becomes an empty payload.
func ParsePayload(body []byte) Payload {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Payload{}
	}
	if m, ok := v.(map[string]any); ok {
		return Payload(m)
	}
	return Payload{}
}

// ValidationError reports a payload field that cannot be accepted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// text returns the first non-empty value among keys, which are aliases of
// the same field in the order they are preferred.
func (p Payload) text(keys ...string) (string, bool, error) {
	for _, key := range keys {
		raw, ok := p[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case string:
			if v != "" {
				return v, true, nil
			}
		case json.Number:
			return v.String(), true, nil
		default:
			return "", false, invalid(keys[0], "must be a string")
		}
	}
	return "", false, nil
}

func (p Payload) amount() (float64, bool, error) {
	raw, ok := p["amount"]
	if !ok || raw == nil {
		return 0, false, nil
	}

	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	default:
		return 0, false, invalid("amount", "must be a number")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false, invalid("amount", "must be a number")
	}
	if d.IsNegative() {
		return 0, false, invalid("amount", "must not be negative")
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false, invalid("amount", "must be a finite number")
	}
	return f, true, nil
}

var maxTimestamp = decimal.NewFromInt(math.MaxInt64)

func (p Payload) timestamp() (int64, bool, error) {
	raw, ok := p["timestamp"]
	if !ok || raw == nil {
		return 0, false, nil
	}

	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		if v == "" {
			return 0, false, nil
		}
		s = v
	default:
		return 0, false, invalid("timestamp", "must be epoch milliseconds")
	}

	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() || d.GreaterThan(maxTimestamp) {
		return 0, false, invalid("timestamp", "must be epoch milliseconds")
	}
	if d.IsZero() {
		return 0, false, nil
	}
	return d.IntPart(), true, nil
}

// isoMillis matches the date strings clients already store.
const isoMillis = "2006-01-02T15:04:05.000Z"

// generateOrderID returns ORD-<epoch millis>-<8 hex>. The random suffix keeps
// ids unique when several orders arrive within one millisecond.
func generateOrderID(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// OrderFromPayload normalises an ingestion payload into a canonical order,
// resolving field aliases and filling server defaults relative to now.
func OrderFromPayload(p Payload, now time.Time) (*models.Order, error) {
	email, _, err := p.text("email")
	if err != nil {
		return nil, err
	}
	if email == "" {
		return nil, invalid("email", "is required")
	}

	amount, ok, err := p.amount()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalid("amount", "is required")
	}

	o := &models.Order{Email: email, Amount: amount}

	fields := []struct {
		dst  *string
		keys []string
	}{
		{&o.ID, []string{"id"}},
		{&o.Reference, []string{"reference", "id"}},
		{&o.Date, []string{"date"}},
		{&o.Customer, []string{"customer"}},
		{&o.Phone, []string{"phone", "mobile", "phone_number"}},
		{&o.Network, []string{"network", "operator"}},
		{&o.Package, []string{"package", "package_name"}},
		{&o.Status, []string{"status"}},
	}
	for _, f := range fields {
		v, _, err := p.text(f.keys...)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	ts, ok, err := p.timestamp()
	if err != nil {
		return nil, err
	}
	if !ok {
		ts = now.UnixMilli()
	}
	o.Timestamp = ts

	if o.ID == "" {
		o.ID = generateOrderID(now)
	}
	if o.Reference == "" {
		o.Reference = o.ID
	}
	if o.Date == "" {
		o.Date = now.UTC().Format(isoMillis)
	}
	if o.Status == "" {
		o.Status = models.StatusCompleted
	}
	if o.Customer == "" {
		o.Customer, _, _ = strings.Cut(email, "@")
	}

	return o, nil
}

// PatchFromPayload collects the updatable fields present in p. The id is
// never patched.
func PatchFromPayload(p Payload) (models.OrderPatch, error) {
	var patch models.OrderPatch

	fields := []struct {
		dst  **string
		keys []string
	}{
		{&patch.Reference, []string{"reference"}},
		{&patch.Date, []string{"date"}},
		{&patch.Customer, []string{"customer"}},
		{&patch.Email, []string{"email"}},
		{&patch.Phone, []string{"phone", "mobile", "phone_number"}},
		{&patch.Network, []string{"network", "operator"}},
		{&patch.Package, []string{"package", "package_name"}},
		{&patch.Status, []string{"status"}},
	}
	for _, f := range fields {
		v, ok, err := p.text(f.keys...)
		if err != nil {
			return models.OrderPatch{}, err
		}
		if ok {
			value := v
			*f.dst = &value
		}
	}

	amount, ok, err := p.amount()
	if err != nil {
		return models.OrderPatch{}, err
	}
	if ok {
		patch.Amount = &amount
	}

	ts, ok, err := p.timestamp()
	if err != nil {
		return models.OrderPatch{}, err
	}
	if ok {
		patch.Timestamp = &ts
	}

	return patch, nil
}
