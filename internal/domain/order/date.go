package order

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// dateLayouts are the ISO-8601 forms accepted for orderDate. Values without
// an offset are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate reads an ISO-8601 date or date-time.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("unsupported date %q", s)
}

// isoDate decodes orderDate leniently. Encoding stays with time.Time (RFC 3339).
type isoDate time.Time

func (d *isoDate) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "orderDate must be a string")
	}
	if s == "" {
		return nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = isoDate(t)
	return nil
}

func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	aux := struct {
		*plain
		OrderDate isoDate `json:"orderDate"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.OrderDate = time.Time(aux.OrderDate)
	return nil
}

func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	aux := struct {
		*plain
		OrderDate isoDate `json:"orderDate"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.OrderDate = time.Time(aux.OrderDate)
	return nil
}
