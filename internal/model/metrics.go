// internal/model/metrics.go
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MetricKind tags the variant of a metric value.
type MetricKind string

const (
	MetricInteger    MetricKind = "integer"
	MetricPercentage MetricKind = "percentage"
	MetricRating     MetricKind = "rating"
	MetricStatus     MetricKind = "status"
)

// Rating is a single-letter quality grade.
type Rating string

const (
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
	RatingD Rating = "D"
	RatingE Rating = "E"
)

// MetricValue is one entry of a record's metrics bag. Exactly one of the
// value fields is meaningful, selected by Kind.
type MetricValue struct {
	Kind    MetricKind
	Int     int64
	Percent float64
	Rating  Rating
	Status  string
}

// IntMetric wraps v as an integer metric.
func IntMetric(v int64) MetricValue { return MetricValue{Kind: MetricInteger, Int: v} }

// PercentMetric wraps v as a percentage metric.
func PercentMetric(v float64) MetricValue { return MetricValue{Kind: MetricPercentage, Percent: v} }

// RatingMetric wraps r as a rating metric.
func RatingMetric(r Rating) MetricValue { return MetricValue{Kind: MetricRating, Rating: r} }

// StatusMetric wraps s as a status metric.
func StatusMetric(s string) MetricValue { return MetricValue{Kind: MetricStatus, Status: s} }

// metricJSON is the self-describing wire form, so the variant survives a
// load/save round trip without guessing from the scalar shape.
type metricJSON struct {
	Kind  MetricKind      `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (m MetricValue) MarshalJSON() ([]byte, error) {
	var raw []byte
	var err error
	switch m.Kind {
	case MetricInteger:
		raw = strconv.AppendInt(nil, m.Int, 10)
	case MetricPercentage:
		raw = strconv.AppendFloat(nil, m.Percent, 'f', -1, 64)
	case MetricRating:
		raw, err = json.Marshal(string(m.Rating))
	case MetricStatus:
		raw, err = json.Marshal(m.Status)
	default:
		return nil, fmt.Errorf("unknown metric kind %q", m.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(metricJSON{Kind: m.Kind, Value: raw})
}

func (m *MetricValue) UnmarshalJSON(data []byte) error {
	var wire metricJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Kind = wire.Kind
	switch wire.Kind {
	case MetricInteger:
		return json.Unmarshal(wire.Value, &m.Int)
	case MetricPercentage:
		return json.Unmarshal(wire.Value, &m.Percent)
	case MetricRating:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return err
		}
		m.Rating = Rating(s)
		return nil
	case MetricStatus:
		return json.Unmarshal(wire.Value, &m.Status)
	}
	return fmt.Errorf("unknown metric kind %q", wire.Kind)
}

// String renders the value for human-readable reports and CSV cells.
func (m MetricValue) String() string {
	switch m.Kind {
	case MetricInteger:
		return strconv.FormatInt(m.Int, 10)
	case MetricPercentage:
		return strconv.FormatFloat(m.Percent, 'f', 1, 64)
	case MetricRating:
		return string(m.Rating)
	case MetricStatus:
		return m.Status
	}
	return ""
}
