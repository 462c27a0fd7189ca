package output

import (
	"encoding/json"
	"math"
	"time"

	"github.com/ericogr/sensorprobe/pkg/sensor"
)

// Event is one availability answer for a sensor.
type Event struct {
	Sensor    string         `json:"sensor"`
	Available bool           `json:"available"`
	Reading   sensor.Reading `json:"reading"`
	Timestamp time.Time      `json:"timestamp"`
}

type Output interface {
	Publish([]Event) error
	Close() error
}

// helper constructors are in subpackages

// Marshal encodes v as JSON with non-finite floats written as null, so battery times of
// +Inf survive encoding.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(finite(v))
}

func finite(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return nil
		}
		return t
	case sensor.Reading:
		if t == nil {
			return t
		}
		return sensor.Reading(finite(map[string]interface{}(t)).(map[string]interface{}))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, x := range t {
			out[k] = finite(x)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = finite(x)
		}
		return out
	case []float64:
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = finite(x)
		}
		return out
	case Event:
		t.Reading = finite(t.Reading).(sensor.Reading)
		return t
	default:
		return v
	}
}
