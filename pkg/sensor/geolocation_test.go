package sensor

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/ericogr/sensorprobe/pkg/host"
)

func TestSpeedUnits(t *testing.T) {
	for _, tc := range []struct {
		mps      float64
		kph, mph string
	}{
		{10, "36 /kph", "22 /mph"},
		{0, "0 /kph", "0 /mph"},
		{1.4, "5 /kph", "3 /mph"},
		{27.78, "100 /kph", "62 /mph"},
	} {
		kph, mph := SpeedUnits(tc.mps)
		test.That(t, kph, test.ShouldEqual, tc.kph)
		test.That(t, mph, test.ShouldEqual, tc.mph)
	}
}

func TestPositionReading(t *testing.T) {
	alt, heading, speed := 760.0, 90.0, 10.0
	r := positionReading(host.Position{
		Timestamp: time.UnixMilli(42),
		Coords: host.Coordinates{
			Latitude:  -23.55,
			Longitude: -46.63,
			Accuracy:  12,
			Altitude:  &alt,
			Heading:   &heading,
			Speed:     &speed,
		},
	})
	test.That(t, r, test.ShouldResemble, Reading{
		"timestamp": int64(42),
		"coords": map[string]interface{}{
			"latitude":         -23.55,
			"longitude":        -46.63,
			"altitude":         760.0,
			"accuracy":         12.0,
			"altitudeAccuracy": nil,
			"heading":          90.0,
			"speed":            10.0,
			"speedKph":         "36 /kph",
			"speedMph":         "22 /mph",
		},
	})
}

func TestPositionReadingDerivedSpeed(t *testing.T) {
	for _, tc := range []struct {
		name     string
		speed    *float64
		kph, mph interface{}
	}{
		{"absent", nil, nil, nil},
		{"stationary", ptr(0), nil, nil},
		{"nan", ptr(math.NaN()), nil, nil},
		{"infinite", ptr(math.Inf(1)), nil, nil},
		{"moving", ptr(10), "36 /kph", "22 /mph"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			coords := positionReading(fix(tc.speed))["coords"].(map[string]interface{})
			test.That(t, coords["speedKph"], test.ShouldResemble, tc.kph)
			test.That(t, coords["speedMph"], test.ShouldResemble, tc.mph)
		})
	}
}
