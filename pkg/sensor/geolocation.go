package sensor

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// SpeedUnits formats a speed in metres per second as whole kilometres and miles per hour,
// e.g. 10 m/s gives "36 /kph" and "22 /mph".
func SpeedUnits(metresPerSecond float64) (kph, mph string) {
	s := physic.Speed(metresPerSecond * float64(physic.MetrePerSecond))
	kph = fmt.Sprintf("%.0f /kph", math.Round(float64(s)/float64(physic.KilometrePerHour)))
	mph = fmt.Sprintf("%.0f /mph", math.Round(float64(s)/float64(physic.MilePerHour)))
	return kph, mph
}

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// movingSpeed reports whether v is a usable, non-zero speed. A stationary or unknown speed
// derives no units.
func movingSpeed(v *float64) bool {
	return v != nil && *v != 0 && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// positionReading converts a fix into a Reading with nested coords. speedKph and speedMph
// are nil when the host reports no speed, a zero speed or a non-finite one.
func positionReading(p host.Position) Reading {
	c := p.Coords
	coords := map[string]interface{}{
		"latitude":         c.Latitude,
		"longitude":        c.Longitude,
		"altitude":         nullable(c.Altitude),
		"accuracy":         c.Accuracy,
		"altitudeAccuracy": nullable(c.AltitudeAccuracy),
		"heading":          nullable(c.Heading),
		"speed":            nullable(c.Speed),
		"speedKph":         nil,
		"speedMph":         nil,
	}
	if movingSpeed(c.Speed) {
		coords["speedKph"], coords["speedMph"] = SpeedUnits(*c.Speed)
	}
	return Reading{
		"timestamp": p.Timestamp.UnixMilli(),
		"coords":    coords,
	}
}
