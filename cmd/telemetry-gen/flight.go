package main

import (
	"math"
	"math/rand/v2"
	"time"

	"anemometer-server/internal/modules/telemetry/codec"
)

const (
	ascentRate  = 5.0     // m/s
	burstAlt    = 30000.0 // m
	descentRate = 8.0     // m/s
)

// flight synthesizes a plausible balloon ascent and descent. The same seed
// always yields the same reports.
type flight struct {
	start    time.Time
	lat, lon float64
	launch   float64
	rng      *rand.Rand
}

func newFlight(start time.Time, lat, lon float64, seed uint64) *flight {
	return &flight{
		start:  start,
		lat:    lat,
		lon:    lon,
		launch: 120,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// altitudeAt follows the ascent to burst altitude, then falls back to the
// launch altitude.
func (f *flight) altitudeAt(elapsed time.Duration) float64 {
	s := elapsed.Seconds()
	climb := (burstAlt - f.launch) / ascentRate
	if s <= climb {
		return f.launch + ascentRate*s
	}
	return math.Max(f.launch, burstAlt-descentRate*(s-climb))
}

// pressureAt is the international standard atmosphere below 11 km, extended
// with the same curve above it.
func pressureAt(alt float64) float64 {
	return 1013.25 * math.Pow(1-2.25577e-5*math.Min(alt, 44000), 5.25588)
}

func (f *flight) noise(scale float64) float64 {
	return (f.rng.Float64()*2 - 1) * scale
}

// report returns the i-th report, taken every interval from the flight start.
func (f *flight) report(i int, interval time.Duration) codec.Values {
	elapsed := time.Duration(i) * interval
	alt := f.altitudeAt(elapsed)
	drift := elapsed.Hours()

	airTemp := math.Max(-56.5, 15-0.0065*alt)
	wind := 2 + alt/3000

	v := codec.Values{
		UnixEpoch:               uint32(f.start.Add(elapsed).Unix()),
		SatellitesInView:        int16(8 + f.rng.IntN(5)),
		Latitude:                float32(f.lat + 0.12*drift + f.noise(0.0005)),
		Longitude:               float32(f.lon + 0.35*drift + f.noise(0.0005)),
		AltitudeMeters:          uint16(alt),
		PressureMbar:            pressureAt(alt) + f.noise(0.3),
		TemperaturePHT:          airTemp + 12 + f.noise(0.5),
		TemperatureColdJunction: airTemp + 10 + f.noise(0.5),
		TemperatureTCTip:        airTemp + f.noise(0.8),
		Roll:                    f.noise(15),
		Pitch:                   f.noise(10),
		Yaw:                     math.Mod(37*float64(i)+f.noise(20)+360, 360),
	}
	for axis := range 3 {
		avg := wind*[3]float64{1, 0.6, 0.1}[axis] + f.noise(0.5)
		std := 0.2 + f.rng.Float64()*0.5
		v.VelocityAvg[axis] = avg
		v.VelocityStd[axis] = std
		v.VelocityPeak[axis] = avg + 2.5*std
	}
	if i == 0 {
		v.ExtraMessage = "launch"
	}
	return v
}
