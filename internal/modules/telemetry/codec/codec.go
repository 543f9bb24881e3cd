// Package codec converts the anemometer's fixed binary report to and from
// engineering units.
//
// Report format (little-endian, natural C alignment): epoch uint32, satellites
// int16, 2 pad bytes, latitude float32, longitude float32, altitude uint16,
// then 16 int16 fixed-point channels (50 bytes total). Anything after the
// fixed block is free text.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"anemometer-server/internal/modules/telemetry/types"
)

// BlockLen is the size of the fixed part of a report.
const BlockLen = 50

const (
	channelCount = 16
	// firstChannelField is the field index of the first scaled channel.
	// Indices 0..4 are epoch, satellites, latitude, longitude, altitude.
	firstChannelField = 5
)

var (
	ErrBadLength  = errors.New("invalid message length")
	ErrMalformed  = errors.New("malformed message data")
	ErrOutOfRange = errors.New("value out of field range")
)

// block mirrors the wire layout. The blank field is the alignment pad after
// the satellites count: skipped on read, zeroed on write.
type block struct {
	Epoch     uint32
	SIV       int16
	_         [2]byte
	Latitude  float32
	Longitude float32
	Altitude  uint16
	Channels  [channelCount]int16
}

// scaleGroups are half-open field index ranges sharing one divisor.
var scaleGroups = []struct {
	from, to int
	divisor  float64
}{
	{5, 12, 10},    // pressure, temperatures, roll/pitch/yaw
	{12, 15, 1000}, // average velocities
	{15, 21, 100},  // velocity std-dev and peaks
}

func divisorFor(field int) float64 {
	for _, g := range scaleGroups {
		if field >= g.from && field < g.to {
			return g.divisor
		}
	}
	return 1
}

// Decode parses a raw report. received is stamped as the record's arrival time.
func Decode(raw []byte, received time.Time) (types.Record, error) {
	if len(raw) < BlockLen {
		return types.Record{}, fmt.Errorf("%w: got %d bytes, want at least %d", ErrBadLength, len(raw), BlockLen)
	}

	var b block
	if err := binary.Read(bytes.NewReader(raw[:BlockLen]), binary.LittleEndian, &b); err != nil {
		return types.Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var ch [channelCount]float64
	for i, v := range b.Channels {
		ch[i] = float64(v) / divisorFor(firstChannelField+i)
	}

	return types.Record{
		ReceivedTime:     received.UTC().Format(types.ReceivedTimeLayout),
		SentTime:         time.Unix(int64(b.Epoch), 0).UTC().Format(types.SentTimeLayout),
		UnixEpoch:        b.Epoch,
		SatellitesInView: b.SIV,
		Latitude:         float64(b.Latitude),
		Longitude:        float64(b.Longitude),
		AltitudeMeters:   b.Altitude,

		PressureMbar:            ch[0],
		TemperaturePHT:          ch[1],
		TemperatureColdJunction: ch[2],
		TemperatureTCTip:        ch[3],
		Roll:                    ch[4],
		Pitch:                   ch[5],
		Yaw:                     ch[6],

		VelocityAvg1:  ch[7],
		VelocityAvg2:  ch[8],
		VelocityAvg3:  ch[9],
		VelocityStd1:  ch[10],
		VelocityStd2:  ch[11],
		VelocityStd3:  ch[12],
		VelocityPeak1: ch[13],
		VelocityPeak2: ch[14],
		VelocityPeak3: ch[15],

		ExtraMessage: decodeTrailer(raw[BlockLen:]),
	}, nil
}

// DecodeHex decodes a hex payload as delivered by the modem webhook.
// Case is ignored, as is whitespace between digits.
func DecodeHex(s string, received time.Time) (types.Record, error) {
	raw, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return types.Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Decode(raw, received)
}

// decodeTrailer never fails: text that is not valid UTF-8 is dropped.
func decodeTrailer(b []byte) string {
	if len(b) == 0 || !utf8.Valid(b) {
		return ""
	}
	return strings.Trim(string(b), " \t\r\n\x00")
}

// Values are report fields in engineering units, as fed to Encode.
type Values struct {
	UnixEpoch        uint32
	SatellitesInView int16
	Latitude         float32
	Longitude        float32
	AltitudeMeters   uint16

	PressureMbar            float64
	TemperaturePHT          float64
	TemperatureColdJunction float64
	TemperatureTCTip        float64
	Roll                    float64
	Pitch                   float64
	Yaw                     float64

	VelocityAvg  [3]float64
	VelocityStd  [3]float64
	VelocityPeak [3]float64

	ExtraMessage string
}

func (v Values) channels() [channelCount]float64 {
	return [channelCount]float64{
		v.PressureMbar, v.TemperaturePHT, v.TemperatureColdJunction, v.TemperatureTCTip,
		v.Roll, v.Pitch, v.Yaw,
		v.VelocityAvg[0], v.VelocityAvg[1], v.VelocityAvg[2],
		v.VelocityStd[0], v.VelocityStd[1], v.VelocityStd[2],
		v.VelocityPeak[0], v.VelocityPeak[1], v.VelocityPeak[2],
	}
}

// ValuesOf maps a decoded record back to encoder input.
func ValuesOf(r types.Record) Values {
	return Values{
		UnixEpoch:               r.UnixEpoch,
		SatellitesInView:        r.SatellitesInView,
		Latitude:                float32(r.Latitude),
		Longitude:               float32(r.Longitude),
		AltitudeMeters:          r.AltitudeMeters,
		PressureMbar:            r.PressureMbar,
		TemperaturePHT:          r.TemperaturePHT,
		TemperatureColdJunction: r.TemperatureColdJunction,
		TemperatureTCTip:        r.TemperatureTCTip,
		Roll:                    r.Roll,
		Pitch:                   r.Pitch,
		Yaw:                     r.Yaw,
		VelocityAvg:             [3]float64{r.VelocityAvg1, r.VelocityAvg2, r.VelocityAvg3},
		VelocityStd:             [3]float64{r.VelocityStd1, r.VelocityStd2, r.VelocityStd3},
		VelocityPeak:            [3]float64{r.VelocityPeak1, r.VelocityPeak2, r.VelocityPeak3},
		ExtraMessage:            r.ExtraMessage,
	}
}

// stepSlack absorbs the float error of x*divisor when x is exactly on a
// fixed-point step, e.g. 0.29*100 = 28.999999999999996.
const stepSlack = 1e-9

// Encode is the inverse of Decode: each channel is multiplied by its group
// divisor and truncated toward zero into an int16.
func Encode(v Values) ([]byte, error) {
	b := block{
		Epoch:     v.UnixEpoch,
		SIV:       v.SatellitesInView,
		Latitude:  v.Latitude,
		Longitude: v.Longitude,
		Altitude:  v.AltitudeMeters,
	}
	for i, x := range v.channels() {
		field := firstChannelField + i
		scaled := math.Trunc(x*divisorFor(field) + math.Copysign(stepSlack, x))
		if math.IsNaN(scaled) || scaled < math.MinInt16 || scaled > math.MaxInt16 {
			return nil, fmt.Errorf("%w: field %d value %v", ErrOutOfRange, field, x)
		}
		b.Channels[i] = int16(scaled)
	}

	var buf bytes.Buffer
	buf.Grow(BlockLen + len(v.ExtraMessage))
	if err := binary.Write(&buf, binary.LittleEndian, &b); err != nil {
		return nil, fmt.Errorf("write block: %w", err)
	}
	buf.WriteString(v.ExtraMessage)
	return buf.Bytes(), nil
}

// EncodeHex returns the lowercase hex form of Encode(v).
func EncodeHex(v Values) (string, error) {
	raw, err := Encode(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
