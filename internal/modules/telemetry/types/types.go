package types

import "time"

const (
	// SentTimeLayout renders the device epoch the way downstream dashboards expect it.
	SentTimeLayout = "2006-01-02T15:04:05Z"
	// ReceivedTimeLayout keeps microseconds; the gateway clock is finer than the device's.
	ReceivedTimeLayout = "2006-01-02T15:04:05.000000Z"
)

// Record is one decoded anemometer report. Field order is the CSV column order.
type Record struct {
	ReceivedTime     string  `json:"received_time"`
	SentTime         string  `json:"sent_time"`
	UnixEpoch        uint32  `json:"unix_epoch"`
	SatellitesInView int16   `json:"siv"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	AltitudeMeters   uint16  `json:"altitude"`

	PressureMbar            float64 `json:"pressure_mbar"`
	TemperaturePHT          float64 `json:"temperature_pht_c"`
	TemperatureColdJunction float64 `json:"temperature_cj_c"`
	TemperatureTCTip        float64 `json:"temperature_tctip_c"`
	Roll                    float64 `json:"roll_deg"`
	Pitch                   float64 `json:"pitch_deg"`
	Yaw                     float64 `json:"yaw_deg"`

	VelocityAvg1  float64 `json:"vavg_1_mps"`
	VelocityAvg2  float64 `json:"vavg_2_mps"`
	VelocityAvg3  float64 `json:"vavg_3_mps"`
	VelocityStd1  float64 `json:"vstd_1_mps"`
	VelocityStd2  float64 `json:"vstd_2_mps"`
	VelocityStd3  float64 `json:"vstd_3_mps"`
	VelocityPeak1 float64 `json:"vpk_1_mps"`
	VelocityPeak2 float64 `json:"vpk_2_mps"`
	VelocityPeak3 float64 `json:"vpk_3_mps"`

	ExtraMessage string `json:"extra_message,omitempty"`
}

// Sent returns the device clock time of the report.
func (r Record) Sent() time.Time {
	return time.Unix(int64(r.UnixEpoch), 0).UTC()
}

// Placeholder is served by the latest-record read before anything arrives.
type Placeholder struct {
	Message string `json:"message"`
}

// NoData is the "no data yet" marker.
var NoData = Placeholder{Message: "No data received yet"}
