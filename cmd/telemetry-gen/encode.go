package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"anemometer-server/internal/modules/telemetry/codec"
)

func newEncodeCmd() *cobra.Command {
	var (
		v               codec.Values
		vavg, vstd, vpk []float64
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the hex payload for one report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, axes := range []struct {
				flag string
				src  []float64
				dst  *[3]float64
			}{
				{"vavg", vavg, &v.VelocityAvg},
				{"vstd", vstd, &v.VelocityStd},
				{"vpk", vpk, &v.VelocityPeak},
			} {
				if len(axes.src) != 3 {
					return fmt.Errorf("--%s needs 3 values, got %d", axes.flag, len(axes.src))
				}
				copy(axes.dst[:], axes.src)
			}

			h, err := codec.EncodeHex(v)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}

	f := cmd.Flags()
	f.Uint32Var(&v.UnixEpoch, "epoch", 1700000000, "device time, seconds since the Unix epoch")
	f.Int16Var(&v.SatellitesInView, "siv", 9, "satellites in view")
	f.Float32Var(&v.Latitude, "lat", 42.35, "latitude, degrees")
	f.Float32Var(&v.Longitude, "lon", -71.1, "longitude, degrees")
	f.Uint16Var(&v.AltitudeMeters, "alt", 120, "altitude, meters")
	f.Float64Var(&v.PressureMbar, "pressure", 1013.2, "pressure, mbar")
	f.Float64Var(&v.TemperaturePHT, "temp-pht", 21.5, "pressure sensor temperature, C")
	f.Float64Var(&v.TemperatureColdJunction, "temp-cj", 22, "thermocouple cold junction temperature, C")
	f.Float64Var(&v.TemperatureTCTip, "temp-tip", 20.4, "thermocouple tip temperature, C")
	f.Float64Var(&v.Roll, "roll", 0, "roll, degrees")
	f.Float64Var(&v.Pitch, "pitch", 0, "pitch, degrees")
	f.Float64Var(&v.Yaw, "yaw", 0, "yaw, degrees")
	f.Float64SliceVar(&vavg, "vavg", []float64{0, 0, 0}, "average wind speed per axis, m/s")
	f.Float64SliceVar(&vstd, "vstd", []float64{0, 0, 0}, "wind speed standard deviation per axis, m/s")
	f.Float64SliceVar(&vpk, "vpk", []float64{0, 0, 0}, "peak wind speed per axis, m/s")
	f.StringVar(&v.ExtraMessage, "message", "", "free text appended after the report")
	return cmd
}
