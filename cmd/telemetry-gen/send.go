package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"anemometer-server/internal/config"
	"anemometer-server/internal/modules/telemetry/codec"
)

type sendOptions struct {
	url      string
	imei     string
	count    int
	interval time.Duration
	timeStep time.Duration
	start    int64
	lat, lon float64
	seed     uint64
	retries  uint64
}

// sender posts payloads the way the modem gateway does: imei and data as
// query parameters, plain-text acknowledgment in the body.
type sender struct {
	client  *http.Client
	url     string
	imei    string
	retries uint64
	// newBackOff is swapped in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

func newSender(endpoint, imei string, retries uint64) *sender {
	return &sender{
		client:  &http.Client{Timeout: 10 * time.Second},
		url:     endpoint,
		imei:    imei,
		retries: retries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

// deliver sends one payload and returns the device acknowledgment. Transport
// errors and 5xx responses are retried; any other response is final.
func (s *sender) deliver(ctx context.Context, payload string, notify backoff.Notify) (string, error) {
	target, err := url.Parse(s.url)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("parse url: %w", err))
	}
	q := target.Query()
	q.Set("imei", s.imei)
	q.Set("data", payload)
	target.RawQuery = q.Encode()

	var ack string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %s", resp.Status)
		}
		ack = strings.TrimSpace(string(body))
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.retries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return "", err
	}
	return ack, nil
}

func newSendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Replay a synthetic flight against the webhook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.count <= 0 {
				return errors.New("--count must be > 0")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSend(ctx, cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:8080/rockblock", "webhook endpoint")
	f.StringVar(&opts.imei, "imei", config.DefaultDeviceIMEI, "device identifier sent with each report")
	f.IntVar(&opts.count, "count", 10, "number of reports")
	f.DurationVar(&opts.interval, "interval", time.Second, "wall-clock pause between reports")
	f.DurationVar(&opts.timeStep, "time-step", 5*time.Minute, "device time between reports")
	f.Int64Var(&opts.start, "start", 0, "device time of the first report, Unix seconds (default now)")
	f.Float64Var(&opts.lat, "lat", 42.35, "launch latitude")
	f.Float64Var(&opts.lon, "lon", -71.1, "launch longitude")
	f.Uint64Var(&opts.seed, "seed", 1, "random seed for the synthetic flight")
	f.Uint64Var(&opts.retries, "retries", 5, "retries per report on transport errors and 5xx")
	return cmd
}

func runSend(ctx context.Context, out io.Writer, opts sendOptions) error {
	start := time.Now()
	if opts.start > 0 {
		start = time.Unix(opts.start, 0)
	}
	fl := newFlight(start.UTC(), opts.lat, opts.lon, opts.seed)
	s := newSender(opts.url, opts.imei, opts.retries)

	failed := 0
	for i := 0; i < opts.count; i++ {
		if i > 0 && opts.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		}

		v := fl.report(i, opts.timeStep)
		payload, err := codec.EncodeHex(v)
		if err != nil {
			return fmt.Errorf("report %d: %w", i, err)
		}

		ack, err := s.deliver(ctx, payload, func(err error, wait time.Duration) {
			fmt.Fprintf(out, "report %d: %v, retrying in %s\n", i, err, wait.Round(time.Millisecond))
		})
		if err != nil {
			return fmt.Errorf("report %d: %w", i, err)
		}
		if !strings.HasPrefix(ack, "OK") {
			failed++
		}
		fmt.Fprintf(out, "report %d epoch=%d alt=%dm pressure=%.1fmbar -> %s\n",
			i, v.UnixEpoch, v.AltitudeMeters, v.PressureMbar, ack)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d reports rejected", failed, opts.count)
	}
	return nil
}
