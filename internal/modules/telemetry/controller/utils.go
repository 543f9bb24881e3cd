package controller

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

func parseHistoryQuery(r *http.Request) (from time.Time, to time.Time, limit int, err error) {
	q := r.URL.Query()

	if s := q.Get("from"); s != "" {
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	if s := q.Get("to"); s != "" {
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, 0, errors.New("'from' must be <= 'to'")
	}

	// 0 means the whole history
	if s := q.Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return time.Time{}, time.Time{}, 0, errors.New("'limit' must be > 0")
		}
		limit = n
	}

	return from, to, limit, nil
}

type vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type orientation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// animationFrame drives the dashboard's 3D model. It is synthetic and never
// stored.
type animationFrame struct {
	Timestamp   string      `json:"timestamp"`
	Orientation orientation `json:"orientation"`
	Force       vector3     `json:"force"`
}

func uniform(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}

func randomAnimationFrame() animationFrame {
	return animationFrame{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Orientation: orientation{
			Roll:  uniform(-180, 180),
			Pitch: uniform(-90, 90),
			Yaw:   uniform(0, 360),
		},
		Force: vector3{
			X: uniform(-10, 10),
			Y: uniform(-10, 10),
			Z: uniform(-10, 10),
		},
	}
}
