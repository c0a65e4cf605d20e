package coretools

import (
	"context"
	"hash/fnv"
	"strings"
	"time"
)

// WeatherInput is the weather tool's input.
type WeatherInput struct {
	Location string `json:"location"`
}

// WeatherOutput is the weather tool's output.
type WeatherOutput struct {
	Location    string `json:"location"`
	Temperature int    `json:"temperature"`
}

// Weather is a stand-in forecast source. It waits Delay, then reports a
// temperature derived from the location name so repeated calls agree.
type Weather struct {
	Delay time.Duration
}

// Lookup waits for the configured delay and returns the forecast. The wait
// ends early with ctx's error if ctx is cancelled.
func (w Weather) Lookup(ctx context.Context, in WeatherInput) (WeatherOutput, error) {
	if w.Delay > 0 {
		timer := time.NewTimer(w.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return WeatherOutput{}, ctx.Err()
		case <-timer.C:
		}
	}

	return WeatherOutput{
		Location:    in.Location,
		Temperature: temperatureFor(in.Location),
	}, nil
}

// temperatureFor maps a location onto -10..35 degrees.
func temperatureFor(location string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(location))))
	return int(h.Sum32()%46) - 10
}
