// Package airquality defines the reading model and the station directory
// contract the dispatcher consumes. Implementations live with whatever feeds
// the data in (sync jobs, fixtures in tests).
package airquality

import (
	"context"
	"time"
)

// Reading is one station measurement.
type Reading struct {
	StationID  string
	Name       string
	AQI        int
	PM25       float64
	PM10       float64
	PM1        float64
	MeasuredAt time.Time
}

// Directory resolves the freshest reading near a point.
type Directory interface {
	// NearestReading returns the closest station's reading. ok=false means
	// no station covers the point; that is not an error.
	NearestReading(ctx context.Context, lat, lon float64) (r Reading, ok bool, err error)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(ctx context.Context, lat, lon float64) (Reading, bool, error)

func (f DirectoryFunc) NearestReading(ctx context.Context, lat, lon float64) (Reading, bool, error) {
	return f(ctx, lat, lon)
}
