package measure

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/logging"
)

// ErrNoDistances is returned when a summary is asked for before any distance was measured.
var ErrNoDistances = errors.New("no distances measured")

// Summary describes every distance measured since the engine was activated.
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	StdDev float64
}

// Distances returns the measured distances in meters, oldest first.
func (e *PickEngine) Distances() []float64 {
	return append([]float64(nil), e.distances...)
}

// Summary computes statistics over the measured distances.
func (e *PickEngine) Summary() (Summary, error) {
	return Summarize(e.distances)
}

// Summarize computes statistics over distances.
func Summarize(distances []float64) (Summary, error) {
	if len(distances) == 0 {
		return Summary{}, ErrNoDistances
	}
	data := stats.Float64Data(distances)
	var s Summary
	var err error
	s.Count = data.Len()
	if s.Mean, err = data.Mean(); err != nil {
		return Summary{}, err
	}
	if s.Median, err = data.Median(); err != nil {
		return Summary{}, err
	}
	if s.Min, err = data.Min(); err != nil {
		return Summary{}, err
	}
	if s.Max, err = data.Max(); err != nil {
		return Summary{}, err
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// LogDisplay shows distances in the log.
type LogDisplay struct {
	Logger logging.Logger
}

// ShowDistance implements DistanceDisplay.
func (d LogDisplay) ShowDistance(meters float64, from, to PickedPoint) {
	d.Logger.Infof("distance between point %d and point %d: %.4f m", from.Index, to.Index, meters)
}

// ClearDistance implements DistanceDisplay.
func (d LogDisplay) ClearDistance() {}
