package usecases

import (
	"errors"
	"time"

	"github.com/lmoreira/aquaflow/internal/entities"
)

// ErrNotEnoughData is returned when the history is too short to fit a model
var ErrNotEnoughData = errors.New("not enough daily history to forecast")

// Forecaster predicts daily consumption from historical daily volumes
// using two simple models: a moving average and a least-squares trend.
type Forecaster struct {
	HorizonDays   int // How many days ahead to predict
	MovingAvgDays int // How many trailing days the moving average covers
}

// NewForecaster creates a forecaster with the given horizon.
// Zero values fall back to a 7-day horizon and 7-day average.
func NewForecaster(horizonDays, movingAvgDays int) *Forecaster {
	if horizonDays <= 0 {
		horizonDays = 7
	}
	if movingAvgDays <= 0 {
		movingAvgDays = 7
	}
	return &Forecaster{
		HorizonDays:   horizonDays,
		MovingAvgDays: movingAvgDays,
	}
}

// futureDays returns the horizon days following the last day of history
func (f *Forecaster) futureDays(history []entities.DailyVolume) []time.Time {
	last := history[len(history)-1].Day
	days := make([]time.Time, f.HorizonDays)
	for i := range days {
		days[i] = last.AddDate(0, 0, i+1)
	}
	return days
}

// MovingAverage predicts the mean of the trailing days, projected flat
// over the horizon
func (f *Forecaster) MovingAverage(history []entities.DailyVolume) ([]entities.Forecast, error) {
	if len(history) < 2 {
		return nil, ErrNotEnoughData
	}

	n := f.MovingAvgDays
	if n > len(history) {
		n = len(history)
	}

	var sum float64
	for _, dv := range history[len(history)-n:] {
		sum += dv.VolumeL
	}
	mean := sum / float64(n)

	now := time.Now()
	var forecasts []entities.Forecast
	for _, day := range f.futureDays(history) {
		forecasts = append(forecasts, entities.Forecast{
			Day:         day,
			VolumeL:     mean,
			Model:       entities.ModelMovingAverage,
			GeneratedAt: now,
		})
	}
	return forecasts, nil
}

// LinearRegression fits an ordinary least squares line over (day index,
// volume) and projects it over the horizon. Negative predictions clamp
// to zero since volume cannot go below it.
func (f *Forecaster) LinearRegression(history []entities.DailyVolume) ([]entities.Forecast, error) {
	if len(history) < 2 {
		return nil, ErrNotEnoughData
	}

	// Least squares over x = 0..n-1, y = daily volume
	n := float64(len(history))
	var sumX, sumY, sumXY, sumXX float64
	for i, dv := range history {
		x := float64(i)
		sumX += x
		sumY += dv.VolumeL
		sumXY += x * dv.VolumeL
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	var slope, intercept float64
	if denom != 0 {
		slope = (n*sumXY - sumX*sumY) / denom
		intercept = (sumY - slope*sumX) / n
	} else {
		// Degenerate input, fall back to the mean
		intercept = sumY / n
	}

	now := time.Now()
	var forecasts []entities.Forecast
	for i, day := range f.futureDays(history) {
		x := float64(len(history) + i)
		predicted := intercept + slope*x
		if predicted < 0 {
			predicted = 0
		}
		forecasts = append(forecasts, entities.Forecast{
			Day:         day,
			VolumeL:     predicted,
			Model:       entities.ModelLinearRegression,
			GeneratedAt: now,
		})
	}
	return forecasts, nil
}
