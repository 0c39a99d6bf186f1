package reading

import (
	"sort"
	"time"
)

// Indicator thresholds.
const (
	// OverheatTemperature marks a reading as critical for grain storage.
	OverheatTemperature = 35.0

	// MinAmplitudeSamples is the fewest readings a thermal amplitude needs.
	MinAmplitudeSamples = 24

	maxOverheatPeriods = 5
)

// Levels reported by the indicators.
const (
	LevelNormal   = "normal"
	LevelAlert    = "alert"
	LevelCritical = "critical"

	LevelLow      = "low"
	LevelModerate = "moderate"
	LevelHigh     = "high"
)

// FungusRisk scores storage conditions from 0 to 100. Heat above 30°C and
// humidity above 75% each add up to 50 points.
type FungusRisk struct {
	Index           float64 `json:"index"`
	Level           string  `json:"level"`
	CriticalSamples int     `json:"critical_samples"`
	AlertSamples    int     `json:"alert_samples"`
	CriticalPercent float64 `json:"critical_percent"`
}

// OverheatPeriod is a run of consecutive readings above OverheatTemperature.
type OverheatPeriod struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Samples int       `json:"samples"`
	Peak    float64   `json:"peak_temperature"`
}

// Overheat counts readings above OverheatTemperature.
type Overheat struct {
	Samples int              `json:"samples"`
	Percent float64          `json:"percent"`
	Level   string           `json:"level"`
	Periods []OverheatPeriod `json:"periods"`
}

// ThermalAmplitude is the mean daily temperature swing. Stability is high
// when the swing is small.
type ThermalAmplitude struct {
	Days      int     `json:"days"`
	MeanSwing float64 `json:"mean_swing"`
	MaxSwing  float64 `json:"max_swing"`
	Stability string  `json:"stability"`
}

// Indicators bundles the storage-risk indicators of one device.
type Indicators struct {
	Identifier string            `json:"device_identifier"`
	Count      int               `json:"count"`
	FungusRisk FungusRisk        `json:"fungus_risk"`
	Overheat   Overheat          `json:"overheat"`
	Amplitude  *ThermalAmplitude `json:"thermal_amplitude,omitempty"`
}

// ComputeIndicators derives the indicators from readings ordered oldest
// first, as History returns them.
func ComputeIndicators(identifier string, readings []Reading) Indicators {
	ind := Indicators{
		Identifier: identifier,
		Count:      len(readings),
		FungusRisk: fungusRisk(readings),
		Overheat:   overheat(readings),
	}
	if len(readings) >= MinAmplitudeSamples {
		ind.Amplitude = thermalAmplitude(readings)
	}
	return ind
}

// FungusIndex scores one reading.
func FungusIndex(temperature, humidity float64) float64 {
	return clamp01((temperature-30)/10)*50 + clamp01((humidity-75)/25)*50
}

func fungusRisk(readings []Reading) FungusRisk {
	risk := FungusRisk{Level: LevelNormal}
	if len(readings) == 0 {
		return risk
	}

	var sum float64
	for _, rd := range readings {
		idx := FungusIndex(rd.Temperature, rd.Humidity)
		sum += idx
		switch {
		case idx > 70:
			risk.CriticalSamples++
		case idx > 40:
			risk.AlertSamples++
		}
	}
	mean := sum / float64(len(readings))
	risk.Index = round2(mean)
	risk.CriticalPercent = round2(float64(risk.CriticalSamples) / float64(len(readings)) * 100)
	switch {
	case mean > 70:
		risk.Level = LevelCritical
	case mean > 40:
		risk.Level = LevelAlert
	}
	return risk
}

func overheat(readings []Reading) Overheat {
	o := Overheat{Level: LevelLow, Periods: []OverheatPeriod{}}

	var current *OverheatPeriod
	for _, rd := range readings {
		if rd.Temperature <= OverheatTemperature {
			current = nil
			continue
		}
		o.Samples++
		if current == nil {
			o.Periods = append(o.Periods, OverheatPeriod{Start: rd.RecordedAt})
			current = &o.Periods[len(o.Periods)-1]
		}
		current.End = rd.RecordedAt
		current.Samples++
		current.Peak = max(current.Peak, rd.Temperature)
	}

	sort.SliceStable(o.Periods, func(i, j int) bool {
		return o.Periods[i].Samples > o.Periods[j].Samples
	})
	if len(o.Periods) > maxOverheatPeriods {
		o.Periods = o.Periods[:maxOverheatPeriods]
	}
	if len(readings) > 0 {
		o.Percent = round2(float64(o.Samples) / float64(len(readings)) * 100)
	}
	switch {
	case o.Samples > 6:
		o.Level = LevelHigh
	case o.Samples > 3:
		o.Level = LevelModerate
	}
	return o
}

func thermalAmplitude(readings []Reading) *ThermalAmplitude {
	type span struct{ lo, hi float64 }
	days := map[string]*span{}
	for _, rd := range readings {
		key := rd.RecordedAt.UTC().Format(time.DateOnly)
		d, ok := days[key]
		if !ok {
			days[key] = &span{lo: rd.Temperature, hi: rd.Temperature}
			continue
		}
		d.lo = min(d.lo, rd.Temperature)
		d.hi = max(d.hi, rd.Temperature)
	}

	var sum, widest float64
	for _, d := range days {
		swing := d.hi - d.lo
		sum += swing
		widest = max(widest, swing)
	}
	mean := sum / float64(len(days))

	a := &ThermalAmplitude{
		Days:      len(days),
		MeanSwing: round2(mean),
		MaxSwing:  round2(widest),
		Stability: LevelHigh,
	}
	switch {
	case mean > 10:
		a.Stability = LevelLow
	case mean > 5:
		a.Stability = LevelModerate
	}
	return a
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
