package call

import "time"

// DynamicThreshold derives the barge-in energy threshold from a measured
// noise floor. The result always lies in [cfg.BaseThreshold, cfg.MaxThreshold].
func DynamicThreshold(noiseFloor float64, cfg InterruptConfig) float64 {
	t := max(cfg.BaseThreshold, noiseFloor+cfg.NoiseMargin, noiseFloor*cfg.PrimarySpeakerMultiplier)
	return min(max(t, cfg.BaseThreshold), cfg.MaxThreshold)
}

// InterruptDetector decides whether the caller is talking over the agent.
//
// After [InterruptDetector.Arm] the first CalibrationFrames frames measure the
// line's noise floor (which includes echo of the agent's own voice) and no
// interrupt is considered. Afterwards VAD-positive frames past the grace
// period are collected; once SustainedFrames have been collected their mean
// energy must exceed the dynamic threshold and their variance must stay under
// MaxVariance. It is owned by a single goroutine.
type InterruptDetector struct {
	cfg InterruptConfig

	armed         bool
	armedAt       time.Time
	calib         []float64
	calibrated    bool
	noiseFloor    float64
	threshold     float64
	captured      []Frame
	gapRun        int
	lastInterrupt time.Time
}

// NewInterruptDetector returns a disarmed detector.
func NewInterruptDetector(cfg InterruptConfig) *InterruptDetector {
	return &InterruptDetector{cfg: cfg, threshold: cfg.BaseThreshold}
}

// Arm starts calibration for a new agent response.
func (d *InterruptDetector) Arm(now time.Time) {
	d.armed = true
	d.armedAt = now
	d.calib = d.calib[:0]
	d.captured = nil
	d.gapRun = 0
	d.calibrated = false
	d.noiseFloor = 0
	d.threshold = d.cfg.BaseThreshold
	if d.cfg.CalibrationFrames <= 0 {
		d.calibrated = true
	}
}

// Disarm stops detection until the next Arm.
func (d *InterruptDetector) Disarm() {
	d.armed = false
	d.captured = nil
	d.gapRun = 0
}

// OnFrame feeds one frame received while the agent is speaking. On a
// validated interrupt it returns the frames that carried it and disarms.
func (d *InterruptDetector) OnFrame(f Frame) ([]Frame, bool) {
	if !d.armed {
		return nil, false
	}

	if !d.calibrated {
		d.calib = append(d.calib, f.RMS)
		if len(d.calib) >= d.cfg.CalibrationFrames {
			d.noiseFloor = mean(d.calib)
			d.threshold = DynamicThreshold(d.noiseFloor, d.cfg)
			d.calibrated = true
		}
		return nil, false
	}

	if !f.Speech {
		d.gapRun++
		if d.gapRun >= d.cfg.GapFrames {
			d.captured = nil
			d.gapRun = 0
		}
		return nil, false
	}
	d.gapRun = 0

	if f.At.Sub(d.armedAt) < d.cfg.Grace {
		return nil, false
	}
	if !d.lastInterrupt.IsZero() && f.At.Sub(d.lastInterrupt) < d.cfg.Debounce {
		return nil, false
	}

	d.captured = append(d.captured, f)
	if len(d.captured) < d.cfg.SustainedFrames {
		return nil, false
	}

	levels := make([]float64, len(d.captured))
	for i, c := range d.captured {
		levels[i] = c.RMS
	}
	m := mean(levels)
	if m <= d.threshold || variance(levels, m) > d.cfg.MaxVariance {
		d.captured = nil
		return nil, false
	}

	out := d.captured
	d.captured = nil
	d.lastInterrupt = f.At
	d.armed = false
	return out, true
}

// Armed reports whether the detector is listening.
func (d *InterruptDetector) Armed() bool { return d.armed }

// Calibrated reports whether the noise floor has been measured.
func (d *InterruptDetector) Calibrated() bool { return d.calibrated }

// NoiseFloor returns the measured noise floor.
func (d *InterruptDetector) NoiseFloor() float64 { return d.noiseFloor }

// Threshold returns the current barge-in threshold.
func (d *InterruptDetector) Threshold() float64 { return d.threshold }

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func variance(v []float64, m float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(v))
}
