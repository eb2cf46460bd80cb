package volume

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the calibrated intensity distribution of a volume.
// The percentiles drive auto-windowing for volumes whose metadata
// carries no usable display window.
type Stats struct {
	// Min and Max are the calibrated extrema.
	Min float64
	Max float64

	// Mean and StdDev describe the calibrated distribution.
	Mean   float64
	StdDev float64

	// P05 and P95 are the 5th and 95th percentile of calibrated
	// intensity. The bulk of clinically relevant tissue falls between
	// them, which makes them a robust default display window.
	P05 float64
	P95 float64
}

// ComputeStats scans the volume once and returns calibrated intensity
// statistics. Calibration applies the DICOM-style linear rescale
// (raw*slope + intercept) so the numbers are in the same units as the
// window level/width fields.
func ComputeStats(v *VolumeData) Stats {
	n := v.VoxelCount()
	values := make([]float64, n)

	i := 0
	for z := 0; z < v.Dims[2]; z++ {
		for y := 0; y < v.Dims[1]; y++ {
			for x := 0; x < v.Dims[0]; x++ {
				values[i] = v.RawAt(x, y, z)*v.RescaleSlope + v.RescaleIntercept
				i++
			}
		}
	}

	mean, std := stat.MeanStdDev(values, nil)

	// Quantile requires sorted input.
	sort.Float64s(values)

	return Stats{
		Min:    values[0],
		Max:    values[n-1],
		Mean:   mean,
		StdDev: std,
		P05:    stat.Quantile(0.05, stat.Empirical, values, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, values, nil),
	}
}

// AutoWindow derives a display window from the intensity distribution:
// the level sits at the center of the 5th-95th percentile spread and
// the width covers that spread. The width is floored at 1 so the
// windowing transform stays well defined for near-constant volumes.
func (s Stats) AutoWindow() (level, width float64) {
	level = (s.P05 + s.P95) / 2
	width = s.P95 - s.P05
	if width < 1 {
		width = 1
	}
	return level, width
}
