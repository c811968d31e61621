package dispatch

import (
	"fmt"

	"github.com/ichao15/slwl/corridor"
)

// Profile is a vehicle's rated capacity and the safety ratios applied to it.
type Profile struct {
	MaxWeight   float64 `json:"max_weight"`
	MaxVolume   float64 `json:"max_volume"`
	WeightRatio float64 `json:"weight_ratio"`
	VolumeRatio float64 `json:"volume_ratio"`
}

// Load is an accumulated weight/volume pair.
type Load struct {
	Weight float64 `json:"weight"`
	Volume float64 `json:"volume"`
}

func (l Load) Add(s corridor.Summary) Load {
	return Load{Weight: l.Weight + s.TotalWeight, Volume: l.Volume + s.TotalVolume}
}

// Usable returns the capacity left after the safety ratios.
func (p Profile) Usable() (weight, volume float64) {
	return p.MaxWeight * p.WeightRatio, p.MaxVolume * p.VolumeRatio
}

// Overflows reports whether acc reaches usable capacity on either axis.
// Reaching the limit exactly counts as overflow.
func (p Profile) Overflows(acc Load) bool {
	w, v := p.Usable()
	return acc.Weight >= w || acc.Volume >= v
}

func (p Profile) Validate() error {
	if p.MaxWeight <= 0 || p.MaxVolume <= 0 {
		return fmt.Errorf("%w: capacity must be positive (weight=%v volume=%v)", ErrInvalidPlan, p.MaxWeight, p.MaxVolume)
	}
	if p.WeightRatio <= 0 || p.WeightRatio >= 1 || p.VolumeRatio <= 0 || p.VolumeRatio >= 1 {
		return fmt.Errorf("%w: ratios must be in (0,1) (weight=%v volume=%v)", ErrInvalidPlan, p.WeightRatio, p.VolumeRatio)
	}
	return nil
}

// WithDefaultRatios fills zero ratios from the configured defaults.
func (p Profile) WithDefaultRatios(weightRatio, volumeRatio float64) Profile {
	if p.WeightRatio == 0 {
		p.WeightRatio = weightRatio
	}
	if p.VolumeRatio == 0 {
		p.VolumeRatio = volumeRatio
	}
	return p
}
