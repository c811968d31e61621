package corridor

import (
	"fmt"
	"time"
)

// Corridor is an ordered origin/destination site pair. It names one queue,
// one dedup set and one lock domain.
type Corridor struct {
	Origin      int64 `json:"origin"`
	Destination int64 `json:"destination"`
}

func New(origin, destination int64) Corridor {
	return Corridor{Origin: origin, Destination: destination}
}

func (c Corridor) Key() string {
	return fmt.Sprintf("%d:%d", c.Origin, c.Destination)
}

func (c Corridor) String() string {
	return fmt.Sprintf("%d->%d", c.Origin, c.Destination)
}

// Summary is the queued unit for one waybill awaiting a hop.
type Summary struct {
	WaybillID     int64     `json:"waybill_id"`
	CurrentSiteID int64     `json:"current_site_id"`
	NextSiteID    int64     `json:"next_site_id"`
	TotalWeight   float64   `json:"total_weight"`
	TotalVolume   float64   `json:"total_volume"`
	CreatedAt     time.Time `json:"created_at"`
}

// Corridor returns the corridor this summary belongs to.
func (s Summary) Corridor() Corridor {
	return Corridor{Origin: s.CurrentSiteID, Destination: s.NextSiteID}
}
