package model

import "time"

// Event is a stored event record. FlyerURL is nil when the event has no flyer.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	EndTime   time.Time `json:"end_time"`
	FlyerURL  *string   `json:"flyer_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFlyer reports whether the event references a flyer object. An empty
// url counts as no flyer.
func (e Event) HasFlyer() bool {
	return e.FlyerURL != nil && *e.FlyerURL != ""
}
