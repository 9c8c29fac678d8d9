package contractor

import "time"

// Profile captures the subset of contractor data exposed via the public API
// layer.
type Profile struct {
	ID        string
	FullName  string
	Rating    float64
	Verified  bool
	CreatedAt time.Time
}
