package model

import "time"

// HoldTTL is the fixed lifetime of a seat hold measured from the moment the
// seat was selected.  Selecting an already held seat again does not renew it.
const HoldTTL = 120 * time.Second

// HoldRemaining returns how long a hold selected at selectedAt has left at
// now, never less than zero.
func HoldRemaining(selectedAt, now time.Time) time.Duration {
    left := HoldTTL - now.Sub(selectedAt)
    if left < 0 {
        return 0
    }
    return left
}
