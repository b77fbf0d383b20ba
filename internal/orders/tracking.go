package orders

// AppendTracking appends e unless the last entry already has e's status.
// It never rewrites existing entries.
func AppendTracking(history []TrackingEntry, e TrackingEntry) ([]TrackingEntry, bool) {
	if n := len(history); n > 0 && history[n-1].Status == e.Status {
		return history, false
	}
	return append(history, e), true
}

// NeedsTrackingUpdate reports whether a firing that mapped to next has
// anything to write for o.
func NeedsTrackingUpdate(o *Order, next Status) bool {
	last, ok := o.LastTracking()
	return !ok || last.Status != next
}
