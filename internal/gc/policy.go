package gc

// nextThreshold returns the live count at which the next allocation will
// trigger a cycle: twice the survivors, never below the initial threshold.
func nextThreshold(live, initial int) int {
	if next := live * 2; next > initial {
		return next
	}
	return initial
}
