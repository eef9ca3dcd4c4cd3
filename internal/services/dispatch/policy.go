package dispatch

// ThresholdPolicy holds the AQI cut points the dispatcher decides with. It
// is a value: the service swaps the whole policy on config reload.
type ThresholdPolicy struct {
	// CleanThreshold is the top of the "clean" band.
	CleanThreshold int
	// UnhealthyThreshold makes a live safety-net session alert outright.
	UnhealthyThreshold int
	// SpikeDelta makes a session alert when AQI climbs this far above the
	// level it started at, even while still under UnhealthyThreshold.
	SpikeDelta int
}

func DefaultPolicy() ThresholdPolicy {
	return ThresholdPolicy{CleanThreshold: 50, UnhealthyThreshold: 75, SpikeDelta: 40}
}

// ShouldNotifyClean is edge-triggered: it fires only on the crossing from
// above the clean threshold to at-or-below it. No previous reading means no
// edge, so the first observation never notifies.
func (p ThresholdPolicy) ShouldNotifyClean(prev *int, current int) bool {
	return prev != nil && *prev > p.CleanThreshold && current <= p.CleanThreshold
}

// SafetyNetTriggered reports whether a session that started at startAQI
// should alert at the current level.
func (p ThresholdPolicy) SafetyNetTriggered(startAQI, current int) bool {
	return current > p.UnhealthyThreshold || current > startAQI+p.SpikeDelta
}
