package tilemap

// ResolveMovement applies the three-step wall slide: try the full move, then
// x-only, then y-only, else stay. Returns the resolved position and whether
// any axis was blocked.
func (m *Map) ResolveMovement(fromX, fromY, toX, toY, half float64) (float64, float64, bool) {
	if !m.IsPositionBlocked(toX, toY, half) {
		return toX, toY, false
	}
	if !m.IsPositionBlocked(toX, fromY, half) {
		return toX, fromY, true
	}
	if !m.IsPositionBlocked(fromX, toY, half) {
		return fromX, toY, true
	}
	return fromX, fromY, true
}
