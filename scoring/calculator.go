// Package scoring maps a match placement and kill count to tournament points.
package scoring

// DefaultKillWeight is the number of points awarded per kill.
const DefaultKillWeight = 1

// placementPoints holds the points for positions 1..10.
var placementPoints = [...]int{10, 6, 5, 4, 3, 2, 1, 1, 0, 0}

// PointsForPlacement returns the placement points for a 1-based position.
// A nil position or one outside the table scores 0.
func PointsForPlacement(position *int) int {
	if position == nil {
		return 0
	}
	p := *position
	if p < 1 || p > len(placementPoints) {
		return 0
	}
	return placementPoints[p-1]
}

// Calculator applies the placement table and a configurable kill weight.
type Calculator struct {
	KillWeight int
}

func NewCalculator(killWeight int) Calculator {
	if killWeight < 0 {
		killWeight = DefaultKillWeight
	}
	return Calculator{KillWeight: killWeight}
}

func (c Calculator) KillPoints(kills int) int {
	if kills <= 0 {
		return 0
	}
	return kills * c.KillWeight
}

func (c Calculator) TotalPoints(position *int, kills int) int {
	return PointsForPlacement(position) + c.KillPoints(kills)
}

// TotalPoints scores with the default kill weight.
func TotalPoints(position *int, kills int) int {
	return Calculator{KillWeight: DefaultKillWeight}.TotalPoints(position, kills)
}
