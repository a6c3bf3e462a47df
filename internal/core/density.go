package core

import "trafficcore/pkg/domain"

// Density converts a lane's raw counts into its weighted congestion score:
// two-wheelers weigh 1, four-wheelers weigh 2.
func Density(twoWheelers, fourWheelers int) (uint, error) {
	if twoWheelers < 0 {
		return 0, domain.InvalidInput("two_wheelers", "must be >= 0, got %d", twoWheelers)
	}
	if fourWheelers < 0 {
		return 0, domain.InvalidInput("four_wheelers", "must be >= 0, got %d", fourWheelers)
	}
	return uint(twoWheelers) + 2*uint(fourWheelers), nil
}
