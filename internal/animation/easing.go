package animation

const easeHalf = 0.5

// EaseInOutCubic accelerates through the first half of t in [0,1] and
// decelerates through the second, symmetric around the midpoint.
func EaseInOutCubic(t float64) float64 {
	if t < easeHalf {
		return 4 * t * t * t
	}
	f := 2*t - 2
	return easeHalf*f*f*f + 1
}
