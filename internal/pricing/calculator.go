package pricing

import "math"

type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// Calculator prices completed calls. Inbound calls are free; outbound calls
// are charged per started second at a per-minute rate, rounded to two
// decimal places.
type Calculator struct {
	RatePerMinute float64
}

func NewCalculator(ratePerMinute float64) Calculator {
	return Calculator{RatePerMinute: ratePerMinute}
}

func (c Calculator) CallCost(direction CallDirection, durationSeconds int) float64 {
	if direction != CallDirectionOutbound || durationSeconds <= 0 || c.RatePerMinute <= 0 {
		return 0
	}
	cost := float64(durationSeconds) / 60 * c.RatePerMinute
	return math.Round(cost*100) / 100
}
