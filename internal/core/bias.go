package core

// Bias is the directional reading of a higher timeframe filter
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// Allows reports whether a position on the given side may be opened under
// this bias. A neutral bias blocks both sides.
func (b Bias) Allows(side Side) bool {
	switch b {
	case BiasBullish:
		return side == SideLong
	case BiasBearish:
		return side == SideShort
	default:
		return false
	}
}
