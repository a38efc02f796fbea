package contentstream

import "math"

// Rect is an axis-aligned rectangle in page space, lower-left origin.
type Rect struct {
	LLX, LLY, URX, URY float64
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }

func (r Rect) IsEmpty() bool { return r.URX <= r.LLX || r.URY <= r.LLY }

func (r Rect) Union(o Rect) Rect {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	return Rect{
		LLX: math.Min(r.LLX, o.LLX),
		LLY: math.Min(r.LLY, o.LLY),
		URX: math.Max(r.URX, o.URX),
		URY: math.Max(r.URY, o.URY),
	}
}

func (r Rect) Intersects(o Rect) bool {
	return r.LLX < o.URX && o.LLX < r.URX && r.LLY < o.URY && o.LLY < r.URY
}

// Round returns the rectangle with every coordinate rounded to two
// decimal places, the granularity used for stable identity keys.
func (r Rect) Round() Rect {
	round2 := func(v float64) float64 { return math.Round(v*100) / 100 }
	return Rect{
		LLX: round2(r.LLX),
		LLY: round2(r.LLY),
		URX: round2(r.URX),
		URY: round2(r.URY),
	}
}

func boundingRect(points ...[2]float64) Rect {
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, p := range points {
		minX = math.Min(minX, p[0])
		minY = math.Min(minY, p[1])
		maxX = math.Max(maxX, p[0])
		maxY = math.Max(maxY, p[1])
	}
	return Rect{LLX: minX, LLY: minY, URX: maxX, URY: maxY}
}
