package domain

import "time"

// MinGridSamples — агрегат публикуется только при выборке от 3 объявлений.
const MinGridSamples = 3

// GridAggregate — дневной агрегат по паре (регион × сегмент).
type GridAggregate struct {
	RegionID    int64
	SegmentID   int64
	Day         time.Time
	AvgPSM      float64
	MedianPSM   float64
	MinPrice    int64
	MaxPrice    int64
	StdDevPSM   float64
	SampleCount int
	Confidence  int // 0–100
}

// GridFallbackLevel — глубина каскада при запросе агрегата.
// Чем глубже уровень, тем ниже доверие к оценке.
type GridFallbackLevel int

const (
	GridFallbackExact GridFallbackLevel = iota
	GridFallbackRelaxHeight
	GridFallbackRelaxType
	GridFallbackRegionOnly
	GridFallbackGlobal
)

func (l GridFallbackLevel) String() string {
	switch l {
	case GridFallbackExact:
		return "exact"
	case GridFallbackRelaxHeight:
		return "relax_height"
	case GridFallbackRelaxType:
		return "relax_type"
	case GridFallbackRegionOnly:
		return "region_only"
	case GridFallbackGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// GridEstimate — ответ каскада агрегатов.
type GridEstimate struct {
	Aggregate GridAggregate
	Level     GridFallbackLevel
	// Confidence — доверие с учётом глубины каскада (монотонно не растёт)
	Confidence int
}
