package domain

// BuildingHeight — грубая категория этажности дома.
type BuildingHeight string

const (
	BuildingHeightLow    BuildingHeight = "low"    // ≤5 этажей
	BuildingHeightMedium BuildingHeight = "medium" // 6–10 этажей
	BuildingHeightHigh   BuildingHeight = "high"   // ≥11 этажей
)

// HeightBucket относит дом к категории этажности.
func HeightBucket(totalFloors int32) BuildingHeight {
	switch {
	case totalFloors <= 5:
		return BuildingHeightLow
	case totalFloors <= 10:
		return BuildingHeightMedium
	default:
		return BuildingHeightHigh
	}
}

// MaxSegmentRooms — комнаты в сегменте обрезаются сверху (5+ считаются одинаковыми).
const MaxSegmentRooms int32 = 5

// PropertySegment — категориальная корзина для агрегатов:
// (тип дома × этажность × комнаты с обрезкой до 5).
type PropertySegment struct {
	BuildingType   BuildingType
	BuildingHeight BuildingHeight
	RoomsCount     int32
}

// NewSegment строит сегмент из сырых атрибутов объявления.
func NewSegment(buildingType BuildingType, totalFloors, rooms int32) PropertySegment {
	if rooms < 0 {
		rooms = 0
	}
	if rooms > MaxSegmentRooms {
		rooms = MaxSegmentRooms
	}
	return PropertySegment{
		BuildingType:   buildingType,
		BuildingHeight: HeightBucket(totalFloors),
		RoomsCount:     rooms,
	}
}

// Детерминированные коды компонент сегмента для вычисления ID.
var buildingTypeCodes = map[BuildingType]int64{
	BuildingTypeUnknown:    0,
	BuildingTypePanel:      1,
	BuildingTypeBrick:      2,
	BuildingTypeMonolithic: 3,
	BuildingTypeBlock:      4,
	BuildingTypeWood:       5,
	BuildingTypeOther:      6,
}

var buildingHeightCodes = map[BuildingHeight]int64{
	BuildingHeightLow:    0,
	BuildingHeightMedium: 1,
	BuildingHeightHigh:   2,
}

// ID — детерминированный идентификатор сегмента по тройке компонент.
// Одна и та же тройка всегда даёт один и тот же ID.
func (s PropertySegment) ID() int64 {
	return buildingTypeCodes[s.BuildingType]*100 +
		buildingHeightCodes[s.BuildingHeight]*10 +
		int64(s.RoomsCount)
}
