package domain

import (
	"time"
)

// BuildingType — тип дома. Закрытый словарь, стабильный на уровне протокола.
type BuildingType string

const (
	BuildingTypeUnknown    BuildingType = "unknown"
	BuildingTypePanel      BuildingType = "panel"      // Панельный
	BuildingTypeBrick      BuildingType = "brick"      // Кирпичный
	BuildingTypeMonolithic BuildingType = "monolithic" // Монолитный
	BuildingTypeBlock      BuildingType = "block"      // Блочный
	BuildingTypeWood       BuildingType = "wood"       // Деревянный
	BuildingTypeOther      BuildingType = "other"
)

func (t BuildingType) String() string {
	return string(t)
}

// ParseBuildingType приводит произвольную строку к известному типу дома.
// Неизвестные значения отображаются в явный "unknown", а не в пустую строку.
func ParseBuildingType(s string) BuildingType {
	switch BuildingType(s) {
	case BuildingTypePanel, BuildingTypeBrick, BuildingTypeMonolithic,
		BuildingTypeBlock, BuildingTypeWood, BuildingTypeOther:
		return BuildingType(s)
	default:
		return BuildingTypeUnknown
	}
}

// SellerType — тип продавца объявления.
type SellerType string

const (
	SellerTypeUnknown SellerType = "unknown"
	SellerTypeOwner   SellerType = "owner"  // Собственник
	SellerTypeAgency  SellerType = "agency" // Агентство
)

// Listing — активное объявление о продаже квартиры.
type Listing struct {
	ID           int64
	SourceURL    string
	Lat          *float64
	Lon          *float64
	RegionID     *int64
	Address      string // Канонический (нормализованный) адрес
	AddressRaw   string
	Rooms        *int32 // 0 = студия
	AreaTotal    float64
	AreaLiving   *float64
	AreaKitchen  *float64
	Floor        *int32
	TotalFloors  *int32
	BuildingType BuildingType
	BuildingYear *int32
	SellerType   SellerType
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	IsActive     bool
	InitialPrice int64
	// OriginalListingID — ссылка на оригинал, если объявление распознано как репост
	OriginalListingID *int64
	PriceChanges      int32
	// CurrentPrice — последняя цена из истории (строка с max(seen_at))
	CurrentPrice int64
}

// PricePerSqm — текущая цена за квадратный метр.
func (l Listing) PricePerSqm() float64 {
	if l.AreaTotal <= 0 {
		return 0
	}
	return float64(l.CurrentPrice) / l.AreaTotal
}

// HasCoordinates — обе координаты заданы (инвариант: lat ⇒ lon).
func (l Listing) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// ListingPrice — запись истории цен. Только добавление, PK (listing_id, seen_at).
type ListingPrice struct {
	ListingID int64
	SeenAt    time.Time
	Price     int64
}

// PricePoint — точка объединённой истории цен (в т.ч. через цепочку репостов).
type PricePoint struct {
	ListingID int64
	SeenAt    time.Time
	Price     int64
}
