package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ограничения и значения по умолчанию для запроса оценки.
const (
	DefaultK             = 10
	MaxK                 = 50
	DefaultMaxDistanceKm = 5.0
	MinMaxDistanceKm     = 0.5
	MaxMaxDistanceKm     = 20.0
	DefaultMaxAgeDays    = 90
	MaxMaxAgeDays        = 365
)

// ValuationRequest — входные данные оценки: координаты и атрибуты квартиры.
type ValuationRequest struct {
	Lat       float64
	Lon       float64
	AreaTotal float64

	Rooms        *int32
	Floor        *int32
	TotalFloors  *int32
	BuildingType BuildingType
	BuildingYear *int32

	// ExcludeListingID — исключить объявление из аналогов (оценка самого объявления)
	ExcludeListingID *int64

	K             int
	MaxDistanceKm float64
	MaxAgeDays    int
}

// Normalize заполняет значения по умолчанию и обрезает параметры поиска к допустимым
// диапазонам. Семантические поля (комнаты, площадь, год) никогда не достраиваются.
func (r *ValuationRequest) Normalize() {
	if r.K <= 0 {
		r.K = DefaultK
	}
	if r.K > MaxK {
		r.K = MaxK
	}
	if r.MaxDistanceKm == 0 {
		r.MaxDistanceKm = DefaultMaxDistanceKm
	}
	if r.MaxDistanceKm < MinMaxDistanceKm {
		r.MaxDistanceKm = MinMaxDistanceKm
	}
	if r.MaxDistanceKm > MaxMaxDistanceKm {
		r.MaxDistanceKm = MaxMaxDistanceKm
	}
	if r.MaxAgeDays <= 0 {
		r.MaxAgeDays = DefaultMaxAgeDays
	}
	if r.MaxAgeDays > MaxMaxAgeDays {
		r.MaxAgeDays = MaxMaxAgeDays
	}
	if r.BuildingType == "" {
		r.BuildingType = BuildingTypeUnknown
	}
}

// Validate проверяет обязательные поля запроса.
func (r ValuationRequest) Validate() error {
	if r.Lat == 0 && r.Lon == 0 {
		return ErrInvalidInput
	}
	if r.AreaTotal <= 0 {
		return ErrInvalidInput
	}
	if r.Rooms != nil && *r.Rooms < 0 {
		return ErrInvalidInput
	}
	return nil
}

// ComparableSource — источник аналога: объявление или зарегистрированная сделка.
type ComparableSource string

const (
	ComparableSourceListing ComparableSource = "listing"
	ComparableSourceDeal    ComparableSource = "deal"
)

// Comparable — аналог с оценкой схожести и скорректированной ценой за м².
type Comparable struct {
	Source      ComparableSource
	SourceID    int64
	Address     string
	Rooms       *int32
	AreaTotal   float64
	Floor       *int32
	TotalFloors *int32
	BuildingType BuildingType
	BuildingYear *int32

	// Similarity — суммарный балл схожести, 0–100
	Similarity float64
	// Weight — нормированный вес в агрегатах, Σ = 1
	Weight float64
	// DistanceKm — расстояние до целевой точки по большому кругу
	DistanceKm float64
	// AgeDays — возраст наблюдения (или сделки), в днях
	AgeDays int
	// PricePerSqm — скорректированная цена за м² (поправки на площадь и возраст)
	PricePerSqm float64
	// RawPricePerSqm — цена за м² до поправок
	RawPricePerSqm float64
	TotalPrice     int64
}

// SearchResult — результат KNN-поиска по одному источнику.
type SearchResult struct {
	Comparables []Comparable
	// WeightedPricePerSqm — средневзвешенная скорректированная цена за м²
	WeightedPricePerSqm float64
	// MedianPricePerSqm — медиана скорректированных цен за м²
	MedianPricePerSqm float64
	WeightedPrice     float64
	MedianPrice       float64
	Confidence        int
}

// Count — количество найденных аналогов.
func (r SearchResult) Count() int {
	return len(r.Comparables)
}

// MethodTag — способ, которым получена итоговая оценка.
type MethodTag string

const (
	MethodBottom1WithBargain MethodTag = "bottom_1_with_bargain"
	MethodBottom2WithBargain MethodTag = "bottom_2_with_bargain"
	MethodBottom3WithBargain MethodTag = "bottom_3_with_bargain"
	MethodGridOnly           MethodTag = "grid_only"
	MethodHybridKNNHeavy     MethodTag = "hybrid_knn_heavy"
	MethodHybridGridHeavy    MethodTag = "hybrid_grid_heavy"
	MethodHybridBalanced     MethodTag = "hybrid_balanced"
	MethodListingsOnly       MethodTag = "listings_only"
	MethodTransactionsOnly   MethodTag = "transactions_only"
	MethodCombined           MethodTag = "combined"
)

// Estimate — итог оценки рыночной цены.
type Estimate struct {
	EstimatedPrice       float64
	EstimatedPricePerSqm float64
	PriceRangeLow        float64
	PriceRangeHigh       float64
	Confidence           int
	Method               MethodTag
	GridWeight           float64
	KNNWeight            float64

	Comparables []Comparable
	// Deals — аналоги со стороны зарегистрированных сделок
	Deals []Comparable
}

// ValuationRecord — сохраняемый снимок одной оценки. Только добавление.
type ValuationRecord struct {
	ID        uuid.UUID
	Request   ValuationRequest
	RegionID  *int64
	SegmentID *int64
	Estimate  Estimate
	// Investment — блок инвестиционного расчёта, если он был запрошен
	Investment *InvestmentResult
	CreatedAt  time.Time
}
