package domain

// Уровни административной иерархии Москвы.
const (
	RegionLevelOkrug       int32 = 1 // Округ (ЦАО, САО, ...)
	RegionLevelRaion       int32 = 2 // Район
	RegionLevelMicroraion  int32 = 3 // Микрорайон
	RegionLevelKvartal     int32 = 4 // Квартал
)

// Region — административный полигон. Геометрия хранится в БД (WGS84),
// в домене носим только метаданные и предвычисленный центроид.
type Region struct {
	ID          int64
	Name        string
	Level       int32
	ParentID    *int64
	CentroidLat float64
	CentroidLon float64
}

// ResolvedDistrict — результат работы резолвера района.
type ResolvedDistrict struct {
	Region *Region
	Method DistrictResolveMethod
}

// DistrictResolveMethod — каким способом была определена принадлежность точки.
type DistrictResolveMethod string

const (
	DistrictResolvePolygon  DistrictResolveMethod = "polygon"
	DistrictResolveCentroid DistrictResolveMethod = "nearest_centroid"
	DistrictResolveAddress  DistrictResolveMethod = "address_match"
	DistrictResolveNone     DistrictResolveMethod = "none"
)
