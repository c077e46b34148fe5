package geo

import "math"

// EarthRadiusKm — средний радиус Земли.
const EarthRadiusKm = 6371.0

// HaversineKm — расстояние по большому кругу между двумя точками WGS84, в км.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BoundingBox — прямоугольник широт/долгот вокруг точки радиусом radiusKm.
// Используется как грубый префильтр перед точным расчётом расстояния.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// NewBoundingBox строит рамку вокруг (lat, lon).
func NewBoundingBox(lat, lon, radiusKm float64) BoundingBox {
	dLat := radiusKm / 111.32 // км в одном градусе широты
	cos := math.Cos(toRad(lat))
	if cos < 0.01 {
		cos = 0.01
	}
	dLon := radiusKm / (111.32 * cos)

	return BoundingBox{
		MinLat: lat - dLat,
		MaxLat: lat + dLat,
		MinLon: lon - dLon,
		MaxLon: lon + dLon,
	}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
