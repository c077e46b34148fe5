package domain

import "time"

// Deal — зарегистрированная сделка (фактическая цена продажи).
// Запись неизменяема после вставки.
type Deal struct {
	ID           int64
	Street       string
	Area         float64
	DealPrice    int64
	PricePerSqm  float64
	YearBuild    *int32
	Floor        *int32
	WallMaterial BuildingType
	Lat          *float64
	Lon          *float64
	DealDate     time.Time
}

// HasCoordinates — обе координаты заданы.
func (d Deal) HasCoordinates() bool {
	return d.Lat != nil && d.Lon != nil
}
