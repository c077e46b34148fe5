package domain

import "time"

// DuplicateReason — причина связывания объявлений в дубликаты.
type DuplicateReason string

const (
	// DuplicateReasonExact — точное совпадение: адрес, площадь и комнаты идентичны
	DuplicateReasonExact DuplicateReason = "exact_match"
	// DuplicateReasonSimilar — совпадение адреса и комнат, площадь в пределах ±2 м²
	DuplicateReasonSimilar DuplicateReason = "similar_match"
)

// DuplicateEdge — связь "оригинал → репост".
// Инварианты: без циклов; first_seen оригинала раньше, чем у дубликата.
type DuplicateEdge struct {
	OriginalID  int64
	DuplicateID int64
	Similarity  float64 // 0–1
	Reason      DuplicateReason
	CreatedAt   time.Time
}

// UnifiedHistory — объединённая история экспозиции через цепочку репостов.
type UnifiedHistory struct {
	// OriginalID — ID самого раннего объявления в цепочке
	OriginalID int64
	// ChainIDs — все объявления цепочки, от оригинала к последнему репосту
	ChainIDs []int64
	Prices   []PricePoint
	// FirstSeenAt — начало экспозиции (по оригиналу)
	FirstSeenAt time.Time
	// InitialPrice — первая цена оригинала
	InitialPrice int64
	DaysOnMarket int
}
