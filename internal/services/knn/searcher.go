package knn

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/geo"
	"flat_appraisal/internal/lib/stats"
	"flat_appraisal/internal/repository/listing_repository"
	"log/slog"
)

// Жёсткие пределы поиска аналогов.
const (
	// HardDistanceCapKm — кандидаты дальше не рассматриваются никогда
	HardDistanceCapKm = 10.0
	// roomsAreaTolerance — допуск ±1 комната действует при близких площадях
	roomsAreaTolerance = 10.0
	// minAfterClassFilter — ниже этого числа классовый фильтр ослабляется
	minAfterClassFilter = 3
	// backfillLimit — до скольких кандидатов добирается из исключённых
	backfillLimit = 5
)

// ListingRepository — выборка кандидатов из хранилища.
type ListingRepository interface {
	SearchCandidates(ctx context.Context, p listing_repository.SearchParams) ([]domain.Listing, error)
}

// Searcher — скоринговый поиск ближайших аналогов по объявлениям.
type Searcher struct {
	log  *slog.Logger
	repo ListingRepository
	now  func() time.Time
}

func NewSearcher(log *slog.Logger, repo ListingRepository) *Searcher {
	return &Searcher{
		log:  log,
		repo: repo,
		now:  time.Now,
	}
}

// Search возвращает до k аналогов с баллами схожести и весами (Σ = 1),
// агрегаты цены за м² и целое доверие. Пустой результат — ErrInsufficientData.
func (s *Searcher) Search(ctx context.Context, req domain.ValuationRequest) (domain.SearchResult, error) {
	const op = "knn.Searcher.Search"

	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.SearchResult{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	listings, err := s.repo.SearchCandidates(ctx, listing_repository.SearchParams{
		BBox:             geo.NewBoundingBox(req.Lat, req.Lon, req.MaxDistanceKm),
		LastSeenAfter:    now.AddDate(0, 0, -req.MaxAgeDays),
		Rooms:            req.Rooms,
		ExcludeListingID: req.ExcludeListingID,
		ActiveOnly:       true,
	})
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("%s: %w", op, err)
	}

	candidates := s.prefilter(req, listings, now)
	candidates = applyClassFilter(req, candidates)

	if len(candidates) == 0 {
		return domain.SearchResult{}, fmt.Errorf("%s: %w", op, domain.ErrInsufficientData)
	}

	for i := range candidates {
		candidates[i].Similarity = scoreListing(req, candidates[i])
		correctPrice(req, &candidates[i])
	}

	comparables := topK(candidates, req.K)
	assignWeights(comparables)

	result := domain.SearchResult{
		Comparables:         comparables,
		WeightedPricePerSqm: weightedMean(comparables, func(c domain.Comparable) float64 { return c.PricePerSqm }),
		MedianPricePerSqm:   medianOf(comparables, func(c domain.Comparable) float64 { return c.PricePerSqm }),
		WeightedPrice:       weightedMean(comparables, func(c domain.Comparable) float64 { return float64(c.TotalPrice) }),
		MedianPrice:         medianOf(comparables, func(c domain.Comparable) float64 { return float64(c.TotalPrice) }),
		Confidence:          confidence(comparables),
	}

	return result, nil
}

// candidate — промежуточное представление кандидата со всеми атрибутами.
type candidate struct {
	domain.Comparable
	totalFloors  *int32
	buildingYear *int32
}

// prefilter — расстояние (жёсткий предел 10 км), допуск по комнатам,
// перевод в Comparable с сырой ценой за м².
func (s *Searcher) prefilter(req domain.ValuationRequest, listings []domain.Listing, now time.Time) []candidate {
	maxDist := math.Min(req.MaxDistanceKm, HardDistanceCapKm)

	out := make([]candidate, 0, len(listings))
	for _, l := range listings {
		if !l.HasCoordinates() || l.AreaTotal <= 0 || l.CurrentPrice <= 0 {
			continue
		}
		if req.ExcludeListingID != nil && l.ID == *req.ExcludeListingID {
			continue
		}

		dist := geo.HaversineKm(req.Lat, req.Lon, *l.Lat, *l.Lon)
		if dist > maxDist {
			continue
		}

		if !roomsMatch(req, l) {
			continue
		}

		ageDays := int(now.Sub(l.LastSeenAt).Hours() / 24)
		if ageDays < 0 {
			ageDays = 0
		}

		psm := l.PricePerSqm()
		out = append(out, candidate{
			Comparable: domain.Comparable{
				Source:         domain.ComparableSourceListing,
				SourceID:       l.ID,
				Address:        l.Address,
				Rooms:          l.Rooms,
				AreaTotal:      l.AreaTotal,
				Floor:          l.Floor,
				TotalFloors:    l.TotalFloors,
				BuildingType:   l.BuildingType,
				BuildingYear:   l.BuildingYear,
				DistanceKm:     dist,
				AgeDays:        ageDays,
				PricePerSqm:    psm,
				RawPricePerSqm: psm,
				TotalPrice:     l.CurrentPrice,
			},
			totalFloors:  l.TotalFloors,
			buildingYear: l.BuildingYear,
		})
	}

	return out
}

// roomsMatch — точное совпадение комнат, либо ±1 при разнице площадей ≤ 10 м².
// Неизвестные комнаты не отсеиваются: скоринг понизит их сам.
func roomsMatch(req domain.ValuationRequest, l domain.Listing) bool {
	if req.Rooms == nil || l.Rooms == nil {
		return true
	}
	diff := *req.Rooms - *l.Rooms
	if diff < 0 {
		diff = -diff
	}
	switch diff {
	case 0:
		return true
	case 1:
		return math.Abs(req.AreaTotal-l.AreaTotal) <= roomsAreaTolerance
	default:
		return false
	}
}

// applyClassFilter — грубая сопоставимость по классу дома (этажность и эпоха).
// Если выживает меньше трёх кандидатов, добирает ближайших из исключённых.
func applyClassFilter(req domain.ValuationRequest, candidates []candidate) []candidate {
	kept := make([]candidate, 0, len(candidates))
	excluded := make([]candidate, 0)

	for _, c := range candidates {
		if classCompatible(req, c) {
			kept = append(kept, c)
		} else {
			excluded = append(excluded, c)
		}
	}

	if len(kept) >= minAfterClassFilter || len(excluded) == 0 {
		return kept
	}

	sort.Slice(excluded, func(i, j int) bool {
		if excluded[i].DistanceKm != excluded[j].DistanceKm {
			return excluded[i].DistanceKm < excluded[j].DistanceKm
		}
		return excluded[i].SourceID < excluded[j].SourceID
	})

	for _, c := range excluded {
		if len(kept) >= backfillLimit {
			break
		}
		kept = append(kept, c)
	}

	return kept
}

func classCompatible(req domain.ValuationRequest, c candidate) bool {
	if req.TotalFloors != nil && c.totalFloors != nil {
		target, comp := *req.TotalFloors, *c.totalFloors
		switch {
		case target >= 9 && comp <= 5:
			return false
		case target <= 5 && comp >= 9:
			return false
		case target >= 6 && target <= 8 && (comp <= 5 || comp >= 17):
			return false
		}
	}

	if req.BuildingYear != nil && c.buildingYear != nil {
		target, comp := *req.BuildingYear, *c.buildingYear
		switch {
		case target >= 2000 && comp < 1990:
			return false
		case target < 1990 && comp >= 2000:
			return false
		}
	}

	return true
}

// scoreListing — сумма компонент схожести, максимум 100.
func scoreListing(req domain.ValuationRequest, c candidate) float64 {
	score := buildingTypeScore(req.BuildingType, c.BuildingType)
	score += roomsScore(req.Rooms, c.Rooms)
	score += areaScore(req.AreaTotal, c.AreaTotal)
	score += floorScore(req.Floor, c.Floor)
	score += distanceScore(c.DistanceKm)
	return score
}

func buildingTypeScore(target, comp domain.BuildingType) float64 {
	if target == domain.BuildingTypeUnknown || comp == domain.BuildingTypeUnknown {
		return 10
	}
	if target == comp {
		return 20
	}
	return 5
}

func roomsScore(target, comp *int32) float64 {
	if target == nil || comp == nil {
		return 10
	}
	diff := float64(*target - *comp)
	if diff < 0 {
		diff = -diff
	}
	return math.Max(0, 20-10*diff)
}

func areaScore(target, comp float64) float64 {
	if target <= 0 || comp <= 0 {
		return 10
	}
	return 25 * math.Min(target, comp) / math.Max(target, comp)
}

func floorScore(target, comp *int32) float64 {
	if target == nil || comp == nil {
		return 7
	}
	diff := float64(*target - *comp)
	if diff < 0 {
		diff = -diff
	}
	return math.Max(0, 15-2*diff)
}

func distanceScore(d float64) float64 {
	switch {
	case d <= 1:
		return 20
	case d <= 3:
		return 15
	case d <= 5:
		return 10
	default:
		return math.Max(0, 10-2*(d-5))
	}
}

// correctPrice — поправки цены за м²: на разницу площадей и на возраст объявления.
// Большая целевая площадь ⇒ ниже цена за м².
func correctPrice(req domain.ValuationRequest, c *candidate) {
	psm := c.RawPricePerSqm

	if delta := req.AreaTotal - c.AreaTotal; math.Abs(delta) > 0.5 {
		psm *= 1 - 0.001*delta
	}

	aging := math.Min(0.03, float64(c.AgeDays)/30*0.01)
	psm *= 1 - aging

	c.PricePerSqm = psm
}

// topK — k лучших по баллу; тай-брейки детерминированы:
// балл по убыванию, затем расстояние по возрастанию, затем id.
func topK(candidates []candidate, k int) []domain.Comparable {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		if candidates[i].DistanceKm != candidates[j].DistanceKm {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		}
		return candidates[i].SourceID < candidates[j].SourceID
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]domain.Comparable, len(candidates))
	for i, c := range candidates {
		out[i] = c.Comparable
	}
	return out
}

// assignWeights — веса пропорциональны баллам; при нулевой сумме — равномерно.
func assignWeights(comparables []domain.Comparable) {
	var total float64
	for _, c := range comparables {
		total += c.Similarity
	}

	n := float64(len(comparables))
	for i := range comparables {
		if total > 0 {
			comparables[i].Weight = comparables[i].Similarity / total
		} else {
			comparables[i].Weight = 1 / n
		}
	}
}

func weightedMean(comparables []domain.Comparable, value func(domain.Comparable) float64) float64 {
	var sum float64
	for _, c := range comparables {
		sum += c.Weight * value(c)
	}
	return sum
}

func medianOf(comparables []domain.Comparable, value func(domain.Comparable) float64) float64 {
	values := make([]float64, len(comparables))
	for i, c := range comparables {
		values[i] = value(c)
	}
	return stats.Median(values)
}

// confidence — целое 0–100 из числа аналогов, среднего балла и среднего расстояния.
func confidence(comparables []domain.Comparable) int {
	n := len(comparables)
	if n == 0 {
		return 0
	}

	var simSum, distSum float64
	for _, c := range comparables {
		simSum += c.Similarity
		distSum += c.DistanceKm
	}
	avgSim := simSum / float64(n)
	avgDist := distSum / float64(n)

	raw := 20*math.Min(float64(n), 10)/10 + 50*avgSim/100 + 30/(1+avgDist)
	return int(math.Min(100, math.Floor(raw)))
}
