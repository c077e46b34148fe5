package deals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/geo"
	"flat_appraisal/internal/lib/stats"
	"flat_appraisal/internal/repository/deal_repository"
	"log/slog"
)

// Пределы поиска по сделкам.
const (
	// HardDistanceCapKm — общий жёсткий предел расстояния
	HardDistanceCapKm = 10.0
	// areaTolerance — коридор площади относительно целевой
	areaTolerance = 0.20
)

// DealRepository — выборка сделок-кандидатов.
type DealRepository interface {
	SearchCandidates(ctx context.Context, p deal_repository.SearchParams) ([]domain.Deal, error)
}

// Searcher — поиск аналогов по зарегистрированным сделкам.
// Цены сделок фактические: скидка торга к ним не применяется никогда.
type Searcher struct {
	log        *slog.Logger
	repo       DealRepository
	maxAgeDays int
	now        func() time.Time
}

func NewSearcher(log *slog.Logger, repo DealRepository, cfg config.ValuationConfig) *Searcher {
	maxAgeDays := cfg.DealsMaxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = 365
	}
	return &Searcher{
		log:        log,
		repo:       repo,
		maxAgeDays: maxAgeDays,
		now:        time.Now,
	}
}

// Search — до k аналогов-сделок с баллами и весами.
func (s *Searcher) Search(ctx context.Context, req domain.ValuationRequest) (domain.SearchResult, error) {
	const op = "deals.Searcher.Search"

	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.SearchResult{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	found, err := s.repo.SearchCandidates(ctx, deal_repository.SearchParams{
		BBox:          geo.NewBoundingBox(req.Lat, req.Lon, req.MaxDistanceKm),
		MinArea:       req.AreaTotal * (1 - areaTolerance),
		MaxArea:       req.AreaTotal * (1 + areaTolerance),
		DealDateAfter: now.AddDate(0, 0, -s.maxAgeDays),
	})
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("%s: %w", op, err)
	}

	comparables := s.prepare(req, found, now)
	if len(comparables) == 0 {
		return domain.SearchResult{}, fmt.Errorf("%s: %w", op, domain.ErrInsufficientData)
	}

	sort.Slice(comparables, func(i, j int) bool {
		if comparables[i].Similarity != comparables[j].Similarity {
			return comparables[i].Similarity > comparables[j].Similarity
		}
		if comparables[i].DistanceKm != comparables[j].DistanceKm {
			return comparables[i].DistanceKm < comparables[j].DistanceKm
		}
		return comparables[i].SourceID < comparables[j].SourceID
	})
	if len(comparables) > req.K {
		comparables = comparables[:req.K]
	}

	assignWeights(comparables)

	return domain.SearchResult{
		Comparables:         comparables,
		WeightedPricePerSqm: weightedMean(comparables, func(c domain.Comparable) float64 { return c.PricePerSqm }),
		MedianPricePerSqm:   medianOf(comparables, func(c domain.Comparable) float64 { return c.PricePerSqm }),
		WeightedPrice:       weightedMean(comparables, func(c domain.Comparable) float64 { return float64(c.TotalPrice) }),
		MedianPrice:         medianOf(comparables, func(c domain.Comparable) float64 { return float64(c.TotalPrice) }),
		Confidence:          confidence(comparables),
	}, nil
}

// prepare — расстояние, классовый фильтр (только по году) и скоринг.
func (s *Searcher) prepare(req domain.ValuationRequest, found []domain.Deal, now time.Time) []domain.Comparable {
	maxDist := math.Min(req.MaxDistanceKm, HardDistanceCapKm)

	out := make([]domain.Comparable, 0, len(found))
	for _, d := range found {
		if !d.HasCoordinates() || d.Area <= 0 || d.DealPrice <= 0 {
			continue
		}

		dist := geo.HaversineKm(req.Lat, req.Lon, *d.Lat, *d.Lon)
		if dist > maxDist {
			continue
		}

		if !yearCompatible(req.BuildingYear, d.YearBuild) {
			continue
		}

		ageDays := int(now.Sub(d.DealDate).Hours() / 24)
		if ageDays < 0 {
			ageDays = 0
		}

		psm := d.PricePerSqm
		if psm <= 0 {
			psm = float64(d.DealPrice) / d.Area
		}

		c := domain.Comparable{
			Source:         domain.ComparableSourceDeal,
			SourceID:       d.ID,
			Address:        d.Street,
			AreaTotal:      d.Area,
			Floor:          d.Floor,
			BuildingType:   d.WallMaterial,
			BuildingYear:   d.YearBuild,
			DistanceKm:     dist,
			AgeDays:        ageDays,
			PricePerSqm:    psm,
			RawPricePerSqm: psm,
			TotalPrice:     d.DealPrice,
		}
		c.Similarity = scoreDeal(req, c)
		out = append(out, c)
	}

	return out
}

// yearCompatible — эпоха дома должна совпадать грубо, как у объявлений.
func yearCompatible(target, comp *int32) bool {
	if target == nil || comp == nil {
		return true
	}
	switch {
	case *target >= 2000 && *comp < 1990:
		return false
	case *target < 1990 && *comp >= 2000:
		return false
	}
	return true
}

// scoreDeal — компоненты: площадь 30, год 25, этаж 15, расстояние 30.
func scoreDeal(req domain.ValuationRequest, c domain.Comparable) float64 {
	var score float64

	if req.AreaTotal > 0 && c.AreaTotal > 0 {
		score += 30 * math.Min(req.AreaTotal, c.AreaTotal) / math.Max(req.AreaTotal, c.AreaTotal)
	} else {
		score += 10
	}

	if req.BuildingYear != nil && c.BuildingYear != nil {
		diff := float64(*req.BuildingYear - *c.BuildingYear)
		if diff < 0 {
			diff = -diff
		}
		score += math.Max(0, 25-0.5*diff)
	} else {
		score += 12
	}

	if req.Floor != nil && c.Floor != nil {
		diff := float64(*req.Floor - *c.Floor)
		if diff < 0 {
			diff = -diff
		}
		score += math.Max(0, 15-2*diff)
	} else {
		score += 7
	}

	switch {
	case c.DistanceKm <= 1:
		score += 30
	case c.DistanceKm <= 3:
		score += 22
	case c.DistanceKm <= 5:
		score += 15
	default:
		score += math.Max(0, 15-3*(c.DistanceKm-5))
	}

	return score
}

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
