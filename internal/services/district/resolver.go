package district

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/geo"
	"flat_appraisal/internal/lib/logger/sl"
	"flat_appraisal/internal/repository"
	"flat_appraisal/internal/services/address"
	"log/slog"
)

// RegionRepository — доступ к административным полигонам.
type RegionRepository interface {
	FindContaining(ctx context.Context, lat, lon float64) (*domain.Region, error)
	NearestCentroid(ctx context.Context, lat, lon, capKm float64) (*domain.Region, error)
	FindByNameToken(ctx context.Context, token string) (*domain.Region, error)
	ListAll(ctx context.Context) ([]domain.Region, error)
}

// Resolver определяет принадлежность точки административной иерархии:
// полигон → ближайший центроид (в пределах лимита) → совпадение по адресу.
// Без угадывания: если все пути исчерпаны, возвращается resolved=none.
type Resolver struct {
	log  *slog.Logger
	repo RegionRepository

	centroidCapKm float64

	// Кэш метаданных регионов: читается часто, обновляется по интервалу
	mu          sync.RWMutex
	cached      []domain.Region
	cachedAt    time.Time
	refreshSpan time.Duration
}

func NewResolver(log *slog.Logger, repo RegionRepository, cfg config.RegionsConfig) *Resolver {
	return &Resolver{
		log:           log,
		repo:          repo,
		centroidCapKm: cfg.CentroidCapKm,
		refreshSpan:   cfg.CacheRefresh,
	}
}

// Resolve — самый глубокий регион для точки; rawAddress используется
// только как последний рубеж.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64, rawAddress string) (domain.ResolvedDistrict, error) {
	const op = "district.Resolver.Resolve"

	region, err := r.repo.FindContaining(ctx, lat, lon)
	if err == nil {
		return domain.ResolvedDistrict{Region: region, Method: domain.DistrictResolvePolygon}, nil
	}
	if !errors.Is(err, repository.ErrRegionNotFound) {
		return domain.ResolvedDistrict{Method: domain.DistrictResolveNone}, fmt.Errorf("%s: %w", op, err)
	}

	// Точка вне всех полигонов: ближайший центроид в пределах лимита
	if nearest := r.nearestCachedCentroid(ctx, lat, lon); nearest != nil {
		return domain.ResolvedDistrict{Region: nearest, Method: domain.DistrictResolveCentroid}, nil
	}

	// Последний рубеж: токен района из адресной строки
	if token := address.ExtractDistrictToken(rawAddress); token != nil {
		if region := r.matchByName(ctx, *token); region != nil {
			return domain.ResolvedDistrict{Region: region, Method: domain.DistrictResolveAddress}, nil
		}
	}

	return domain.ResolvedDistrict{Method: domain.DistrictResolveNone}, nil
}

// nearestCachedCentroid ищет ближайший центроид по кэшу полигонов.
// Из равных по расстоянию предпочитается более глубокий уровень.
func (r *Resolver) nearestCachedCentroid(ctx context.Context, lat, lon float64) *domain.Region {
	regions := r.regions(ctx)
	if len(regions) == 0 {
		// Кэш недоступен: одиночный запрос в хранилище
		nearest, err := r.repo.NearestCentroid(ctx, lat, lon, r.centroidCapKm)
		if err != nil {
			return nil
		}
		return nearest
	}

	var best *domain.Region
	bestDist := r.centroidCapKm

	for i := range regions {
		region := &regions[i]
		d := geo.HaversineKm(lat, lon, region.CentroidLat, region.CentroidLon)
		if d < bestDist || (best != nil && d == bestDist && region.Level > best.Level) {
			best = region
			bestDist = d
		}
	}

	return best
}

func (r *Resolver) matchByName(ctx context.Context, token string) *domain.Region {
	token = strings.ToLower(token)

	var best *domain.Region
	for _, region := range r.regions(ctx) {
		if strings.Contains(strings.ToLower(region.Name), token) {
			if best == nil || region.Level > best.Level {
				candidate := region
				best = &candidate
			}
		}
	}
	if best != nil {
		return best
	}

	region, err := r.repo.FindByNameToken(ctx, token)
	if err != nil {
		return nil
	}
	return region
}

// regions — кэш метаданных регионов с периодическим обновлением.
func (r *Resolver) regions(ctx context.Context) []domain.Region {
	r.mu.RLock()
	if r.cached != nil && time.Since(r.cachedAt) < r.refreshSpan {
		defer r.mu.RUnlock()
		return r.cached
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && time.Since(r.cachedAt) < r.refreshSpan {
		return r.cached
	}

	regions, err := r.repo.ListAll(ctx)
	if err != nil {
		r.log.Warn("failed to refresh region cache", sl.Err(err))
		return r.cached
	}

	r.cached = regions
	r.cachedAt = time.Now()
	return r.cached
}
