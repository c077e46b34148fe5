package grid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/logger/sl"
	"flat_appraisal/internal/lib/stats"
	"flat_appraisal/internal/repository"
	"flat_appraisal/internal/repository/listing_repository"
	"log/slog"

	"github.com/samber/lo"
)

// GridRepository — хранилище дневных агрегатов.
type GridRepository interface {
	UpsertAggregate(ctx context.Context, a domain.GridAggregate) error
	LatestExact(ctx context.Context, regionID, segmentID int64) (domain.GridAggregate, error)
	LatestForSegments(ctx context.Context, regionID int64, segmentIDs []int64) (domain.GridAggregate, error)
	LatestForRegion(ctx context.Context, regionID int64) (domain.GridAggregate, error)
	GlobalMeanPSM(ctx context.Context, windowDays int) (float64, int, error)
}

// ListingRepository — сырьё для пересчёта и пометка устаревших объявлений.
type ListingRepository interface {
	ActiveForAggregation(ctx context.Context, since time.Time) ([]listing_repository.AggregationRow, error)
	MarkStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// Service — агрегатор сетки (регион × сегмент) с каскадом ослаблений.
type Service struct {
	log         *slog.Logger
	gridRepo    GridRepository
	listingRepo ListingRepository
	windowDays  int
	staleDays   int
	now         func() time.Time
}

func New(log *slog.Logger, gridRepo GridRepository, listingRepo ListingRepository, cfg config.GridConfig) *Service {
	return &Service{
		log:         log,
		gridRepo:    gridRepo,
		listingRepo: listingRepo,
		windowDays:  cfg.WindowDays,
		staleDays:   cfg.StaleDays,
		now:         time.Now,
	}
}

// fallbackPenalty — ступень понижения доверия за каждый уровень каскада.
const fallbackPenalty = 10

// Estimate — каскад: точный (регион, сегмент) → ослабление этажности →
// ослабление типа дома → весь регион → общегородское среднее за окно.
// Каждый уровень требует выборку от MinGridSamples; доверие монотонно падает.
func (s *Service) Estimate(ctx context.Context, regionID int64, segment domain.PropertySegment) (domain.GridEstimate, error) {
	const op = "grid.Service.Estimate"

	type cascadeStep struct {
		level domain.GridFallbackLevel
		fetch func(context.Context) (domain.GridAggregate, error)
	}

	steps := []cascadeStep{
		{domain.GridFallbackExact, func(ctx context.Context) (domain.GridAggregate, error) {
			return s.gridRepo.LatestExact(ctx, regionID, segment.ID())
		}},
		{domain.GridFallbackRelaxHeight, func(ctx context.Context) (domain.GridAggregate, error) {
			return s.gridRepo.LatestForSegments(ctx, regionID, relaxHeight(segment))
		}},
		{domain.GridFallbackRelaxType, func(ctx context.Context) (domain.GridAggregate, error) {
			return s.gridRepo.LatestForSegments(ctx, regionID, relaxType(segment))
		}},
		{domain.GridFallbackRegionOnly, func(ctx context.Context) (domain.GridAggregate, error) {
			return s.gridRepo.LatestForRegion(ctx, regionID)
		}},
		{domain.GridFallbackGlobal, s.globalAggregate},
	}

	for _, step := range steps {
		agg, err := step.fetch(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrAggregateNotFound) || errors.Is(err, domain.ErrInsufficientData) {
				continue
			}
			return domain.GridEstimate{}, fmt.Errorf("%s: %w", op, err)
		}
		if agg.SampleCount < domain.MinGridSamples {
			continue
		}

		conf := agg.Confidence - int(step.level)*fallbackPenalty
		if conf < 0 {
			conf = 0
		}

		return domain.GridEstimate{
			Aggregate:  agg,
			Level:      step.level,
			Confidence: conf,
		}, nil
	}

	return domain.GridEstimate{}, fmt.Errorf("%s: %w", op, domain.ErrInsufficientData)
}

// globalAggregate — последний уровень каскада: среднее по городу за окно.
func (s *Service) globalAggregate(ctx context.Context) (domain.GridAggregate, error) {
	psm, n, err := s.gridRepo.GlobalMeanPSM(ctx, s.windowDays)
	if err != nil {
		return domain.GridAggregate{}, err
	}
	if n < domain.MinGridSamples {
		return domain.GridAggregate{}, domain.ErrInsufficientData
	}

	return domain.GridAggregate{
		Day:         s.now().Truncate(24 * time.Hour),
		AvgPSM:      psm,
		MedianPSM:   psm,
		SampleCount: n,
		Confidence:  sampleConfidence(n),
	}, nil
}

// relaxHeight — сегменты того же типа дома и комнат по всем этажностям.
func relaxHeight(segment domain.PropertySegment) []int64 {
	heights := []domain.BuildingHeight{domain.BuildingHeightLow, domain.BuildingHeightMedium, domain.BuildingHeightHigh}
	ids := make([]int64, 0, len(heights))
	for _, h := range heights {
		ids = append(ids, domain.PropertySegment{
			BuildingType:   segment.BuildingType,
			BuildingHeight: h,
			RoomsCount:     segment.RoomsCount,
		}.ID())
	}
	return ids
}

// relaxType — сегменты тех же комнат по всем типам дома и этажностям.
func relaxType(segment domain.PropertySegment) []int64 {
	types := []domain.BuildingType{
		domain.BuildingTypeUnknown, domain.BuildingTypePanel, domain.BuildingTypeBrick,
		domain.BuildingTypeMonolithic, domain.BuildingTypeBlock, domain.BuildingTypeWood,
		domain.BuildingTypeOther,
	}
	heights := []domain.BuildingHeight{domain.BuildingHeightLow, domain.BuildingHeightMedium, domain.BuildingHeightHigh}

	ids := make([]int64, 0, len(types)*len(heights))
	for _, t := range types {
		for _, h := range heights {
			ids = append(ids, domain.PropertySegment{
				BuildingType:   t,
				BuildingHeight: h,
				RoomsCount:     segment.RoomsCount,
			}.ID())
		}
	}
	return ids
}

// Recompute — дневной пересчёт агрегатов по всем парам (регион × сегмент)
// с выборкой от трёх объявлений, плюс пометка устаревших объявлений.
func (s *Service) Recompute(ctx context.Context) error {
	const op = "grid.Service.Recompute"

	now := s.now()
	rows, err := s.listingRepo.ActiveForAggregation(ctx, now.AddDate(0, 0, -s.windowDays))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	type groupKey struct {
		regionID  int64
		segmentID int64
	}
	groups := make(map[groupKey][]listing_repository.AggregationRow)

	for _, row := range rows {
		if row.AreaTotal <= 0 || row.CurrentPrice <= 0 {
			continue
		}
		var floors, rooms int32
		if row.TotalFloors != nil {
			floors = *row.TotalFloors
		}
		if row.Rooms != nil {
			rooms = *row.Rooms
		}
		segment := domain.NewSegment(row.BuildingType, floors, rooms)
		key := groupKey{regionID: row.RegionID, segmentID: segment.ID()}
		groups[key] = append(groups[key], row)
	}

	day := now.Truncate(24 * time.Hour)
	written := 0

	for key, group := range groups {
		if len(group) < domain.MinGridSamples {
			continue
		}

		psms := lo.Map(group, func(row listing_repository.AggregationRow, _ int) float64 {
			return float64(row.CurrentPrice) / row.AreaTotal
		})
		prices := lo.Map(group, func(row listing_repository.AggregationRow, _ int) int64 {
			return row.CurrentPrice
		})

		agg := domain.GridAggregate{
			RegionID:    key.regionID,
			SegmentID:   key.segmentID,
			Day:         day,
			AvgPSM:      stats.Mean(psms),
			MedianPSM:   stats.Median(psms),
			MinPrice:    lo.Min(prices),
			MaxPrice:    lo.Max(prices),
			StdDevPSM:   stats.StdDev(psms),
			SampleCount: len(psms),
			Confidence:  sampleConfidence(len(psms)),
		}

		if err := s.gridRepo.UpsertAggregate(ctx, agg); err != nil {
			s.log.Error("failed to upsert aggregate",
				slog.Int64("region_id", key.regionID),
				slog.Int64("segment_id", key.segmentID),
				sl.Err(err))
			continue
		}
		written++
	}

	stale, err := s.listingRepo.MarkStale(ctx, now.AddDate(0, 0, -s.staleDays))
	if err != nil {
		s.log.Error("failed to mark stale listings", sl.Err(err))
	}

	s.log.Info("grid recompute finished",
		slog.Int("groups", len(groups)),
		slog.Int("aggregates_written", written),
		slog.Int64("listings_marked_stale", stale),
	)

	return nil
}

// sampleConfidence — доверие агрегата от размера выборки: min(100, 20 + ⌊n/5⌋·10).
func sampleConfidence(n int) int {
	conf := 20 + n/5*10
	if conf > 100 {
		conf = 100
	}
	return conf
}
