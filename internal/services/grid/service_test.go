package grid

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/repository"
	"flat_appraisal/internal/repository/listing_repository"
)

type MockGridRepository struct {
	UpsertAggregateFunc   func(ctx context.Context, a domain.GridAggregate) error
	LatestExactFunc       func(ctx context.Context, regionID, segmentID int64) (domain.GridAggregate, error)
	LatestForSegmentsFunc func(ctx context.Context, regionID int64, segmentIDs []int64) (domain.GridAggregate, error)
	LatestForRegionFunc   func(ctx context.Context, regionID int64) (domain.GridAggregate, error)
	GlobalMeanPSMFunc     func(ctx context.Context, windowDays int) (float64, int, error)
}

func (m *MockGridRepository) UpsertAggregate(ctx context.Context, a domain.GridAggregate) error {
	return m.UpsertAggregateFunc(ctx, a)
}

func (m *MockGridRepository) LatestExact(ctx context.Context, regionID, segmentID int64) (domain.GridAggregate, error) {
	return m.LatestExactFunc(ctx, regionID, segmentID)
}

func (m *MockGridRepository) LatestForSegments(ctx context.Context, regionID int64, segmentIDs []int64) (domain.GridAggregate, error) {
	return m.LatestForSegmentsFunc(ctx, regionID, segmentIDs)
}

func (m *MockGridRepository) LatestForRegion(ctx context.Context, regionID int64) (domain.GridAggregate, error) {
	return m.LatestForRegionFunc(ctx, regionID)
}

func (m *MockGridRepository) GlobalMeanPSM(ctx context.Context, windowDays int) (float64, int, error) {
	return m.GlobalMeanPSMFunc(ctx, windowDays)
}

type MockListingRepository struct {
	ActiveForAggregationFunc func(ctx context.Context, since time.Time) ([]listing_repository.AggregationRow, error)
	MarkStaleFunc            func(ctx context.Context, olderThan time.Time) (int64, error)
}

func (m *MockListingRepository) ActiveForAggregation(ctx context.Context, since time.Time) ([]listing_repository.AggregationRow, error) {
	return m.ActiveForAggregationFunc(ctx, since)
}

func (m *MockListingRepository) MarkStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return m.MarkStaleFunc(ctx, olderThan)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func i32(v int32) *int32 { return &v }

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestService(gridRepo *MockGridRepository, listingRepo *MockListingRepository) *Service {
	s := New(testLogger(), gridRepo, listingRepo, config.GridConfig{WindowDays: 90, StaleDays: 30})
	s.now = func() time.Time { return testNow }
	return s
}

// notFoundRepo — каскад проходит все уровни впустую.
func notFoundRepo() *MockGridRepository {
	return &MockGridRepository{
		LatestExactFunc: func(_ context.Context, regionID, segmentID int64) (domain.GridAggregate, error) {
			return domain.GridAggregate{}, repository.ErrAggregateNotFound
		},
		LatestForSegmentsFunc: func(_ context.Context, regionID int64, segmentIDs []int64) (domain.GridAggregate, error) {
			return domain.GridAggregate{}, repository.ErrAggregateNotFound
		},
		LatestForRegionFunc: func(_ context.Context, regionID int64) (domain.GridAggregate, error) {
			return domain.GridAggregate{}, repository.ErrAggregateNotFound
		},
		GlobalMeanPSMFunc: func(_ context.Context, windowDays int) (float64, int, error) {
			return 0, 0, repository.ErrAggregateNotFound
		},
	}
}

var testSegment = domain.NewSegment(domain.BuildingTypePanel, 9, 2)

func TestService_EstimateExactLevel(t *testing.T) {
	repo := notFoundRepo()
	repo.LatestExactFunc = func(_ context.Context, regionID, segmentID int64) (domain.GridAggregate, error) {
		if regionID != 7 || segmentID != testSegment.ID() {
			t.Errorf("exact lookup (%d, %d), want (7, %d)", regionID, segmentID, testSegment.ID())
		}
		return domain.GridAggregate{MedianPSM: 300_000, SampleCount: 12, Confidence: 40}, nil
	}

	est, err := newTestService(repo, nil).Estimate(context.Background(), 7, testSegment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if est.Level != domain.GridFallbackExact {
		t.Errorf("level = %v, want exact", est.Level)
	}
	// Точный уровень без штрафа
	if est.Confidence != 40 {
		t.Errorf("confidence = %d, want 40", est.Confidence)
	}
}

func TestService_EstimateCascadePenalty(t *testing.T) {
	// Точного агрегата нет, находит на уровне региона:
	// три ступени каскада ⇒ −30 к доверию.
	repo := notFoundRepo()
	repo.LatestForRegionFunc = func(_ context.Context, regionID int64) (domain.GridAggregate, error) {
		return domain.GridAggregate{MedianPSM: 280_000, SampleCount: 40, Confidence: 100}, nil
	}

	est, err := newTestService(repo, nil).Estimate(context.Background(), 7, testSegment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if est.Level != domain.GridFallbackRegionOnly {
		t.Errorf("level = %v, want region_only", est.Level)
	}
	if est.Confidence != 70 {
		t.Errorf("confidence = %d, want 70 (100 − 3·10)", est.Confidence)
	}
}

func TestService_EstimateSkipsThinAggregates(t *testing.T) {
	// Точный агрегат есть, но выборка меньше трёх: каскад идёт дальше.
	repo := notFoundRepo()
	repo.LatestExactFunc = func(_ context.Context, regionID, segmentID int64) (domain.GridAggregate, error) {
		return domain.GridAggregate{MedianPSM: 310_000, SampleCount: 2, Confidence: 20}, nil
	}
	repo.LatestForSegmentsFunc = func(_ context.Context, regionID int64, segmentIDs []int64) (domain.GridAggregate, error) {
		return domain.GridAggregate{MedianPSM: 295_000, SampleCount: 8, Confidence: 30}, nil
	}

	est, err := newTestService(repo, nil).Estimate(context.Background(), 7, testSegment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if est.Level != domain.GridFallbackRelaxHeight {
		t.Errorf("level = %v, want relax_height", est.Level)
	}
	if est.Aggregate.MedianPSM != 295_000 {
		t.Errorf("psm = %v, want 295000", est.Aggregate.MedianPSM)
	}
	if est.Confidence != 20 {
		t.Errorf("confidence = %d, want 20 (30 − 10)", est.Confidence)
	}
}

func TestService_EstimateGlobalLevel(t *testing.T) {
	repo := notFoundRepo()
	repo.GlobalMeanPSMFunc = func(_ context.Context, windowDays int) (float64, int, error) {
		if windowDays != 90 {
			t.Errorf("windowDays = %d, want 90", windowDays)
		}
		return 265_000, 1000, nil
	}

	est, err := newTestService(repo, nil).Estimate(context.Background(), 7, testSegment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if est.Level != domain.GridFallbackGlobal {
		t.Errorf("level = %v, want global", est.Level)
	}
	if est.Aggregate.MedianPSM != 265_000 {
		t.Errorf("psm = %v, want 265000", est.Aggregate.MedianPSM)
	}
	// sampleConfidence(1000) = 100, минус четыре ступени каскада
	if est.Confidence != 60 {
		t.Errorf("confidence = %d, want 60", est.Confidence)
	}
}

func TestService_EstimateNothingFound(t *testing.T) {
	_, err := newTestService(notFoundRepo(), nil).Estimate(context.Background(), 7, testSegment)
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestService_EstimateStorageFailureIsFatal(t *testing.T) {
	repo := notFoundRepo()
	repo.LatestExactFunc = func(_ context.Context, regionID, segmentID int64) (domain.GridAggregate, error) {
		return domain.GridAggregate{}, errors.New("connection refused")
	}

	_, err := newTestService(repo, nil).Estimate(context.Background(), 7, testSegment)
	if err == nil || errors.Is(err, domain.ErrInsufficientData) {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestService_Recompute(t *testing.T) {
	row := func(regionID int64, floors, rooms int32, area float64, price int64) listing_repository.AggregationRow {
		return listing_repository.AggregationRow{
			RegionID:     regionID,
			BuildingType: domain.BuildingTypePanel,
			TotalFloors:  i32(floors),
			Rooms:        i32(rooms),
			AreaTotal:    area,
			CurrentPrice: price,
		}
	}

	rows := []listing_repository.AggregationRow{
		// Регион 1, один сегмент, четыре объявления
		row(1, 9, 2, 50, 15_000_000),
		row(1, 9, 2, 52, 15_600_000),
		row(1, 9, 2, 48, 14_400_000),
		row(1, 9, 2, 50, 16_000_000),
		// Регион 2 — всего два объявления, агрегат не публикуется
		row(2, 9, 2, 50, 12_000_000),
		row(2, 9, 2, 51, 12_500_000),
		// Мусорная строка отбрасывается до группировки
		row(1, 9, 2, 0, 15_000_000),
	}

	var upserted []domain.GridAggregate
	gridRepo := &MockGridRepository{
		UpsertAggregateFunc: func(_ context.Context, a domain.GridAggregate) error {
			upserted = append(upserted, a)
			return nil
		},
	}

	var staleCutoff time.Time
	listingRepo := &MockListingRepository{
		ActiveForAggregationFunc: func(_ context.Context, since time.Time) ([]listing_repository.AggregationRow, error) {
			if want := testNow.AddDate(0, 0, -90); !since.Equal(want) {
				t.Errorf("since = %v, want %v", since, want)
			}
			return rows, nil
		},
		MarkStaleFunc: func(_ context.Context, olderThan time.Time) (int64, error) {
			staleCutoff = olderThan
			return 5, nil
		},
	}

	if err := newTestService(gridRepo, listingRepo).Recompute(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(upserted) != 1 {
		t.Fatalf("aggregates written = %d, want 1", len(upserted))
	}

	agg := upserted[0]
	if agg.RegionID != 1 {
		t.Errorf("region = %d, want 1", agg.RegionID)
	}
	if agg.SampleCount != 4 {
		t.Errorf("samples = %d, want 4", agg.SampleCount)
	}
	if agg.MinPrice != 14_400_000 || agg.MaxPrice != 16_000_000 {
		t.Errorf("price range = [%d, %d], want [14400000, 16000000]", agg.MinPrice, agg.MaxPrice)
	}
	if agg.MedianPSM <= 0 || agg.AvgPSM <= 0 || agg.StdDevPSM <= 0 {
		t.Errorf("statistics not populated: %+v", agg)
	}
	if !agg.Day.Equal(testNow.Truncate(24 * time.Hour)) {
		t.Errorf("day = %v, want truncated now", agg.Day)
	}
	if agg.Confidence != sampleConfidence(4) {
		t.Errorf("confidence = %d, want %d", agg.Confidence, sampleConfidence(4))
	}

	if want := testNow.AddDate(0, 0, -30); !staleCutoff.Equal(want) {
		t.Errorf("stale cutoff = %v, want %v", staleCutoff, want)
	}
}

func TestService_RecomputeMarkStaleFailureIsNotFatal(t *testing.T) {
	gridRepo := &MockGridRepository{
		UpsertAggregateFunc: func(_ context.Context, a domain.GridAggregate) error { return nil },
	}
	listingRepo := &MockListingRepository{
		ActiveForAggregationFunc: func(_ context.Context, since time.Time) ([]listing_repository.AggregationRow, error) {
			return nil, nil
		},
		MarkStaleFunc: func(_ context.Context, olderThan time.Time) (int64, error) {
			return 0, errors.New("lock timeout")
		},
	}

	if err := newTestService(gridRepo, listingRepo).Recompute(context.Background()); err != nil {
		t.Errorf("mark stale failure must not fail the recompute: %v", err)
	}
}

func TestSampleConfidence(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{3, 20},
		{5, 30},
		{9, 30},
		{10, 40},
		{25, 70},
		{40, 100},
		{1000, 100},
	}

	for _, tt := range tests {
		if got := sampleConfidence(tt.n); got != tt.want {
			t.Errorf("sampleConfidence(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestRelaxHeight(t *testing.T) {
	ids := relaxHeight(testSegment)
	if len(ids) != 3 {
		t.Fatalf("ids = %d, want 3 (по числу корзин этажности)", len(ids))
	}

	seen := map[int64]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate segment id %d", id)
		}
		seen[id] = true
	}
	if !seen[testSegment.ID()] {
		t.Error("relaxed set must contain the original segment")
	}
}

func TestRelaxType(t *testing.T) {
	ids := relaxType(testSegment)
	if len(ids) != 21 {
		t.Fatalf("ids = %d, want 21 (7 типов × 3 корзины)", len(ids))
	}

	seen := map[int64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[testSegment.ID()] {
		t.Error("relaxed set must contain the original segment")
	}
}

func TestRecompute_PSMStatistics(t *testing.T) {
	// Проверка самих чисел: три одинаковые площади, psm 280k/300k/320k.
	rows := []listing_repository.AggregationRow{
		{RegionID: 1, BuildingType: domain.BuildingTypeBrick, AreaTotal: 50, CurrentPrice: 14_000_000},
		{RegionID: 1, BuildingType: domain.BuildingTypeBrick, AreaTotal: 50, CurrentPrice: 15_000_000},
		{RegionID: 1, BuildingType: domain.BuildingTypeBrick, AreaTotal: 50, CurrentPrice: 16_000_000},
	}

	var agg domain.GridAggregate
	gridRepo := &MockGridRepository{
		UpsertAggregateFunc: func(_ context.Context, a domain.GridAggregate) error {
			agg = a
			return nil
		},
	}
	listingRepo := &MockListingRepository{
		ActiveForAggregationFunc: func(_ context.Context, since time.Time) ([]listing_repository.AggregationRow, error) {
			return rows, nil
		},
		MarkStaleFunc: func(_ context.Context, olderThan time.Time) (int64, error) { return 0, nil },
	}

	if err := newTestService(gridRepo, listingRepo).Recompute(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(agg.AvgPSM-300_000) > 1e-6 {
		t.Errorf("avg psm = %v, want 300000", agg.AvgPSM)
	}
	if agg.MedianPSM != 300_000 {
		t.Errorf("median psm = %v, want 300000", agg.MedianPSM)
	}
}
