package grid_repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/repository"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type GridRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewGridRepository(db *pgxpool.Pool, log *slog.Logger) *GridRepository {
	return &GridRepository{db: db, log: log}
}

// UpsertAggregate — записывает дневной агрегат. Повторный пересчёт за день
// перезаписывает строку по первичному ключу (region_id, segment_id, day).
func (r *GridRepository) UpsertAggregate(ctx context.Context, a domain.GridAggregate) error {
	const op = "GridRepository.UpsertAggregate"

	query := `
		INSERT INTO grid_aggregates (
			region_id, segment_id, day,
			avg_psm, median_psm, min_price, max_price,
			stddev_psm, sample_count, confidence
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (region_id, segment_id, day) DO UPDATE SET
			avg_psm      = EXCLUDED.avg_psm,
			median_psm   = EXCLUDED.median_psm,
			min_price    = EXCLUDED.min_price,
			max_price    = EXCLUDED.max_price,
			stddev_psm   = EXCLUDED.stddev_psm,
			sample_count = EXCLUDED.sample_count,
			confidence   = EXCLUDED.confidence
	`

	_, err := r.db.Exec(ctx, query,
		a.RegionID, a.SegmentID, a.Day,
		a.AvgPSM, a.MedianPSM, a.MinPrice, a.MaxPrice,
		a.StdDevPSM, a.SampleCount, a.Confidence,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return nil
}

// LatestExact — последний агрегат по паре (регион, сегмент).
func (r *GridRepository) LatestExact(ctx context.Context, regionID, segmentID int64) (domain.GridAggregate, error) {
	const op = "GridRepository.LatestExact"

	query := `
		SELECT region_id, segment_id, day,
		       avg_psm, median_psm, min_price, max_price,
		       stddev_psm, sample_count, confidence
		FROM grid_aggregates
		WHERE region_id = $1 AND segment_id = $2
		ORDER BY day DESC
		LIMIT 1
	`

	a, err := scanAggregate(r.db.QueryRow(ctx, query, regionID, segmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GridAggregate{}, fmt.Errorf("%s: %w", op, repository.ErrAggregateNotFound)
		}
		return domain.GridAggregate{}, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return a, nil
}

// LatestForSegments — объединённый агрегат по набору сегментов региона
// (уровни каскада с ослаблением этажности или типа дома).
// Средние взвешиваются размером выборки; медиана берётся так же взвешенно.
func (r *GridRepository) LatestForSegments(ctx context.Context, regionID int64, segmentIDs []int64) (domain.GridAggregate, error) {
	const op = "GridRepository.LatestForSegments"

	query := `
		WITH latest AS (
			SELECT DISTINCT ON (segment_id)
				region_id, segment_id, day,
				avg_psm, median_psm, min_price, max_price,
				stddev_psm, sample_count, confidence
			FROM grid_aggregates
			WHERE region_id = $1 AND segment_id = ANY($2)
			ORDER BY segment_id, day DESC
		)
		SELECT
			$1::bigint,
			0::bigint,
			MAX(day),
			SUM(avg_psm * sample_count) / NULLIF(SUM(sample_count), 0),
			SUM(median_psm * sample_count) / NULLIF(SUM(sample_count), 0),
			MIN(min_price),
			MAX(max_price),
			MAX(stddev_psm),
			COALESCE(SUM(sample_count), 0)::int,
			COALESCE(MIN(confidence), 0)::int
		FROM latest
		HAVING SUM(sample_count) > 0
	`

	a, err := scanAggregate(r.db.QueryRow(ctx, query, regionID, segmentIDs))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GridAggregate{}, fmt.Errorf("%s: %w", op, repository.ErrAggregateNotFound)
		}
		return domain.GridAggregate{}, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return a, nil
}

// LatestForRegion — объединённый агрегат по всем сегментам региона.
func (r *GridRepository) LatestForRegion(ctx context.Context, regionID int64) (domain.GridAggregate, error) {
	const op = "GridRepository.LatestForRegion"

	query := `
		WITH latest AS (
			SELECT DISTINCT ON (segment_id)
				segment_id, day, avg_psm, median_psm,
				min_price, max_price, stddev_psm, sample_count, confidence
			FROM grid_aggregates
			WHERE region_id = $1
			ORDER BY segment_id, day DESC
		)
		SELECT
			$1::bigint,
			0::bigint,
			MAX(day),
			SUM(avg_psm * sample_count) / NULLIF(SUM(sample_count), 0),
			SUM(median_psm * sample_count) / NULLIF(SUM(sample_count), 0),
			MIN(min_price),
			MAX(max_price),
			MAX(stddev_psm),
			COALESCE(SUM(sample_count), 0)::int,
			COALESCE(MIN(confidence), 0)::int
		FROM latest
		HAVING SUM(sample_count) > 0
	`

	a, err := scanAggregate(r.db.QueryRow(ctx, query, regionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GridAggregate{}, fmt.Errorf("%s: %w", op, repository.ErrAggregateNotFound)
		}
		return domain.GridAggregate{}, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return a, nil
}

// GlobalMeanPSM — средняя цена за м² по всем активным объявлениям города за окно.
// Последний уровень каскада.
func (r *GridRepository) GlobalMeanPSM(ctx context.Context, windowDays int) (float64, int, error) {
	const op = "GridRepository.GlobalMeanPSM"

	query := `
		SELECT COALESCE(AVG(lp.price / l.area_total), 0), COUNT(*)
		FROM listings l
		JOIN LATERAL (
			SELECT price FROM listing_prices
			WHERE listing_id = l.id
			ORDER BY seen_at DESC
			LIMIT 1
		) lp ON true
		WHERE l.is_active
		  AND l.area_total > 0
		  AND l.last_seen_at >= NOW() - make_interval(days => $1)
	`

	var psm float64
	var n int
	if err := r.db.QueryRow(ctx, query, windowDays).Scan(&psm, &n); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return psm, n, nil
}

func scanAggregate(row pgx.Row) (domain.GridAggregate, error) {
	var a domain.GridAggregate
	var day time.Time
	err := row.Scan(
		&a.RegionID,
		&a.SegmentID,
		&day,
		&a.AvgPSM,
		&a.MedianPSM,
		&a.MinPrice,
		&a.MaxPrice,
		&a.StdDevPSM,
		&a.SampleCount,
		&a.Confidence,
	)
	if err != nil {
		return domain.GridAggregate{}, err
	}
	a.Day = day
	return a, nil
}
