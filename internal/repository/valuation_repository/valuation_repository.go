package valuation_repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/repository"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ValuationRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewValuationRepository(db *pgxpool.Pool, log *slog.Logger) *ValuationRepository {
	return &ValuationRepository{db: db, log: log}
}

// InsertValuation — сохраняет снимок оценки и её аналоги одной транзакцией.
func (r *ValuationRepository) InsertValuation(ctx context.Context, rec domain.ValuationRecord) error {
	const op = "ValuationRepository.InsertValuation"

	requestJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	var investmentJSON []byte
	if rec.Investment != nil {
		investmentJSON, err = json.Marshal(rec.Investment)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal investment: %w", op, err)
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO valuations (
			id, region_id, segment_id, request,
			estimated_price, estimated_price_per_sqm,
			price_range_low, price_range_high,
			confidence, method_used, grid_weight, knn_weight,
			investment, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = tx.Exec(ctx, query,
		rec.ID, rec.RegionID, rec.SegmentID, requestJSON,
		rec.Estimate.EstimatedPrice, rec.Estimate.EstimatedPricePerSqm,
		rec.Estimate.PriceRangeLow, rec.Estimate.PriceRangeHigh,
		rec.Estimate.Confidence, string(rec.Estimate.Method),
		rec.Estimate.GridWeight, rec.Estimate.KNNWeight,
		investmentJSON, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	comparables := make([]domain.Comparable, 0, len(rec.Estimate.Comparables)+len(rec.Estimate.Deals))
	comparables = append(comparables, rec.Estimate.Comparables...)
	comparables = append(comparables, rec.Estimate.Deals...)

	if len(comparables) > 0 {
		if err := insertComparables(ctx, tx, rec.ID, comparables); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return nil
}

func insertComparables(ctx context.Context, tx pgx.Tx, valuationID uuid.UUID, comparables []domain.Comparable) error {
	const cols = 10

	placeholders := make([]string, 0, len(comparables))
	params := make([]interface{}, 0, len(comparables)*cols)

	for i, c := range comparables {
		base := i * cols
		marks := make([]string, cols)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")
		params = append(params,
			valuationID, string(c.Source), c.SourceID,
			c.Similarity, c.Weight, c.DistanceKm, c.AgeDays,
			c.PricePerSqm, c.RawPricePerSqm, c.TotalPrice,
		)
	}

	query := `
		INSERT INTO valuation_comparables (
			valuation_id, source, source_id,
			similarity, weight, distance_km, age_days,
			price_per_sqm, raw_price_per_sqm, total_price
		)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := tx.Exec(ctx, query, params...)
	return err
}

// ValuationRow — строка списка оценок для аудита.
type ValuationRow struct {
	ID             uuid.UUID
	RegionID       *int64
	EstimatedPrice float64
	Confidence     int
	Method         domain.MethodTag
	CreatedAt      time.Time
}

// ListValuations — история оценок с cursor-пагинацией по (created_at, id).
func (r *ValuationRepository) ListValuations(ctx context.Context, p domain.PaginationParams) (*domain.PaginatedResult[ValuationRow], error) {
	const op = "ValuationRepository.ListValuations"

	pageSize := int(domain.NormalizePageSize(p.PageSize))

	cursor, err := domain.DecodePageCursor(p.PageToken)
	if err != nil {
		r.log.Warn("failed to decode page cursor, starting from beginning", "error", err)
		cursor = nil
	}

	query := `
		SELECT id, region_id, estimated_price, confidence, method_used, created_at
		FROM valuations
	`
	params := []interface{}{}
	if cursor != nil {
		query += ` WHERE (created_at, id) < ($1, $2)`
		params = append(params, cursor.LastCreatedAt, cursor.LastID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(params)+1)
	params = append(params, pageSize+1)

	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}
	defer rows.Close()

	var items []ValuationRow
	for rows.Next() {
		var row ValuationRow
		var methodStr string
		if err := rows.Scan(&row.ID, &row.RegionID, &row.EstimatedPrice, &row.Confidence, &methodStr, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", op, err)
		}
		row.Method = domain.MethodTag(methodStr)
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, repository.MapStoreError(err))
	}

	hasMore := len(items) > pageSize
	if hasMore {
		items = items[:pageSize]
	}

	var nextPageToken string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor := &domain.PageCursor{
			LastID:        last.ID,
			LastCreatedAt: last.CreatedAt,
		}
		nextPageToken = nextCursor.Encode()
	}

	return &domain.PaginatedResult[ValuationRow]{
		Items:         items,
		NextPageToken: nextPageToken,
		HasMore:       hasMore,
	}, nil
}
