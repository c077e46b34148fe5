package deal_repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/geo"
	"flat_appraisal/internal/repository"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DealRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewDealRepository(db *pgxpool.Pool, log *slog.Logger) *DealRepository {
	return &DealRepository{db: db, log: log}
}

// InsertDeal — сохраняет зарегистрированную сделку. Записи неизменяемы.
func (r *DealRepository) InsertDeal(ctx context.Context, d domain.Deal) (int64, error) {
	const op = "DealRepository.InsertDeal"

	query := `
		INSERT INTO deals (
			street, area, deal_price, price_per_sqm,
			year_build, floor, wall_material, lat, lon, deal_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRow(ctx, query,
		d.Street, d.Area, d.DealPrice, d.PricePerSqm,
		d.YearBuild, d.Floor, d.WallMaterial.String(), d.Lat, d.Lon, d.DealDate,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return id, nil
}

// GetByID — сделка по идентификатору.
func (r *DealRepository) GetByID(ctx context.Context, id int64) (domain.Deal, error) {
	const op = "DealRepository.GetByID"

	query := `
		SELECT id, street, area, deal_price, price_per_sqm,
		       year_build, floor, wall_material, lat, lon, deal_date
		FROM deals
		WHERE id = $1
	`

	d, err := scanDeal(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deal{}, fmt.Errorf("%s: %w", op, repository.ErrDealNotFound)
		}
		return domain.Deal{}, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return d, nil
}

// SearchParams — параметры выборки сделок-кандидатов.
type SearchParams struct {
	BBox geo.BoundingBox
	// MinArea/MaxArea — коридор площади (±20 % от целевой)
	MinArea float64
	MaxArea float64
	// DealDateAfter — нижняя граница давности сделки
	DealDateAfter time.Time
	Limit         int
}

// SearchCandidates — сделки с координатами внутри рамки и площадью в коридоре.
func (r *DealRepository) SearchCandidates(ctx context.Context, p SearchParams) ([]domain.Deal, error) {
	const op = "DealRepository.SearchCandidates"

	query := `
		SELECT id, street, area, deal_price, price_per_sqm,
		       year_build, floor, wall_material, lat, lon, deal_date
		FROM deals
		WHERE lat IS NOT NULL AND lon IS NOT NULL
		  AND lat BETWEEN $1 AND $2
		  AND lon BETWEEN $3 AND $4
		  AND area BETWEEN $5 AND $6
		  AND deal_date >= $7
		ORDER BY id
		LIMIT $8
	`

	limit := p.Limit
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.Query(ctx, query,
		p.BBox.MinLat, p.BBox.MaxLat, p.BBox.MinLon, p.BBox.MaxLon,
		p.MinArea, p.MaxArea, p.DealDateAfter, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}
	defer rows.Close()

	var deals []domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", op, err)
		}
		deals = append(deals, d)
	}

	return deals, repository.MapStoreError(rows.Err())
}

func scanDeal(row pgx.Row) (domain.Deal, error) {
	var d domain.Deal
	var wallMaterialStr string

	err := row.Scan(
		&d.ID,
		&d.Street,
		&d.Area,
		&d.DealPrice,
		&d.PricePerSqm,
		&d.YearBuild,
		&d.Floor,
		&wallMaterialStr,
		&d.Lat,
		&d.Lon,
		&d.DealDate,
	)
	if err != nil {
		return domain.Deal{}, err
	}

	d.WallMaterial = domain.ParseBuildingType(wallMaterialStr)
	return d, nil
}
