package region_repository

import (
	"context"
	"errors"
	"fmt"

	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/repository"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RegionRepository — административные полигоны (PostGIS, WGS84).
type RegionRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewRegionRepository(db *pgxpool.Pool, log *slog.Logger) *RegionRepository {
	return &RegionRepository{db: db, log: log}
}

const regionColumns = `
	id, name, level, parent_id,
	ST_Y(centroid) AS centroid_lat,
	ST_X(centroid) AS centroid_lon
`

// FindContaining — самый глубокий полигон, содержащий точку.
// Уровни вложены, поэтому достаточно первой строки при сортировке level DESC.
func (r *RegionRepository) FindContaining(ctx context.Context, lat, lon float64) (*domain.Region, error) {
	const op = "RegionRepository.FindContaining"

	query := `
		SELECT ` + regionColumns + `
		FROM regions
		WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		ORDER BY level DESC
		LIMIT 1
	`

	region, err := scanRegion(r.db.QueryRow(ctx, query, lon, lat))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrRegionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return &region, nil
}

// NearestCentroid — ближайший по центроиду регион в пределах capKm.
func (r *RegionRepository) NearestCentroid(ctx context.Context, lat, lon, capKm float64) (*domain.Region, error) {
	const op = "RegionRepository.NearestCentroid"

	query := `
		SELECT ` + regionColumns + `
		FROM regions
		WHERE ST_DWithin(centroid::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY centroid::geography <-> ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, level DESC
		LIMIT 1
	`

	region, err := scanRegion(r.db.QueryRow(ctx, query, lon, lat, capKm*1000))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrRegionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return &region, nil
}

// GetByID — регион по идентификатору.
func (r *RegionRepository) GetByID(ctx context.Context, id int64) (domain.Region, error) {
	const op = "RegionRepository.GetByID"

	query := `SELECT ` + regionColumns + ` FROM regions WHERE id = $1`

	region, err := scanRegion(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Region{}, fmt.Errorf("%s: %w", op, repository.ErrRegionNotFound)
		}
		return domain.Region{}, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return region, nil
}

// ListAll — метаданные всех регионов (для кэша полигонов в процессе).
func (r *RegionRepository) ListAll(ctx context.Context) ([]domain.Region, error) {
	const op = "RegionRepository.ListAll"

	query := `SELECT ` + regionColumns + ` FROM regions ORDER BY level, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}
	defer rows.Close()

	var regions []domain.Region
	for rows.Next() {
		region, err := scanRegion(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", op, err)
		}
		regions = append(regions, region)
	}

	return regions, repository.MapStoreError(rows.Err())
}

// FindByNameToken — регион по вхождению токена в имя (последний рубеж резолвера).
// Предпочитается наиболее глубокий уровень.
func (r *RegionRepository) FindByNameToken(ctx context.Context, token string) (*domain.Region, error) {
	const op = "RegionRepository.FindByNameToken"

	query := `
		SELECT ` + regionColumns + `
		FROM regions
		WHERE LOWER(name) LIKE '%' || LOWER($1) || '%'
		ORDER BY level DESC, id
		LIMIT 1
	`

	region, err := scanRegion(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrRegionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return &region, nil
}

func scanRegion(row pgx.Row) (domain.Region, error) {
	var region domain.Region
	err := row.Scan(
		&region.ID,
		&region.Name,
		&region.Level,
		&region.ParentID,
		&region.CentroidLat,
		&region.CentroidLon,
	)
	return region, err
}
