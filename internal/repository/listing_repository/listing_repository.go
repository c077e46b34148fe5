package listing_repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/geo"
	"flat_appraisal/internal/repository"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ListingRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewListingRepository(db *pgxpool.Pool, log *slog.Logger) *ListingRepository {
	return &ListingRepository{db: db, log: log}
}

const listingColumns = `
	l.id, l.source_url, l.lat, l.lon, l.region_id,
	l.address, l.address_raw, l.rooms,
	l.area_total, l.area_living, l.area_kitchen,
	l.floor, l.total_floors, l.building_type, l.building_year,
	l.seller_type, l.first_seen_at, l.last_seen_at, l.is_active,
	l.initial_price, l.original_listing_id, l.price_changes,
	lp.price
`

// latestPriceJoin — одна текущая цена на объявление: строка с max(seen_at).
const latestPriceJoin = `
	JOIN LATERAL (
		SELECT price FROM listing_prices
		WHERE listing_id = l.id
		ORDER BY seen_at DESC
		LIMIT 1
	) lp ON true
`

func scanListing(row pgx.Row) (domain.Listing, error) {
	var l domain.Listing
	var buildingTypeStr, sellerTypeStr string

	err := row.Scan(
		&l.ID,
		&l.SourceURL,
		&l.Lat,
		&l.Lon,
		&l.RegionID,
		&l.Address,
		&l.AddressRaw,
		&l.Rooms,
		&l.AreaTotal,
		&l.AreaLiving,
		&l.AreaKitchen,
		&l.Floor,
		&l.TotalFloors,
		&buildingTypeStr,
		&l.BuildingYear,
		&sellerTypeStr,
		&l.FirstSeenAt,
		&l.LastSeenAt,
		&l.IsActive,
		&l.InitialPrice,
		&l.OriginalListingID,
		&l.PriceChanges,
		&l.CurrentPrice,
	)
	if err != nil {
		return domain.Listing{}, err
	}

	l.BuildingType = domain.ParseBuildingType(buildingTypeStr)
	l.SellerType = domain.SellerType(sellerTypeStr)
	return l, nil
}

// UpsertListing — вставляет объявление или обновляет его наблюдаемые поля.
// first_seen_at и initial_price сохраняются от первой вставки.
func (r *ListingRepository) UpsertListing(ctx context.Context, l domain.Listing) error {
	const op = "ListingRepository.UpsertListing"

	query := `
		INSERT INTO listings (
			id, source_url, lat, lon, region_id,
			address, address_raw, rooms,
			area_total, area_living, area_kitchen,
			floor, total_floors, building_type, building_year,
			seller_type, first_seen_at, last_seen_at, is_active,
			initial_price, original_listing_id, price_changes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			source_url     = EXCLUDED.source_url,
			lat            = EXCLUDED.lat,
			lon            = EXCLUDED.lon,
			region_id      = EXCLUDED.region_id,
			address        = EXCLUDED.address,
			address_raw    = EXCLUDED.address_raw,
			rooms          = EXCLUDED.rooms,
			area_total     = EXCLUDED.area_total,
			area_living    = EXCLUDED.area_living,
			area_kitchen   = EXCLUDED.area_kitchen,
			floor          = EXCLUDED.floor,
			total_floors   = EXCLUDED.total_floors,
			building_type  = EXCLUDED.building_type,
			building_year  = EXCLUDED.building_year,
			seller_type    = EXCLUDED.seller_type,
			last_seen_at   = EXCLUDED.last_seen_at,
			is_active      = EXCLUDED.is_active,
			price_changes  = EXCLUDED.price_changes
	`

	_, err := r.db.Exec(ctx, query,
		l.ID, l.SourceURL, l.Lat, l.Lon, l.RegionID,
		l.Address, l.AddressRaw, l.Rooms,
		l.AreaTotal, l.AreaLiving, l.AreaKitchen,
		l.Floor, l.TotalFloors, l.BuildingType.String(), l.BuildingYear,
		string(l.SellerType), l.FirstSeenAt, l.LastSeenAt, l.IsActive,
		l.InitialPrice, l.OriginalListingID, l.PriceChanges,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return nil
}

// AppendPrice — добавляет точку истории цен. Идемпотентно по (listing_id, seen_at).
func (r *ListingRepository) AppendPrice(ctx context.Context, p domain.ListingPrice) error {
	const op = "ListingRepository.AppendPrice"

	query := `
		INSERT INTO listing_prices (listing_id, seen_at, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (listing_id, seen_at) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, p.ListingID, p.SeenAt, p.Price)
	if err != nil {
		return fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return nil
}

// GetByID — объявление с текущей ценой.
func (r *ListingRepository) GetByID(ctx context.Context, id int64) (domain.Listing, error) {
	const op = "ListingRepository.GetByID"

	query := `SELECT ` + listingColumns + ` FROM listings l ` + latestPriceJoin + ` WHERE l.id = $1`

	l, err := scanListing(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, fmt.Errorf("%s: %w", op, repository.ErrListingNotFound)
		}
		return domain.Listing{}, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return l, nil
}

// SearchParams — параметры выборки кандидатов для KNN.
type SearchParams struct {
	BBox geo.BoundingBox
	// LastSeenAfter — нижняя граница давности наблюдения
	LastSeenAfter time.Time
	// Rooms — целевое кол-во комнат; допуск ±1 применяется в поисковике
	Rooms            *int32
	ExcludeListingID *int64
	ActiveOnly       bool
	Limit            int
}

// SearchCandidates — активные объявления с координатами внутри рамки.
// Точный расчёт расстояния и скоринг выполняет поисковик.
func (r *ListingRepository) SearchCandidates(ctx context.Context, p SearchParams) ([]domain.Listing, error) {
	const op = "ListingRepository.SearchCandidates"

	whereClauses := []string{
		"l.lat IS NOT NULL",
		"l.lon IS NOT NULL",
		"l.lat BETWEEN $1 AND $2",
		"l.lon BETWEEN $3 AND $4",
	}
	params := []interface{}{p.BBox.MinLat, p.BBox.MaxLat, p.BBox.MinLon, p.BBox.MaxLon}
	paramCount := 5

	if p.ActiveOnly {
		whereClauses = append(whereClauses, "l.is_active")
	}
	if !p.LastSeenAfter.IsZero() {
		whereClauses = append(whereClauses, fmt.Sprintf("l.last_seen_at >= $%d", paramCount))
		params = append(params, p.LastSeenAfter)
		paramCount++
	}
	if p.Rooms != nil {
		// Грубый допуск ±1: точный фильтр по площади делает поисковик
		whereClauses = append(whereClauses, fmt.Sprintf("(l.rooms IS NULL OR l.rooms BETWEEN $%d - 1 AND $%d + 1)", paramCount, paramCount))
		params = append(params, *p.Rooms)
		paramCount++
	}
	if p.ExcludeListingID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("l.id <> $%d", paramCount))
		params = append(params, *p.ExcludeListingID)
		paramCount++
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 500
	}

	query := `SELECT ` + listingColumns + ` FROM listings l ` + latestPriceJoin +
		` WHERE ` + strings.Join(whereClauses, " AND ") +
		fmt.Sprintf(" ORDER BY l.id LIMIT $%d", paramCount)
	params = append(params, limit)

	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", op, err)
		}
		listings = append(listings, l)
	}

	return listings, repository.MapStoreError(rows.Err())
}

// PriceHistory — все точки истории цен объявления, по возрастанию seen_at.
func (r *ListingRepository) PriceHistory(ctx context.Context, listingID int64) ([]domain.ListingPrice, error) {
	const op = "ListingRepository.PriceHistory"

	query := `
		SELECT listing_id, seen_at, price
		FROM listing_prices
		WHERE listing_id = $1
		ORDER BY seen_at
	`

	rows, err := r.db.Query(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}
	defer rows.Close()

	var prices []domain.ListingPrice
	for rows.Next() {
		var p domain.ListingPrice
		if err := rows.Scan(&p.ListingID, &p.SeenAt, &p.Price); err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", op, err)
		}
		prices = append(prices, p)
	}

	return prices, repository.MapStoreError(rows.Err())
}

// FindByAddress — объявления с тем же нормализованным адресом (для детектора репостов).
func (r *ListingRepository) FindByAddress(ctx context.Context, address string, excludeID int64) ([]domain.Listing, error) {
	const op = "ListingRepository.FindByAddress"

	query := `SELECT ` + listingColumns + ` FROM listings l ` + latestPriceJoin +
		` WHERE l.address = $1 AND l.id <> $2 ORDER BY l.first_seen_at, l.id`

	rows, err := r.db.Query(ctx, query, address, excludeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", op, err)
		}
		listings = append(listings, l)
	}

	return listings, repository.MapStoreError(rows.Err())
}

// SetOriginal — помечает объявление репостом указанного оригинала.
func (r *ListingRepository) SetOriginal(ctx context.Context, duplicateID, originalID int64) error {
	const op = "ListingRepository.SetOriginal"

	query := `UPDATE listings SET original_listing_id = $1 WHERE id = $2`

	tag, err := r.db.Exec(ctx, query, originalID, duplicateID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrListingNotFound)
	}

	return nil
}

// InsertDuplicateEdge — сохраняет связь "оригинал → репост".
// Повторная вставка той же пары игнорируется.
func (r *ListingRepository) InsertDuplicateEdge(ctx context.Context, e domain.DuplicateEdge) error {
	const op = "ListingRepository.InsertDuplicateEdge"

	query := `
		INSERT INTO duplicate_edges (original_id, duplicate_id, similarity, reason, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (original_id, duplicate_id) DO UPDATE SET
			similarity = EXCLUDED.similarity,
			reason     = EXCLUDED.reason
	`

	_, err := r.db.Exec(ctx, query, e.OriginalID, e.DuplicateID, e.Similarity, string(e.Reason))
	if err != nil {
		return fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return nil
}

// MarkStale — деактивирует объявления, не виденные после olderThan.
// Возвращает число затронутых строк.
func (r *ListingRepository) MarkStale(ctx context.Context, olderThan time.Time) (int64, error) {
	const op = "ListingRepository.MarkStale"

	query := `UPDATE listings SET is_active = false WHERE is_active AND last_seen_at < $1`

	tag, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}

	return tag.RowsAffected(), nil
}

// AggregationRow — сырьё для дневных агрегатов сетки.
type AggregationRow struct {
	RegionID     int64
	BuildingType domain.BuildingType
	TotalFloors  *int32
	Rooms        *int32
	AreaTotal    float64
	CurrentPrice int64
}

// ActiveForAggregation — активные объявления с регионом за окно выборки.
func (r *ListingRepository) ActiveForAggregation(ctx context.Context, since time.Time) ([]AggregationRow, error) {
	const op = "ListingRepository.ActiveForAggregation"

	query := `
		SELECT l.region_id, l.building_type, l.total_floors, l.rooms, l.area_total, lp.price
		FROM listings l
	` + latestPriceJoin + `
		WHERE l.is_active
		  AND l.region_id IS NOT NULL
		  AND l.area_total > 0
		  AND l.last_seen_at >= $1
	`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, repository.MapStoreError(err))
	}
	defer rows.Close()

	var out []AggregationRow
	for rows.Next() {
		var row AggregationRow
		var buildingTypeStr string
		if err := rows.Scan(&row.RegionID, &buildingTypeStr, &row.TotalFloors, &row.Rooms, &row.AreaTotal, &row.CurrentPrice); err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", op, err)
		}
		row.BuildingType = domain.ParseBuildingType(buildingTypeStr)
		out = append(out, row)
	}

	return out, repository.MapStoreError(rows.Err())
}
