// Скрипт для сброса и пересоздания схемы БД в dev-окружении
// Запуск: DATABASE_URL=postgresql://... go run scripts/reset_db.go

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

func main() {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		log.Fatal("DATABASE_URL is required")
	}

	fmt.Println("Connecting to database...")
	fmt.Printf("Host: %s\n", extractHost(connStr))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(ctx)

	fmt.Println("Connected successfully!")

	// SQL команды для выполнения
	commands := []string{
		// ЧАСТЬ 1: ПОЛНАЯ ОЧИСТКА БД
		"DROP TABLE IF EXISTS valuation_comparables CASCADE",
		"DROP TABLE IF EXISTS valuations CASCADE",
		"DROP TABLE IF EXISTS grid_aggregates CASCADE",
		"DROP TABLE IF EXISTS duplicate_edges CASCADE",
		"DROP TABLE IF EXISTS listing_prices CASCADE",
		"DROP TABLE IF EXISTS listings CASCADE",
		"DROP TABLE IF EXISTS deals CASCADE",
		"DROP TABLE IF EXISTS regions CASCADE",
		"DROP TABLE IF EXISTS goose_db_version CASCADE",

		// ЧАСТЬ 2: РАСШИРЕНИЯ
		"CREATE EXTENSION IF NOT EXISTS postgis",

		// ЧАСТЬ 3: СОЗДАНИЕ ТАБЛИЦ
		`CREATE TABLE IF NOT EXISTS listings (
			id                  BIGINT PRIMARY KEY,
			source_url          TEXT NOT NULL DEFAULT '',
			lat                 DOUBLE PRECISION,
			lon                 DOUBLE PRECISION,
			region_id           BIGINT,
			address             TEXT NOT NULL DEFAULT '',
			address_raw         TEXT NOT NULL DEFAULT '',
			rooms               INT,
			area_total          DOUBLE PRECISION NOT NULL,
			area_living         DOUBLE PRECISION,
			area_kitchen        DOUBLE PRECISION,
			floor               INT,
			total_floors        INT,
			building_type       TEXT NOT NULL DEFAULT 'unknown',
			building_year       INT,
			seller_type         TEXT NOT NULL DEFAULT 'unknown',
			first_seen_at       TIMESTAMPTZ NOT NULL,
			last_seen_at        TIMESTAMPTZ NOT NULL,
			is_active           BOOLEAN NOT NULL DEFAULT TRUE,
			initial_price       BIGINT NOT NULL,
			original_listing_id BIGINT REFERENCES listings (id),
			price_changes       INT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS listing_prices (
			listing_id BIGINT NOT NULL REFERENCES listings (id) ON DELETE CASCADE,
			seen_at    TIMESTAMPTZ NOT NULL,
			price      BIGINT NOT NULL,
			PRIMARY KEY (listing_id, seen_at)
		)`,

		`CREATE TABLE IF NOT EXISTS deals (
			id            BIGSERIAL PRIMARY KEY,
			street        TEXT NOT NULL DEFAULT '',
			area          DOUBLE PRECISION NOT NULL,
			deal_price    BIGINT NOT NULL,
			price_per_sqm DOUBLE PRECISION NOT NULL,
			year_build    INT,
			floor         INT,
			wall_material TEXT NOT NULL DEFAULT 'unknown',
			lat           DOUBLE PRECISION NOT NULL,
			lon           DOUBLE PRECISION NOT NULL,
			deal_date     DATE NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS regions (
			id        BIGINT PRIMARY KEY,
			name      TEXT NOT NULL,
			level     INT NOT NULL,
			parent_id BIGINT REFERENCES regions (id),
			geom      GEOMETRY (MULTIPOLYGON, 4326) NOT NULL,
			centroid  GEOMETRY (POINT, 4326) NOT NULL,
			UNIQUE (name, level)
		)`,

		`CREATE TABLE IF NOT EXISTS duplicate_edges (
			original_id  BIGINT NOT NULL REFERENCES listings (id),
			duplicate_id BIGINT NOT NULL REFERENCES listings (id),
			similarity   DOUBLE PRECISION NOT NULL,
			reason       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (original_id, duplicate_id),
			CHECK (original_id <> duplicate_id)
		)`,

		`CREATE TABLE IF NOT EXISTS grid_aggregates (
			region_id    BIGINT NOT NULL,
			segment_id   BIGINT NOT NULL,
			day          DATE NOT NULL,
			avg_psm      DOUBLE PRECISION NOT NULL,
			median_psm   DOUBLE PRECISION NOT NULL,
			min_price    BIGINT NOT NULL,
			max_price    BIGINT NOT NULL,
			stddev_psm   DOUBLE PRECISION NOT NULL,
			sample_count INT NOT NULL,
			confidence   INT NOT NULL,
			PRIMARY KEY (region_id, segment_id, day)
		)`,

		`CREATE TABLE IF NOT EXISTS valuations (
			id                      UUID PRIMARY KEY,
			region_id               BIGINT,
			segment_id              BIGINT,
			request                 JSONB NOT NULL,
			estimated_price         DOUBLE PRECISION NOT NULL,
			estimated_price_per_sqm DOUBLE PRECISION NOT NULL,
			price_range_low         DOUBLE PRECISION NOT NULL,
			price_range_high        DOUBLE PRECISION NOT NULL,
			confidence              INT NOT NULL,
			method_used             TEXT NOT NULL,
			grid_weight             DOUBLE PRECISION NOT NULL DEFAULT 0,
			knn_weight              DOUBLE PRECISION NOT NULL DEFAULT 0,
			investment              JSONB,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS valuation_comparables (
			valuation_id      UUID NOT NULL REFERENCES valuations (id) ON DELETE CASCADE,
			source            TEXT NOT NULL,
			source_id         BIGINT NOT NULL,
			similarity        DOUBLE PRECISION NOT NULL,
			weight            DOUBLE PRECISION NOT NULL,
			distance_km       DOUBLE PRECISION NOT NULL,
			age_days          INT NOT NULL,
			price_per_sqm     DOUBLE PRECISION NOT NULL,
			raw_price_per_sqm DOUBLE PRECISION NOT NULL,
			total_price       DOUBLE PRECISION NOT NULL
		)`,

		// Индексы
		"CREATE INDEX IF NOT EXISTS idx_listings_coords ON listings (lat, lon) WHERE lat IS NOT NULL AND lon IS NOT NULL",
		"CREATE INDEX IF NOT EXISTS idx_listings_active_seen ON listings (is_active, last_seen_at)",
		"CREATE INDEX IF NOT EXISTS idx_listings_address ON listings (address)",
		"CREATE INDEX IF NOT EXISTS idx_deals_coords ON deals (lat, lon)",
		"CREATE INDEX IF NOT EXISTS idx_deals_date ON deals (deal_date)",
		"CREATE INDEX IF NOT EXISTS idx_regions_geom ON regions USING gist (geom)",
		"CREATE INDEX IF NOT EXISTS idx_regions_centroid ON regions USING gist (centroid)",
		"CREATE INDEX IF NOT EXISTS idx_grid_aggregates_segment_day ON grid_aggregates (segment_id, day DESC)",
		"CREATE INDEX IF NOT EXISTS idx_valuations_created ON valuations (created_at DESC, id DESC)",
	}

	fmt.Println("\nExecuting schema commands...")
	for i, cmd := range commands {
		_, err := conn.Exec(ctx, cmd)
		if err != nil {
			log.Printf("Warning on command %d: %v", i+1, err)
		} else {
			fmt.Printf("  [%d/%d] OK\n", i+1, len(commands))
		}
	}

	// ЧАСТЬ 4: ТЕСТОВЫЕ ДАННЫЕ
	fmt.Println("\nInserting test listings...")
	_, err = conn.Exec(ctx, `
		INSERT INTO listings (id, source_url, lat, lon, address, address_raw, rooms, area_total, floor, total_floors, building_type, building_year, first_seen_at, last_seen_at, initial_price)
		VALUES
			(1001, 'https://example.com/1001', 55.7312, 37.6334, 'ленинский 45 к2', 'г. Москва, Ленинский проспект, д. 45, корп. 2', 2, 54.0, 5, 12, 'brick', 1973, NOW() - INTERVAL '40 days', NOW() - INTERVAL '1 day', 16200000),
			(1002, 'https://example.com/1002', 55.7325, 37.6351, 'ленинский 47', 'Москва, Ленинский пр-т, 47', 2, 56.5, 8, 12, 'brick', 1975, NOW() - INTERVAL '25 days', NOW() - INTERVAL '2 days', 17500000),
			(1003, 'https://example.com/1003', 55.7290, 37.6310, 'ленинский 43', 'Москва, Ленинский проспект, 43', 1, 38.0, 3, 9, 'panel', 1968, NOW() - INTERVAL '60 days', NOW() - INTERVAL '3 days', 10900000)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		log.Printf("Warning inserting listings: %v", err)
	} else {
		fmt.Println("  Listings inserted OK")
	}

	fmt.Println("Inserting price history...")
	_, err = conn.Exec(ctx, `
		INSERT INTO listing_prices (listing_id, seen_at, price)
		VALUES
			(1001, NOW() - INTERVAL '40 days', 16200000),
			(1001, NOW() - INTERVAL '10 days', 15900000),
			(1002, NOW() - INTERVAL '25 days', 17500000),
			(1003, NOW() - INTERVAL '60 days', 10900000)
		ON CONFLICT (listing_id, seen_at) DO NOTHING
	`)
	if err != nil {
		log.Printf("Warning inserting prices: %v", err)
	} else {
		fmt.Println("  Prices inserted OK")
	}

	fmt.Println("Inserting test deals...")
	_, err = conn.Exec(ctx, `
		INSERT INTO deals (street, area, deal_price, price_per_sqm, year_build, floor, wall_material, lat, lon, deal_date)
		VALUES
			('ленинский 45', 55.0, 15400000, 280000, 1973, 4, 'brick', 55.7310, 37.6330, NOW() - INTERVAL '90 days'),
			('ленинский 49', 52.3, 14600000, 279159, 1976, 7, 'brick', 55.7340, 37.6360, NOW() - INTERVAL '150 days')
	`)
	if err != nil {
		log.Printf("Warning inserting deals: %v", err)
	} else {
		fmt.Println("  Deals inserted OK")
	}

	// ЧАСТЬ 5: ПРОВЕРКА
	fmt.Println("\n=== VERIFICATION ===")

	var listingCount, priceCount, dealCount, regionCount int
	conn.QueryRow(ctx, "SELECT count(*) FROM listings").Scan(&listingCount)
	conn.QueryRow(ctx, "SELECT count(*) FROM listing_prices").Scan(&priceCount)
	conn.QueryRow(ctx, "SELECT count(*) FROM deals").Scan(&dealCount)
	conn.QueryRow(ctx, "SELECT count(*) FROM regions").Scan(&regionCount)

	fmt.Printf("Listings: %d\n", listingCount)
	fmt.Printf("Prices:   %d\n", priceCount)
	fmt.Printf("Deals:    %d\n", dealCount)
	fmt.Printf("Regions:  %d\n", regionCount)

	var postgisVersion string
	err = conn.QueryRow(ctx, "SELECT PostGIS_Version()").Scan(&postgisVersion)
	if err == nil {
		fmt.Printf("\nPostGIS: %s\n", postgisVersion)
	}

	fmt.Println("\n=== DATABASE RESET COMPLETE ===")
	fmt.Println("Regions are loaded separately from the boundaries dump")
}

func extractHost(connStr string) string {
	parts := strings.Split(connStr, "@")
	if len(parts) > 1 {
		hostPart := strings.Split(parts[1], "/")[0]
		return hostPart
	}
	return "unknown"
}
