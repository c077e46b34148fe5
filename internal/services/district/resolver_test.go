package district

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/repository"
)

type MockRegionRepository struct {
	FindContainingFunc  func(ctx context.Context, lat, lon float64) (*domain.Region, error)
	NearestCentroidFunc func(ctx context.Context, lat, lon, capKm float64) (*domain.Region, error)
	FindByNameTokenFunc func(ctx context.Context, token string) (*domain.Region, error)
	ListAllFunc         func(ctx context.Context) ([]domain.Region, error)
}

func (m *MockRegionRepository) FindContaining(ctx context.Context, lat, lon float64) (*domain.Region, error) {
	return m.FindContainingFunc(ctx, lat, lon)
}

func (m *MockRegionRepository) NearestCentroid(ctx context.Context, lat, lon, capKm float64) (*domain.Region, error) {
	return m.NearestCentroidFunc(ctx, lat, lon, capKm)
}

func (m *MockRegionRepository) FindByNameToken(ctx context.Context, token string) (*domain.Region, error) {
	return m.FindByNameTokenFunc(ctx, token)
}

func (m *MockRegionRepository) ListAll(ctx context.Context) ([]domain.Region, error) {
	return m.ListAllFunc(ctx)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testResolver(repo *MockRegionRepository) *Resolver {
	return NewResolver(testLogger(), repo, config.RegionsConfig{
		CacheRefresh:  time.Hour,
		CentroidCapKm: 5,
	})
}

func TestResolver_PolygonHit(t *testing.T) {
	khamovniki := &domain.Region{ID: 7, Name: "Хамовники", Level: domain.RegionLevelRaion}

	repo := &MockRegionRepository{
		FindContainingFunc: func(_ context.Context, lat, lon float64) (*domain.Region, error) {
			return khamovniki, nil
		},
	}

	res, err := testResolver(repo).Resolve(context.Background(), 55.73, 37.58, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != domain.DistrictResolvePolygon {
		t.Errorf("method = %q, want %q", res.Method, domain.DistrictResolvePolygon)
	}
	if res.Region == nil || res.Region.ID != 7 {
		t.Errorf("region = %+v, want id 7", res.Region)
	}
}

func TestResolver_RepositoryFailure(t *testing.T) {
	repo := &MockRegionRepository{
		FindContainingFunc: func(_ context.Context, lat, lon float64) (*domain.Region, error) {
			return nil, errors.New("connection refused")
		},
	}

	res, err := testResolver(repo).Resolve(context.Background(), 55.73, 37.58, "")
	if err == nil {
		t.Fatal("expected error on repository failure")
	}
	if res.Method != domain.DistrictResolveNone {
		t.Errorf("method = %q, want %q", res.Method, domain.DistrictResolveNone)
	}
}

func TestResolver_CentroidFallback(t *testing.T) {
	// Точка вне всех полигонов: должен победить ближайший центроид,
	// до которого меньше лимита в 5 км.
	regions := []domain.Region{
		{ID: 1, Name: "ЗАО", Level: domain.RegionLevelOkrug, CentroidLat: 55.70, CentroidLon: 37.45},
		{ID: 2, Name: "Раменки", Level: domain.RegionLevelRaion, CentroidLat: 55.698, CentroidLon: 37.50},
	}

	repo := &MockRegionRepository{
		FindContainingFunc: func(_ context.Context, lat, lon float64) (*domain.Region, error) {
			return nil, repository.ErrRegionNotFound
		},
		ListAllFunc: func(_ context.Context) ([]domain.Region, error) {
			return regions, nil
		},
	}

	res, err := testResolver(repo).Resolve(context.Background(), 55.697, 37.505, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != domain.DistrictResolveCentroid {
		t.Fatalf("method = %q, want %q", res.Method, domain.DistrictResolveCentroid)
	}
	if res.Region.ID != 2 {
		t.Errorf("region = %d (%s), want 2 (Раменки)", res.Region.ID, res.Region.Name)
	}
}

func TestResolver_CentroidBeyondCap(t *testing.T) {
	// Все центроиды дальше лимита, адресного токена нет — resolved=none.
	regions := []domain.Region{
		{ID: 1, Name: "ЦАО", Level: domain.RegionLevelOkrug, CentroidLat: 55.75, CentroidLon: 37.62},
	}

	repo := &MockRegionRepository{
		FindContainingFunc: func(_ context.Context, lat, lon float64) (*domain.Region, error) {
			return nil, repository.ErrRegionNotFound
		},
		ListAllFunc: func(_ context.Context) ([]domain.Region, error) {
			return regions, nil
		},
	}

	// ~55 км южнее центра
	res, err := testResolver(repo).Resolve(context.Background(), 55.25, 37.62, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != domain.DistrictResolveNone {
		t.Errorf("method = %q, want %q", res.Method, domain.DistrictResolveNone)
	}
	if res.Region != nil {
		t.Errorf("region = %+v, want nil", res.Region)
	}
}

func TestResolver_AddressTokenFallback(t *testing.T) {
	regions := []domain.Region{
		{ID: 1, Name: "ЦАО", Level: domain.RegionLevelOkrug, CentroidLat: 55.75, CentroidLon: 37.62},
		{ID: 7, Name: "Хамовники", Level: domain.RegionLevelRaion, CentroidLat: 55.73, CentroidLon: 37.58},
	}

	repo := &MockRegionRepository{
		FindContainingFunc: func(_ context.Context, lat, lon float64) (*domain.Region, error) {
			return nil, repository.ErrRegionNotFound
		},
		ListAllFunc: func(_ context.Context) ([]domain.Region, error) {
			return regions, nil
		},
	}

	// Точка далеко от центроидов, но в адресе упомянут район
	res, err := testResolver(repo).Resolve(context.Background(), 55.25, 37.0, "Москва, район Хамовники, ул. Льва Толстого, 16")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != domain.DistrictResolveAddress {
		t.Fatalf("method = %q, want %q", res.Method, domain.DistrictResolveAddress)
	}
	if res.Region.ID != 7 {
		t.Errorf("region = %d, want 7", res.Region.ID)
	}
}

func TestResolver_DeepestLevelWinsOnNameMatch(t *testing.T) {
	// Токен содержится в именах двух регионов разных уровней —
	// берём более глубокий.
	regions := []domain.Region{
		{ID: 1, Name: "Тверской округ", Level: domain.RegionLevelOkrug, CentroidLat: 55.75, CentroidLon: 37.60},
		{ID: 2, Name: "Тверской", Level: domain.RegionLevelRaion, CentroidLat: 55.77, CentroidLon: 37.60},
	}

	repo := &MockRegionRepository{
		FindContainingFunc: func(_ context.Context, lat, lon float64) (*domain.Region, error) {
			return nil, repository.ErrRegionNotFound
		},
		ListAllFunc: func(_ context.Context) ([]domain.Region, error) {
			return regions, nil
		},
	}

	res, err := testResolver(repo).Resolve(context.Background(), 54.0, 36.0, "район Тверской")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != domain.DistrictResolveAddress {
		t.Fatalf("method = %q, want %q", res.Method, domain.DistrictResolveAddress)
	}
	if res.Region.ID != 2 {
		t.Errorf("region = %d, want 2 (более глубокий уровень)", res.Region.ID)
	}
}

func TestResolver_CacheFallbackToDirectQuery(t *testing.T) {
	// Кэш недоступен — резолвер делает одиночный запрос ближайшего центроида.
	nearest := &domain.Region{ID: 3, Name: "САО", Level: domain.RegionLevelOkrug}

	var directCalls int
	repo := &MockRegionRepository{
		FindContainingFunc: func(_ context.Context, lat, lon float64) (*domain.Region, error) {
			return nil, repository.ErrRegionNotFound
		},
		ListAllFunc: func(_ context.Context) ([]domain.Region, error) {
			return nil, errors.New("db unavailable")
		},
		NearestCentroidFunc: func(_ context.Context, lat, lon, capKm float64) (*domain.Region, error) {
			directCalls++
			if capKm != 5 {
				t.Errorf("capKm = %v, want 5", capKm)
			}
			return nearest, nil
		},
	}

	res, err := testResolver(repo).Resolve(context.Background(), 55.83, 37.52, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != domain.DistrictResolveCentroid {
		t.Errorf("method = %q, want %q", res.Method, domain.DistrictResolveCentroid)
	}
	if directCalls != 1 {
		t.Errorf("direct centroid queries = %d, want 1", directCalls)
	}
}
