package duplicates

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/logger/sl"
	"flat_appraisal/internal/repository"
	"log/slog"

	"github.com/samber/lo"
)

const (
	// similarAreaTolerance — допустимое расхождение площади для похожих объявлений, м²
	similarAreaTolerance = 2.0
	// maxChainDepth — предохранитель от битых данных при обходе цепочки репостов
	maxChainDepth = 10
)

// ListingRepository — операции над объявлениями, нужные детектору.
type ListingRepository interface {
	GetByID(ctx context.Context, id int64) (domain.Listing, error)
	FindByAddress(ctx context.Context, address string, excludeID int64) ([]domain.Listing, error)
	SetOriginal(ctx context.Context, duplicateID, originalID int64) error
	InsertDuplicateEdge(ctx context.Context, e domain.DuplicateEdge) error
	PriceHistory(ctx context.Context, listingID int64) ([]domain.ListingPrice, error)
}

// Detector — распознавание репостов. Ключ поиска — канонический адрес,
// оригиналом всегда считается объявление с более ранним first_seen_at.
type Detector struct {
	log  *slog.Logger
	repo ListingRepository
	now  func() time.Time
}

func New(log *slog.Logger, repo ListingRepository) *Detector {
	return &Detector{
		log:  log,
		repo: repo,
		now:  time.Now,
	}
}

// Match — найденная пара дубликатов до сохранения связи.
type Match struct {
	Original   domain.Listing
	Duplicate  domain.Listing
	Similarity float64
	Reason     domain.DuplicateReason
}

// Detect — ищет среди объявлений по тому же адресу дубликат для l.
// Возвращает nil без ошибки, если совпадений нет. Связь сохраняется:
// ребро original → duplicate и ссылка на оригинал у репоста.
func (d *Detector) Detect(ctx context.Context, l domain.Listing) (*Match, error) {
	const op = "duplicates.Detector.Detect"

	if l.Address == "" {
		return nil, nil
	}

	candidates, err := d.repo.FindByAddress(ctx, l.Address, l.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	best := d.bestMatch(l, candidates)
	if best == nil {
		return nil, nil
	}

	edge := domain.DuplicateEdge{
		OriginalID:  best.Original.ID,
		DuplicateID: best.Duplicate.ID,
		Similarity:  best.Similarity,
		Reason:      best.Reason,
		CreatedAt:   d.now(),
	}
	if err := d.repo.InsertDuplicateEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := d.repo.SetOriginal(ctx, best.Duplicate.ID, best.Original.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	d.log.Info("duplicate linked",
		slog.Int64("original_id", best.Original.ID),
		slog.Int64("duplicate_id", best.Duplicate.ID),
		slog.String("reason", string(best.Reason)),
		slog.Float64("similarity", best.Similarity),
	)

	return best, nil
}

// bestMatch — кандидат с самым ранним first_seen_at: оригиналом всегда
// становится самое старое совпавшее объявление. При равенстве меток
// времени предпочитается более высокая схожесть, затем меньший ID.
func (d *Detector) bestMatch(l domain.Listing, candidates []domain.Listing) *Match {
	var best *Match
	for _, c := range candidates {
		if c.ID == l.ID {
			continue
		}
		sim, reason, ok := compare(l, c)
		if !ok {
			continue
		}

		original, duplicate := orient(l, c)
		m := &Match{
			Original:   original,
			Duplicate:  duplicate,
			Similarity: sim,
			Reason:     reason,
		}
		if best == nil || earlier(m, best) {
			best = m
		}
	}
	return best
}

func earlier(m, best *Match) bool {
	if !m.Original.FirstSeenAt.Equal(best.Original.FirstSeenAt) {
		return m.Original.FirstSeenAt.Before(best.Original.FirstSeenAt)
	}
	if m.Similarity != best.Similarity {
		return m.Similarity > best.Similarity
	}
	return m.Original.ID < best.Original.ID
}

// compare — правила совпадения. Точное: площадь и комнаты идентичны.
// Похожее: комнаты совпадают, площадь в пределах ±2 м².
func compare(a, b domain.Listing) (float64, domain.DuplicateReason, bool) {
	if !roomsEqual(a.Rooms, b.Rooms) {
		return 0, "", false
	}

	areaDiff := math.Abs(a.AreaTotal - b.AreaTotal)
	if areaDiff == 0 {
		return 1.0, domain.DuplicateReasonExact, true
	}
	if areaDiff <= similarAreaTolerance {
		return 1.0 - areaDiff/10.0, domain.DuplicateReasonSimilar, true
	}
	return 0, "", false
}

func roomsEqual(a, b *int32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// orient — оригинал определяется по более раннему first_seen_at;
// при равенстве меток времени по меньшему ID.
func orient(a, b domain.Listing) (original, duplicate domain.Listing) {
	if a.FirstSeenAt.Before(b.FirstSeenAt) {
		return a, b
	}
	if b.FirstSeenAt.Before(a.FirstSeenAt) {
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}

// UnifiedHistory — восстанавливает цепочку репостов от заданного объявления
// до оригинала и склеивает истории цен всех звеньев. Экспозиция считается
// от first_seen_at оригинала.
func (d *Detector) UnifiedHistory(ctx context.Context, listingID int64) (domain.UnifiedHistory, error) {
	const op = "duplicates.Detector.UnifiedHistory"

	chain, err := d.walkChain(ctx, listingID)
	if err != nil {
		return domain.UnifiedHistory{}, fmt.Errorf("%s: %w", op, err)
	}

	original := chain[0]

	var prices []domain.PricePoint
	for _, l := range chain {
		hist, err := d.repo.PriceHistory(ctx, l.ID)
		if err != nil {
			return domain.UnifiedHistory{}, fmt.Errorf("%s: %w", op, err)
		}
		for _, p := range hist {
			prices = append(prices, domain.PricePoint{
				ListingID: p.ListingID,
				SeenAt:    p.SeenAt,
				Price:     p.Price,
			})
		}
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].SeenAt.Before(prices[j].SeenAt)
	})

	chainIDs := lo.Map(chain, func(l domain.Listing, _ int) int64 { return l.ID })

	days := int(d.now().Sub(original.FirstSeenAt).Hours() / 24)
	if days < 0 {
		days = 0
	}

	return domain.UnifiedHistory{
		OriginalID:   original.ID,
		ChainIDs:     chainIDs,
		Prices:       prices,
		FirstSeenAt:  original.FirstSeenAt,
		InitialPrice: original.InitialPrice,
		DaysOnMarket: days,
	}, nil
}

// walkChain — подъём по ссылкам original_listing_id до корня.
// Возвращает звенья от оригинала к исходному объявлению.
func (d *Detector) walkChain(ctx context.Context, listingID int64) ([]domain.Listing, error) {
	visited := map[int64]bool{}
	var upward []domain.Listing

	id := listingID
	for depth := 0; depth < maxChainDepth; depth++ {
		if visited[id] {
			d.log.Error("cycle in duplicate chain", slog.Int64("listing_id", id))
			break
		}
		visited[id] = true

		l, err := d.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrListingNotFound) && len(upward) > 0 {
				// Битая ссылка на удалённый оригинал: цепочка
				// обрывается на последнем живом звене
				d.log.Warn("dangling original reference", slog.Int64("listing_id", id), sl.Err(err))
				break
			}
			return nil, err
		}
		upward = append(upward, l)

		if l.OriginalListingID == nil {
			break
		}
		id = *l.OriginalListingID
	}

	if len(upward) == 0 {
		return nil, repository.ErrListingNotFound
	}

	// От оригинала к последнему репосту
	return lo.Reverse(upward), nil
}
