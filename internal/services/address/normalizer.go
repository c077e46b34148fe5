package address

import (
	"context"
	"regexp"
	"strings"

	"flat_appraisal/internal/lib/logger/sl"
	"flat_appraisal/internal/lib/suggest"
	"log/slog"
)

// Normalizer приводит свободный русский адрес к каноническому ключу.
// Ключ используется для группировки истории объявлений, поэтому оба пути —
// сервис подсказок и чистый regex — обязаны сходиться к одной строке.
type Normalizer struct {
	log     *slog.Logger
	suggest suggest.Client
}

func NewNormalizer(log *slog.Logger, suggestClient suggest.Client) *Normalizer {
	return &Normalizer{
		log:     log,
		suggest: suggestClient,
	}
}

// Normalize — канонический ключ адреса. Недоступность сервиса подсказок
// не фатальна: выполняется откат на детерминированный regex-пайплайн.
func (n *Normalizer) Normalize(ctx context.Context, raw string) string {
	const op = "address.Normalizer.Normalize"

	if raw == "" {
		return ""
	}

	standardized := raw
	if n.suggest.IsEnabled() {
		resp, err := n.suggest.CleanAddress(ctx, suggest.CleanAddressRequest{Query: raw})
		if err != nil {
			n.log.Warn("suggest service unavailable, falling back to regex pipeline",
				slog.String("op", op), sl.Err(err))
		} else if resp.Result != "" {
			standardized = resp.Result
		}
	}

	return NormalizeKey(standardized)
}

// Паттерны пайплайна. Порядок применения значим: квартира и корпус/строение
// обрабатываются до удаления точек, иначе однобуквенные сокращения теряются.
var (
	// Страна, город и их префиксы
	reCityPrefix = regexp.MustCompile(`(?i)(^|[\s,])(россия|москва|г\s*\.|город\s+)`)
	// Типы улиц и их сокращения
	reStreetType = regexp.MustCompile(`(?i)(^|[\s,])(улица|ул\s*\.|проспект|просп\s*\.|пр-т|пр-кт|переулок|пер\s*\.|бульвар|б-р|шоссе|ш\s*\.|набережная|наб\s*\.|проезд|пр-д)`)
	// Дом
	reHousePrefix = regexp.MustCompile(`(?i)(^|[\s,])(дом|д\s*\.)\s*`)
	// Квартира с номером — отбрасывается целиком
	reApartment = regexp.MustCompile(`(?i)[\s,]*(квартира|кв\s*\.?)\s*\d+\s*\w*`)
	// Корпус и строение — нормализуются в однобуквенные суффиксы "к"/"с"
	reKorpus   = regexp.MustCompile(`(?i)(корпус|корп\s*\.?|к\s*\.)\s*(\d+\w*)`)
	reStroenie = regexp.MustCompile(`(?i)(строение|стр\s*\.?|с\s*\.)\s*(\d+\w*)`)
	// Остаточная пунктуация и пробелы
	rePunct  = regexp.MustCompile(`[.,;:]+`)
	reSpaces = regexp.MustCompile(`\s+`)
)

// NormalizeKey — чистый regex-пайплайн, идемпотентен:
// NormalizeKey(NormalizeKey(x)) == NormalizeKey(x).
func NormalizeKey(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	s = reApartment.ReplaceAllString(s, " ")
	s = reKorpus.ReplaceAllString(s, "к$2")
	s = reStroenie.ReplaceAllString(s, "с$2")
	s = reCityPrefix.ReplaceAllString(s, "$1 ")
	s = reStreetType.ReplaceAllString(s, "$1 ")
	s = reHousePrefix.ReplaceAllString(s, "$1 ")
	s = rePunct.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")

	return strings.Trim(s, " -,")
}

// reDistrict — район из адресной строки ("район Хамовники", "Хамовники р-н").
var reDistrict = regexp.MustCompile(`(?i)(?:район|р-н)\s+([а-яё-]+)|([а-яё-]+)\s+(?:район|р-н)`)

// ExtractDistrictToken извлекает название района из сырого адреса.
// Возвращает nil, если район не удалось определить.
func ExtractDistrictToken(address string) *string {
	if address == "" {
		return nil
	}

	matches := reDistrict.FindStringSubmatch(strings.ToLower(address))
	if matches == nil {
		return nil
	}

	token := matches[1]
	if token == "" {
		token = matches[2]
	}
	token = strings.TrimSpace(token)
	if len([]rune(token)) < 3 {
		return nil
	}

	return &token
}
