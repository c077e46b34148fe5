package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок ядра. Ядро не возвращает ничего, кроме этих видов
// (обёрнутых через %w); вызывающая сторона разбирает их errors.Is.
var (
	// ErrInvalidInput — нет координат, неположительная площадь, неизвестный тип проекта.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientData — после фильтрации не осталось аналогов и нет агрегата.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrCostsExceedTarget — расчёт дал неположительную цену интереса.
	ErrCostsExceedTarget = errors.New("costs exceed target")
	// ErrTimeout — дедлайн на запросе к зависимости.
	ErrTimeout = errors.New("timeout")
	// ErrStoreUnavailable — транспортная ошибка хранилища.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNormalizationFailed — сервис подсказок недоступен (не фатально).
	ErrNormalizationFailed = errors.New("normalization failed")
)

// CostsExceedTargetError — ErrCostsExceedTarget с разбором, приведшим к отказу.
type CostsExceedTargetError struct {
	InterestPrice float64
	Breakdown     map[string]float64
}

func (e *CostsExceedTargetError) Error() string {
	return fmt.Sprintf("costs exceed target: interest price %.2f", e.InterestPrice)
}

func (e *CostsExceedTargetError) Unwrap() error {
	return ErrCostsExceedTarget
}
