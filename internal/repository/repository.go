package repository

import (
	"context"
	"errors"

	"flat_appraisal/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrListingNotFound   = errors.New("listing not found")
	ErrDealNotFound      = errors.New("deal not found")
	ErrRegionNotFound    = errors.New("region not found")
	ErrAggregateNotFound = errors.New("aggregate not found")
	ErrValuationNotFound = errors.New("valuation not found")
	ErrNoFieldsToUpdate  = errors.New("no fields to update")
)

// IsUniqueViolation — нарушение уникального ограничения (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// MapStoreError переводит транспортные ошибки pgx в таксономию ядра:
// истёкший дедлайн — Timeout, обрыв соединения — StoreUnavailable.
// Прикладные ошибки (not found и т.п.) возвращаются как есть.
func MapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return domain.ErrStoreUnavailable
	}
	return err
}
