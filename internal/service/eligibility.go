package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/doorprize-api/internal/model"
	"github.com/mmeshcher/doorprize-api/internal/validation"
)

// ActiveVoucherStore описывает чтение активных ваучеров.
type ActiveVoucherStore interface {
	ListActiveVouchers(ctx context.Context) ([]model.Voucher, error)
	FindActiveVouchers(ctx context.Context, username, siteID string) ([]model.Voucher, error)
}

// EligibilityChecker определяет, есть ли у пары (username, site) активный ваучер.
type EligibilityChecker struct {
	store ActiveVoucherStore
}

// NewEligibilityChecker создаёт проверку допуска к выпуску ваучера.
func NewEligibilityChecker(store ActiveVoucherStore) *EligibilityChecker {
	return &EligibilityChecker{store: store}
}

// ActiveVoucher возвращает первый найденный активный ваучер пользователя на сайте или nil.
// Выполняются два чтения: полный список активных ваучеров с фильтрацией на месте
// и регистронезависимый запрос с фильтром на стороне хранилища.
func (c *EligibilityChecker) ActiveVoucher(ctx context.Context, username, siteID string) (*model.Voucher, error) {
	username = validation.NormalizeUsername(username)
	siteID = validation.NormalizeSiteID(siteID)

	all, err := c.store.ListActiveVouchers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}

	for i := range all {
		v := &all[i]
		if v.Status == model.VoucherStatusActive &&
			validation.NormalizeUsername(v.Username) == username &&
			validation.NormalizeSiteID(v.SiteID) == siteID {
			return v, nil
		}
	}

	matches, err := c.store.FindActiveVouchers(ctx, username, siteID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	if len(matches) > 0 {
		return &matches[0], nil
	}

	return nil, nil
}

// HasActiveVoucher сообщает, заблокирован ли выпуск нового ваучера.
func (c *EligibilityChecker) HasActiveVoucher(ctx context.Context, username, siteID string) (bool, error) {
	v, err := c.ActiveVoucher(ctx, username, siteID)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}
