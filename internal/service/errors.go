package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingField возвращается, если не заполнены username, websites_id или nominal.
	ErrMissingField = errors.New("username, websites_id and nominal are required")
	// ErrConfigUnavailable возвращается, если не удалось прочитать настройки выпуска.
	ErrConfigUnavailable = errors.New("voucher config unavailable")
	// ErrLookup возвращается при сбое чтения из хранилища.
	ErrLookup = errors.New("voucher lookup failed")
	// ErrInsert возвращается при сбое сохранения ваучера.
	ErrInsert = errors.New("voucher insert failed")
	// ErrGeneration возвращается, если не удалось получить уникальный код.
	ErrGeneration = errors.New("voucher code generation failed")
	// ErrActiveVoucher является общей причиной ActiveVoucherError для errors.Is.
	ErrActiveVoucher = errors.New("active voucher already exists")
	// ErrNominalTooLow является общей причиной NominalTooLowError.
	ErrNominalTooLow = errors.New("nominal is below the minimum")
)

// ActiveVoucherError сообщает, что у пользователя уже есть активный ваучер на этом сайте.
type ActiveVoucherError struct {
	Code string
}

func (e *ActiveVoucherError) Error() string {
	return fmt.Sprintf("active voucher already exists: %s", e.Code)
}

func (e *ActiveVoucherError) Unwrap() error {
	return ErrActiveVoucher
}

// NominalTooLowError сообщает, что номинал меньше минимального из настроек.
type NominalTooLowError struct {
	Minimal decimal.Decimal
}

func (e *NominalTooLowError) Error() string {
	return fmt.Sprintf("nominal must be at least %s", e.Minimal.String())
}

func (e *NominalTooLowError) Unwrap() error {
	return ErrNominalTooLow
}
