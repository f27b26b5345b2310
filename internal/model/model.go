// Package model содержит доменные сущности сервиса doorprize.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VoucherStatus описывает состояние лотерейного ваучера.
type VoucherStatus string

const (
	VoucherStatusActive  VoucherStatus = "active"
	VoucherStatusUsed    VoucherStatus = "used"
	VoucherStatusExpired VoucherStatus = "expired"
)

// PlayerStatus описывает тип участника, которому выдан ваучер.
type PlayerStatus string

// PlayerStatusReal проставляется всем ваучерам, выпущенным через API.
const PlayerStatusReal PlayerStatus = "real"

// Voucher описывает одну запись участия в розыгрыше.
type Voucher struct {
	ID           string
	Code         string
	Username     string
	SiteID       string
	Nominal      decimal.Decimal
	Status       VoucherStatus
	PlayerStatus PlayerStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// ExpiredDate хранит только календарную дату (UTC, полночь).
	ExpiredDate time.Time
	DrawID      *string
	DrawResult  *string
}

// VoucherRequest содержит входные данные для выпуска ваучера до нормализации.
type VoucherRequest struct {
	Username string
	SiteID   string
	Nominal  decimal.Decimal
}

// VoucherConfig содержит единственную запись настроек выпуска ваучеров.
type VoucherConfig struct {
	MinimalNominal   decimal.Decimal
	MaxDayExpVoucher int
}

// Website описывает сайт-источник, для которого выпускаются ваучеры.
type Website struct {
	ID   string
	Name string
}

// Draw описывает розыгрыш (undian), к которому может быть привязан ваучер.
type Draw struct {
	ID   string
	Code string
}

// LiveDraw описывает трансляцию текущего розыгрыша.
type LiveDraw struct {
	ID        string
	URL       string
	Title     *string
	CreatedAt time.Time
}

// VoucherSource описывает ваучер вместе с названием сайта и кодом розыгрыша.
type VoucherSource struct {
	Voucher
	WebsiteName string
	DrawCode    *string
}
