// Package service реализует бизнес-логику выпуска и поиска ваучеров doorprize.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/doorprize-api/internal/model"
	"github.com/mmeshcher/doorprize-api/internal/repository"
	"github.com/mmeshcher/doorprize-api/internal/validation"
)

// maxInsertAttempts ограничивает повторы вставки при коллизии кода в хранилище.
const maxInsertAttempts = 3

// ErrMissingQuery возвращается, если в поиске не указаны username или xcode.
var ErrMissingQuery = errors.New("username and xcode are required")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	ActiveVoucherStore
	CodeStore

	Close() error
	Ping(ctx context.Context) error
	ListVouchers(ctx context.Context) ([]model.Voucher, error)
	FindVouchers(ctx context.Context, username, siteID string) ([]model.Voucher, error)
	GetVoucherConfig(ctx context.Context) (*model.VoucherConfig, error)
	InsertVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error)
	GetWebsite(ctx context.Context, id string) (*model.Website, error)
	GetDraw(ctx context.Context, id string) (*model.Draw, error)
	GetLatestLiveDraw(ctx context.Context) (*model.LiveDraw, error)
}

// Service содержит бизнес-логику сервиса doorprize.
type Service struct {
	repo        Repository
	codes       *CodeGenerator
	eligibility *EligibilityChecker
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:        repo,
		codes:       NewCodeGenerator(repo, logger),
		eligibility: NewEligibilityChecker(repo),
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Health проверяет доступность хранилища.
func (s *Service) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// ListVouchers возвращает все ваучеры.
func (s *Service) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	vouchers, err := s.repo.ListVouchers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	return vouchers, nil
}

// ExpiryDate возвращает календарную дату (UTC) через days дней после now.
func ExpiryDate(now time.Time, days int) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, time.UTC)
}

// IssueVoucher выпускает новый ваучер: проверяет поля, отсутствие активного ваучера,
// минимальный номинал, вычисляет срок действия, получает код и сохраняет запись.
func (s *Service) IssueVoucher(ctx context.Context, req model.VoucherRequest) (*model.Voucher, error) {
	username := validation.NormalizeUsername(req.Username)
	siteID := validation.NormalizeSiteID(req.SiteID)

	if username == "" || siteID == "" || req.Nominal.IsZero() {
		return nil, ErrMissingField
	}

	existing, err := s.eligibility.ActiveVoucher(ctx, username, siteID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ActiveVoucherError{Code: existing.Code}
	}

	cfg, err := s.repo.GetVoucherConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}

	if req.Nominal.LessThan(cfg.MinimalNominal) {
		return nil, &NominalTooLowError{Minimal: cfg.MinimalNominal}
	}

	now := s.now().UTC()
	expiredDate := ExpiryDate(now, cfg.MaxDayExpVoucher)

	for attempt := 1; ; attempt++ {
		code, err := s.codes.Generate(ctx)
		if err != nil {
			return nil, err
		}

		created, err := s.repo.InsertVoucher(ctx, model.Voucher{
			ID:           s.newID(),
			Code:         code,
			Username:     username,
			SiteID:       siteID,
			Nominal:      req.Nominal,
			Status:       model.VoucherStatusActive,
			PlayerStatus: model.PlayerStatusReal,
			CreatedAt:    now,
			UpdatedAt:    now,
			ExpiredDate:  expiredDate,
		})

		switch {
		case err == nil:
			s.logger.Info("voucher issued",
				zap.String("code", created.Code),
				zap.String("username", created.Username),
				zap.String("site", created.SiteID),
			)
			return created, nil
		case errors.Is(err, repository.ErrActiveVoucherExists):
			return nil, s.activeConflict(ctx, username, siteID)
		case errors.Is(err, repository.ErrVoucherCodeExists) && attempt < maxInsertAttempts:
			s.logger.Warn("voucher code collision on insert", zap.String("code", code), zap.Int("attempt", attempt))
		case errors.Is(err, repository.ErrVoucherCodeExists):
			return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrInsert, err)
		}
	}
}

// activeConflict строит ошибку для вставки, отклонённой уникальным индексом активных ваучеров.
func (s *Service) activeConflict(ctx context.Context, username, siteID string) error {
	existing, err := s.eligibility.ActiveVoucher(ctx, username, siteID)
	if err != nil || existing == nil {
		s.logger.Warn("active voucher rejected by store but not found on re-read", zap.Error(err),
			zap.String("username", username), zap.String("site", siteID))
		return &ActiveVoucherError{}
	}
	return &ActiveVoucherError{Code: existing.Code}
}

// FindVoucherSources ищет ваучеры пользователя на сайте и подставляет название сайта и код розыгрыша.
// Если сайт не найден, вместо названия возвращается его идентификатор.
func (s *Service) FindVoucherSources(ctx context.Context, username, siteID string) ([]model.VoucherSource, error) {
	username = validation.NormalizeUsername(username)
	siteID = validation.NormalizeSiteID(siteID)

	if username == "" || siteID == "" {
		return nil, ErrMissingQuery
	}

	vouchers, err := s.repo.FindVouchers(ctx, username, siteID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}

	res := make([]model.VoucherSource, 0, len(vouchers))
	if len(vouchers) == 0 {
		return res, nil
	}

	websiteName := siteID
	if w, err := s.repo.GetWebsite(ctx, siteID); err == nil {
		websiteName = w.Name
	} else {
		s.logger.Warn("website lookup failed", zap.Error(err), zap.String("site", siteID))
	}

	drawCodes := make(map[string]*string)
	for _, v := range vouchers {
		src := model.VoucherSource{Voucher: v, WebsiteName: websiteName}
		if v.DrawID != nil {
			src.DrawCode = s.drawCode(ctx, *v.DrawID, drawCodes)
		}
		res = append(res, src)
	}

	return res, nil
}

func (s *Service) drawCode(ctx context.Context, drawID string, cache map[string]*string) *string {
	if code, ok := cache[drawID]; ok {
		return code
	}

	code := drawID
	if d, err := s.repo.GetDraw(ctx, drawID); err == nil {
		code = d.Code
	} else {
		s.logger.Warn("draw lookup failed", zap.Error(err), zap.String("draw", drawID))
	}

	cache[drawID] = &code
	return &code
}

// GetLiveDraw возвращает текущую трансляцию розыгрыша или nil.
func (s *Service) GetLiveDraw(ctx context.Context) (*model.LiveDraw, error) {
	live, err := s.repo.GetLatestLiveDraw(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	return live, nil
}
