// Package handler содержит HTTP-обработчики API сервиса doorprize.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/doorprize-api/internal/config"
	"github.com/mmeshcher/doorprize-api/internal/middleware"
	"github.com/mmeshcher/doorprize-api/internal/model"
	"github.com/mmeshcher/doorprize-api/internal/service"
)

// maxBodyBytes ограничивает размер тела запроса.
const maxBodyBytes = 10 << 20

const dateLayout = "2006-01-02"

// Сообщения для клиента.
const (
	msgIndex          = "API Doorprize berjalan dengan baik!"
	msgBadRequest     = "Format request tidak valid"
	msgMissingField   = "Username, websites_id, dan nominal harus diisi!"
	msgActiveVoucher  = "Anda masih memilki undian Aktif kode %s"
	msgNominalTooLow  = "Nominal tidak boleh kurang dari Rp.%s Untuk mendapatkan voucher Doorprize."
	msgGeneration     = "Tidak dapat menghasilkan kode voucher unik"
	msgMissingQuery   = "Parameter username dan xcode harus diisi!"
	msgBodyTooLarge   = "Ukuran request terlalu besar"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListVouchers(ctx context.Context) ([]model.Voucher, error)
	IssueVoucher(ctx context.Context, req model.VoucherRequest) (*model.Voucher, error)
	FindVoucherSources(ctx context.Context, username, siteID string) ([]model.VoucherSource, error)
	GetLiveDraw(ctx context.Context) (*model.LiveDraw, error)
	Health(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API сервиса doorprize.
type Handler struct {
	service Service
	logger  *zap.Logger
	apiKey  *middleware.APIKeyMiddleware
	cfg     *config.Config
	now     func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, apiKey *middleware.APIKeyMiddleware, cfg *config.Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if apiKey == nil {
		secret := ""
		if cfg != nil {
			secret = cfg.APISecretKey
		}
		apiKey = middleware.NewAPIKeyMiddleware(secret, logger)
	}
	return &Handler{
		service: s,
		logger:  logger,
		apiKey:  apiKey,
		cfg:     cfg,
		now:     time.Now,
	}
}

type voucherRequest struct {
	Username string          `json:"username"`
	SiteID   string          `json:"websites_id"`
	Nominal  decimal.Decimal `json:"nominal"`
}

type voucherResponse struct {
	ID           string      `json:"id"`
	Code         string      `json:"lgx_voucher"`
	Username     string      `json:"username"`
	SiteID       string      `json:"websites_id"`
	Nominal      json.Number `json:"nominal"`
	Status       string      `json:"status"`
	PlayerStatus string      `json:"player_status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ExpiredDate  string      `json:"expired_date"`
	DrawID       *string     `json:"undian_id"`
	DrawResult   *string     `json:"hasil_undi"`
}

type createdVoucherResponse struct {
	voucherResponse
	LiveDraw *liveDrawResponse `json:"live_draw,omitempty"`
}

type sourceItem struct {
	voucherResponse
	Websites   string  `json:"websites"`
	KodeUndian *string `json:"kode_undian"`
}

type sourceResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Data    []sourceItem `json:"data"`
}

type liveDrawResponse struct {
	ID        *string    `json:"id"`
	URL       *string    `json:"url"`
	Title     *string    `json:"title"`
	CreatedAt *time.Time `json:"created_at"`
}

type errorResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error"`
}

func newVoucherResponse(v model.Voucher) voucherResponse {
	return voucherResponse{
		ID:           v.ID,
		Code:         v.Code,
		Username:     v.Username,
		SiteID:       v.SiteID,
		Nominal:      json.Number(v.Nominal.String()),
		Status:       string(v.Status),
		PlayerStatus: string(v.PlayerStatus),
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
		ExpiredDate:  v.ExpiredDate.Format(dateLayout),
		DrawID:       v.DrawID,
		DrawResult:   v.DrawResult,
	}
}

func newLiveDrawResponse(l *model.LiveDraw) *liveDrawResponse {
	if l == nil {
		return &liveDrawResponse{}
	}
	return &liveDrawResponse{
		ID:        &l.ID,
		URL:       &l.URL,
		Title:     l.Title,
		CreatedAt: &l.CreatedAt,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// Index отдаёт приветственное сообщение.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, msgIndex)
}

// ListVouchers возвращает все ваучеры.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.service.ListVouchers(r.Context())
	if err != nil {
		h.logger.Error("list vouchers error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	res := make([]voucherResponse, 0, len(vouchers))
	for _, v := range vouchers {
		res = append(res, newVoucherResponse(v))
	}

	h.writeJSON(w, http.StatusOK, res)
}

// CreateVoucher выпускает новый ваучер для пользователя на сайте.
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	var req voucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("decode voucher request", zap.Error(err))
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		h.writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}

	v, err := h.service.IssueVoucher(r.Context(), model.VoucherRequest{
		Username: req.Username,
		SiteID:   req.SiteID,
		Nominal:  req.Nominal,
	})
	if err != nil {
		h.writeIssueError(w, err)
		return
	}

	res := createdVoucherResponse{voucherResponse: newVoucherResponse(*v)}

	live, err := h.service.GetLiveDraw(r.Context())
	if err != nil {
		h.logger.Warn("live draw lookup after issuance", zap.Error(err))
	} else if live != nil {
		res.LiveDraw = newLiveDrawResponse(live)
	}

	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) writeIssueError(w http.ResponseWriter, err error) {
	var (
		active *service.ActiveVoucherError
		tooLow *service.NominalTooLowError
	)

	switch {
	case errors.Is(err, service.ErrMissingField):
		h.writeError(w, http.StatusBadRequest, msgMissingField)
	case errors.As(err, &active):
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf(msgActiveVoucher, active.Code))
	case errors.As(err, &tooLow):
		h.writeError(w, http.StatusPaymentRequired, fmt.Sprintf(msgNominalTooLow, tooLow.Minimal.String()))
	case errors.Is(err, service.ErrGeneration):
		h.logger.Error("voucher code generation error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, msgGeneration)
	default:
		h.logger.Error("issue voucher error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Source ищет ваучеры по username и идентификатору сайта (xcode).
func (h *Handler) Source(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sources, err := h.service.FindVoucherSources(r.Context(), q.Get("username"), q.Get("xcode"))
	if err != nil {
		failed := false
		if errors.Is(err, service.ErrMissingQuery) {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Success: &failed, Error: msgMissingQuery})
			return
		}
		h.logger.Error("find voucher sources error", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Success: &failed, Error: err.Error()})
		return
	}

	data := make([]sourceItem, 0, len(sources))
	for _, s := range sources {
		data = append(data, sourceItem{
			voucherResponse: newVoucherResponse(s.Voucher),
			Websites:        s.WebsiteName,
			KodeUndian:      s.DrawCode,
		})
	}

	h.writeJSON(w, http.StatusOK, sourceResponse{Success: true, Count: len(data), Data: data})
}

// LiveURL возвращает последнюю трансляцию розыгрыша. Если трансляций нет, все поля null.
func (h *Handler) LiveURL(w http.ResponseWriter, r *http.Request) {
	live, err := h.service.GetLiveDraw(r.Context())
	if err != nil {
		h.logger.Error("live draw error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, newLiveDrawResponse(live))
}

type healthResponse struct {
	Status                string    `json:"status"`
	Environment           string    `json:"environment"`
	Storage               string    `json:"storage"`
	SupabaseURLSet        bool      `json:"supabase_url_set"`
	SupabaseAnonKeySet    bool      `json:"supabase_anon_key_set"`
	SupabaseServiceKeySet bool      `json:"supabase_service_key_set"`
	DefaultAPISecret      bool      `json:"api_secret_default"`
	Database              string    `json:"database"`
	Time                  time.Time `json:"time"`
}

// Health отдаёт диагностику окружения и доступности хранилища. Всегда 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{
		Status:   "ok",
		Database: "ok",
		Time:     h.now().UTC(),
	}

	if h.cfg != nil {
		res.Environment = h.cfg.Environment
		res.Storage = h.cfg.Storage()
		res.SupabaseURLSet = h.cfg.SupabaseURL != ""
		res.SupabaseAnonKeySet = h.cfg.SupabaseAnonKey != ""
		res.SupabaseServiceKeySet = h.cfg.SupabaseServiceKey != ""
		res.DefaultAPISecret = h.cfg.UsesDefaultAPISecret()
	}

	if err := h.service.Health(r.Context()); err != nil {
		h.logger.Warn("health check storage error", zap.Error(err))
		res.Status = "degraded"
		res.Database = err.Error()
	}

	h.writeJSON(w, http.StatusOK, res)
}
