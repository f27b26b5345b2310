package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/doorprize-api/internal/model"
	"github.com/mmeshcher/doorprize-api/internal/repository"
	"github.com/mmeshcher/doorprize-api/internal/validation"
)

const (
	tableVoucher  = "lgx_voucher"
	tableConfig   = "lgx_config"
	tableWebsites = "lgx_websites"
	tableDraws    = "lgx_undian"
	tableLive     = "lgx_live_url"

	dateLayout = "2006-01-02"
)

type voucherRow struct {
	ID           string          `json:"id"`
	Code         string          `json:"lgx_voucher"`
	Username     string          `json:"username"`
	SiteID       string          `json:"websites_id"`
	Nominal      decimal.Decimal `json:"nominal"`
	Status       string          `json:"status"`
	PlayerStatus string          `json:"player_status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ExpiredDate  string          `json:"expired_date"`
	DrawID       json.RawMessage `json:"undian_id"`
	DrawResult   json.RawMessage `json:"hasil_undi"`
}

func (r voucherRow) toModel() (model.Voucher, error) {
	expired, err := time.Parse(dateLayout, r.ExpiredDate)
	if err != nil {
		return model.Voucher{}, fmt.Errorf("parse expired_date %q: %w", r.ExpiredDate, err)
	}

	return model.Voucher{
		ID:           r.ID,
		Code:         r.Code,
		Username:     r.Username,
		SiteID:       r.SiteID,
		Nominal:      r.Nominal,
		Status:       model.VoucherStatus(r.Status),
		PlayerStatus: model.PlayerStatus(r.PlayerStatus),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		ExpiredDate:  expired,
		DrawID:       rawText(r.DrawID),
		DrawResult:   rawText(r.DrawResult),
	}, nil
}

func newVoucherRow(v model.Voucher) voucherRow {
	return voucherRow{
		ID:           v.ID,
		Code:         v.Code,
		Username:     v.Username,
		SiteID:       v.SiteID,
		Nominal:      v.Nominal,
		Status:       string(v.Status),
		PlayerStatus: string(v.PlayerStatus),
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
		ExpiredDate:  v.ExpiredDate.Format(dateLayout),
		DrawID:       textRaw(v.DrawID),
		DrawResult:   textRaw(v.DrawResult),
	}
}

// rawText превращает JSON-значение произвольного типа в строку. null даёт nil.
func rawText(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	s = string(raw)
	return &s
}

func textRaw(s *string) json.RawMessage {
	if s == nil {
		return json.RawMessage("null")
	}
	b, _ := json.Marshal(*s)
	return b
}

func toVouchers(rows []voucherRow) ([]model.Voucher, error) {
	res := make([]model.Voucher, 0, len(rows))
	for _, r := range rows {
		v, err := r.toModel()
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// ilikeExact экранирует спецсимволы LIKE, чтобы ilike работал как регистронезависимое равенство.
func ilikeExact(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "ilike." + r.Replace(s)
}

// matchesUser отбрасывает строки, попавшие в выборку из-за подстановочного символа * в ilike.
func matchesUser(v model.Voucher, username, siteID string) bool {
	return validation.NormalizeUsername(v.Username) == validation.NormalizeUsername(username) &&
		validation.NormalizeSiteID(v.SiteID) == validation.NormalizeSiteID(siteID)
}

func (c *Client) selectVouchers(ctx context.Context, key string, q url.Values) ([]model.Voucher, error) {
	if q.Get("select") == "" {
		q.Set("select", "*")
	}

	var rows []voucherRow
	err := c.do(ctx, request{method: http.MethodGet, path: tableVoucher, query: q, key: key}, &rows)
	if err != nil {
		return nil, err
	}

	return toVouchers(rows)
}

// Ping проверяет доступность PostgREST.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{"select": {"max_day_exp_voucher"}, "limit": {"1"}}
	var rows []json.RawMessage
	if err := c.do(ctx, request{method: http.MethodGet, path: tableConfig, query: q, key: c.anonKey}, &rows); err != nil {
		return fmt.Errorf("ping supabase: %w", err)
	}
	return nil
}

// ListVouchers возвращает все ваучеры, новые первыми.
func (c *Client) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	res, err := c.selectVouchers(ctx, c.anonKey, url.Values{"order": {"created_at.desc"}})
	if err != nil {
		return nil, fmt.Errorf("select vouchers: %w", err)
	}
	return res, nil
}

// ListActiveVouchers возвращает все активные ваучеры без фильтра по пользователю.
func (c *Client) ListActiveVouchers(ctx context.Context) ([]model.Voucher, error) {
	q := url.Values{"status": {"eq." + string(model.VoucherStatusActive)}}
	res, err := c.selectVouchers(ctx, c.adminKey(), q)
	if err != nil {
		return nil, fmt.Errorf("select active vouchers: %w", err)
	}
	return res, nil
}

// FindActiveVouchers возвращает активные ваучеры пользователя на сайте. Сравнение username регистронезависимое.
func (c *Client) FindActiveVouchers(ctx context.Context, username, siteID string) ([]model.Voucher, error) {
	q := url.Values{
		"username":    {ilikeExact(username)},
		"websites_id": {"eq." + siteID},
		"status":      {"eq." + string(model.VoucherStatusActive)},
	}
	rows, err := c.selectVouchers(ctx, c.adminKey(), q)
	if err != nil {
		return nil, fmt.Errorf("select active vouchers by user: %w", err)
	}

	res := rows[:0]
	for _, v := range rows {
		if matchesUser(v, username, siteID) {
			res = append(res, v)
		}
	}
	return res, nil
}

// FindVouchers возвращает все ваучеры пользователя на сайте независимо от статуса.
func (c *Client) FindVouchers(ctx context.Context, username, siteID string) ([]model.Voucher, error) {
	q := url.Values{
		"username":    {ilikeExact(username)},
		"websites_id": {"eq." + siteID},
		"order":       {"created_at.desc"},
	}
	rows, err := c.selectVouchers(ctx, c.anonKey, q)
	if err != nil {
		return nil, fmt.Errorf("select vouchers by user: %w", err)
	}

	res := rows[:0]
	for _, v := range rows {
		if matchesUser(v, username, siteID) {
			res = append(res, v)
		}
	}
	return res, nil
}

type configRow struct {
	MinimalNominal   decimal.Decimal `json:"minimal_nominal"`
	MaxDayExpVoucher int             `json:"max_day_exp_voucher"`
}

// GetVoucherConfig читает единственную запись настроек выпуска.
func (c *Client) GetVoucherConfig(ctx context.Context) (*model.VoucherConfig, error) {
	q := url.Values{"select": {"minimal_nominal,max_day_exp_voucher"}, "limit": {"1"}}

	var rows []configRow
	if err := c.do(ctx, request{method: http.MethodGet, path: tableConfig, query: q, key: c.adminKey()}, &rows); err != nil {
		return nil, fmt.Errorf("select config: %w", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrConfigNotFound
	}

	return &model.VoucherConfig{
		MinimalNominal:   rows[0].MinimalNominal,
		MaxDayExpVoucher: rows[0].MaxDayExpVoucher,
	}, nil
}

func (c *Client) rpcText(ctx context.Context, fn string) (string, error) {
	var res *string
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "rpc/" + fn,
		key:    c.adminKey(),
		body:   struct{}{},
	}, &res)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", fn, err)
	}
	if res == nil {
		return "", nil
	}
	return *res, nil
}

// NextVoucherCode атомарно выдаёт следующий код через RPC generate_voucher_code.
func (c *Client) NextVoucherCode(ctx context.Context) (string, error) {
	return c.rpcText(ctx, "generate_voucher_code")
}

// CurrentPrefix возвращает текущий префикс кодов через RPC get_current_prefix.
func (c *Client) CurrentPrefix(ctx context.Context) (string, error) {
	return c.rpcText(ctx, "get_current_prefix")
}

type codeRow struct {
	Code string `json:"lgx_voucher"`
}

func (c *Client) selectCodes(ctx context.Context, q url.Values) ([]codeRow, error) {
	q.Set("select", "lgx_voucher")
	q.Set("limit", "1")

	var rows []codeRow
	err := c.do(ctx, request{method: http.MethodGet, path: tableVoucher, query: q, key: c.adminKey()}, &rows)
	return rows, err
}

// MaxVoucherCode возвращает лексикографически наибольший код или пустую строку, если ваучеров нет.
func (c *Client) MaxVoucherCode(ctx context.Context) (string, error) {
	rows, err := c.selectCodes(ctx, url.Values{"order": {"lgx_voucher.desc"}})
	if err != nil {
		return "", fmt.Errorf("select max voucher code: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Code, nil
}

// VoucherCodeExists проверяет, занят ли код.
func (c *Client) VoucherCodeExists(ctx context.Context, code string) (bool, error) {
	rows, err := c.selectCodes(ctx, url.Values{"lgx_voucher": {"eq." + code}})
	if err != nil {
		return false, fmt.Errorf("check voucher code: %w", err)
	}
	return len(rows) > 0, nil
}

// InsertVoucher сохраняет ваучер с ключом service role и возвращает сохранённую запись.
func (c *Client) InsertVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error) {
	var rows []voucherRow
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    tableVoucher,
		query:   url.Values{"select": {"*"}},
		key:     c.adminKey(),
		body:    []voucherRow{newVoucherRow(v)},
		headers: map[string]string{"Prefer": "return=representation"},
	}, &rows)
	if err != nil {
		return nil, mapInsertError(err, v)
	}
	if len(rows) == 0 {
		return nil, errors.New("insert voucher: empty representation")
	}

	created, err := rows[0].toModel()
	if err != nil {
		return nil, fmt.Errorf("insert voucher: %w", err)
	}
	return &created, nil
}

func mapInsertError(err error, v model.Voucher) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == uniqueViolation {
		switch {
		case strings.Contains(apiErr.Message, repository.ActiveVoucherConstraint):
			return fmt.Errorf("%w: %s/%s", repository.ErrActiveVoucherExists, v.Username, v.SiteID)
		case strings.Contains(apiErr.Message, repository.VoucherCodeConstraint):
			return fmt.Errorf("%w: %s", repository.ErrVoucherCodeExists, v.Code)
		}
	}
	return fmt.Errorf("insert voucher: %w", err)
}

type websiteRow struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

// GetWebsite возвращает сайт по идентификатору.
func (c *Client) GetWebsite(ctx context.Context, id string) (*model.Website, error) {
	q := url.Values{"select": {"id,name"}, "id": {"eq." + id}, "limit": {"1"}}

	var rows []websiteRow
	if err := c.do(ctx, request{method: http.MethodGet, path: tableWebsites, query: q, key: c.anonKey}, &rows); err != nil {
		return nil, fmt.Errorf("select website: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", repository.ErrWebsiteNotFound, id)
	}

	return &model.Website{ID: id, Name: rows[0].Name}, nil
}

type drawRow struct {
	ID   json.RawMessage `json:"id"`
	Code string          `json:"kode_undian"`
}

// GetDraw возвращает розыгрыш по идентификатору.
func (c *Client) GetDraw(ctx context.Context, id string) (*model.Draw, error) {
	q := url.Values{"select": {"id,kode_undian"}, "id": {"eq." + id}, "limit": {"1"}}

	var rows []drawRow
	if err := c.do(ctx, request{method: http.MethodGet, path: tableDraws, query: q, key: c.anonKey}, &rows); err != nil {
		return nil, fmt.Errorf("select draw: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", repository.ErrDrawNotFound, id)
	}

	return &model.Draw{ID: id, Code: rows[0].Code}, nil
}

type liveRow struct {
	ID        json.RawMessage `json:"id"`
	URL       string          `json:"url"`
	Title     *string         `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
}

// GetLatestLiveDraw возвращает последнюю трансляцию розыгрыша или nil, если их нет.
func (c *Client) GetLatestLiveDraw(ctx context.Context) (*model.LiveDraw, error) {
	q := url.Values{"select": {"*"}, "order": {"created_at.desc"}, "limit": {"1"}}

	var rows []liveRow
	if err := c.do(ctx, request{method: http.MethodGet, path: tableLive, query: q, key: c.anonKey}, &rows); err != nil {
		return nil, fmt.Errorf("select live draw: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	l := rows[0]
	id := ""
	if s := rawText(l.ID); s != nil {
		id = *s
	}

	return &model.LiveDraw{ID: id, URL: l.URL, Title: l.Title, CreatedAt: l.CreatedAt}, nil
}
