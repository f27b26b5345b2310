// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/doorprize-api/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Имена ограничений уникальности из миграций.
const (
	ActiveVoucherConstraint = "lgx_voucher_one_active_idx"
	VoucherCodeConstraint   = "lgx_voucher_code_key"
)

var (
	// ErrActiveVoucherExists возвращается, если у пары (username, websites_id) уже есть активный ваучер.
	ErrActiveVoucherExists = errors.New("active voucher already exists")
	// ErrVoucherCodeExists возвращается при попытке сохранить уже занятый код ваучера.
	ErrVoucherCodeExists = errors.New("voucher code already exists")
	// ErrConfigNotFound возвращается, если таблица настроек пуста.
	ErrConfigNotFound = errors.New("voucher config not found")
	// ErrWebsiteNotFound возвращается, если сайт не найден.
	ErrWebsiteNotFound = errors.New("website not found")
	// ErrDrawNotFound возвращается, если розыгрыш не найден.
	ErrDrawNotFound = errors.New("draw not found")
)

const voucherColumns = `id::text, lgx_voucher, username, websites_id, nominal::text, status, player_status,
	created_at, updated_at, expired_date, undian_id::text, hasil_undi`

// PostgresRepository предоставляет доступ к хранилищу ваучеров в PostgreSQL.
type PostgresRepository struct {
	pool       *pgxpool.Pool
	newBackoff func() retry.Backoff
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:       pool,
		newBackoff: defaultBackoff,
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(time.Second))
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию чтения при временных ошибках БД.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.newBackoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanVoucher(row pgx.Row) (*model.Voucher, error) {
	var (
		v       model.Voucher
		nominal string
		status  string
		player  string
	)
	err := row.Scan(&v.ID, &v.Code, &v.Username, &v.SiteID, &nominal, &status, &player,
		&v.CreatedAt, &v.UpdatedAt, &v.ExpiredDate, &v.DrawID, &v.DrawResult)
	if err != nil {
		return nil, err
	}

	v.Nominal, err = decimal.NewFromString(nominal)
	if err != nil {
		return nil, fmt.Errorf("parse nominal %q: %w", nominal, err)
	}
	v.Status = model.VoucherStatus(status)
	v.PlayerStatus = model.PlayerStatus(player)

	return &v, nil
}

func (r *PostgresRepository) queryVouchers(ctx context.Context, query string, args ...any) ([]model.Voucher, error) {
	var res []model.Voucher

	err := r.withRetry(ctx, func(ctx context.Context) error {
		res = res[:0]

		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scanVoucher(rows)
			if err != nil {
				return fmt.Errorf("scan voucher: %w", err)
			}
			res = append(res, *v)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ListVouchers возвращает все ваучеры, новые первыми.
func (r *PostgresRepository) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	res, err := r.queryVouchers(ctx,
		`SELECT `+voucherColumns+` FROM lgx_voucher ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select vouchers: %w", err)
	}
	return res, nil
}

// ListActiveVouchers возвращает все активные ваучеры без фильтра по пользователю.
func (r *PostgresRepository) ListActiveVouchers(ctx context.Context) ([]model.Voucher, error) {
	res, err := r.queryVouchers(ctx,
		`SELECT `+voucherColumns+` FROM lgx_voucher WHERE status = $1`,
		string(model.VoucherStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("select active vouchers: %w", err)
	}
	return res, nil
}

// FindActiveVouchers возвращает активные ваучеры пользователя на сайте. Сравнение username регистронезависимое.
func (r *PostgresRepository) FindActiveVouchers(ctx context.Context, username, siteID string) ([]model.Voucher, error) {
	res, err := r.queryVouchers(ctx,
		`SELECT `+voucherColumns+`
		 FROM lgx_voucher
		 WHERE lower(btrim(username)) = lower($1) AND btrim(websites_id) = $2 AND status = $3`,
		username, siteID, string(model.VoucherStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("select active vouchers by user: %w", err)
	}
	return res, nil
}

// FindVouchers возвращает все ваучеры пользователя на сайте независимо от статуса.
func (r *PostgresRepository) FindVouchers(ctx context.Context, username, siteID string) ([]model.Voucher, error) {
	res, err := r.queryVouchers(ctx,
		`SELECT `+voucherColumns+`
		 FROM lgx_voucher
		 WHERE lower(btrim(username)) = lower($1) AND btrim(websites_id) = $2
		 ORDER BY created_at DESC`,
		username, siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("select vouchers by user: %w", err)
	}
	return res, nil
}

// GetVoucherConfig читает единственную запись настроек выпуска.
func (r *PostgresRepository) GetVoucherConfig(ctx context.Context) (*model.VoucherConfig, error) {
	var (
		minimal string
		cfg     model.VoucherConfig
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT minimal_nominal::text, max_day_exp_voucher FROM lgx_config ORDER BY id LIMIT 1`,
		).Scan(&minimal, &cfg.MaxDayExpVoucher)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("select config: %w", err)
	}

	cfg.MinimalNominal, err = decimal.NewFromString(minimal)
	if err != nil {
		return nil, fmt.Errorf("parse minimal nominal %q: %w", minimal, err)
	}

	return &cfg, nil
}

// NextVoucherCode атомарно выдаёт следующий код через функцию generate_voucher_code.
func (r *PostgresRepository) NextVoucherCode(ctx context.Context) (string, error) {
	var code *string
	if err := r.pool.QueryRow(ctx, `SELECT generate_voucher_code()`).Scan(&code); err != nil {
		return "", fmt.Errorf("call generate_voucher_code: %w", err)
	}
	if code == nil {
		return "", nil
	}
	return *code, nil
}

// CurrentPrefix возвращает текущий префикс кодов через функцию get_current_prefix.
func (r *PostgresRepository) CurrentPrefix(ctx context.Context) (string, error) {
	var prefix *string
	if err := r.pool.QueryRow(ctx, `SELECT get_current_prefix()`).Scan(&prefix); err != nil {
		return "", fmt.Errorf("call get_current_prefix: %w", err)
	}
	if prefix == nil {
		return "", nil
	}
	return *prefix, nil
}

// MaxVoucherCode возвращает лексикографически наибольший код или пустую строку, если ваучеров нет.
func (r *PostgresRepository) MaxVoucherCode(ctx context.Context) (string, error) {
	var code string
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT lgx_voucher FROM lgx_voucher ORDER BY lgx_voucher DESC LIMIT 1`,
		).Scan(&code)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("select max voucher code: %w", err)
	}
	return code, nil
}

// VoucherCodeExists проверяет, занят ли код.
func (r *PostgresRepository) VoucherCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM lgx_voucher WHERE lgx_voucher = $1)`,
			code,
		).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("check voucher code: %w", err)
	}
	return exists, nil
}

// InsertVoucher сохраняет ваучер и возвращает запись в том виде, в котором она сохранена.
// Нарушения уникальности преобразуются в ErrActiveVoucherExists и ErrVoucherCodeExists.
func (r *PostgresRepository) InsertVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO lgx_voucher
		   (id, lgx_voucher, username, websites_id, nominal, status, player_status,
		    created_at, updated_at, expired_date, undian_id, hasil_undi)
		 VALUES ($1::text::uuid, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11::text::uuid, $12)
		 RETURNING `+voucherColumns,
		v.ID, v.Code, v.Username, v.SiteID, v.Nominal.String(), string(v.Status), string(v.PlayerStatus),
		v.CreatedAt, v.UpdatedAt, v.ExpiredDate, v.DrawID, v.DrawResult,
	)

	created, err := scanVoucher(row)
	if err != nil {
		return nil, mapInsertError(err, v)
	}

	return created, nil
}

func mapInsertError(err error, v model.Voucher) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case ActiveVoucherConstraint:
			return fmt.Errorf("%w: %s/%s", ErrActiveVoucherExists, v.Username, v.SiteID)
		case VoucherCodeConstraint:
			return fmt.Errorf("%w: %s", ErrVoucherCodeExists, v.Code)
		}
	}
	return fmt.Errorf("insert voucher: %w", err)
}

// GetWebsite возвращает сайт по идентификатору.
func (r *PostgresRepository) GetWebsite(ctx context.Context, id string) (*model.Website, error) {
	var w model.Website
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT id, name FROM lgx_websites WHERE id = $1`,
			id,
		).Scan(&w.ID, &w.Name)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrWebsiteNotFound, id)
		}
		return nil, fmt.Errorf("select website: %w", err)
	}
	return &w, nil
}

// GetDraw возвращает розыгрыш по идентификатору.
func (r *PostgresRepository) GetDraw(ctx context.Context, id string) (*model.Draw, error) {
	var d model.Draw
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT id::text, kode_undian FROM lgx_undian WHERE id::text = $1`,
			id,
		).Scan(&d.ID, &d.Code)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDrawNotFound, id)
		}
		return nil, fmt.Errorf("select draw: %w", err)
	}
	return &d, nil
}

// GetLatestLiveDraw возвращает последнюю трансляцию розыгрыша или nil, если их нет.
func (r *PostgresRepository) GetLatestLiveDraw(ctx context.Context) (*model.LiveDraw, error) {
	var l model.LiveDraw
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT id::text, url, title, created_at FROM lgx_live_url ORDER BY created_at DESC, id DESC LIMIT 1`,
		).Scan(&l.ID, &l.URL, &l.Title, &l.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select live draw: %w", err)
	}
	return &l, nil
}
