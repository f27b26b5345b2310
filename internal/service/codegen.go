package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/doorprize-api/internal/validation"
)

const (
	defaultCodePrefix = "LG1"
	maxCodeAttempts   = 10
	codeDigits        = 6
)

var errCodeTaken = errors.New("voucher code already taken")

// CodeStore описывает операции хранилища, нужные генератору кодов.
type CodeStore interface {
	NextVoucherCode(ctx context.Context) (string, error)
	CurrentPrefix(ctx context.Context) (string, error)
	MaxVoucherCode(ctx context.Context) (string, error)
	VoucherCodeExists(ctx context.Context, code string) (bool, error)
}

// CodeGenerator выдаёт коды ваучеров. Сначала используется атомарная последовательность в хранилище,
// при её недоступности выполняется ограниченный цикл из метки времени и проверки занятости.
type CodeGenerator struct {
	store      CodeStore
	logger     *zap.Logger
	now        func() time.Time
	newBackoff func() retry.Backoff
}

// NewCodeGenerator создаёт генератор кодов поверх хранилища.
func NewCodeGenerator(store CodeStore, logger *zap.Logger) *CodeGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeGenerator{
		store:  store,
		logger: logger,
		now:    time.Now,
		// Пауза между попытками сдвигает миллисекундную метку времени в следующем кандидате.
		newBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(maxCodeAttempts-1, retry.NewConstant(5*time.Millisecond))
		},
	}
}

// Generate возвращает новый код ваучера или ошибку ErrGeneration.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	code, err := g.store.NextVoucherCode(ctx)
	if err == nil && validation.IsValidVoucherCode(code) {
		return code, nil
	}

	if err != nil {
		g.logger.Warn("atomic voucher code unavailable, using fallback", zap.Error(err))
	} else {
		g.logger.Warn("atomic voucher code is malformed, using fallback", zap.String("code", code))
	}

	return g.fallback(ctx)
}

func (g *CodeGenerator) fallback(ctx context.Context) (string, error) {
	var (
		code     string
		attempts int
	)

	err := retry.Do(ctx, g.newBackoff(), func(ctx context.Context) error {
		attempts++

		candidate := ComposeCode(g.currentPrefix(ctx), g.now())

		exists, err := g.store.VoucherCodeExists(ctx, candidate)
		if err != nil {
			g.logger.Error("check voucher code", zap.Error(err), zap.String("code", candidate), zap.Int("attempt", attempts))
			return retry.RetryableError(err)
		}
		if exists {
			return retry.RetryableError(fmt.Errorf("%w: %s", errCodeTaken, candidate))
		}

		code = candidate
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: exhausted %d attempts: %w", ErrGeneration, attempts, err)
	}

	return code, nil
}

func (g *CodeGenerator) currentPrefix(ctx context.Context) string {
	prefix, err := g.store.CurrentPrefix(ctx)
	if err == nil && validation.IsValidVoucherPrefix(prefix) {
		return prefix
	}
	if err == nil && prefix != "" {
		g.logger.Warn("malformed voucher code prefix", zap.String("prefix", prefix))
	}

	maxCode, err := g.store.MaxVoucherCode(ctx)
	if err != nil {
		g.logger.Warn("select max voucher code", zap.Error(err))
		return defaultCodePrefix
	}
	if p, ok := ParsePrefix(maxCode); ok {
		return p
	}

	return defaultCodePrefix
}

// ParsePrefix извлекает префикс вида LG<n> из кода ваучера (часть до первого дефиса).
func ParsePrefix(code string) (string, bool) {
	head, _, _ := strings.Cut(code, "-")

	rest, ok := strings.CutPrefix(head, "LG")
	if !ok || rest == "" {
		return "", false
	}

	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return "", false
	}

	return "LG" + strconv.Itoa(n), true
}

// ComposeCode собирает код {prefix}-{хвост метки времени}{случайные цифры до ширины 6}.
func ComposeCode(prefix string, now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ts) > codeDigits {
		ts = ts[len(ts)-codeDigits:]
	}

	var b strings.Builder
	b.Grow(len(prefix) + 1 + codeDigits)
	b.WriteString(prefix)
	b.WriteByte('-')
	b.WriteString(ts)
	for i := len(ts); i < codeDigits; i++ {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}

	return b.String()
}
