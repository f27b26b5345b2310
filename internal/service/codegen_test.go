package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fallbackCodeRe = regexp.MustCompile(`^LG[0-9]+-[0-9]{6}$`)

type codeStoreStub struct {
	nextCode    string
	nextErr     error
	prefix      string
	prefixErr   error
	maxCode     string
	maxErr      error
	exists      func(code string) (bool, error)
	existsCalls int
}

func (s *codeStoreStub) NextVoucherCode(ctx context.Context) (string, error) {
	return s.nextCode, s.nextErr
}

func (s *codeStoreStub) CurrentPrefix(ctx context.Context) (string, error) {
	return s.prefix, s.prefixErr
}

func (s *codeStoreStub) MaxVoucherCode(ctx context.Context) (string, error) {
	return s.maxCode, s.maxErr
}

func (s *codeStoreStub) VoucherCodeExists(ctx context.Context, code string) (bool, error) {
	s.existsCalls++
	if s.exists == nil {
		return false, nil
	}
	return s.exists(code)
}

func newTestGenerator(store CodeStore) *CodeGenerator {
	g := NewCodeGenerator(store, nil)
	g.newBackoff = func() retry.Backoff {
		return retry.WithMaxRetries(maxCodeAttempts-1, retry.NewConstant(time.Millisecond))
	}
	return g
}

func TestGenerate_UsesAtomicSequence(t *testing.T) {
	store := &codeStoreStub{nextCode: "LG2-000042"}
	g := newTestGenerator(store)

	code, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LG2-000042", code)
	assert.Zero(t, store.existsCalls)
}

func TestGenerate_FallbackWhenSequenceFails(t *testing.T) {
	store := &codeStoreStub{nextErr: errors.New("function generate_voucher_code() does not exist"), prefix: "LG3"}
	g := newTestGenerator(store)

	code, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, fallbackCodeRe, code)
	assert.Equal(t, "LG3", code[:3])
	assert.Equal(t, 1, store.existsCalls)
}

func TestGenerate_FallbackWhenSequenceEmpty(t *testing.T) {
	store := &codeStoreStub{prefix: "LG1"}
	g := newTestGenerator(store)

	code, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, fallbackCodeRe, code)
}

func TestGenerate_FallbackWhenSequenceMalformed(t *testing.T) {
	store := &codeStoreStub{nextCode: "voucher-1", prefix: "LG2"}
	g := newTestGenerator(store)

	code, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, `^LG2-[0-9]{6}$`, code)
}

func TestGenerate_PrefixFromMaxCode(t *testing.T) {
	store := &codeStoreStub{
		nextErr:   errors.New("rpc unavailable"),
		prefixErr: errors.New("rpc unavailable"),
		maxCode:   "LG7-123456",
	}
	g := newTestGenerator(store)

	code, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, `^LG7-[0-9]{6}$`, code)
}

func TestGenerate_IgnoresMalformedPrefix(t *testing.T) {
	for _, prefix := range []string{"lg3-", "LG3-000001", "bad prefix"} {
		t.Run(prefix, func(t *testing.T) {
			store := &codeStoreStub{
				nextErr: errors.New("rpc unavailable"),
				prefix:  prefix,
				maxCode: "LG5-000001",
			}
			g := newTestGenerator(store)

			code, err := g.Generate(context.Background())
			require.NoError(t, err)
			assert.Regexp(t, `^LG5-[0-9]{6}$`, code)
		})
	}
}

func TestGenerate_DefaultPrefix(t *testing.T) {
	store := &codeStoreStub{
		nextErr:   errors.New("rpc unavailable"),
		prefixErr: errors.New("rpc unavailable"),
		maxErr:    errors.New("table missing"),
	}
	g := newTestGenerator(store)

	code, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, `^LG1-[0-9]{6}$`, code)
}

func TestGenerate_SkipsTakenCandidates(t *testing.T) {
	calls := 0
	store := &codeStoreStub{
		nextErr: errors.New("rpc unavailable"),
		prefix:  "LG1",
		exists: func(code string) (bool, error) {
			calls++
			return calls < 3, nil
		},
	}
	g := newTestGenerator(store)

	code, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, fallbackCodeRe, code)
	assert.Equal(t, 3, store.existsCalls)
}

func TestGenerate_BoundedAttempts(t *testing.T) {
	store := &codeStoreStub{
		nextErr: errors.New("rpc unavailable"),
		prefix:  "LG1",
		exists:  func(string) (bool, error) { return true, nil },
	}
	g := newTestGenerator(store)

	_, err := g.Generate(context.Background())
	require.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, maxCodeAttempts, store.existsCalls)
	assert.Contains(t, err.Error(), "exhausted 10 attempts")
}

func TestGenerate_ExistsErrorsConsumeAttempts(t *testing.T) {
	store := &codeStoreStub{
		nextErr: errors.New("rpc unavailable"),
		prefix:  "LG1",
		exists:  func(string) (bool, error) { return false, errors.New("timeout") },
	}
	g := newTestGenerator(store)

	_, err := g.Generate(context.Background())
	require.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, maxCodeAttempts, store.existsCalls)
}

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		code   string
		want   string
		wantOK bool
	}{
		{code: "LG1-000001", want: "LG1", wantOK: true},
		{code: "LG12-999999", want: "LG12", wantOK: true},
		{code: "LG007-000001", want: "LG7", wantOK: true},
		{code: "LG-000001", wantOK: false},
		{code: "XX1-000001", wantOK: false},
		{code: "LGx-000001", wantOK: false},
		{code: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, ok := ParsePrefix(tt.code)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComposeCode(t *testing.T) {
	now := time.UnixMilli(1710000123456)

	assert.Equal(t, "LG1-123456", ComposeCode("LG1", now))
	assert.Equal(t, "LG4-123456", ComposeCode("LG4", now))

	short := ComposeCode("LG1", time.UnixMilli(42))
	assert.Regexp(t, `^LG1-42[0-9]{4}$`, short)
}
