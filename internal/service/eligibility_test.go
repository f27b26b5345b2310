package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/doorprize-api/internal/model"
)

type activeStoreStub struct {
	all       []model.Voucher
	allErr    error
	matches   []model.Voucher
	findErr   error
	findCalls int
	gotUser   string
	gotSite   string
}

func (s *activeStoreStub) ListActiveVouchers(ctx context.Context) ([]model.Voucher, error) {
	return s.all, s.allErr
}

func (s *activeStoreStub) FindActiveVouchers(ctx context.Context, username, siteID string) ([]model.Voucher, error) {
	s.findCalls++
	s.gotUser, s.gotSite = username, siteID
	return s.matches, s.findErr
}

func TestActiveVoucher_ScanMatchesUnnormalizedRows(t *testing.T) {
	store := &activeStoreStub{
		all: []model.Voucher{
			{Code: "LG1-000001", Username: "bob", SiteID: "S1", Status: model.VoucherStatusActive},
			{Code: "LG1-000002", Username: " Alice", SiteID: "S1 ", Status: model.VoucherStatusActive},
		},
	}
	c := NewEligibilityChecker(store)

	v, err := c.ActiveVoucher(context.Background(), "ALICE", "S1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "LG1-000002", v.Code)
	assert.Zero(t, store.findCalls)
}

func TestActiveVoucher_FallsBackToFilteredQuery(t *testing.T) {
	store := &activeStoreStub{
		matches: []model.Voucher{{Code: "LG1-000009", Username: "alice", SiteID: "S1", Status: model.VoucherStatusActive}},
	}
	c := NewEligibilityChecker(store)

	v, err := c.ActiveVoucher(context.Background(), " Alice ", " S1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "LG1-000009", v.Code)
	assert.Equal(t, "alice", store.gotUser)
	assert.Equal(t, "S1", store.gotSite)
}

func TestActiveVoucher_IgnoresOtherStatusesAndSites(t *testing.T) {
	store := &activeStoreStub{
		all: []model.Voucher{
			{Code: "LG1-000001", Username: "alice", SiteID: "S1", Status: model.VoucherStatusUsed},
			{Code: "LG1-000002", Username: "alice", SiteID: "S2", Status: model.VoucherStatusActive},
		},
	}
	c := NewEligibilityChecker(store)

	ok, err := c.HasActiveVoucher(context.Background(), "alice", "S1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, store.findCalls)
}

func TestActiveVoucher_LookupErrors(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		c := NewEligibilityChecker(&activeStoreStub{allErr: errors.New("boom")})
		_, err := c.ActiveVoucher(context.Background(), "alice", "S1")
		require.ErrorIs(t, err, ErrLookup)
	})

	t.Run("find", func(t *testing.T) {
		c := NewEligibilityChecker(&activeStoreStub{findErr: errors.New("boom")})
		ok, err := c.HasActiveVoucher(context.Background(), "alice", "S1")
		require.ErrorIs(t, err, ErrLookup)
		assert.False(t, ok)
	})
}
