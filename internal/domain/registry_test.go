package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	records map[string]*Record
}

func (f *fakeRepo) GetAllDomains(ctx context.Context) ([]*Record, error) {
	out := make([]*Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRepo) GetDomainByName(ctx context.Context, name string) (*Record, error) {
	return f.records[name], nil
}

// TestResolverCacheInvalidation is spec §8 scenario F: resolve returns a
// handle from the DB, management moves the domain and invalidates, and
// the next resolve must not return the stale handle.
func TestResolverCacheInvalidation(t *testing.T) {
	repo := &fakeRepo{records: map[string]*Record{
		"t.example": {Name: "t.example", DatabaseName: "store-1", IsActive: true},
	}}
	c := NewCache(repo, zap.NewNop(), time.Hour, "@every 1h")
	ctx := context.Background()
	require.NoError(t, c.RefreshAll(ctx))

	h1, err := c.Resolve(ctx, "t.example")
	require.NoError(t, err)
	require.Equal(t, "store-1", h1.DatabaseName)

	repo.records["t.example"] = &Record{Name: "t.example", DatabaseName: "store-2", IsActive: true}
	c.Invalidate("t.example")

	h2, err := c.Resolve(ctx, "t.example")
	require.NoError(t, err)
	require.Equal(t, "store-2", h2.DatabaseName)
	require.NotEqual(t, h1.DatabaseName, h2.DatabaseName)
}

func TestResolveInactiveDomainNotReturned(t *testing.T) {
	repo := &fakeRepo{records: map[string]*Record{
		"gone.example": {Name: "gone.example", DatabaseName: "store-x", IsActive: false},
	}}
	c := NewCache(repo, zap.NewNop(), time.Hour, "@every 1h")
	ctx := context.Background()
	require.NoError(t, c.RefreshAll(ctx))

	rec, err := c.Resolve(ctx, "gone.example")
	require.NoError(t, err)
	require.Nil(t, rec)
}
