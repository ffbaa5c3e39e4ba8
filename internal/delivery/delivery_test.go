package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oonrumail/mailcore/internal/clock"
	"github.com/oonrumail/mailcore/internal/domain"
	"github.com/oonrumail/mailcore/internal/store"
)

type singleStoreResolver struct {
	st store.Store
}

func (s singleStoreResolver) StoreFor(rec *domain.Record) (store.Store, error) {
	return s.st, nil
}

type staticRepo struct {
	rec *domain.Record
}

func (r staticRepo) GetAllDomains(ctx context.Context) ([]*domain.Record, error) {
	return []*domain.Record{r.rec}, nil
}

func (r staticRepo) GetDomainByName(ctx context.Context, name string) (*domain.Record, error) {
	if name == r.rec.Name {
		return r.rec, nil
	}
	return nil, nil
}

func newFixture(t *testing.T) (*Pipeline, *store.MemStore) {
	t.Helper()
	mem := store.NewMemStore()
	mem.AddDomain(&store.DomainSettings{ID: 1, Name: "example.com"})
	mem.AddUser(&store.User{ID: 1, Username: "bob", DomainID: 1, CanReceive: true, CanLogin: true})
	mem.AddFolder(&store.Folder{ID: 1, UserID: 1, Name: "INBOX", SystemType: store.SystemFolderInbox, UIDValidity: 1, UIDNext: 1})

	rec := &domain.Record{Name: "example.com", DatabaseName: "tenant-1", IsActive: true}
	cache := domain.NewCache(staticRepo{rec: rec}, zap.NewNop(), time.Hour, "@every 1h")
	require.NoError(t, cache.Start(context.Background()))

	p := New(singleStoreResolver{st: mem}, cache, nil, clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), zap.NewNop())
	return p, mem
}

const rawMessage = "From: alice@other.org\r\nTo: bob@example.com\r\nSubject: hello\r\nMessage-Id: <abc@other.org>\r\nDate: Mon, 02 Jan 2006 15:04:05 -0700\r\nContent-Type: text/plain\r\n\r\nhi there\r\n"

func TestDeliverToLocalInbox(t *testing.T) {
	p, mem := newFixture(t)

	res, err := p.Deliver(context.Background(), "alice@other.org", []string{"bob@example.com"}, []byte(rawMessage))
	require.NoError(t, err)
	require.Equal(t, []string{"bob@example.com"}, res.Delivered)

	msgs, err := mem.ListMessages(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestDeliverRejectsUnknownDomain(t *testing.T) {
	p, _ := newFixture(t)

	res, err := p.Deliver(context.Background(), "alice@other.org", []string{"bob@nowhere.test"}, []byte(rawMessage))
	require.Error(t, err)
	require.Empty(t, res.Delivered)
	require.Contains(t, res.Rejected, "bob@nowhere.test")
}

func TestDeliverRejectsCannotReceive(t *testing.T) {
	p, mem := newFixture(t)
	mem.AddUser(&store.User{ID: 2, Username: "closed", DomainID: 1, CanReceive: false})

	res, err := p.Deliver(context.Background(), "alice@other.org", []string{"closed@example.com"}, []byte(rawMessage))
	require.Error(t, err)
	require.Contains(t, res.Rejected, "closed@example.com")
}
