package pop3

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oonrumail/mailcore/internal/auth"
	"github.com/oonrumail/mailcore/internal/domain"
	"github.com/oonrumail/mailcore/internal/store"
	"github.com/oonrumail/mailcore/internal/telemetry"
)

type fakeRepo struct {
	records []*domain.Record
}

func (f *fakeRepo) GetAllDomains(ctx context.Context) ([]*domain.Record, error) {
	return f.records, nil
}

func (f *fakeRepo) GetDomainByName(ctx context.Context, name string) (*domain.Record, error) {
	for _, r := range f.records {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, nil
}

func testServer(t *testing.T) (*Server, *store.MemStore, int64, int64) {
	t.Helper()
	mem := store.NewMemStore()
	domainID := mem.AddDomain(&store.DomainSettings{Name: "example.com"})
	userID := mem.AddUser(&store.User{
		Username:     "alice",
		DomainID:     domainID,
		PasswordHash: auth.DeriveKey("secret!", []byte("salt")),
		Salt:         []byte("salt"),
		CanLogin:     true,
		CanReceive:   true,
	})
	folderID := mem.AddFolder(&store.Folder{UserID: userID, Name: "INBOX", SystemType: store.SystemFolderInbox, UIDValidity: 1, UIDNext: 1})

	repo := &fakeRepo{records: []*domain.Record{{Name: "example.com", DatabaseName: "example", IsActive: true}}}
	cache := domain.NewCache(repo, zap.NewNop(), time.Hour, "@every 1h")
	require.NoError(t, cache.RefreshAll(context.Background()))

	authn := auth.New(mem, nil, auth.DefaultConfig(), nil, zap.NewNop())
	metrics := telemetry.New()

	srv := NewServer(Config{Hostname: "mail.example.com", IdleTimeout: time.Minute}, mem, cache, authn, metrics, zap.NewNop())
	return srv, mem, userID, folderID
}

func dialSession(t *testing.T, srv *Server) (*bufio.Reader, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	sess := newSession(srv, serverConn)
	go sess.Handle()
	return bufio.NewReader(clientConn), clientConn
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func TestUserPassStat(t *testing.T) {
	srv, mem, userID, folderID := testServer(t)
	_, err := mem.Append(context.Background(), userID, folderID, &store.Message{
		Subject: "hi", Headers: []byte("Subject: hi\r\n"), Body: []byte("body one"), ReceivedAt: time.Now(), SizeBytes: 8,
	}, []store.Flag{store.FlagRecent})
	require.NoError(t, err)

	r, conn := dialSession(t, srv)
	defer conn.Close()
	require.Contains(t, readLine(t, r), "+OK")

	sendLine(t, conn, "USER alice@example.com")
	require.Contains(t, readLine(t, r), "+OK")

	sendLine(t, conn, "PASS secret!")
	require.Contains(t, readLine(t, r), "+OK")

	sendLine(t, conn, "STAT")
	require.Contains(t, readLine(t, r), "+OK 1 8")
}

func TestPassRejectsBadPassword(t *testing.T) {
	srv, _, _, _ := testServer(t)
	r, conn := dialSession(t, srv)
	defer conn.Close()
	readLine(t, r)

	sendLine(t, conn, "USER alice@example.com")
	readLine(t, r)
	sendLine(t, conn, "PASS wrong")
	require.Contains(t, readLine(t, r), "-ERR")
}

func TestRetrAndDeleCommitOnQuit(t *testing.T) {
	srv, mem, userID, folderID := testServer(t)
	um, err := mem.Append(context.Background(), userID, folderID, &store.Message{
		Subject: "hi", Headers: []byte("Subject: hi\r\n"), Body: []byte("hello"), ReceivedAt: time.Now(), SizeBytes: 5,
	}, []store.Flag{store.FlagRecent})
	require.NoError(t, err)

	r, conn := dialSession(t, srv)
	defer conn.Close()
	readLine(t, r)
	sendLine(t, conn, "USER alice@example.com")
	readLine(t, r)
	sendLine(t, conn, "PASS secret!")
	readLine(t, r)

	sendLine(t, conn, "RETR 1")
	require.Contains(t, readLine(t, r), "+OK")
	for {
		line := readLine(t, r)
		if line == "." {
			break
		}
	}

	sendLine(t, conn, "DELE 1")
	require.Contains(t, readLine(t, r), "deleted")

	sendLine(t, conn, "QUIT")
	require.Contains(t, readLine(t, r), "signing off")

	flags, err := mem.GetFlags(context.Background(), um.MessageID, userID)
	require.NoError(t, err)
	require.True(t, flags[string(store.FlagDeleted)])
}

func TestUidlLists(t *testing.T) {
	srv, mem, userID, folderID := testServer(t)
	_, err := mem.Append(context.Background(), userID, folderID, &store.Message{
		Subject: "hi", HeaderMessageID: "<abc@example.com>", Body: []byte("x"), ReceivedAt: time.Now(), SizeBytes: 1,
	}, []store.Flag{store.FlagRecent})
	require.NoError(t, err)

	r, conn := dialSession(t, srv)
	defer conn.Close()
	readLine(t, r)
	sendLine(t, conn, "USER alice@example.com")
	readLine(t, r)
	sendLine(t, conn, "PASS secret!")
	readLine(t, r)

	sendLine(t, conn, "UIDL")
	require.Contains(t, readLine(t, r), "+OK")
	require.Contains(t, readLine(t, r), "<abc@example.com>")
	require.Equal(t, ".", readLine(t, r))
}
