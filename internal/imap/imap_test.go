package imap

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

// readUntilTagged reads and discards lines until (and including) the
// tagged completion line for tag, returning that final line. Used after
// commands like SELECT whose number of untagged responses varies (an
// extra "* OK [UNSEEN ...]" line appears only when the mailbox has an
// unseen message).
func readUntilTagged(t *testing.T, r *bufio.Reader, tag string) string {
	t.Helper()
	for {
		line := readLine(t, r)
		if strings.HasPrefix(line, tag+" ") {
			return line
		}
	}
}

func TestLoginAndSelect(t *testing.T) {
	srv, _, _, _ := testServer(t)
	r, conn := dialSession(t, srv)
	defer conn.Close()

	greeting := readLine(t, r)
	require.Contains(t, greeting, "* OK")
	require.Contains(t, greeting, "CAPABILITY")

	sendLine(t, conn, `a1 LOGIN alice@example.com secret!`)
	require.Contains(t, readLine(t, r), "a1 OK")

	sendLine(t, conn, `a2 SELECT INBOX`)
	require.Contains(t, readLine(t, r), "EXISTS")
	require.Contains(t, readLine(t, r), "RECENT")
	require.Contains(t, readLine(t, r), "FLAGS")
	require.Contains(t, readLine(t, r), "PERMANENTFLAGS")
	require.Contains(t, readLine(t, r), "UIDNEXT")
	require.Contains(t, readLine(t, r), "UIDVALIDITY")
	require.Contains(t, readLine(t, r), "a2 OK [READ-WRITE]")
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _, _, _ := testServer(t)
	r, conn := dialSession(t, srv)
	defer conn.Close()
	readLine(t, r) // greeting

	sendLine(t, conn, `a1 LOGIN alice@example.com wrong`)
	require.Contains(t, readLine(t, r), "a1 NO")
}

func TestAppendAndFetch(t *testing.T) {
	srv, _, _, _ := testServer(t)
	r, conn := dialSession(t, srv)
	defer conn.Close()
	readLine(t, r) // greeting

	sendLine(t, conn, `a1 LOGIN alice@example.com secret!`)
	readLine(t, r)

	msg := "From: alice@example.com\r\nSubject: hello\r\n\r\nhello world\r\n"
	sendLine(t, conn, "a2 APPEND INBOX (\\Seen) {"+itoaTest(len(msg))+"}")
	require.Contains(t, readLine(t, r), "+")
	_, err := conn.Write([]byte(msg + "\r\n"))
	require.NoError(t, err)
	require.Contains(t, readLine(t, r), "APPENDUID")

	sendLine(t, conn, `a3 SELECT INBOX`)
	require.Contains(t, readUntilTagged(t, r, "a3"), "OK [READ-WRITE]")

	sendLine(t, conn, `a4 FETCH 1 (FLAGS RFC822.SIZE)`)
	fetchLine := readLine(t, r)
	require.Contains(t, fetchLine, "FETCH")
	require.Contains(t, fetchLine, "FLAGS")
	require.Contains(t, readLine(t, r), "a4 OK")
}

func TestSearchAndExpunge(t *testing.T) {
	srv, mem, userID, folderID := testServer(t)
	um, err := mem.Append(context.Background(), userID, folderID, &store.Message{
		Subject: "keep me", Body: []byte("hi"), ReceivedAt: time.Now(),
	}, []store.Flag{store.FlagRecent})
	require.NoError(t, err)

	um2, err := mem.Append(context.Background(), userID, folderID, &store.Message{
		Subject: "delete me", Body: []byte("bye"), ReceivedAt: time.Now(),
	}, []store.Flag{store.FlagDeleted})
	require.NoError(t, err)
	require.NotEqual(t, um.UID, um2.UID)

	r, conn := dialSession(t, srv)
	defer conn.Close()
	readLine(t, r)
	sendLine(t, conn, `a1 LOGIN alice@example.com secret!`)
	readLine(t, r)
	sendLine(t, conn, `a2 SELECT INBOX`)
	require.Contains(t, readUntilTagged(t, r, "a2"), "OK [READ-WRITE]")

	sendLine(t, conn, `a3 SEARCH SUBJECT "keep"`)
	require.Contains(t, readLine(t, r), "SEARCH")
	require.Contains(t, readLine(t, r), "a3 OK")

	sendLine(t, conn, `a4 EXPUNGE`)
	require.Contains(t, readLine(t, r), "EXPUNGE")
	require.Contains(t, readUntilTagged(t, r, "a4"), "a4 OK")
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
