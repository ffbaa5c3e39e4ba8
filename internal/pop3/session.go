package pop3

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oonrumail/mailcore/internal/auth"
	"github.com/oonrumail/mailcore/internal/kinds"
	"github.com/oonrumail/mailcore/internal/store"
)

// State is one POP3 session state (spec §4.8: AUTHORIZATION ->
// TRANSACTION -> UPDATE), grounded on infodancer-pop3d's handler.go
// session states.
type State int

const (
	StateAuthorization State = iota
	StateTransaction
	StateUpdate
)

// snapshotEntry is one message in the TRANSACTION-state mailbox snapshot
// frozen at PASS success (spec §4.8's "deletions apply only at QUIT").
type snapshotEntry struct {
	messageID int64
	uid       string
	size      int64
	deleted   bool
}

// Session handles one POP3 connection end to end.
type Session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	id       string
	clientIP string
	logger   *zap.Logger

	state State

	pendingUser string
	userID      int64
	domainID    int64
	folder      *store.Folder

	snapshot []snapshotEntry
}

func newSession(s *Server, conn net.Conn) *Session {
	clientIP := conn.RemoteAddr().String()
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = tcpAddr.IP.String()
	}
	id := newConnectionID()
	return &Session{
		server:   s,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		id:       id,
		clientIP: clientIP,
		logger:   s.logger.With(zap.String("conn_id", id), zap.String("client_ip", clientIP)),
		state:    StateAuthorization,
	}
}

// Handle drives the connection from greeting to QUIT/disconnect, per
// infodancer-pop3d's handler.go main loop.
func (s *Session) Handle() {
	defer s.conn.Close()

	s.sendLine(fmt.Sprintf("+OK %s POP3 server ready", s.server.cfg.Hostname))

	for s.state != StateUpdate {
		s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))

		line, err := s.readLine()
		if err != nil {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
		cmd = strings.ToUpper(cmd)

		s.server.metrics.CommandsProcessed.WithLabelValues("pop3", cmd).Inc()
		quit := s.dispatch(cmd, rest)
		if quit {
			return
		}
	}
}

func (s *Session) idleTimeout() time.Duration {
	if s.server.cfg.IdleTimeout > 0 {
		return s.server.cfg.IdleTimeout
	}
	return 10 * time.Minute
}

func (s *Session) readLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// dispatch runs one command and reports whether the session should close.
func (s *Session) dispatch(cmd, rest string) (quit bool) {
	switch cmd {
	case "USER":
		s.cmdUser(rest)
	case "PASS":
		s.cmdPass(rest)
	case "CAPA":
		s.cmdCapa()
	case "NOOP":
		s.sendLine("+OK")
	case "QUIT":
		s.cmdQuit()
		return true
	case "STAT":
		s.requireTransaction(s.cmdStat)
	case "LIST":
		s.requireTransaction(func() { s.cmdList(rest) })
	case "RETR":
		s.requireTransaction(func() { s.cmdRetr(rest) })
	case "TOP":
		s.requireTransaction(func() { s.cmdTop(rest) })
	case "DELE":
		s.requireTransaction(func() { s.cmdDele(rest) })
	case "UIDL":
		s.requireTransaction(func() { s.cmdUidl(rest) })
	case "RSET":
		s.requireTransaction(s.cmdRset)
	default:
		s.sendLine("-ERR unknown command")
	}
	return false
}

func (s *Session) requireTransaction(f func()) {
	if s.state != StateTransaction {
		s.sendLine("-ERR command requires a completed PASS")
		return
	}
	f()
}

func (s *Session) sendLine(line string) {
	s.writer.WriteString(line)
	s.writer.WriteString("\r\n")
	s.writer.Flush()
}

// activeEntries returns the snapshot entries not locally marked deleted,
// paired with their 1-based POP3 message number.
func (s *Session) activeEntries() map[int]snapshotEntry {
	out := map[int]snapshotEntry{}
	for i, e := range s.snapshot {
		if !e.deleted {
			out[i+1] = e
		}
	}
	return out
}

func (s *Session) entryAt(num int) (snapshotEntry, bool) {
	if num < 1 || num > len(s.snapshot) {
		return snapshotEntry{}, false
	}
	e := s.snapshot[num-1]
	if e.deleted {
		return snapshotEntry{}, false
	}
	return e, true
}

func parsePositiveInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func (s *Session) authenticate(ctx context.Context, addr, password string) (*auth.Result, error) {
	local, domainName := auth.SplitUserHost(addr)
	rec, err := s.server.domains.Resolve(ctx, domainName)
	if err != nil || rec == nil {
		return nil, kinds.New(kinds.NotFound, "domain not served here")
	}
	domainID, err := s.server.auth.ResolveDomainID(ctx, rec.Name)
	if err != nil {
		return nil, kinds.New(kinds.NotFound, "domain not served here")
	}
	return s.server.auth.Authenticate(ctx, domainID, local, password, s.clientIP)
}
