package imap

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
	"github.com/oonrumail/mailcore/internal/protocol"
	"github.com/oonrumail/mailcore/internal/store"
)

// State is one IMAP4rev1 connection state (spec §4.7:
// NotAuthenticated -> Authenticated -> Selected -> Logout).
type State int

const (
	StateNotAuthenticated State = iota
	StateAuthenticated
	StateSelected
	StateLogout
)

// Session handles one IMAP connection end to end.
type Session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	id       string
	clientIP string
	logger   *zap.Logger

	state        State
	userID       int64
	domainID     int64
	username     string
	loginAddress string

	mailbox  *store.Folder
	readOnly bool
	seqmap   *SeqMap
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
		state:    StateNotAuthenticated,
	}
}

// Handle drives the connection from greeting to LOGOUT/disconnect, per
// imap-server/imap/connection.go's Handle().
func (s *Session) Handle() {
	defer s.conn.Close()

	s.sendUntagged(fmt.Sprintf("OK [CAPABILITY %s] %s ready", s.capabilityString(), s.server.cfg.Hostname))

	for s.state != StateLogout {
		s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))

		line, err := protocol.ReadLine(s.reader)
		if err != nil {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		tag, cmd, rest := splitCommandLine(line)
		if tag == "" || cmd == "" {
			s.sendTagged("*", "BAD", "invalid command")
			continue
		}

		s.server.metrics.CommandsProcessed.WithLabelValues("imap", strings.ToUpper(cmd)).Inc()
		s.dispatch(tag, strings.ToUpper(cmd), rest)
	}
}

func (s *Session) idleTimeout() time.Duration {
	if s.server.cfg.IdleTimeout > 0 {
		return s.server.cfg.IdleTimeout
	}
	return 30 * time.Minute
}

// splitCommandLine splits "tag CMD rest..." into its three parts.
func splitCommandLine(line string) (tag, cmd, rest string) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", "", ""
	}
	tag = parts[0]
	cmd = parts[1]
	if len(parts) == 3 {
		rest = parts[2]
	}
	return tag, cmd, rest
}

func (s *Session) dispatch(tag, cmd, rest string) {
	switch cmd {
	case "CAPABILITY":
		s.cmdCapability(tag)
	case "NOOP":
		s.cmdNoop(tag)
	case "LOGOUT":
		s.cmdLogout(tag)
	case "LOGIN":
		s.cmdLogin(tag, rest)
	case "AUTHENTICATE":
		s.cmdAuthenticate(tag, rest)
	case "STARTTLS":
		s.sendTagged(tag, "NO", "TLS is terminated upstream of this server")
	case "SELECT":
		s.cmdSelectOrExamine(tag, rest, false)
	case "EXAMINE":
		s.cmdSelectOrExamine(tag, rest, true)
	case "LIST":
		s.cmdList(tag, rest)
	case "APPEND":
		s.cmdAppend(tag, rest)
	case "FETCH":
		s.cmdFetch(tag, rest, false)
	case "STORE":
		s.cmdStore(tag, rest, false)
	case "SEARCH":
		s.cmdSearch(tag, rest, false)
	case "EXPUNGE":
		s.cmdExpunge(tag)
	case "UID":
		s.dispatchUID(tag, rest)
	case "CHECK":
		s.requireSelected(tag, func() { s.sendTagged(tag, "OK", "CHECK completed") })
	default:
		s.sendTagged(tag, "BAD", "unknown command")
	}
}

func (s *Session) dispatchUID(tag, rest string) {
	sub, rest2, _ := strings.Cut(rest, " ")
	switch strings.ToUpper(sub) {
	case "FETCH":
		s.cmdFetch(tag, rest2, true)
	case "STORE":
		s.cmdStore(tag, rest2, true)
	case "SEARCH":
		s.cmdSearch(tag, rest2, true)
	case "COPY":
		s.sendTagged(tag, "NO", "UID COPY not supported")
	default:
		s.sendTagged(tag, "BAD", "unknown UID subcommand")
	}
}

func (s *Session) requireAuthenticated(tag string, f func()) {
	if s.state == StateNotAuthenticated {
		s.sendTagged(tag, "BAD", "command requires authentication")
		return
	}
	f()
}

func (s *Session) requireSelected(tag string, f func()) {
	if s.state != StateSelected {
		s.sendTagged(tag, "BAD", "command requires a selected mailbox")
		return
	}
	f()
}

// --- wire helpers ---

func (s *Session) sendTagged(tag, status, text string) {
	s.writeLine(fmt.Sprintf("%s %s %s", tag, status, text))
}

func (s *Session) sendUntagged(text string) {
	s.writeLine("* " + text)
}

func (s *Session) sendContinuation(text string) {
	s.writeLine("+ " + text)
}

func (s *Session) writeLine(line string) {
	s.writer.WriteString(line)
	s.writer.WriteString("\r\n")
	s.writer.Flush()
}

func (s *Session) capabilityString() string {
	return "IMAP4rev1 STARTTLS AUTH=PLAIN UIDPLUS"
}

// --- auth result mapping, shared with cmdLogin/cmdAuthenticate ---

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

func authErrorToIMAP(tag string, err error) (status, text string) {
	k, ok := kinds.As(err)
	if !ok {
		return "NO", "temporary authentication failure"
	}
	switch k.Kind {
	case kinds.LockedOut:
		return "NO", fmt.Sprintf("[ALERT] Account locked until %s", k.LockedUntil.Format(time.RFC3339))
	case kinds.AuthFailed:
		return "NO", "authentication credentials invalid"
	case kinds.NotFound:
		return "NO", "authentication credentials invalid"
	case kinds.Syntax:
		return "BAD", "malformed authentication request"
	default:
		return "NO", "temporary authentication failure"
	}
}

func kindToIMAP(err error) (status, text string) {
	k, ok := kinds.As(err)
	if !ok {
		return "BAD", "Internal server error"
	}
	switch k.Kind {
	case kinds.NotFound:
		return "NO", k.Error()
	case kinds.Syntax:
		return "BAD", k.Error()
	case kinds.QuotaExceeded:
		return "NO", "quota exceeded"
	case kinds.Transient:
		return "NO", "temporary failure, please try again"
	default:
		return "BAD", "Internal server error"
	}
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}
