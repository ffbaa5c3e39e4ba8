// Package smtp implements the SMTP/Submission Session (spec §4.5) on top
// of emersion/go-smtp, grounded on smtp-server/smtp/server.go: one
// Backend shared by a receiving server (port 25, no auth) and a
// submission server (port 587, auth required over TLS), each producing
// a Session per connection.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/oonrumail/mailcore/internal/auth"
	"github.com/oonrumail/mailcore/internal/delivery"
	"github.com/oonrumail/mailcore/internal/domain"
	"github.com/oonrumail/mailcore/internal/kinds"
	"github.com/oonrumail/mailcore/internal/telemetry"
)

// Server is the multi-domain SMTP/Submission server.
type Server struct {
	hostname   string
	domains    *domain.Cache
	delivery   *delivery.Pipeline
	auth       *auth.Authenticator
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	maxMsgSize int
	maxRcpts   int
	tlsConfig  *tls.Config

	smtpAddr       string
	submissionAddr string

	smtpServer       *gosmtp.Server
	submissionServer *gosmtp.Server

	mu      sync.Mutex
	running bool
}

// Config bundles the listener addresses and limits from spec §2/§6.
type Config struct {
	Hostname        string
	SMTPAddr        string
	SubmissionAddr  string
	MaxMessageBytes int
	MaxRecipients   int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	TLSConfig       *tls.Config
}

func NewServer(cfg Config, domains *domain.Cache, deliveryPipeline *delivery.Pipeline, authn *auth.Authenticator, metrics *telemetry.Metrics, logger *zap.Logger) *Server {
	return &Server{
		hostname:       cfg.Hostname,
		domains:        domains,
		delivery:       deliveryPipeline,
		auth:           authn,
		logger:         logger,
		metrics:        metrics,
		maxMsgSize:     cfg.MaxMessageBytes,
		maxRcpts:       cfg.MaxRecipients,
		tlsConfig:      cfg.TLSConfig,
		smtpAddr:       cfg.SMTPAddr,
		submissionAddr: cfg.SubmissionAddr,
	}
}

// Start launches the receiving and submission listeners.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("smtp server already running")
	}
	s.running = true
	s.mu.Unlock()

	backend := &Backend{server: s}

	s.smtpServer = gosmtp.NewServer(backend)
	s.smtpServer.Addr = s.smtpAddr
	s.smtpServer.Domain = s.hostname
	s.smtpServer.MaxMessageBytes = s.maxMsgSize
	s.smtpServer.MaxRecipients = s.maxRcpts
	s.smtpServer.AllowInsecureAuth = false
	s.smtpServer.AuthDisabled = true
	if s.tlsConfig != nil {
		s.smtpServer.TLSConfig = s.tlsConfig
	}

	s.submissionServer = gosmtp.NewServer(backend)
	s.submissionServer.Addr = s.submissionAddr
	s.submissionServer.Domain = s.hostname
	s.submissionServer.MaxMessageBytes = s.maxMsgSize
	s.submissionServer.MaxRecipients = s.maxRcpts
	s.submissionServer.AllowInsecureAuth = false
	s.submissionServer.AuthDisabled = false
	if s.tlsConfig != nil {
		s.submissionServer.TLSConfig = s.tlsConfig
	}

	go func() {
		s.logger.Info("starting SMTP listener", zap.String("addr", s.smtpAddr))
		if err := s.smtpServer.ListenAndServe(); err != nil && err != gosmtp.ErrServerClosed {
			s.logger.Error("smtp listener stopped", zap.Error(err))
		}
	}()
	go func() {
		s.logger.Info("starting submission listener", zap.String("addr", s.submissionAddr))
		if err := s.submissionServer.ListenAndServe(); err != nil && err != gosmtp.ErrServerClosed {
			s.logger.Error("submission listener stopped", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully closes both listeners.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	var firstErr error
	if s.smtpServer != nil {
		if err := s.smtpServer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.submissionServer != nil {
		if err := s.submissionServer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Backend implements gosmtp.Backend, handing out a fresh Session per
// connection.
type Backend struct {
	server *Server
}

func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	var clientIP net.IP
	if tcpAddr, ok := c.Conn().RemoteAddr().(*net.TCPAddr); ok {
		clientIP = tcpAddr.IP
	}

	sess := &Session{
		backend:   b,
		conn:      c,
		clientIP:  clientIP,
		logger:    b.server.logger.With(zap.String("client_ip", clientIP.String())),
		startTime: time.Now(),
		isTLS:     c.TLSConnectionState() != nil,
	}

	b.server.metrics.ConnectionsTotal.WithLabelValues("smtp").Inc()
	b.server.metrics.ConnectionsActive.WithLabelValues("smtp").Inc()
	return sess, nil
}

// Session handles one SMTP/Submission connection, per spec §4.5.
type Session struct {
	backend   *Backend
	conn      *gosmtp.Conn
	clientIP  net.IP
	logger    *zap.Logger
	startTime time.Time
	isTLS     bool

	authenticated bool
	userID        int64
	domainID      int64

	from       string
	fromDomain string
	recipients []string
}

func (s *Session) Reset() {
	s.from = ""
	s.fromDomain = ""
	s.recipients = nil
}

func (s *Session) Logout() error {
	duration := time.Since(s.startTime)
	s.backend.server.metrics.ConnectionsActive.WithLabelValues("smtp").Dec()
	s.backend.server.metrics.SessionDuration.WithLabelValues("smtp").Observe(duration.Seconds())
	return nil
}

// AuthMechanisms only advertises SASL mechanisms once TLS is in place,
// per spec §4.5's "no AUTH before STARTTLS" rule.
func (s *Session) AuthMechanisms() []string {
	if !s.isTLS {
		return nil
	}
	return []string{"PLAIN", "LOGIN"}
}

func (s *Session) Auth(mech string) (gosmtp.AuthSession, error) {
	if !s.isTLS {
		return nil, &gosmtp.SMTPError{Code: 523, EnhancedCode: gosmtp.EnhancedCode{5, 7, 10}, Message: "TLS required for authentication"}
	}
	return &authSession{session: s, mechanism: mech}, nil
}

type authSession struct {
	session   *Session
	mechanism string
	loginSrv  sasl.Server
}

func (a *authSession) Next(response []byte, more bool) ([]byte, error) {
	ctx := context.Background()
	authn := a.session.backend.server.auth

	switch a.mechanism {
	case "PLAIN":
		if more && len(response) == 0 {
			return nil, nil
		}
		authcid, passwd, err := auth.ParsePlain(response)
		if err != nil {
			return nil, authErrorToSMTP(err)
		}
		return nil, a.session.finishAuth(ctx, authn, authcid, passwd)

	case "LOGIN":
		// go-sasl's LOGIN mechanism server drives the Username:/Password:
		// continuation round-trip; the final step's callback runs the
		// same finishAuth as PLAIN, so its *gosmtp.SMTPError return flows
		// straight back out as Next's error.
		if a.loginSrv == nil {
			a.loginSrv = auth.NewLoginServer(func(username, password string) error {
				return a.session.finishAuth(ctx, authn, username, password)
			})
		}
		challenge, done, err := a.loginSrv.Next(response)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, nil
		}
		return challenge, nil

	default:
		return nil, &gosmtp.SMTPError{Code: 504, EnhancedCode: gosmtp.EnhancedCode{5, 5, 4}, Message: "unrecognized authentication mechanism"}
	}
}

func (s *Session) finishAuth(ctx context.Context, authn *auth.Authenticator, addr, passwd string) error {
	local, domainName := auth.SplitUserHost(addr)
	rec, err := s.backend.server.domains.Resolve(ctx, domainName)
	if err != nil || rec == nil {
		s.backend.server.metrics.AuthAttempts.WithLabelValues("smtp", "unknown_domain").Inc()
		return &gosmtp.SMTPError{Code: 535, EnhancedCode: gosmtp.EnhancedCode{5, 7, 8}, Message: "authentication credentials invalid"}
	}

	domainID, err := authn.ResolveDomainID(ctx, rec.Name)
	if err != nil {
		s.backend.server.metrics.AuthAttempts.WithLabelValues("smtp", "unknown_domain").Inc()
		return &gosmtp.SMTPError{Code: 535, EnhancedCode: gosmtp.EnhancedCode{5, 7, 8}, Message: "authentication credentials invalid"}
	}

	result, err := authn.Authenticate(ctx, domainID, local, passwd, s.clientIP.String())
	if err != nil {
		s.backend.server.metrics.AuthAttempts.WithLabelValues("smtp", "failure").Inc()
		return authErrorToSMTP(err)
	}

	s.authenticated = true
	s.userID = result.UserID
	s.domainID = result.DomainID
	s.backend.server.metrics.AuthAttempts.WithLabelValues("smtp", "success").Inc()
	return nil
}

func authErrorToSMTP(err error) error {
	k, _ := kinds.As(err)
	if k == nil {
		return &gosmtp.SMTPError{Code: 454, EnhancedCode: gosmtp.EnhancedCode{4, 7, 0}, Message: "temporary authentication failure"}
	}
	switch k.Kind {
	case kinds.LockedOut:
		return &gosmtp.SMTPError{Code: 535, EnhancedCode: gosmtp.EnhancedCode{5, 7, 8}, Message: "account is temporarily locked due to too many failed attempts"}
	case kinds.AuthFailed:
		return &gosmtp.SMTPError{Code: 535, EnhancedCode: gosmtp.EnhancedCode{5, 7, 8}, Message: "authentication credentials invalid"}
	case kinds.Syntax:
		return &gosmtp.SMTPError{Code: 501, EnhancedCode: gosmtp.EnhancedCode{5, 5, 4}, Message: "malformed authentication response"}
	default:
		return &gosmtp.SMTPError{Code: 454, EnhancedCode: gosmtp.EnhancedCode{4, 7, 0}, Message: "temporary authentication failure"}
	}
}

// Mail handles MAIL FROM, per spec §4.5 step 1.
func (s *Session) Mail(from string, opts *gosmtp.MailOptions) error {
	domainName := extractDomain(from)
	if domainName == "" {
		return &gosmtp.SMTPError{Code: 501, Message: "invalid sender address"}
	}
	s.from = from
	s.fromDomain = domainName
	s.backend.server.metrics.MessagesReceived.WithLabelValues(domainName).Inc()
	return nil
}

// Rcpt handles RCPT TO: the recipient's domain must be served here, and
// relaying to a domain not served here requires prior authentication.
// The mailbox itself (direct or catch-all) is not looked up until DATA
// hands the message to delivery.
func (s *Session) Rcpt(to string, opts *gosmtp.RcptOptions) error {
	domainName := extractDomain(to)
	if domainName == "" {
		return &gosmtp.SMTPError{Code: 501, Message: "invalid recipient address"}
	}

	ctx := context.Background()
	rec, err := s.backend.server.domains.Resolve(ctx, domainName)
	if err != nil {
		return &gosmtp.SMTPError{Code: 451, Message: "temporary error resolving recipient domain"}
	}

	if rec == nil {
		if !s.authenticated {
			return &gosmtp.SMTPError{Code: 550, Message: "relay access denied"}
		}
	}

	if len(s.recipients) >= s.backend.server.maxRcpts {
		return &gosmtp.SMTPError{Code: 452, Message: "too many recipients"}
	}

	s.recipients = append(s.recipients, to)
	return nil
}

// Data streams and delivers the message body, per spec §4.5 steps 3-6.
// A nil return lets go-smtp write its own fixed success response; the
// library offers no hook to substitute different success text.
func (s *Session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, int64(s.backend.server.maxMsgSize)+1))
	if err != nil {
		return &gosmtp.SMTPError{Code: 451, Message: "error reading message"}
	}
	if len(raw) > s.backend.server.maxMsgSize {
		return &gosmtp.SMTPError{Code: 552, Message: "message exceeds maximum size"}
	}

	s.backend.server.metrics.MessageSize.Observe(float64(len(raw)))

	start := time.Now()
	res, err := s.backend.server.delivery.Deliver(context.Background(), s.from, s.recipients, raw)
	s.backend.server.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	if err != nil && len(res.Delivered) == 0 {
		s.backend.server.metrics.MessagesRejected.WithLabelValues("no_recipient_delivered").Inc()
		return &gosmtp.SMTPError{Code: 550, Message: "no recipient could be delivered"}
	}
	return nil
}

func extractDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}
