package imap

import (
	"context"
	"strings"

	"github.com/oonrumail/mailcore/internal/auth"
	"github.com/oonrumail/mailcore/internal/protocol"
)

func (s *Session) cmdCapability(tag string) {
	s.sendUntagged("CAPABILITY " + s.capabilityString())
	s.sendTagged(tag, "OK", "CAPABILITY completed")
}

func (s *Session) cmdNoop(tag string) {
	if s.state == StateSelected {
		s.refreshMailboxView(context.Background())
	}
	s.sendTagged(tag, "OK", "NOOP completed")
}

func (s *Session) cmdLogout(tag string) {
	s.sendUntagged("BYE IMAP4rev1 Server logging out")
	s.sendTagged(tag, "OK", "LOGOUT completed")
	s.state = StateLogout
}

// cmdLogin implements "LOGIN user pass", per spec §4.7.
func (s *Session) cmdLogin(tag, rest string) {
	args := protocol.ParseQuotedStrings(rest)
	if len(args) != 2 {
		s.sendTagged(tag, "BAD", "LOGIN requires exactly two arguments")
		return
	}

	result, err := s.authenticate(context.Background(), args[0], args[1])
	if err != nil {
		s.server.metrics.AuthAttempts.WithLabelValues("imap", "failure").Inc()
		status, text := authErrorToIMAP(tag, err)
		s.sendTagged(tag, status, text)
		return
	}

	s.server.metrics.AuthAttempts.WithLabelValues("imap", "success").Inc()
	s.userID = result.UserID
	s.domainID = result.DomainID
	s.username = result.Username
	s.loginAddress = args[0]
	s.state = StateAuthenticated
	s.sendTagged(tag, "OK", "LOGIN completed")
}

// cmdAuthenticate implements "AUTHENTICATE PLAIN" with either an inline
// initial response or a continuation round-trip, per RFC 3501 §6.2.2.
func (s *Session) cmdAuthenticate(tag, rest string) {
	mechanism, initial, _ := strings.Cut(strings.TrimSpace(rest), " ")
	mechanism = strings.ToUpper(mechanism)
	if mechanism != "PLAIN" {
		s.sendTagged(tag, "NO", "unsupported SASL mechanism")
		return
	}

	response := initial
	if response == "" {
		s.sendContinuation("")
		line, err := protocol.ReadLine(s.reader)
		if err != nil {
			return
		}
		response = line
	}

	decoded, err := auth.DecodeBase64(response)
	if err != nil {
		s.sendTagged(tag, "BAD", "malformed SASL response")
		return
	}
	authcid, password, err := auth.ParsePlain(decoded)
	if err != nil {
		s.sendTagged(tag, "BAD", "malformed SASL PLAIN response")
		return
	}

	result, err := s.authenticate(context.Background(), authcid, password)
	if err != nil {
		s.server.metrics.AuthAttempts.WithLabelValues("imap", "failure").Inc()
		status, text := authErrorToIMAP(tag, err)
		s.sendTagged(tag, status, text)
		return
	}

	s.server.metrics.AuthAttempts.WithLabelValues("imap", "success").Inc()
	s.userID = result.UserID
	s.domainID = result.DomainID
	s.username = result.Username
	s.loginAddress = authcid
	s.state = StateAuthenticated
	s.sendTagged(tag, "OK", "AUTHENTICATE completed")
}
