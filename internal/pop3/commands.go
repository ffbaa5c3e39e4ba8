package pop3

import (
	"context"
	"fmt"
	"strings"

	"github.com/oonrumail/mailcore/internal/kinds"
	"github.com/oonrumail/mailcore/internal/protocol"
	"github.com/oonrumail/mailcore/internal/store"
)

// cmdUser implements "USER name" (spec §4.8): records the candidate
// mailbox without touching the store, per infodancer-pop3d's
// authorization_commands.go USER handler.
func (s *Session) cmdUser(rest string) {
	if s.state != StateAuthorization {
		s.sendLine("-ERR already authenticated")
		return
	}
	name := strings.TrimSpace(rest)
	if name == "" {
		s.sendLine("-ERR USER requires a mailbox name")
		return
	}
	s.pendingUser = name
	s.sendLine("+OK send PASS")
}

// cmdPass implements "PASS password": authenticates, resolves INBOX, and
// freezes the TRANSACTION-state snapshot (spec §4.8).
func (s *Session) cmdPass(rest string) {
	if s.state != StateAuthorization {
		s.sendLine("-ERR already authenticated")
		return
	}
	if s.pendingUser == "" {
		s.sendLine("-ERR USER required first")
		return
	}
	password := rest

	ctx := context.Background()
	result, err := s.authenticate(ctx, s.pendingUser, password)
	if err != nil {
		s.server.metrics.AuthAttempts.WithLabelValues("pop3", "failure").Inc()
		s.sendLine("-ERR " + popAuthErrorText(err))
		s.pendingUser = ""
		return
	}

	folder, err := s.server.store.GetFolderByName(ctx, result.UserID, "INBOX")
	if err != nil {
		s.sendLine("-ERR mailbox unavailable")
		s.pendingUser = ""
		return
	}

	placements, err := s.server.store.ListMessages(ctx, folder.ID)
	if err != nil {
		s.sendLine("-ERR mailbox unavailable")
		s.pendingUser = ""
		return
	}

	snapshot := make([]snapshotEntry, 0, len(placements))
	for _, um := range placements {
		msg, err := s.server.store.GetMessage(ctx, um.MessageID)
		if err != nil {
			continue
		}
		uid := msg.HeaderMessageID
		if uid == "" {
			uid = fmt.Sprintf("%d", um.MessageID)
		}
		snapshot = append(snapshot, snapshotEntry{
			messageID: um.MessageID,
			uid:       uid,
			size:      msg.SizeBytes,
		})
	}

	s.server.metrics.AuthAttempts.WithLabelValues("pop3", "success").Inc()
	s.userID = result.UserID
	s.domainID = result.DomainID
	s.folder = folder
	s.snapshot = snapshot
	s.state = StateTransaction
	s.pendingUser = ""
	s.sendLine(fmt.Sprintf("+OK %s has %d message(s)", result.Username, len(snapshot)))
}

func popAuthErrorText(err error) string {
	k, ok := kinds.As(err)
	if !ok {
		return "temporary authentication failure"
	}
	switch k.Kind {
	case kinds.LockedOut:
		return "account locked, try again later"
	case kinds.AuthFailed, kinds.NotFound:
		return "authentication failed"
	default:
		return "temporary authentication failure"
	}
}

// cmdCapa implements "CAPA" (spec §6), a multi-line response terminated
// by a lone ".".
func (s *Session) cmdCapa() {
	s.sendLine("+OK Capability list follows")
	s.sendLine("USER")
	s.sendLine("UIDL")
	s.sendLine("TOP")
	s.sendLine("RESP-CODES")
	s.sendLine(".")
}

// cmdQuit commits any DELE marks made this TRANSACTION and signs off.
// An abnormal disconnect (no QUIT) never reaches this code, so marks
// made but never committed are discarded, matching spec §4.8.
func (s *Session) cmdQuit() {
	if s.state == StateTransaction && s.folder != nil {
		ctx := context.Background()
		anyDeleted := false
		for _, e := range s.snapshot {
			if !e.deleted {
				continue
			}
			anyDeleted = true
			if _, err := s.server.store.ApplyFlags(ctx, e.messageID, s.userID, store.StoreAdd, []store.Flag{store.FlagDeleted}); err != nil {
				s.logger.Warn("pop3 quit: failed to mark message deleted")
			}
		}
		if anyDeleted {
			if _, err := s.server.store.Expunge(ctx, s.userID, s.folder.ID); err != nil {
				s.logger.Warn("pop3 quit: expunge failed")
			}
		}
	}
	s.sendLine("+OK POP3 server signing off")
	s.state = StateUpdate
}

// cmdStat implements "STAT": total count and byte size of undeleted
// messages.
func (s *Session) cmdStat() {
	count := 0
	var total int64
	for _, e := range s.snapshot {
		if e.deleted {
			continue
		}
		count++
		total += e.size
	}
	s.sendLine(fmt.Sprintf("+OK %d %d", count, total))
}

// cmdList implements bare "LIST" and "LIST msg".
func (s *Session) cmdList(rest string) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		active := s.activeEntries()
		s.sendLine(fmt.Sprintf("+OK %d message(s)", len(active)))
		for i := 1; i <= len(s.snapshot); i++ {
			if e, ok := active[i]; ok {
				s.sendLine(fmt.Sprintf("%d %d", i, e.size))
			}
		}
		s.sendLine(".")
		return
	}

	num, ok := parsePositiveInt(rest)
	if !ok {
		s.sendLine("-ERR invalid message number")
		return
	}
	e, ok := s.entryAt(num)
	if !ok {
		s.sendLine("-ERR no such message")
		return
	}
	s.sendLine(fmt.Sprintf("+OK %d %d", num, e.size))
}

// cmdUidl implements bare "UIDL" and "UIDL msg" (spec §4.8's stable
// per-message identifier, drawn from Message-ID when present).
func (s *Session) cmdUidl(rest string) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		active := s.activeEntries()
		s.sendLine(fmt.Sprintf("+OK %d message(s)", len(active)))
		for i := 1; i <= len(s.snapshot); i++ {
			if e, ok := active[i]; ok {
				s.sendLine(fmt.Sprintf("%d %s", i, e.uid))
			}
		}
		s.sendLine(".")
		return
	}

	num, ok := parsePositiveInt(rest)
	if !ok {
		s.sendLine("-ERR invalid message number")
		return
	}
	e, ok := s.entryAt(num)
	if !ok {
		s.sendLine("-ERR no such message")
		return
	}
	s.sendLine(fmt.Sprintf("+OK %d %s", num, e.uid))
}

// cmdDele marks a message deleted in this session's snapshot only; the
// store is not touched until QUIT.
func (s *Session) cmdDele(rest string) {
	num, ok := parsePositiveInt(rest)
	if !ok {
		s.sendLine("-ERR invalid message number")
		return
	}
	if _, ok := s.entryAt(num); !ok {
		s.sendLine("-ERR no such message")
		return
	}
	s.snapshot[num-1].deleted = true
	s.sendLine(fmt.Sprintf("+OK message %d deleted", num))
}

// cmdRset clears every deletion mark made this session.
func (s *Session) cmdRset() {
	for i := range s.snapshot {
		s.snapshot[i].deleted = false
	}
	s.sendLine("+OK")
}

// cmdRetr streams the full message, dot-stuffed and terminated by the
// standalone "." line (spec §4.8, RFC 1939 §5).
func (s *Session) cmdRetr(rest string) {
	num, ok := parsePositiveInt(rest)
	if !ok {
		s.sendLine("-ERR invalid message number")
		return
	}
	e, ok := s.entryAt(num)
	if !ok {
		s.sendLine("-ERR no such message")
		return
	}

	msg, err := s.server.store.GetMessage(context.Background(), e.messageID)
	if err != nil {
		s.sendLine("-ERR message unavailable")
		return
	}

	s.sendLine(fmt.Sprintf("+OK %d octets", e.size))
	s.writeDotStuffed(fullMessageText(msg))
}

// cmdTop streams the header block plus the first n lines of the body
// (spec §4.8, RFC 1939 §7).
func (s *Session) cmdTop(rest string) {
	msgPart, linesPart, found := strings.Cut(strings.TrimSpace(rest), " ")
	if !found {
		s.sendLine("-ERR TOP requires a message number and line count")
		return
	}
	num, ok := parsePositiveInt(msgPart)
	if !ok {
		s.sendLine("-ERR invalid message number")
		return
	}
	n, err := parseNonNegativeInt(linesPart)
	if err != nil {
		s.sendLine("-ERR invalid line count")
		return
	}

	e, ok := s.entryAt(num)
	if !ok {
		s.sendLine("-ERR no such message")
		return
	}

	msg, err := s.server.store.GetMessage(context.Background(), e.messageID)
	if err != nil {
		s.sendLine("-ERR message unavailable")
		return
	}

	s.sendLine("+OK")
	s.writeDotStuffed(topText(msg, n))
}

func (s *Session) writeDotStuffed(text string) {
	lines := strings.Split(text, "\r\n")
	for _, line := range lines {
		s.writer.WriteString(protocol.DotStuff(line))
		s.writer.WriteString("\r\n")
	}
	s.writer.WriteString(".\r\n")
	s.writer.Flush()
}

func fullMessageText(msg *store.Message) string {
	header := strings.TrimRight(string(msg.Headers), "\r\n")
	body := string(msg.Body)
	if header == "" {
		return body
	}
	return header + "\r\n\r\n" + body
}

// topText returns the header block plus the first n lines of the body.
func topText(msg *store.Message, n int) string {
	header := strings.TrimRight(string(msg.Headers), "\r\n")
	bodyLines := strings.Split(string(msg.Body), "\r\n")
	if n < len(bodyLines) {
		bodyLines = bodyLines[:n]
	}
	body := strings.Join(bodyLines, "\r\n")
	if header == "" {
		return body
	}
	return header + "\r\n\r\n" + body
}

func parseNonNegativeInt(s string) (int, error) {
	n, ok := parsePositiveInt(s)
	if ok {
		return n, nil
	}
	if strings.TrimSpace(s) == "0" {
		return 0, nil
	}
	return 0, fmt.Errorf("invalid integer %q", s)
}
