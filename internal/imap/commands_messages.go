package imap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oonrumail/mailcore/internal/delivery"
	"github.com/oonrumail/mailcore/internal/protocol"
	"github.com/oonrumail/mailcore/internal/store"
)

// cmdAppend implements "APPEND mbox [flags] [datetime] {n}" (spec §4.7),
// modeling the two-phase literal read the Design Note calls for: the
// header is parsed first, then the literal body is read with
// protocol.ReadLiteral before the rest of the line is consumed.
func (s *Session) cmdAppend(tag, rest string) {
	if s.state == StateNotAuthenticated {
		s.sendTagged(tag, "BAD", "command requires authentication")
		return
	}

	trimmed := strings.TrimSpace(rest)
	if !strings.HasSuffix(trimmed, "}") {
		s.sendTagged(tag, "BAD", "APPEND requires a literal message body")
		return
	}
	idx := strings.LastIndex(trimmed, "{")
	if idx < 0 {
		s.sendTagged(tag, "BAD", "APPEND requires a literal message body")
		return
	}
	litSpec := trimmed[idx+1 : len(trimmed)-1]
	synchronizing := !strings.HasSuffix(litSpec, "+")
	litSpec = strings.TrimSuffix(litSpec, "+")
	n, err := strconv.Atoi(litSpec)
	if err != nil || n < 0 {
		s.sendTagged(tag, "BAD", "malformed literal length")
		return
	}

	mailboxName, flags := parseAppendHeader(strings.TrimSpace(trimmed[:idx]))
	if mailboxName == "" {
		s.sendTagged(tag, "BAD", "mailbox name required")
		return
	}
	mailboxName = normalizeMailboxName(mailboxName)

	if synchronizing {
		s.sendContinuation("Ready for literal data")
	}
	raw, err := protocol.ReadLiteral(s.reader, n)
	if err != nil {
		return
	}
	protocol.ReadLine(s.reader) // consume the remainder of the command line

	ctx := context.Background()
	folder, err := s.server.store.GetFolderByName(ctx, s.userID, mailboxName)
	if err != nil {
		status, text := kindToIMAP(err)
		s.sendTagged(tag, status, text)
		return
	}

	parsed, err := delivery.Parse(raw)
	if err != nil {
		s.sendTagged(tag, "NO", "unable to parse message")
		return
	}
	parsed.FromAddress = s.loginAddress
	msg := parsed.ToMessage(s.loginAddress, time.Now())

	um, err := s.server.store.Append(ctx, s.userID, folder.ID, msg, flags)
	if err != nil {
		status, text := kindToIMAP(err)
		s.sendTagged(tag, status, text)
		return
	}

	if s.state == StateSelected && s.mailbox != nil && s.mailbox.ID == folder.ID {
		s.refreshMailboxView(ctx)
	}

	s.sendTagged(tag, "OK", fmt.Sprintf("[APPENDUID %d %d] APPEND completed", folder.UIDValidity, um.UID))
}

// parseAppendHeader splits APPEND's header portion (everything before the
// trailing literal) into the mailbox name and an optional flag list,
// discarding any trailing date-time string (spec's optional [datetime]),
// which does not override the store's INTERNALDATE in this implementation.
func parseAppendHeader(header string) (mailbox string, flags []store.Flag) {
	if header == "" {
		return "", nil
	}
	rest := header
	if strings.HasPrefix(rest, `"`) {
		if end := strings.Index(rest[1:], `"`); end >= 0 {
			mailbox = rest[1 : end+1]
			rest = strings.TrimSpace(rest[end+2:])
		}
	} else {
		parts := strings.SplitN(rest, " ", 2)
		mailbox = parts[0]
		rest = ""
		if len(parts) == 2 {
			rest = strings.TrimSpace(parts[1])
		}
	}

	if strings.HasPrefix(rest, "(") {
		if end := strings.Index(rest, ")"); end >= 0 {
			for _, f := range strings.Fields(rest[1:end]) {
				flags = append(flags, store.Flag(f))
			}
		}
	}
	return mailbox, flags
}

// cmdFetch implements FETCH/UID FETCH per spec §4.7.
func (s *Session) cmdFetch(tag, rest string, isUID bool) {
	if s.state != StateSelected {
		s.sendTagged(tag, "BAD", "command requires a selected mailbox")
		return
	}

	seqSetStr, itemsStr, ok := strings.Cut(strings.TrimSpace(rest), " ")
	if !ok {
		s.sendTagged(tag, "BAD", "FETCH requires a sequence set and attribute list")
		return
	}
	items, err := parseFetchItems(itemsStr)
	if err != nil {
		s.sendTagged(tag, "BAD", err.Error())
		return
	}

	targets, err := s.resolveTargets(seqSetStr, isUID)
	if err != nil {
		s.sendTagged(tag, "BAD", err.Error())
		return
	}

	ctx := context.Background()
	for _, uid := range targets {
		seq, ok := s.seqmap.SeqOf(uid)
		if !ok {
			continue
		}
		um, err := s.server.store.GetUserMessageByUID(ctx, s.mailbox.ID, uid)
		if err != nil {
			continue
		}
		msg, err := s.server.store.GetMessage(ctx, um.MessageID)
		if err != nil {
			continue
		}
		flags, err := s.server.store.GetFlags(ctx, um.MessageID, s.userID)
		if err != nil {
			continue
		}

		if !s.readOnly && !flags[string(store.FlagSeen)] && fetchTouchesBody(items) {
			if updated, err := s.server.store.ApplyFlags(ctx, um.MessageID, s.userID, store.StoreAdd, []store.Flag{store.FlagSeen}); err == nil {
				flags = updated
			}
		}

		s.sendUntagged(renderFetchResponse(seq, uid, msg, flags, items, isUID))
	}

	s.sendTagged(tag, "OK", fetchCmdName(isUID)+" completed")
}

func fetchTouchesBody(items []fetchRequest) bool {
	for _, r := range items {
		if r.Item == store.FetchRFC822 || r.Item == store.FetchRFC822Text {
			return true
		}
		if r.Item == store.FetchBodySection && !r.Peek {
			return true
		}
	}
	return false
}

func fetchCmdName(isUID bool) string {
	if isUID {
		return "UID FETCH"
	}
	return "FETCH"
}

// resolveTargets maps a FETCH/STORE/SEARCH sequence-set argument to the
// UIDs currently in the session's view, honoring the UID vs sequence
// number distinction (spec §4.7).
func (s *Session) resolveTargets(seqSetStr string, isUID bool) ([]uint32, error) {
	if isUID {
		maxUID := uint32(0)
		if s.mailbox.UIDNext > 0 {
			maxUID = s.mailbox.UIDNext - 1
		}
		uids, err := protocol.ParseSequenceSet(seqSetStr, maxUID)
		if err != nil {
			return nil, err
		}
		var out []uint32
		for _, uid := range uids {
			if _, ok := s.seqmap.SeqOf(uid); ok {
				out = append(out, uid)
			}
		}
		return out, nil
	}

	seqs, err := protocol.ParseSequenceSet(seqSetStr, uint32(s.seqmap.Len()))
	if err != nil {
		return nil, err
	}
	var out []uint32
	for _, seq := range seqs {
		if uid, ok := s.seqmap.UIDAt(seq); ok {
			out = append(out, uid)
		}
	}
	return out, nil
}

// cmdStore implements STORE/UID STORE per spec §4.7.
func (s *Session) cmdStore(tag, rest string, isUID bool) {
	if s.state != StateSelected {
		s.sendTagged(tag, "BAD", "command requires a selected mailbox")
		return
	}
	if s.readOnly {
		s.sendTagged(tag, "NO", "mailbox opened read-only")
		return
	}

	seqSetStr, remainder, ok := strings.Cut(strings.TrimSpace(rest), " ")
	if !ok {
		s.sendTagged(tag, "BAD", "STORE requires a sequence set, mode, and flag list")
		return
	}
	opToken, flagsStr, ok := strings.Cut(strings.TrimSpace(remainder), " ")
	if !ok {
		s.sendTagged(tag, "BAD", "STORE requires a flag list")
		return
	}
	op, silent := parseStoreOp(opToken)
	flagsStr = strings.TrimSpace(flagsStr)
	flagsStr = strings.TrimPrefix(flagsStr, "(")
	flagsStr = strings.TrimSuffix(flagsStr, ")")
	var flags []store.Flag
	for _, f := range strings.Fields(flagsStr) {
		flags = append(flags, store.Flag(f))
	}

	targets, err := s.resolveTargets(seqSetStr, isUID)
	if err != nil {
		s.sendTagged(tag, "BAD", err.Error())
		return
	}

	ctx := context.Background()
	for _, uid := range targets {
		seq, ok := s.seqmap.SeqOf(uid)
		if !ok {
			continue
		}
		um, err := s.server.store.GetUserMessageByUID(ctx, s.mailbox.ID, uid)
		if err != nil {
			continue
		}
		newFlags, err := s.server.store.ApplyFlags(ctx, um.MessageID, s.userID, op, flags)
		if err != nil {
			continue
		}
		if silent {
			continue
		}
		if isUID {
			s.sendUntagged(fmt.Sprintf("%d FETCH (UID %d FLAGS (%s))", seq, uid, renderFlags(newFlags)))
		} else {
			s.sendUntagged(fmt.Sprintf("%d FETCH (FLAGS (%s))", seq, renderFlags(newFlags)))
		}
	}

	s.sendTagged(tag, "OK", storeCmdName(isUID)+" completed")
}

func storeCmdName(isUID bool) string {
	if isUID {
		return "UID STORE"
	}
	return "STORE"
}

func parseStoreOp(token string) (store.StoreOp, bool) {
	upper := strings.ToUpper(token)
	silent := strings.HasSuffix(upper, ".SILENT")
	upper = strings.TrimSuffix(upper, ".SILENT")
	switch upper {
	case "+FLAGS":
		return store.StoreAdd, silent
	case "-FLAGS":
		return store.StoreRemove, silent
	default:
		return store.StoreReplace, silent
	}
}

// cmdSearch implements SEARCH/UID SEARCH per spec §4.7.
func (s *Session) cmdSearch(tag, rest string, isUID bool) {
	if s.state != StateSelected {
		s.sendTagged(tag, "BAD", "command requires a selected mailbox")
		return
	}

	crit, err := parseSearchCriteria(rest)
	if err != nil {
		s.sendTagged(tag, "BAD", err.Error())
		return
	}

	ums, err := s.server.store.Search(context.Background(), s.userID, s.mailbox.ID, crit)
	if err != nil {
		status, text := kindToIMAP(err)
		s.sendTagged(tag, status, text)
		return
	}

	var nums []string
	for _, um := range ums {
		if isUID {
			nums = append(nums, strconv.FormatUint(uint64(um.UID), 10))
			continue
		}
		if seq, ok := s.seqmap.SeqOf(um.UID); ok {
			nums = append(nums, strconv.FormatUint(uint64(seq), 10))
		}
	}
	s.sendUntagged("SEARCH " + strings.Join(nums, " "))
	s.sendTagged(tag, "OK", searchCmdName(isUID)+" completed")
}

func searchCmdName(isUID bool) string {
	if isUID {
		return "UID SEARCH"
	}
	return "SEARCH"
}

// cmdExpunge implements EXPUNGE per spec §4.7: removed sequence numbers
// are emitted in descending order so each remains valid as the client
// processes the preceding deletions.
func (s *Session) cmdExpunge(tag string) {
	if s.state != StateSelected {
		s.sendTagged(tag, "BAD", "command requires a selected mailbox")
		return
	}
	if s.readOnly {
		s.sendTagged(tag, "NO", "mailbox opened read-only")
		return
	}

	seqs, err := s.server.store.Expunge(context.Background(), s.userID, s.mailbox.ID)
	if err != nil {
		status, text := kindToIMAP(err)
		s.sendTagged(tag, status, text)
		return
	}

	for _, seq := range seqs {
		if uid, ok := s.seqmap.UIDAt(uint32(seq)); ok {
			s.seqmap.Remove(uid)
		}
		s.sendUntagged(fmt.Sprintf("%d EXPUNGE", seq))
	}
	if len(seqs) > 0 {
		s.mailbox.Exists = s.seqmap.Len()
		s.sendUntagged(fmt.Sprintf("%d EXISTS", s.seqmap.Len()))
	}
	s.sendTagged(tag, "OK", "EXPUNGE completed")
}
