package imap

import (
	"context"
	"fmt"
	"strings"

	"github.com/oonrumail/mailcore/internal/protocol"
	"github.com/oonrumail/mailcore/internal/store"
)

// cmdSelectOrExamine implements SELECT/EXAMINE per spec §4.7's exact
// response ordering: EXISTS, RECENT, FLAGS, PERMANENTFLAGS, UIDNEXT,
// UIDVALIDITY, then the tagged completion.
func (s *Session) cmdSelectOrExamine(tag, rest string, readOnly bool) {
	if s.state == StateNotAuthenticated {
		s.sendTagged(tag, "BAD", "command requires authentication")
		return
	}

	args := protocol.ParseQuotedStrings(rest)
	if len(args) != 1 {
		s.sendTagged(tag, "BAD", "mailbox name required")
		return
	}
	name := normalizeMailboxName(args[0])

	ctx := context.Background()
	folder, err := s.server.store.GetFolderByName(ctx, s.userID, name)
	if err != nil {
		status, text := kindToIMAP(err)
		s.sendTagged(tag, status, text)
		return
	}

	placements, err := s.server.store.ListMessages(ctx, folder.ID)
	if err != nil {
		status, text := kindToIMAP(err)
		s.sendTagged(tag, status, text)
		return
	}

	uids := make([]uint32, len(placements))
	for i, p := range placements {
		uids[i] = p.UID
	}

	s.mailbox = folder
	s.readOnly = readOnly
	s.seqmap = NewSeqMap(uids)
	s.state = StateSelected

	unseen := s.firstUnseenSeq(ctx, placements)

	s.sendUntagged(fmt.Sprintf("%d EXISTS", folder.Exists))
	s.sendUntagged(fmt.Sprintf("%d RECENT", folder.Recent))
	s.sendUntagged("FLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)")
	s.sendUntagged("OK [PERMANENTFLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)] Permanent flags")
	if unseen > 0 {
		s.sendUntagged(fmt.Sprintf("OK [UNSEEN %d] First unseen message", unseen))
	}
	s.sendUntagged(fmt.Sprintf("OK [UIDNEXT %d] Next UID", folder.UIDNext))
	s.sendUntagged(fmt.Sprintf("OK [UIDVALIDITY %d] UIDs valid", folder.UIDValidity))

	mode := "READ-WRITE"
	if readOnly {
		mode = "READ-ONLY"
	}
	s.sendTagged(tag, "OK", fmt.Sprintf("[%s] %s completed", mode, selectCmdName(readOnly)))
}

func selectCmdName(readOnly bool) string {
	if readOnly {
		return "EXAMINE"
	}
	return "SELECT"
}

func (s *Session) firstUnseenSeq(ctx context.Context, placements []*store.UserMessage) uint32 {
	for i, p := range placements {
		flags, err := s.server.store.GetFlags(ctx, p.MessageID, s.userID)
		if err != nil {
			continue
		}
		if !flags[string(store.FlagSeen)] {
			return uint32(i + 1)
		}
	}
	return 0
}

// normalizeMailboxName applies spec §3's case-insensitive INBOX rule.
func normalizeMailboxName(name string) string {
	if strings.EqualFold(name, "INBOX") {
		return "INBOX"
	}
	return name
}

// cmdList implements "LIST ref mbox" with delimiter "/" (spec §4.7).
func (s *Session) cmdList(tag, rest string) {
	if s.state == StateNotAuthenticated {
		s.sendTagged(tag, "BAD", "command requires authentication")
		return
	}

	args := protocol.ParseQuotedStrings(rest)
	if len(args) != 2 {
		s.sendTagged(tag, "BAD", "LIST requires reference and mailbox pattern")
		return
	}
	pattern := args[1]

	folders, err := s.server.store.ListFolders(context.Background(), s.userID)
	if err != nil {
		status, text := kindToIMAP(err)
		s.sendTagged(tag, status, text)
		return
	}

	for _, f := range folders {
		if pattern != "" && pattern != "*" && pattern != "%" && !strings.EqualFold(pattern, f.Name) {
			continue
		}
		attrs := "\\HasNoChildren"
		if f.SystemType != store.SystemFolderNone {
			attrs = fmt.Sprintf("\\%s \\HasNoChildren", titleCase(string(f.SystemType)))
		}
		s.sendUntagged(fmt.Sprintf(`LIST (%s) "/" %s`, attrs, protocol.QuoteString(f.Name)))
	}
	s.sendTagged(tag, "OK", "LIST completed")
}

// refreshMailboxView re-snapshots the selected mailbox for NOOP and after
// an APPEND into the selected mailbox,
// emitting EXISTS/RECENT deltas per spec §4.7's "EXISTS/RECENT/EXPUNGE
// deltas are permitted here".
func (s *Session) refreshMailboxView(ctx context.Context) {
	folder, err := s.server.store.Status(ctx, s.mailbox.ID)
	if err != nil {
		return
	}
	placements, err := s.server.store.ListMessages(ctx, s.mailbox.ID)
	if err != nil {
		return
	}
	uids := make([]uint32, len(placements))
	for i, p := range placements {
		uids[i] = p.UID
	}

	if len(uids) != s.seqmap.Len() {
		s.sendUntagged(fmt.Sprintf("%d EXISTS", len(uids)))
	}
	s.mailbox = folder
	s.seqmap = NewSeqMap(uids)
	if folder.Recent > 0 {
		s.sendUntagged(fmt.Sprintf("%d RECENT", folder.Recent))
	}
}

// titleCase upper-cases the first rune and lower-cases the rest, for the
// small fixed set of system folder type names (INBOX, SENT, DRAFTS, ...).
func titleCase(s string) string {
	lower := strings.ToLower(s)
	if lower == "" {
		return lower
	}
	return strings.ToUpper(lower[:1]) + lower[1:]
}
