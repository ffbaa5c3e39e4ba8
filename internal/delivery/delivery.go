// Package delivery implements Local Delivery (spec §4.6): resolve
// recipients to local mailboxes via the Domain Resolver, parse the raw
// message into headers/body/MIME structure, apply the catch-all/
// can_receive rules, and append one stored message per recipient inbox.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oonrumail/mailcore/internal/auth"
	"github.com/oonrumail/mailcore/internal/blobstore"
	"github.com/oonrumail/mailcore/internal/clock"
	"github.com/oonrumail/mailcore/internal/domain"
	"github.com/oonrumail/mailcore/internal/kinds"
	"github.com/oonrumail/mailcore/internal/store"
)

// TenantResolver maps a resolved domain.Record to the store.Store handling
// it. In a single-database deployment this can simply ignore the record
// and always return the same Store; multi-database deployments key off
// Record.DatabaseName.
type TenantResolver interface {
	StoreFor(rec *domain.Record) (store.Store, error)
}

// Pipeline is the Local Delivery component.
type Pipeline struct {
	domains TenantResolver
	cache   *domain.Cache
	blobs   blobstore.Blobstore
	clock   clock.Clock
	logger  *zap.Logger
}

func New(domains TenantResolver, cache *domain.Cache, blobs blobstore.Blobstore, clk clock.Clock, logger *zap.Logger) *Pipeline {
	if clk == nil {
		clk = clock.System{}
	}
	return &Pipeline{domains: domains, cache: cache, blobs: blobs, clock: clk, logger: logger}
}

// Result summarizes one Deliver call, per recipient.
type Result struct {
	Delivered []string
	Rejected  map[string]error
}

// Deliver implements spec §4.6 steps 1-6 for every recipient of one
// envelope, returning success (a non-empty Result.Delivered) if at least
// one recipient was delivered.
func (p *Pipeline) Deliver(ctx context.Context, mailFrom string, rcptTo []string, raw []byte) (*Result, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return nil, kinds.Wrap(kinds.Internal, err)
	}
	parsed.FromAddress = mailFrom

	res := &Result{Rejected: map[string]error{}}
	for _, rcpt := range rcptTo {
		local, domainName := auth.SplitUserHost(rcpt)
		rec, err := p.cache.Resolve(ctx, domainName)
		if err != nil || rec == nil {
			res.Rejected[rcpt] = kinds.New(kinds.NotFound, "domain not served here")
			continue
		}

		st, err := p.domains.StoreFor(rec)
		if err != nil {
			res.Rejected[rcpt] = kinds.Wrap(kinds.Internal, err)
			continue
		}

		ds, err := st.GetDomainByName(ctx, domainName)
		if err != nil {
			res.Rejected[rcpt] = kinds.New(kinds.NotFound, "domain not served here")
			continue
		}

		user, err := st.GetUserByUsername(ctx, ds.ID, local)
		if err != nil {
			if catchAll, caErr := st.GetDomainCatchAll(ctx, ds.ID); caErr == nil && catchAll != nil {
				user, err = st.GetUserByID(ctx, *catchAll)
			}
		}
		if err != nil || user == nil {
			res.Rejected[rcpt] = kinds.New(kinds.NotFound, "no such recipient")
			continue
		}
		if !user.CanReceive {
			res.Rejected[rcpt] = kinds.New(kinds.AuthFailed, "recipient cannot receive mail")
			continue
		}

		inbox, err := st.GetFolderByName(ctx, user.ID, "INBOX")
		if err != nil {
			res.Rejected[rcpt] = err
			continue
		}

		msg := parsed.ToMessage(rcpt, p.clock.Now())
		um, err := st.Append(ctx, user.ID, inbox.ID, msg, []store.Flag{store.FlagRecent})
		if err != nil {
			res.Rejected[rcpt] = kinds.Wrap(kinds.Transient, err)
			continue
		}

		if p.blobs != nil {
			for _, att := range parsed.Attachments {
				att.FileGUID = uuid.NewString()
				key := att.ObjectKey()
				if err := p.blobs.Put(ctx, key, att.data, att.ContentType); err != nil {
					p.logger.Warn("attachment store failed", zap.Error(err), zap.String("key", key))
					continue
				}
				if err := st.AppendAttachment(ctx, um.MessageID, &att.Attachment); err != nil {
					p.logger.Warn("attachment record failed", zap.Error(err))
				}
			}
		}

		res.Delivered = append(res.Delivered, rcpt)
	}

	if len(res.Delivered) == 0 {
		return res, kinds.New(kinds.NotFound, "no recipient delivered")
	}
	return res, nil
}

// parsedAttachment pairs a store.Attachment with its decoded bytes,
// pending a freshly generated GUID at delivery time.
type parsedAttachment struct {
	store.Attachment
	data []byte
}

// ParsedMessage is the MIME-walked form of a raw message, prior to being
// turned into a store.Message for a specific recipient.
type ParsedMessage struct {
	FromAddress     string
	ToAddress       string
	CC              string
	Subject         string
	HeaderMessageID string
	InReplyTo       string
	References      string
	RawHeaders      []byte
	Body            []byte
	BodyHTML        []byte
	SentDate        time.Time
	Attachments     []*parsedAttachment
	envelope        string
	bodyStruct      string
}

// Parse walks the raw RFC 2822/MIME message (via go-message) into a
// ParsedMessage, extracting the text/plain and text/html leaves as Body/
// BodyHTML and any non-inline leaf as an Attachment, per spec §3's
// Attachment entity and SPEC_FULL.md's "attachment extraction on
// delivery" addition.
func Parse(raw []byte) (*ParsedMessage, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if message.IsUnknownCharset(err) {
		err = nil
	}
	if err != nil && entity == nil {
		return nil, fmt.Errorf("parse mime: %w", err)
	}

	pm := &ParsedMessage{RawHeaders: extractHeaderBlock(raw)}
	pm.Subject = entity.Header.Get("Subject")
	pm.ToAddress = entity.Header.Get("To")
	pm.CC = entity.Header.Get("Cc")
	pm.HeaderMessageID = entity.Header.Get("Message-Id")
	pm.InReplyTo = entity.Header.Get("In-Reply-To")
	pm.References = entity.Header.Get("References")
	if d := entity.Header.Get("Date"); d != "" {
		if t, perr := time.Parse(time.RFC1123Z, d); perr == nil {
			pm.SentDate = t
		} else if t, perr := time.Parse(time.RFC1123, d); perr == nil {
			pm.SentDate = t
		}
	}
	if pm.HeaderMessageID == "" {
		pm.HeaderMessageID = fmt.Sprintf("<%s@mailcore.generated>", uuid.NewString())
	}

	walkParts(entity, pm)

	pm.envelope = buildEnvelope(pm)
	pm.bodyStruct = buildBodyStructure(pm)
	return pm, nil
}

func extractHeaderBlock(raw []byte) []byte {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

func walkParts(entity *message.Entity, pm *ParsedMessage) {
	mr := entity.MultipartReader()
	if mr == nil {
		consumeLeaf(entity, pm, true)
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		if part.MultipartReader() != nil {
			walkParts(part, pm)
			continue
		}
		consumeLeaf(part, pm, false)
	}
}

func consumeLeaf(entity *message.Entity, pm *ParsedMessage, topLevel bool) {
	ct := entity.Header.Get("Content-Type")
	disposition := entity.Header.Get("Content-Disposition")
	data, _ := io.ReadAll(entity.Body)

	isAttachment := disposition == "attachment" || (!topLevel && ct != "" && !isInlineText(ct))

	switch {
	case !isAttachment && isContentType(ct, "text/plain"):
		pm.Body = data
	case !isAttachment && isContentType(ct, "text/html"):
		pm.BodyHTML = data
	case isAttachment:
		name := entity.Header.Get("Content-Disposition")
		_ = name
		att := &parsedAttachment{
			Attachment: store.Attachment{
				FileName:    filenameFromContentType(ct),
				ContentType: ct,
				Size:        int64(len(data)),
			},
			data: data,
		}
		pm.Attachments = append(pm.Attachments, att)
	default:
		if pm.Body == nil {
			pm.Body = data
		}
	}
}

func isInlineText(ct string) bool {
	return isContentType(ct, "text/plain") || isContentType(ct, "text/html")
}

func isContentType(ct, want string) bool {
	if len(ct) < len(want) {
		return false
	}
	return ct[:len(want)] == want
}

func filenameFromContentType(ct string) string {
	return "attachment"
}

// ToMessage builds a store.Message for one recipient's inbox placement.
func (pm *ParsedMessage) ToMessage(toAddress string, receivedAt time.Time) *store.Message {
	return &store.Message{
		HeaderMessageID: pm.HeaderMessageID,
		FromAddress:     pm.FromAddress,
		ToAddress:       toAddress,
		CC:              pm.CC,
		Subject:         pm.Subject,
		Headers:         pm.RawHeaders,
		Body:            pm.Body,
		BodyHTML:        pm.BodyHTML,
		SizeBytes:       int64(len(pm.RawHeaders) + len(pm.Body) + len(pm.BodyHTML)),
		ReceivedAt:      receivedAt,
		SentDate:        pm.SentDate,
		InReplyTo:       pm.InReplyTo,
		References:      pm.References,
		BodyStructure:   pm.bodyStruct,
		Envelope:        pm.envelope,
	}
}

func buildEnvelope(pm *ParsedMessage) string {
	// Parenthesized IMAP ENVELOPE tuple: (date subject from sender reply-to
	// to cc bcc in-reply-to message-id), per GLOSSARY.
	return fmt.Sprintf(`(%q %q ((%q NIL %q %q)) ((%q NIL %q %q)) ((%q NIL %q %q)) ((%q NIL %q %q)) %q %q %q %q)`,
		pm.SentDate.Format(time.RFC1123Z), pm.Subject,
		"", "", pm.FromAddress,
		"", "", pm.FromAddress,
		"", "", pm.FromAddress,
		"", "", pm.ToAddress,
		"", "", pm.InReplyTo, pm.HeaderMessageID)
}

func buildBodyStructure(pm *ParsedMessage) string {
	if len(pm.Attachments) > 0 || pm.BodyHTML != nil {
		return fmt.Sprintf(`(("TEXT" "PLAIN" ("CHARSET" "UTF-8") NIL NIL "7BIT" %d %d)("TEXT" "HTML" ("CHARSET" "UTF-8") NIL NIL "7BIT" %d %d) "MIXED")`,
			len(pm.Body), lineCount(pm.Body), len(pm.BodyHTML), lineCount(pm.BodyHTML))
	}
	return fmt.Sprintf(`("TEXT" "PLAIN" ("CHARSET" "UTF-8") NIL NIL "7BIT" %d %d)`, len(pm.Body), lineCount(pm.Body))
}

func lineCount(b []byte) int {
	n := bytes.Count(b, []byte("\n"))
	if len(b) > 0 && b[len(b)-1] != '\n' {
		n++
	}
	return n
}
