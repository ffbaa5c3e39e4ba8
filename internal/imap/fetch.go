package imap

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oonrumail/mailcore/internal/protocol"
	"github.com/oonrumail/mailcore/internal/store"
)

// fetchRequest is one parsed FETCH attribute, reusing store.FetchItem's
// vocabulary so the store and the wire layer agree on attribute names.
type fetchRequest = store.FetchRequest

var fetchAll = []fetchRequest{
	{Item: store.FetchFlags}, {Item: store.FetchInternalDate},
	{Item: store.FetchRFC822Size}, {Item: store.FetchEnvelope},
}
var fetchFast = []fetchRequest{
	{Item: store.FetchFlags}, {Item: store.FetchInternalDate}, {Item: store.FetchRFC822Size},
}
var fetchFull = append(append([]fetchRequest{}, fetchAll...), fetchRequest{Item: store.FetchBodyStructure})

// parseFetchItems parses the FETCH attribute list: a macro (ALL/FAST/FULL),
// a single bare atom, or a parenthesized list, per RFC 3501 §6.4.5.
func parseFetchItems(itemsStr string) ([]fetchRequest, error) {
	itemsStr = strings.TrimSpace(itemsStr)
	switch strings.ToUpper(itemsStr) {
	case "ALL":
		return fetchAll, nil
	case "FAST":
		return fetchFast, nil
	case "FULL":
		return fetchFull, nil
	}

	itemsStr = strings.TrimPrefix(itemsStr, "(")
	itemsStr = strings.TrimSuffix(itemsStr, ")")

	var reqs []fetchRequest
	for _, tok := range splitFetchTokens(itemsStr) {
		req, err := parseFetchToken(tok)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// splitFetchTokens splits on spaces that are not inside a BODY[...]
// section bracket.
func splitFetchTokens(s string) []string {
	var toks []string
	var cur strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '[':
			depth++
			cur.WriteRune(r)
		case ']':
			depth--
			cur.WriteRune(r)
		case ' ':
			if depth > 0 {
				cur.WriteRune(r)
			} else if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks
}

func parseFetchToken(tok string) (fetchRequest, error) {
	upper := strings.ToUpper(tok)
	switch {
	case upper == "UID":
		return fetchRequest{Item: store.FetchUID}, nil
	case upper == "FLAGS":
		return fetchRequest{Item: store.FetchFlags}, nil
	case upper == "INTERNALDATE":
		return fetchRequest{Item: store.FetchInternalDate}, nil
	case upper == "RFC822.SIZE":
		return fetchRequest{Item: store.FetchRFC822Size}, nil
	case upper == "ENVELOPE":
		return fetchRequest{Item: store.FetchEnvelope}, nil
	case upper == "BODYSTRUCTURE" || upper == "BODY":
		return fetchRequest{Item: store.FetchBodyStructure}, nil
	case upper == "RFC822":
		return fetchRequest{Item: store.FetchRFC822}, nil
	case upper == "RFC822.HEADER":
		return fetchRequest{Item: store.FetchRFC822Header}, nil
	case upper == "RFC822.TEXT":
		return fetchRequest{Item: store.FetchRFC822Text}, nil
	case strings.HasPrefix(upper, "BODY[") || strings.HasPrefix(upper, "BODY.PEEK["):
		peek := strings.HasPrefix(upper, "BODY.PEEK[")
		open := strings.IndexByte(tok, '[')
		close := strings.LastIndexByte(tok, ']')
		if open < 0 || close < 0 || close < open {
			return fetchRequest{}, fmt.Errorf("malformed BODY section")
		}
		section := tok[open+1 : close]
		return fetchRequest{Item: store.FetchBodySection, Section: section, Peek: peek}, nil
	default:
		return fetchRequest{}, fmt.Errorf("unsupported FETCH attribute %q", tok)
	}
}

// extractSection returns the literal content for a BODY[section] request,
// built from the flattened headers/body/bodyHTML the store holds — the
// store-backed replacement for the teacher's stub fetchBodySection.
func extractSection(msg *store.Message, section string) string {
	section = strings.ToUpper(strings.TrimSpace(section))
	full := fullMessageBytes(msg)

	switch {
	case section == "":
		return full
	case section == "TEXT":
		return string(msg.Body)
	case section == "HEADER":
		return string(msg.Headers) + "\r\n\r\n"
	case strings.HasPrefix(section, "HEADER.FIELDS"):
		open := strings.IndexByte(section, '(')
		close := strings.LastIndexByte(section, ')')
		if open < 0 || close < 0 {
			return string(msg.Headers) + "\r\n\r\n"
		}
		wanted := strings.Fields(strings.ReplaceAll(section[open+1:close], ",", " "))
		return extractHeaderFields(msg.Headers, wanted) + "\r\n"
	case section == "1":
		return string(msg.Body)
	case section == "2" && len(msg.BodyHTML) > 0:
		return string(msg.BodyHTML)
	default:
		return ""
	}
}

func extractHeaderFields(headers []byte, wanted []string) string {
	var out strings.Builder
	for _, line := range strings.Split(string(headers), "\r\n") {
		if line == "" {
			continue
		}
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		for _, w := range wanted {
			if strings.EqualFold(strings.TrimSpace(name), w) {
				out.WriteString(line)
				out.WriteString("\r\n")
				break
			}
		}
	}
	return out.String()
}

func fullMessageBytes(msg *store.Message) string {
	var buf bytes.Buffer
	buf.Write(msg.Headers)
	buf.WriteString("\r\n\r\n")
	buf.Write(msg.Body)
	return buf.String()
}

// renderFetchResponse builds one "seq FETCH (...)" untagged line.
func renderFetchResponse(seq uint32, uid uint32, msg *store.Message, flags map[string]bool, reqs []fetchRequest, isUID bool) string {
	var parts []string
	if isUID {
		hasUID := false
		for _, r := range reqs {
			if r.Item == store.FetchUID {
				hasUID = true
			}
		}
		if !hasUID {
			parts = append(parts, fmt.Sprintf("UID %d", uid))
		}
	}

	for _, r := range reqs {
		switch r.Item {
		case store.FetchUID:
			parts = append(parts, fmt.Sprintf("UID %d", uid))
		case store.FetchFlags:
			parts = append(parts, "FLAGS ("+renderFlags(flags)+")")
		case store.FetchInternalDate:
			parts = append(parts, fmt.Sprintf("INTERNALDATE %q", msg.ReceivedAt.Format("02-Jan-2006 15:04:05 -0700")))
		case store.FetchRFC822Size:
			parts = append(parts, fmt.Sprintf("RFC822.SIZE %d", msg.SizeBytes))
		case store.FetchEnvelope:
			parts = append(parts, "ENVELOPE "+orNIL(msg.Envelope))
		case store.FetchBodyStructure:
			parts = append(parts, "BODYSTRUCTURE "+orNIL(msg.BodyStructure))
		case store.FetchRFC822:
			parts = append(parts, "RFC822 "+protocol.Literal(fullMessageBytes(msg)))
		case store.FetchRFC822Header:
			parts = append(parts, "RFC822.HEADER "+protocol.Literal(string(msg.Headers)+"\r\n\r\n"))
		case store.FetchRFC822Text:
			parts = append(parts, "RFC822.TEXT "+protocol.Literal(string(msg.Body)))
		case store.FetchBodySection:
			label := "BODY[" + r.Section + "]"
			parts = append(parts, label+" "+protocol.Literal(extractSection(msg, r.Section)))
		}
	}

	return fmt.Sprintf("%d FETCH (%s)", seq, strings.Join(parts, " "))
}

func orNIL(s string) string {
	if s == "" {
		return "NIL"
	}
	return s
}

func renderFlags(flags map[string]bool) string {
	var names []string
	for _, f := range []store.Flag{store.FlagSeen, store.FlagAnswered, store.FlagFlagged, store.FlagDeleted, store.FlagDraft, store.FlagRecent} {
		if flags[string(f)] {
			names = append(names, string(f))
		}
	}
	return strings.Join(names, " ")
}

func parseDateTimeLoose(s string) (time.Time, bool) {
	for _, layout := range []string{"02-Jan-2006", "2-Jan-2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
