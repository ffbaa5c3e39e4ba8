// Package protocol holds the wire-framing primitives shared by the SMTP,
// IMAP, and POP3 sessions (spec §4.4): a bounded CRLF line reader, the
// IMAP literal two-phase reader, quoted-string/atom parsing, dot-stuffing
// for SMTP DATA/POP3 multi-line bodies, and sequence-set parsing.
//
// Two helpers here deliberately correct bugs found in the retrieved
// reference material rather than reproducing them: ParseSeqNum uses
// strconv (the reference's imap/utils.go version does not actually parse
// decimal digits), and ReadLiteral uses io.ReadFull (the reference's
// APPEND handler uses a single unchecked Read call, which is not
// guaranteed to fill the buffer).
package protocol

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/oonrumail/mailcore/internal/kinds"
)

const MaxLineLength = 8 * 1024

// ReadLine reads one CRLF-terminated line, stripping the terminator and
// rejecting lines over MaxLineLength (spec §4.4).
func ReadLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := r.ReadString('\n')
		sb.WriteString(chunk)
		if err != nil {
			return "", err
		}
		if sb.Len() > MaxLineLength {
			return "", kinds.New(kinds.Syntax, "line too long")
		}
		break
	}
	line := sb.String()
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// ReadLiteral reads exactly n bytes verbatim for an IMAP literal, per
// spec §4.4: "reads exactly n bytes verbatim, then resumes line-oriented
// parsing". io.ReadFull is required here because bufio.Reader.Read may
// return fewer bytes than requested even when more are available.
func ReadLiteral(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ParseSeqNum parses one IMAP sequence-set component, honoring "*" as
// maxSeq.
func ParseSeqNum(s string, maxSeq uint32) (uint32, error) {
	if s == "*" {
		return maxSeq, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, kinds.Wrap(kinds.Syntax, err)
	}
	return uint32(v), nil
}

// ParseSequenceSet parses an IMAP sequence set like "1:5,7,10:*" into an
// ordered, deduplicated list of positions.
func ParseSequenceSet(seqSet string, maxSeq uint32) ([]uint32, error) {
	seen := map[uint32]bool{}
	var result []uint32
	for _, part := range strings.Split(seqSet, ",") {
		if part == "" {
			continue
		}
		if strings.Contains(part, ":") {
			rangeParts := strings.SplitN(part, ":", 2)
			start, err := ParseSeqNum(rangeParts[0], maxSeq)
			if err != nil {
				return nil, err
			}
			end, err := ParseSeqNum(rangeParts[1], maxSeq)
			if err != nil {
				return nil, err
			}
			if start > end {
				start, end = end, start
			}
			for i := start; i <= end; i++ {
				if !seen[i] {
					seen[i] = true
					result = append(result, i)
				}
			}
		} else {
			n, err := ParseSeqNum(part, maxSeq)
			if err != nil {
				return nil, err
			}
			if !seen[n] {
				seen[n] = true
				result = append(result, n)
			}
		}
	}
	return result, nil
}

// ParseQuotedStrings tokenizes space-separated IMAP arguments, honoring
// double-quoted strings with backslash escapes.
func ParseQuotedStrings(args string) []string {
	var result []string
	var current strings.Builder
	inQuotes := false
	escaped := false

	for _, r := range args {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inQuotes {
				escaped = true
			} else {
				current.WriteRune(r)
			}
		case '"':
			if inQuotes {
				result = append(result, current.String())
				current.Reset()
				inQuotes = false
			} else {
				inQuotes = true
			}
		case ' ':
			if inQuotes {
				current.WriteRune(r)
			} else if current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// QuoteString quotes s for an IMAP response if it contains characters
// that require quoting.
func QuoteString(s string) string {
	needsQuote := s == ""
	for _, r := range s {
		if r == ' ' || r == '"' || r == '\\' || r == '(' || r == ')' || r == '{' || r == '}' {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return s
	}
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}

// Literal formats s as an IMAP literal response fragment.
func Literal(s string) string {
	return "{" + strconv.Itoa(len(s)) + "}\r\n" + s
}

// DotStuff escapes a line for SMTP DATA / POP3 multi-line bodies: a
// leading "." becomes "..".
func DotStuff(line string) string {
	if strings.HasPrefix(line, ".") {
		return "." + line
	}
	return line
}

// DotUnstuff reverses DotStuff on read.
func DotUnstuff(line string) string {
	if strings.HasPrefix(line, "..") {
		return line[1:]
	}
	return line
}
