package store

import (
	"context"
	"strings"
)

// Search evaluates a composable SEARCH criterion (spec §4.2: text match,
// date range, size, flag predicates, AND/OR/NOT) against a folder's
// messages. Like the teacher's GetMessagesBySequence, this fetches the
// folder's placements and filters in Go rather than compiling criteria to
// SQL — correct for the moderate per-folder message counts this store
// targets, and it keeps the composable-boolean evaluator in one place
// instead of duplicated across a SQL builder and an in-memory fallback.
func (s *PGStore) Search(ctx context.Context, userID, folderID int64, crit *SearchCriterion) ([]*UserMessage, error) {
	ums, err := s.ListMessages(ctx, folderID)
	if err != nil {
		return nil, err
	}
	var out []*UserMessage
	for _, um := range ums {
		msg, err := s.GetMessage(ctx, um.MessageID)
		if err != nil {
			return nil, err
		}
		flags, err := s.GetFlags(ctx, um.MessageID, userID)
		if err != nil {
			return nil, err
		}
		if crit == nil || crit.All || matches(crit, msg, flags) {
			out = append(out, um)
		}
	}
	return out, nil
}

func matches(c *SearchCriterion, msg *Message, flags map[string]bool) bool {
	switch c.Op {
	case SearchAnd:
		for _, child := range c.Children {
			if !matches(child, msg, flags) {
				return false
			}
		}
		return true
	case SearchOr:
		for _, child := range c.Children {
			if matches(child, msg, flags) {
				return true
			}
		}
		return len(c.Children) == 0
	case SearchNot:
		if len(c.Children) == 0 {
			return true
		}
		return !matches(c.Children[0], msg, flags)
	}

	if c.All {
		return true
	}

	if c.TextField != "" {
		haystack := textFieldValue(c.TextField, c.HeaderName, msg)
		if !strings.Contains(strings.ToLower(haystack), strings.ToLower(c.TextValue)) {
			return false
		}
	}

	if c.DateField != "" {
		var ref = msg.ReceivedAt
		if strings.HasPrefix(c.DateField, "SENT") {
			ref = msg.SentDate
		}
		y1, m1, d1 := ref.Date()
		y2, m2, d2 := c.Date.Date()
		switch {
		case strings.HasSuffix(c.DateField, "BEFORE"):
			if !ref.Before(c.Date) {
				return false
			}
		case strings.HasSuffix(c.DateField, "SINCE"):
			if ref.Before(c.Date) {
				return false
			}
		default: // ON / SENTON
			if !(y1 == y2 && m1 == m2 && d1 == d2) {
				return false
			}
		}
	}

	if c.SizeField == "LARGER" && msg.SizeBytes <= c.Size {
		return false
	}
	if c.SizeField == "SMALLER" && msg.SizeBytes >= c.Size {
		return false
	}

	if c.FlagField == "FLAG" && !flags[c.FlagName] {
		return false
	}
	if c.FlagField == "NOT_FLAG" && flags[c.FlagName] {
		return false
	}

	return true
}

func textFieldValue(field, headerName string, msg *Message) string {
	switch field {
	case "SUBJECT":
		return msg.Subject
	case "FROM":
		return msg.FromAddress
	case "TO":
		return msg.ToAddress
	case "CC":
		return msg.CC
	case "BCC":
		return msg.BCC
	case "BODY", "TEXT":
		return string(msg.Body)
	case "HEADER":
		return extractHeader(string(msg.Headers), headerName)
	default:
		return ""
	}
}

func extractHeader(rawHeaders, name string) string {
	lines := strings.Split(rawHeaders, "\n")
	prefix := strings.ToLower(name) + ":"
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(strings.ToLower(trimmed), prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return ""
}
