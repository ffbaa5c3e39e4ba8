package imap

import (
	"fmt"
	"strings"

	"github.com/oonrumail/mailcore/internal/protocol"
	"github.com/oonrumail/mailcore/internal/store"
)

// parseSearchCriteria parses an IMAP SEARCH key list (spec §4.2's
// composable text/date/size/flag predicates with implicit AND, OR, NOT)
// into a *store.SearchCriterion tree the store's Search can evaluate
// directly — the store-backed replacement for the teacher's
// parseSearchCriteria stub.
func parseSearchCriteria(raw string) (*store.SearchCriterion, error) {
	tokens := protocol.ParseQuotedStrings(raw)
	if len(tokens) > 0 && strings.EqualFold(tokens[0], "CHARSET") && len(tokens) > 1 {
		tokens = tokens[2:]
	}

	var leaves []*store.SearchCriterion
	i := 0
	for i < len(tokens) {
		crit, next, err := consumeSearchKey(tokens, i)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, crit)
		i = next
	}
	if len(leaves) == 0 {
		return nil, fmt.Errorf("empty SEARCH criteria")
	}
	if len(leaves) == 1 {
		return leaves[0], nil
	}
	return &store.SearchCriterion{Op: store.SearchAnd, Children: leaves}, nil
}

func consumeSearchKey(tokens []string, i int) (*store.SearchCriterion, int, error) {
	if i >= len(tokens) {
		return nil, i, fmt.Errorf("unexpected end of SEARCH criteria")
	}
	tok := strings.ToUpper(tokens[i])
	switch tok {
	case "ALL":
		return &store.SearchCriterion{All: true}, i + 1, nil
	case "ANSWERED":
		return flagCrit(store.FlagAnswered, true), i + 1, nil
	case "UNANSWERED":
		return flagCrit(store.FlagAnswered, false), i + 1, nil
	case "DELETED":
		return flagCrit(store.FlagDeleted, true), i + 1, nil
	case "UNDELETED":
		return flagCrit(store.FlagDeleted, false), i + 1, nil
	case "FLAGGED":
		return flagCrit(store.FlagFlagged, true), i + 1, nil
	case "UNFLAGGED":
		return flagCrit(store.FlagFlagged, false), i + 1, nil
	case "SEEN":
		return flagCrit(store.FlagSeen, true), i + 1, nil
	case "UNSEEN":
		return flagCrit(store.FlagSeen, false), i + 1, nil
	case "DRAFT":
		return flagCrit(store.FlagDraft, true), i + 1, nil
	case "UNDRAFT":
		return flagCrit(store.FlagDraft, false), i + 1, nil
	case "RECENT":
		return flagCrit(store.FlagRecent, true), i + 1, nil
	case "NEW":
		return &store.SearchCriterion{Op: store.SearchAnd, Children: []*store.SearchCriterion{
			flagCrit(store.FlagRecent, true), flagCrit(store.FlagSeen, false),
		}}, i + 1, nil
	case "OLD":
		return flagCrit(store.FlagRecent, false), i + 1, nil
	case "SUBJECT", "FROM", "TO", "CC", "BCC", "BODY", "TEXT":
		if i+1 >= len(tokens) {
			return nil, i, fmt.Errorf("%s requires an argument", tok)
		}
		return &store.SearchCriterion{TextField: tok, TextValue: tokens[i+1]}, i + 2, nil
	case "HEADER":
		if i+2 >= len(tokens) {
			return nil, i, fmt.Errorf("HEADER requires a field name and value")
		}
		return &store.SearchCriterion{TextField: "HEADER", HeaderName: tokens[i+1], TextValue: tokens[i+2]}, i + 3, nil
	case "BEFORE", "ON", "SINCE", "SENTBEFORE", "SENTON", "SENTSINCE":
		if i+1 >= len(tokens) {
			return nil, i, fmt.Errorf("%s requires a date", tok)
		}
		d, ok := parseDateTimeLoose(tokens[i+1])
		if !ok {
			return nil, i, fmt.Errorf("malformed date %q", tokens[i+1])
		}
		return &store.SearchCriterion{DateField: tok, Date: d}, i + 2, nil
	case "LARGER", "SMALLER":
		if i+1 >= len(tokens) {
			return nil, i, fmt.Errorf("%s requires a size", tok)
		}
		return &store.SearchCriterion{SizeField: tok, Size: int64(mustAtoi(tokens[i+1]))}, i + 2, nil
	case "NOT":
		child, next, err := consumeSearchKey(tokens, i+1)
		if err != nil {
			return nil, i, err
		}
		return &store.SearchCriterion{Op: store.SearchNot, Children: []*store.SearchCriterion{child}}, next, nil
	case "OR":
		a, next, err := consumeSearchKey(tokens, i+1)
		if err != nil {
			return nil, i, err
		}
		b, next2, err := consumeSearchKey(tokens, next)
		if err != nil {
			return nil, i, err
		}
		return &store.SearchCriterion{Op: store.SearchOr, Children: []*store.SearchCriterion{a, b}}, next2, nil
	default:
		return nil, i, fmt.Errorf("unsupported SEARCH key %q", tokens[i])
	}
}

func flagCrit(flag store.Flag, set bool) *store.SearchCriterion {
	field := "FLAG"
	if !set {
		field = "NOT_FLAG"
	}
	return &store.SearchCriterion{FlagField: field, FlagName: string(flag)}
}
