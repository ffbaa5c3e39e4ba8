package protocol

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSequenceSet(t *testing.T) {
	got, err := ParseSequenceSet("1:5,7,10:*", 12)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3, 4, 5, 7, 10, 11, 12}, got)
}

func TestParseSeqNumStar(t *testing.T) {
	n, err := ParseSeqNum("*", 42)
	require.NoError(t, err)
	require.EqualValues(t, 42, n)
}

func TestParseSeqNumDecimal(t *testing.T) {
	n, err := ParseSeqNum("123", 0)
	require.NoError(t, err)
	require.EqualValues(t, 123, n)
}

func TestReadLiteralExactBytes(t *testing.T) {
	body := "hello world, more than one read() chunk might deliver"
	r := bufio.NewReaderSize(strings.NewReader(body), 4) // tiny internal buffer forces multiple reads
	got, err := ReadLiteral(r, len(body))
	require.NoError(t, err)
	require.Equal(t, body, string(got))
}

func TestParseQuotedStrings(t *testing.T) {
	got := ParseQuotedStrings(`"INBOX/Sent" (\Seen \Flagged) plain`)
	require.Equal(t, []string{"INBOX/Sent", "(\\Seen", "\\Flagged)", "plain"}, got)
}

func TestDotStuffRoundTrip(t *testing.T) {
	require.Equal(t, "..leading dot", DotStuff(".leading dot"))
	require.Equal(t, ".leading dot", DotUnstuff("..leading dot"))
	require.Equal(t, "no dot", DotStuff("no dot"))
}
