package auth

import (
	"encoding/base64"
	"strings"

	"github.com/emersion/go-sasl"

	"github.com/oonrumail/mailcore/internal/kinds"
)

// ParsePlain decodes a SASL PLAIN response ("authzid\x00authcid\x00passwd")
// per RFC 4616, used by both SMTP AUTH PLAIN and IMAP AUTHENTICATE PLAIN.
// Delegates the wire-format parsing to go-sasl's server-side PLAIN
// mechanism rather than splitting on NUL bytes by hand.
func ParsePlain(response []byte) (authcid, passwd string, err error) {
	srv := sasl.NewPlainServer(func(identity, username, password string) error {
		authcid, passwd = username, password
		return nil
	})
	if _, _, err := srv.Next(response); err != nil {
		return "", "", kinds.Wrap(kinds.Syntax, err)
	}
	return authcid, passwd, nil
}

// NewLoginServer builds a go-sasl LOGIN mechanism server around the given
// (username, password) callback, shared by SMTP AUTH LOGIN's continuation
// round-trip.
func NewLoginServer(authenticate func(username, password string) error) sasl.Server {
	return sasl.NewLoginServer(authenticate)
}

// DecodeBase64 decodes a base64 SASL continuation line.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, kinds.Wrap(kinds.Syntax, err)
	}
	return data, nil
}

// EncodeBase64 encodes a SASL continuation prompt.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// SplitUserHost splits a "local@domain" address. If there is no '@', the
// whole string is treated as the local part with an empty domain
// (HostAdmin accounts addressed bare, per spec §3's reserved admin domain).
func SplitUserHost(addr string) (local, domain string) {
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		return addr[:at], addr[at+1:]
	}
	return addr, ""
}
