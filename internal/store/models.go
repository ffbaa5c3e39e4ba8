// Package store implements the shared Message Store (spec §4.2): the
// per-tenant persistent tables for users, folders, messages, per-user
// placements, per-user flags, attachments, and the UID-validity sequence,
// with transactional operations that maintain folder counters as
// invariants rather than as ad-hoc side updates.
package store

import "time"

// Role enumerates the User.role sum type.
type Role string

const (
	RoleUser       Role = "user"
	RoleDomainAdmin Role = "domain_admin"
	RoleHostAdmin  Role = "host_admin"
)

// SystemFolderType is the Folder.system_type sum type (Design Note:
// "promote folder system types to a sum type; never compare raw strings
// in hot paths").
type SystemFolderType string

const (
	SystemFolderNone   SystemFolderType = ""
	SystemFolderInbox  SystemFolderType = "INBOX"
	SystemFolderSent   SystemFolderType = "SENT"
	SystemFolderDrafts SystemFolderType = "DRAFTS"
	SystemFolderTrash  SystemFolderType = "TRASH"
	SystemFolderSpam   SystemFolderType = "SPAM"
	SystemFolderOutbox SystemFolderType = "OUTBOX"
)

// User is one tenant-store account.
type User struct {
	ID                  int64
	Username            string // local part
	DomainID            int64
	PasswordHash        []byte
	Salt                []byte
	FullName            string
	Role                Role
	CanReceive          bool
	CanLogin            bool
	FailedLoginAttempts int
	LockoutEnd          *time.Time
	LastFailedLogin     *time.Time
	LastLogin           *time.Time
}

// Email returns the user's address given its domain name.
func (u *User) Email(domainName string) string {
	return u.Username + "@" + domainName
}

// DomainSettings is one domain row inside a tenant store.
type DomainSettings struct {
	ID              int64
	Name            string
	CatchAllUserID  *int64
}

// Folder is a per-user mailbox folder.
type Folder struct {
	ID          int64
	UserID      int64
	Name        string
	SystemType  SystemFolderType
	UIDNext     uint32
	UIDValidity uint32
	Exists      int
	Recent      int
	Unseen      int
	Subscribed  bool
}

// Message is the canonical per-tenant message row.
type Message struct {
	ID              int64
	HeaderMessageID string
	FromAddress     string
	ToAddress       string
	CC              string
	BCC             string
	Subject         string
	Headers         []byte // raw RFC 2822 header block
	Body            []byte
	BodyHTML        []byte
	SizeBytes       int64
	ReceivedAt      time.Time // INTERNALDATE
	SentDate        time.Time
	InReplyTo       string
	References      string
	BodyStructure   string // parenthesized IMAP BODYSTRUCTURE, precomputed
	Envelope        string // parenthesized IMAP ENVELOPE, precomputed
	UID             uint32 // within the owning tenant's UID space, informational
	UIDValidity     uint32
}

// UserMessage is the placement of a Message in a user's folder.
type UserMessage struct {
	ID             int64
	UserID         int64
	MessageID      int64
	FolderID       int64
	UID            uint32
	SequenceNumber int
	ReceivedAt     time.Time
}

// Flag is a standard or user-defined IMAP flag.
type Flag string

const (
	FlagSeen     Flag = `\Seen`
	FlagAnswered Flag = `\Answered`
	FlagFlagged  Flag = `\Flagged`
	FlagDeleted  Flag = `\Deleted`
	FlagDraft    Flag = `\Draft`
	FlagRecent   Flag = `\Recent`
)

// MessageFlag is one (message, user, flag) tuple's state.
type MessageFlag struct {
	MessageID  int64
	UserID     int64
	FlagName   string
	IsSet      bool
	ModifiedAt time.Time
}

// Attachment is one extracted MIME part persisted to the blobstore.
type Attachment struct {
	ID            int64
	MessageID     int64
	FileName      string
	ContentType   string
	Size          int64
	FileGUID      string
	FileExtension string
}

// ObjectKey is the blobstore key for this attachment, per spec §6's
// "{attachments_root}/{guid}.{ext}" layout.
func (a *Attachment) ObjectKey() string {
	if a.FileExtension == "" {
		return a.FileGUID
	}
	return a.FileGUID + "." + a.FileExtension
}

// FetchItem enumerates the FETCH attributes the store understands.
type FetchItem string

const (
	FetchUID           FetchItem = "UID"
	FetchFlags         FetchItem = "FLAGS"
	FetchInternalDate  FetchItem = "INTERNALDATE"
	FetchRFC822Size    FetchItem = "RFC822.SIZE"
	FetchEnvelope      FetchItem = "ENVELOPE"
	FetchBodyStructure FetchItem = "BODYSTRUCTURE"
	FetchRFC822        FetchItem = "RFC822"
	FetchRFC822Header  FetchItem = "RFC822.HEADER"
	FetchRFC822Text    FetchItem = "RFC822.TEXT"
	// FetchBodySection is handled specially: the literal section spec
	// (e.g. "1.2", "HEADER", "TEXT") and the Peek flag travel alongside.
	FetchBodySection FetchItem = "BODY"
)

// FetchRequest describes one FETCH attribute request.
type FetchRequest struct {
	Item    FetchItem
	Section string // for FetchBodySection
	Peek    bool   // BODY.PEEK[...] — does not implicitly set \Seen
}

// FetchResult is the per-message, per-attribute response payload.
type FetchResult struct {
	SeqNum uint32
	UID    uint32
	Values map[string]string // rendered per-attribute wire fragment, keyed by request Item (+section)
}

// StoreOp enumerates STORE's flag operation modes.
type StoreOp int

const (
	StoreReplace StoreOp = iota
	StoreAdd
	StoreRemove
)

// SearchCriterion is one leaf or combinator in a composable SEARCH query
// (spec §4.2: "text matches ... date ranges ... size ... flag predicates
// ... logical AND (implicit), OR, NOT").
type SearchCriterion struct {
	// Leaf kinds; exactly one group below is populated unless Op is And/Or/Not.
	Op       SearchOp
	Children []*SearchCriterion // for And/Or/Not (Not uses Children[0])

	TextField  string // "BODY","TEXT","HEADER","SUBJECT","FROM","TO","CC","BCC"
	HeaderName string // when TextField == "HEADER"
	TextValue  string

	DateField string // "BEFORE","ON","SINCE","SENTBEFORE","SENTON","SENTSINCE"
	Date      time.Time

	SizeField string // "LARGER","SMALLER"
	Size      int64

	FlagField string // "FLAG" or "NOT_FLAG"
	FlagName  string

	All bool
}

type SearchOp int

const (
	SearchLeaf SearchOp = iota
	SearchAnd
	SearchOr
	SearchNot
)

// StatusItem enumerates STATUS/SELECT response fields.
type StatusItem string

const (
	StatusMessages     StatusItem = "MESSAGES"
	StatusRecent       StatusItem = "RECENT"
	StatusUIDNext      StatusItem = "UIDNEXT"
	StatusUIDValidity  StatusItem = "UIDVALIDITY"
	StatusUnseen       StatusItem = "UNSEEN"
)
