package store

import (
	"context"
	"time"
)

// Store is the Message Store contract (spec §4.2). Both the pgx-backed
// production implementation (Postgres) and the in-memory test double
// implement this interface, the same layering the teacher uses between
// its Repository interface and concrete pgx struct.
type Store interface {
	// GetUserByUsername resolves a local user within one tenant/domain.
	GetUserByUsername(ctx context.Context, domainID int64, username string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetDomainCatchAll(ctx context.Context, domainID int64) (*int64, error)

	// GetDomainByName resolves the tenant-store-local DomainSettings row
	// for a domain.Record's name, the id protocol sessions then pass as
	// domain_id to GetUserByUsername/GetDomainCatchAll (spec §3: multiple
	// domains can share one tenant store, each with its own DomainSettings
	// row and catch_all_user_id).
	GetDomainByName(ctx context.Context, name string) (*DomainSettings, error)

	// UpdateLoginSuccess/UpdateLoginFailure persist §4.3 steps 4-5.
	UpdateLoginSuccess(ctx context.Context, userID int64, at time.Time) error
	UpdateLoginFailure(ctx context.Context, userID int64, attempts int, lockoutEnd *time.Time, at time.Time) error

	// GetFolderByName resolves a user's folder by its full path name
	// (case-insensitive for INBOX per spec §3).
	GetFolderByName(ctx context.Context, userID int64, name string) (*Folder, error)
	GetFolderByID(ctx context.Context, id int64) (*Folder, error)
	ListFolders(ctx context.Context, userID int64) ([]*Folder, error)
	CreateFolder(ctx context.Context, userID int64, name string, systemType SystemFolderType) (*Folder, error)
	DeleteFolder(ctx context.Context, folderID int64) error
	RenameFolder(ctx context.Context, folderID int64, newName string) error
	SetSubscribed(ctx context.Context, folderID int64, subscribed bool) error

	// Append allocates a UID (serialized per folder), places the message,
	// and updates folder counters, all within one transaction.
	Append(ctx context.Context, userID, folderID int64, msg *Message, flags []Flag) (*UserMessage, error)

	// ListMessages returns the folder's placements ordered by sequence number.
	ListMessages(ctx context.Context, folderID int64) ([]*UserMessage, error)
	GetMessage(ctx context.Context, messageID int64) (*Message, error)
	GetUserMessageBySeq(ctx context.Context, folderID int64, seq int) (*UserMessage, error)
	GetUserMessageByUID(ctx context.Context, folderID int64, uid uint32) (*UserMessage, error)

	GetFlags(ctx context.Context, messageID, userID int64) (map[string]bool, error)
	ApplyFlags(ctx context.Context, messageID, userID int64, op StoreOp, flags []Flag) (map[string]bool, error)

	// Expunge deletes placements with \Deleted set, ascending by sequence,
	// renumbers survivors contiguously, and returns the removed sequence
	// numbers in descending order (the order IMAP must emit them in).
	Expunge(ctx context.Context, userID, folderID int64) ([]int, error)

	// Move relocates placements for the given UIDs from src to dst,
	// allocating fresh dst UIDs (serialized per folder, same as Append)
	// and renumbering src's remaining sequence numbers, per spec §4.2.
	Move(ctx context.Context, userID, srcFolderID, dstFolderID int64, uids []uint32) ([]*UserMessage, error)

	Status(ctx context.Context, folderID int64) (*Folder, error)

	Search(ctx context.Context, userID, folderID int64, crit *SearchCriterion) ([]*UserMessage, error)

	AppendAttachment(ctx context.Context, messageID int64, att *Attachment) error
	ListAttachments(ctx context.Context, messageID int64) ([]*Attachment, error)
}
