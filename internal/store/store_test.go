package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newFixtureStore(t *testing.T) (*MemStore, int64, int64) {
	t.Helper()
	mem := NewMemStore()
	uid := mem.AddUser(&User{Username: "alice", DomainID: 1, CanReceive: true, CanLogin: true})
	fid := mem.AddFolder(&Folder{UserID: uid, Name: "INBOX", SystemType: SystemFolderInbox, UIDNext: 1, UIDValidity: 1})
	return mem, uid, fid
}

// TestAppendAssignsMonotonicUIDs covers spec §8 invariant 2: UIDs are
// strictly ascending within a folder in append order.
func TestAppendAssignsMonotonicUIDs(t *testing.T) {
	mem, uid, fid := newFixtureStore(t)
	ctx := context.Background()

	um1, err := mem.Append(ctx, uid, fid, &Message{HeaderMessageID: "<1@x>", ReceivedAt: time.Now()}, nil)
	require.NoError(t, err)
	um2, err := mem.Append(ctx, uid, fid, &Message{HeaderMessageID: "<2@x>", ReceivedAt: time.Now()}, nil)
	require.NoError(t, err)

	require.Less(t, um1.UID, um2.UID)
	require.Equal(t, 1, um1.SequenceNumber)
	require.Equal(t, 2, um2.SequenceNumber)

	folder, err := mem.GetFolderByID(ctx, fid)
	require.NoError(t, err)
	require.Equal(t, 2, folder.Exists)
	require.Greater(t, folder.UIDNext, um2.UID)
}

// TestFolderCountersMatchInvariant covers spec §8 invariant 1: exists and
// unseen are always derivable from placements and flag state.
func TestFolderCountersMatchInvariant(t *testing.T) {
	mem, uid, fid := newFixtureStore(t)
	ctx := context.Background()

	_, err := mem.Append(ctx, uid, fid, &Message{HeaderMessageID: "<1@x>", ReceivedAt: time.Now()}, []Flag{FlagRecent})
	require.NoError(t, err)
	um2, err := mem.Append(ctx, uid, fid, &Message{HeaderMessageID: "<2@x>", ReceivedAt: time.Now()}, []Flag{FlagRecent})
	require.NoError(t, err)

	folder, err := mem.GetFolderByID(ctx, fid)
	require.NoError(t, err)
	require.Equal(t, 2, folder.Exists)
	require.Equal(t, 2, folder.Unseen)

	_, err = mem.ApplyFlags(ctx, um2.MessageID, uid, StoreAdd, []Flag{FlagSeen})
	require.NoError(t, err)

	folder, err = mem.GetFolderByID(ctx, fid)
	require.NoError(t, err)
	require.Equal(t, 1, folder.Unseen)
}

// TestExpungeRenumbersContiguously covers spec §8 invariant 3 and the
// end-to-end scenario D: three messages, delete the middle one, survivors
// renumber 1..exists with no gaps and UIDNEXT is unchanged.
func TestExpungeRenumbersContiguously(t *testing.T) {
	mem, uid, fid := newFixtureStore(t)
	ctx := context.Background()

	var ums []*UserMessage
	for i := 0; i < 3; i++ {
		um, err := mem.Append(ctx, uid, fid, &Message{HeaderMessageID: string(rune('a' + i)), ReceivedAt: time.Now()}, nil)
		require.NoError(t, err)
		ums = append(ums, um)
	}
	folderBefore, err := mem.GetFolderByID(ctx, fid)
	require.NoError(t, err)
	uidNextBefore := folderBefore.UIDNext

	_, err = mem.ApplyFlags(ctx, ums[1].MessageID, uid, StoreAdd, []Flag{FlagDeleted})
	require.NoError(t, err)

	removed, err := mem.Expunge(ctx, uid, fid)
	require.NoError(t, err)
	require.Equal(t, []int{2}, removed)

	remaining, err := mem.ListMessages(ctx, fid)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	require.Equal(t, 1, remaining[0].SequenceNumber)
	require.Equal(t, 2, remaining[1].SequenceNumber)
	require.Equal(t, ums[0].UID, remaining[0].UID)
	require.Equal(t, ums[2].UID, remaining[1].UID)

	folderAfter, err := mem.GetFolderByID(ctx, fid)
	require.NoError(t, err)
	require.Equal(t, 2, folderAfter.Exists)
	require.Equal(t, uidNextBefore, folderAfter.UIDNext)
}

// TestExpungeDescendingOrderAcrossMultiple covers spec §4.7's rule that
// multiple expunged sequence numbers in one command are reported
// descending, so each stays valid as the client applies them in order.
func TestExpungeDescendingOrderAcrossMultiple(t *testing.T) {
	mem, uid, fid := newFixtureStore(t)
	ctx := context.Background()

	var ums []*UserMessage
	for i := 0; i < 4; i++ {
		um, err := mem.Append(ctx, uid, fid, &Message{HeaderMessageID: string(rune('a' + i)), ReceivedAt: time.Now()}, nil)
		require.NoError(t, err)
		ums = append(ums, um)
	}

	// Delete seq 2 and seq 4.
	_, err := mem.ApplyFlags(ctx, ums[1].MessageID, uid, StoreAdd, []Flag{FlagDeleted})
	require.NoError(t, err)
	_, err = mem.ApplyFlags(ctx, ums[3].MessageID, uid, StoreAdd, []Flag{FlagDeleted})
	require.NoError(t, err)

	removed, err := mem.Expunge(ctx, uid, fid)
	require.NoError(t, err)
	require.Equal(t, []int{4, 2}, removed)
}

// TestMoveReassignsUIDsInDestination covers spec §4.2's move operation:
// a moved placement gets a freshly allocated dst UID and is detached from
// src, with both folders' counters staying consistent.
func TestMoveReassignsUIDsInDestination(t *testing.T) {
	mem, uid, srcID := newFixtureStore(t)
	ctx := context.Background()
	dstID := mem.AddFolder(&Folder{UserID: uid, Name: "Trash", SystemType: SystemFolderTrash, UIDNext: 1, UIDValidity: 1})

	um, err := mem.Append(ctx, uid, srcID, &Message{HeaderMessageID: "<1@x>", ReceivedAt: time.Now()}, nil)
	require.NoError(t, err)

	moved, err := mem.Move(ctx, uid, srcID, dstID, []uint32{um.UID})
	require.NoError(t, err)
	require.Len(t, moved, 1)
	require.Equal(t, uint32(1), moved[0].UID)
	require.Equal(t, dstID, moved[0].FolderID)

	srcFolder, err := mem.GetFolderByID(ctx, srcID)
	require.NoError(t, err)
	require.Equal(t, 0, srcFolder.Exists)

	dstFolder, err := mem.GetFolderByID(ctx, dstID)
	require.NoError(t, err)
	require.Equal(t, 1, dstFolder.Exists)
	require.Equal(t, uint32(2), dstFolder.UIDNext)

	_, err = mem.GetUserMessageByUID(ctx, srcID, um.UID)
	require.Error(t, err)
}

// TestGetDomainByNameResolvesTenantLocalID covers the DomainSettings
// lookup protocol sessions use to turn a resolved domain name into the
// domain_id passed to GetUserByUsername/GetDomainCatchAll.
func TestGetDomainByNameResolvesTenantLocalID(t *testing.T) {
	mem := NewMemStore()
	id := mem.AddDomain(&DomainSettings{Name: "example.com"})

	ctx := context.Background()
	d, err := mem.GetDomainByName(ctx, "EXAMPLE.COM")
	require.NoError(t, err)
	require.Equal(t, id, d.ID)

	_, err = mem.GetDomainByName(ctx, "nowhere.test")
	require.Error(t, err)
}

// TestSearchAllReturnsEverything is a smoke test for the MemStore's Search
// path used by IMAP SEARCH (full criteria composition is exercised in
// internal/imap's own tests against search.go's parser).
func TestSearchAllReturnsEverything(t *testing.T) {
	mem, uid, fid := newFixtureStore(t)
	ctx := context.Background()

	_, err := mem.Append(ctx, uid, fid, &Message{HeaderMessageID: "<1@x>", Subject: "hello", ReceivedAt: time.Now()}, nil)
	require.NoError(t, err)

	results, err := mem.Search(ctx, uid, fid, &SearchCriterion{All: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
}
