package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by protocol-session unit tests, so
// SMTP/IMAP/POP3 session logic can be exercised without a Postgres
// instance — the same "repository interface + second implementation"
// layering the teacher uses, just with the second implementation being a
// test double instead of another SQL backend.
type MemStore struct {
	mu sync.Mutex

	users       map[int64]*User
	folders     map[int64]*Folder
	messages    map[int64]*Message
	userMsgs    map[int64]*UserMessage
	flags       map[string]bool // key: messageID|userID|flagName
	attachments map[int64][]*Attachment
	catchAll    map[int64]*int64
	domains     map[int64]*DomainSettings

	nextUserID, nextFolderID, nextMessageID, nextUserMsgID, nextAttID, nextDomainID int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:       map[int64]*User{},
		folders:     map[int64]*Folder{},
		messages:    map[int64]*Message{},
		userMsgs:    map[int64]*UserMessage{},
		flags:       map[string]bool{},
		attachments: map[int64][]*Attachment{},
		catchAll:    map[int64]*int64{},
		domains:     map[int64]*DomainSettings{},
	}
}

var _ Store = (*MemStore)(nil)

func flagKey(messageID, userID int64, name string) string {
	return itoa(messageID) + "|" + itoa(userID) + "|" + name
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// AddUser registers a fixture user and returns its assigned ID.
func (m *MemStore) AddUser(u *User) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUserID++
	u.ID = m.nextUserID
	m.users[u.ID] = u
	return u.ID
}

// AddFolder registers a fixture folder and returns its assigned ID.
func (m *MemStore) AddFolder(f *Folder) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFolderID++
	f.ID = m.nextFolderID
	if f.UIDNext == 0 {
		f.UIDNext = 1
	}
	if f.UIDValidity == 0 {
		f.UIDValidity = 1
	}
	m.folders[f.ID] = f
	return f.ID
}

func (m *MemStore) SetCatchAll(domainID int64, userID *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catchAll[domainID] = userID
}

// AddDomain registers a fixture DomainSettings row and returns its
// assigned ID, mirroring AddUser/AddFolder.
func (m *MemStore) AddDomain(d *DomainSettings) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDomainID++
	d.ID = m.nextDomainID
	m.domains[d.ID] = d
	return d.ID
}

func (m *MemStore) GetDomainByName(ctx context.Context, name string) (*DomainSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.domains {
		if equalFold(d.Name, name) {
			return d, nil
		}
	}
	return nil, ErrDomainNotFound()
}

func (m *MemStore) GetUserByUsername(ctx context.Context, domainID int64, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.DomainID == domainID && equalFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, ErrUserNotFound()
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (m *MemStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound()
}

func (m *MemStore) GetDomainCatchAll(ctx context.Context, domainID int64) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catchAll[domainID], nil
}

func (m *MemStore) UpdateLoginSuccess(ctx context.Context, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound()
	}
	u.FailedLoginAttempts = 0
	u.LockoutEnd = nil
	u.LastLogin = &at
	return nil
}

func (m *MemStore) UpdateLoginFailure(ctx context.Context, userID int64, attempts int, lockoutEnd *time.Time, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound()
	}
	u.FailedLoginAttempts = attempts
	u.LockoutEnd = lockoutEnd
	u.LastFailedLogin = &at
	return nil
}

func (m *MemStore) GetFolderByName(ctx context.Context, userID int64, name string) (*Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.folders {
		if f.UserID != userID {
			continue
		}
		if (f.SystemType == SystemFolderInbox && equalFold(name, "inbox")) || f.Name == name {
			return f, nil
		}
	}
	return nil, ErrFolderNotFound(name)
}

func (m *MemStore) GetFolderByID(ctx context.Context, id int64) (*Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.folders[id]; ok {
		return f, nil
	}
	return nil, ErrFolderNotFound("")
}

func (m *MemStore) ListFolders(ctx context.Context, userID int64) ([]*Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Folder
	for _, f := range m.folders {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) CreateFolder(ctx context.Context, userID int64, name string, systemType SystemFolderType) (*Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFolderID++
	f := &Folder{ID: m.nextFolderID, UserID: userID, Name: name, SystemType: systemType, UIDNext: 1, UIDValidity: uint32(time.Now().Unix()), Subscribed: true}
	m.folders[f.ID] = f
	return f, nil
}

func (m *MemStore) DeleteFolder(ctx context.Context, folderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.folders, folderID)
	return nil
}

func (m *MemStore) RenameFolder(ctx context.Context, folderID int64, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.folders[folderID]; ok {
		f.Name = newName
	}
	return nil
}

func (m *MemStore) SetSubscribed(ctx context.Context, folderID int64, subscribed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.folders[folderID]; ok {
		f.Subscribed = subscribed
	}
	return nil
}

func (m *MemStore) Append(ctx context.Context, userID, folderID int64, msg *Message, flags []Flag) (*UserMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.folders[folderID]
	if !ok {
		return nil, ErrFolderNotFound("")
	}

	var messageID int64
	for _, existing := range m.messages {
		if msg.HeaderMessageID != "" && existing.HeaderMessageID == msg.HeaderMessageID {
			messageID = existing.ID
			break
		}
	}
	if messageID == 0 {
		m.nextMessageID++
		messageID = m.nextMessageID
		cp := *msg
		cp.ID = messageID
		m.messages[messageID] = &cp
	}

	seq := 1
	for _, um := range m.userMsgs {
		if um.FolderID == folderID && um.SequenceNumber >= seq {
			seq = um.SequenceNumber + 1
		}
	}

	m.nextUserMsgID++
	um := &UserMessage{ID: m.nextUserMsgID, UserID: userID, MessageID: messageID, FolderID: folderID, UID: f.UIDNext, SequenceNumber: seq, ReceivedAt: msg.ReceivedAt}
	m.userMsgs[um.ID] = um
	f.UIDNext++

	for _, flag := range flags {
		m.flags[flagKey(messageID, userID, string(flag))] = true
	}

	m.recomputeCounters(folderID)
	return um, nil
}

func (m *MemStore) recomputeCounters(folderID int64) {
	f, ok := m.folders[folderID]
	if !ok {
		return
	}
	exists, unseen, recent := 0, 0, 0
	for _, um := range m.userMsgs {
		if um.FolderID != folderID {
			continue
		}
		exists++
		if !m.flags[flagKey(um.MessageID, um.UserID, string(FlagSeen))] {
			unseen++
		}
		if m.flags[flagKey(um.MessageID, um.UserID, string(FlagRecent))] {
			recent++
		}
	}
	f.Exists, f.Unseen, f.Recent = exists, unseen, recent
}

func (m *MemStore) ListMessages(ctx context.Context, folderID int64) ([]*UserMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*UserMessage
	for _, um := range m.userMsgs {
		if um.FolderID == folderID {
			out = append(out, um)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *MemStore) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[messageID]; ok {
		return msg, nil
	}
	return nil, ErrMessageNotFound()
}

func (m *MemStore) GetUserMessageBySeq(ctx context.Context, folderID int64, seq int) (*UserMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, um := range m.userMsgs {
		if um.FolderID == folderID && um.SequenceNumber == seq {
			return um, nil
		}
	}
	return nil, ErrMessageNotFound()
}

func (m *MemStore) GetUserMessageByUID(ctx context.Context, folderID int64, uid uint32) (*UserMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, um := range m.userMsgs {
		if um.FolderID == folderID && um.UID == uid {
			return um, nil
		}
	}
	return nil, ErrMessageNotFound()
}

func (m *MemStore) GetFlags(ctx context.Context, messageID, userID int64) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, name := range []Flag{FlagSeen, FlagAnswered, FlagFlagged, FlagDeleted, FlagDraft, FlagRecent} {
		if m.flags[flagKey(messageID, userID, string(name))] {
			out[string(name)] = true
		}
	}
	return out, nil
}

func (m *MemStore) ApplyFlags(ctx context.Context, messageID, userID int64, op StoreOp, flags []Flag) (map[string]bool, error) {
	m.mu.Lock()
	if op == StoreReplace {
		for _, name := range []Flag{FlagSeen, FlagAnswered, FlagFlagged, FlagDeleted, FlagDraft, FlagRecent} {
			delete(m.flags, flagKey(messageID, userID, string(name)))
		}
	}
	for _, f := range flags {
		key := flagKey(messageID, userID, string(f))
		if op == StoreRemove {
			delete(m.flags, key)
		} else {
			m.flags[key] = true
		}
	}
	for _, um := range m.userMsgs {
		if um.MessageID == messageID && um.UserID == userID {
			m.recomputeCounters(um.FolderID)
		}
	}
	m.mu.Unlock()
	return m.GetFlags(ctx, messageID, userID)
}

func (m *MemStore) Expunge(ctx context.Context, userID, folderID int64) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var survivors []*UserMessage
	var removedSeqs []int
	for _, um := range m.userMsgs {
		if um.FolderID != folderID {
			continue
		}
		if m.flags[flagKey(um.MessageID, um.UserID, string(FlagDeleted))] {
			removedSeqs = append(removedSeqs, um.SequenceNumber)
			delete(m.userMsgs, um.ID)
		} else {
			survivors = append(survivors, um)
		}
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].SequenceNumber < survivors[j].SequenceNumber })
	for i, um := range survivors {
		um.SequenceNumber = i + 1
	}
	m.recomputeCounters(folderID)

	sort.Sort(sort.Reverse(sort.IntSlice(removedSeqs)))
	return removedSeqs, nil
}

func (m *MemStore) Status(ctx context.Context, folderID int64) (*Folder, error) {
	return m.GetFolderByID(context.Background(), folderID)
}

// Move implements spec §4.2's move(user_id, src_folder, dst_folder, uids),
// the operation backing REST DELETE-to-TRASH and implicit IMAP moves: each
// named UID is detached from src and re-appended to dst with a freshly
// allocated dst UID, carrying its existing flags across.
func (m *MemStore) Move(ctx context.Context, userID, srcFolderID, dstFolderID int64, uids []uint32) ([]*UserMessage, error) {
	m.mu.Lock()

	dst, ok := m.folders[dstFolderID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrFolderNotFound("")
	}

	wanted := map[uint32]bool{}
	for _, u := range uids {
		wanted[u] = true
	}

	var victims []*UserMessage
	for _, um := range m.userMsgs {
		if um.FolderID == srcFolderID && um.UserID == userID && wanted[um.UID] {
			victims = append(victims, um)
		}
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].UID < victims[j].UID })

	var moved []*UserMessage
	for _, v := range victims {
		delete(m.userMsgs, v.ID)

		dstSeq := 1
		for _, um := range m.userMsgs {
			if um.FolderID == dstFolderID && um.SequenceNumber >= dstSeq {
				dstSeq = um.SequenceNumber + 1
			}
		}

		m.nextUserMsgID++
		nu := &UserMessage{ID: m.nextUserMsgID, UserID: userID, MessageID: v.MessageID, FolderID: dstFolderID, UID: dst.UIDNext, SequenceNumber: dstSeq, ReceivedAt: v.ReceivedAt}
		m.userMsgs[nu.ID] = nu
		dst.UIDNext++
		moved = append(moved, nu)
	}

	var survivors []*UserMessage
	for _, um := range m.userMsgs {
		if um.FolderID == srcFolderID {
			survivors = append(survivors, um)
		}
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].SequenceNumber < survivors[j].SequenceNumber })
	for i, um := range survivors {
		um.SequenceNumber = i + 1
	}

	m.recomputeCounters(srcFolderID)
	m.recomputeCounters(dstFolderID)
	m.mu.Unlock()
	return moved, nil
}

func (m *MemStore) Search(ctx context.Context, userID, folderID int64, crit *SearchCriterion) ([]*UserMessage, error) {
	ums, err := m.ListMessages(ctx, folderID)
	if err != nil {
		return nil, err
	}
	var out []*UserMessage
	for _, um := range ums {
		msg, _ := m.GetMessage(ctx, um.MessageID)
		flags, _ := m.GetFlags(ctx, um.MessageID, userID)
		if crit == nil || crit.All || matches(crit, msg, flags) {
			out = append(out, um)
		}
	}
	return out, nil
}

func (m *MemStore) AppendAttachment(ctx context.Context, messageID int64, att *Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAttID++
	att.ID = m.nextAttID
	m.attachments[messageID] = append(m.attachments[messageID], att)
	return nil
}

func (m *MemStore) ListAttachments(ctx context.Context, messageID int64) ([]*Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attachments[messageID], nil
}
