package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGStore is the Postgres-backed Store, following the teacher's
// repository.go pattern: raw SQL over pgxpool, no ORM, one struct method
// per operation, explicit transactions for anything that must keep
// folder counters and placements consistent.
type PGStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPGStore wraps an existing pgxpool.Pool.
func NewPGStore(db *pgxpool.Pool, logger *zap.Logger) *PGStore {
	return &PGStore{db: db, logger: logger}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) GetUserByUsername(ctx context.Context, domainID int64, username string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, username, domain_id, password_hash, salt, full_name, role,
		       can_receive, can_login, failed_login_attempts, lockout_end,
		       last_failed_login, last_login
		FROM users WHERE domain_id = $1 AND lower(username) = lower($2)`,
		domainID, username)
	return scanUser(row)
}

func (s *PGStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, username, domain_id, password_hash, salt, full_name, role,
		       can_receive, can_login, failed_login_attempts, lockout_end,
		       last_failed_login, last_login
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.DomainID, &u.PasswordHash, &u.Salt,
		&u.FullName, &role, &u.CanReceive, &u.CanLogin, &u.FailedLoginAttempts,
		&u.LockoutEnd, &u.LastFailedLogin, &u.LastLogin); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound()
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	return u, nil
}

func (s *PGStore) GetDomainCatchAll(ctx context.Context, domainID int64) (*int64, error) {
	var catchAll *int64
	err := s.db.QueryRow(ctx, `SELECT catch_all_user_id FROM domain_settings WHERE id = $1`, domainID).Scan(&catchAll)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get catch-all: %w", err)
	}
	return catchAll, nil
}

func (s *PGStore) GetDomainByName(ctx context.Context, name string) (*DomainSettings, error) {
	d := &DomainSettings{}
	err := s.db.QueryRow(ctx, `SELECT id, name, catch_all_user_id FROM domain_settings WHERE lower(name) = lower($1)`, name).
		Scan(&d.ID, &d.Name, &d.CatchAllUserID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDomainNotFound()
		}
		return nil, fmt.Errorf("get domain settings: %w", err)
	}
	return d, nil
}

func (s *PGStore) UpdateLoginSuccess(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, lockout_end = NULL, last_login = $2
		WHERE id = $1`, userID, at)
	return err
}

func (s *PGStore) UpdateLoginFailure(ctx context.Context, userID int64, attempts int, lockoutEnd *time.Time, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET failed_login_attempts = $2, lockout_end = $3, last_failed_login = $4
		WHERE id = $1`, userID, attempts, lockoutEnd, at)
	return err
}

func (s *PGStore) GetFolderByName(ctx context.Context, userID int64, name string) (*Folder, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, system_type, uid_next, uid_validity, exists_count,
		       recent_count, unseen_count, subscribed
		FROM folders
		WHERE user_id = $1 AND (
			(system_type = 'INBOX' AND lower($2) = 'inbox') OR name = $2
		)`, userID, name)
	return scanFolder(row)
}

func (s *PGStore) GetFolderByID(ctx context.Context, id int64) (*Folder, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, system_type, uid_next, uid_validity, exists_count,
		       recent_count, unseen_count, subscribed
		FROM folders WHERE id = $1`, id)
	return scanFolder(row)
}

func scanFolder(row pgx.Row) (*Folder, error) {
	f := &Folder{}
	var systemType string
	if err := row.Scan(&f.ID, &f.UserID, &f.Name, &systemType, &f.UIDNext, &f.UIDValidity,
		&f.Exists, &f.Recent, &f.Unseen, &f.Subscribed); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrFolderNotFound("")
		}
		return nil, fmt.Errorf("scan folder: %w", err)
	}
	f.SystemType = SystemFolderType(systemType)
	return f, nil
}

func (s *PGStore) ListFolders(ctx context.Context, userID int64) ([]*Folder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, name, system_type, uid_next, uid_validity, exists_count,
		       recent_count, unseen_count, subscribed
		FROM folders WHERE user_id = $1
		ORDER BY CASE system_type
			WHEN 'INBOX' THEN 0 WHEN 'DRAFTS' THEN 1 WHEN 'SENT' THEN 2
			WHEN 'SPAM' THEN 3 WHEN 'TRASH' THEN 4 WHEN 'OUTBOX' THEN 5
			ELSE 6 END, name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateFolder(ctx context.Context, userID int64, name string, systemType SystemFolderType) (*Folder, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO folders (user_id, name, system_type, uid_next, uid_validity, exists_count, recent_count, unseen_count, subscribed)
		VALUES ($1, $2, $3, 1, extract(epoch from now())::bigint, 0, 0, 0, true)
		RETURNING id, user_id, name, system_type, uid_next, uid_validity, exists_count, recent_count, unseen_count, subscribed`,
		userID, name, string(systemType))
	return scanFolder(row)
}

func (s *PGStore) DeleteFolder(ctx context.Context, folderID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM folders WHERE id = $1`, folderID)
	return err
}

func (s *PGStore) RenameFolder(ctx context.Context, folderID int64, newName string) error {
	_, err := s.db.Exec(ctx, `UPDATE folders SET name = $2 WHERE id = $1`, folderID, newName)
	return err
}

func (s *PGStore) SetSubscribed(ctx context.Context, folderID int64, subscribed bool) error {
	_, err := s.db.Exec(ctx, `UPDATE folders SET subscribed = $2 WHERE id = $1`, folderID, subscribed)
	return err
}

// Append allocates a UID serialized per folder via SELECT ... FOR UPDATE,
// the teacher's transactional UID-allocation pattern from
// repository.go's CopyMessages/MoveMessages, generalized to plain APPEND.
func (s *PGStore) Append(ctx context.Context, userID, folderID int64, msg *Message, flags []Flag) (*UserMessage, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var uidNext uint32
	if err := tx.QueryRow(ctx, `SELECT uid_next FROM folders WHERE id = $1 FOR UPDATE`, folderID).Scan(&uidNext); err != nil {
		return nil, fmt.Errorf("lock folder uid_next: %w", err)
	}

	var messageID int64
	err = tx.QueryRow(ctx, `SELECT id FROM messages WHERE header_message_id = $1`, msg.HeaderMessageID).Scan(&messageID)
	if err == pgx.ErrNoRows {
		err = tx.QueryRow(ctx, `
			INSERT INTO messages (header_message_id, from_address, to_address, cc, bcc, subject,
				headers, body, body_html, size_bytes, received_at, sent_date, in_reply_to,
				"references", body_structure, envelope)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			RETURNING id`,
			msg.HeaderMessageID, msg.FromAddress, msg.ToAddress, msg.CC, msg.BCC, msg.Subject,
			msg.Headers, msg.Body, msg.BodyHTML, msg.SizeBytes, msg.ReceivedAt, msg.SentDate,
			msg.InReplyTo, msg.References, msg.BodyStructure, msg.Envelope).Scan(&messageID)
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("lookup message by header id: %w", err)
	}

	uid := uidNext
	var seq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_number),0)+1 FROM user_messages WHERE folder_id = $1`, folderID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("compute sequence: %w", err)
	}

	um := &UserMessage{UserID: userID, MessageID: messageID, FolderID: folderID, UID: uid, SequenceNumber: seq, ReceivedAt: msg.ReceivedAt}
	err = tx.QueryRow(ctx, `
		INSERT INTO user_messages (user_id, message_id, folder_id, uid, sequence_number, received_at)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		um.UserID, um.MessageID, um.FolderID, um.UID, um.SequenceNumber, um.ReceivedAt).Scan(&um.ID)
	if err != nil {
		return nil, fmt.Errorf("insert user_message: %w", err)
	}

	for _, f := range flags {
		if _, err := tx.Exec(ctx, `
			INSERT INTO message_flags (message_id, user_id, flag_name, is_set, modified_at)
			VALUES ($1,$2,$3,true,now())
			ON CONFLICT (message_id, user_id, flag_name) DO UPDATE SET is_set = true, modified_at = now()`,
			messageID, userID, string(f)); err != nil {
			return nil, fmt.Errorf("set initial flag %s: %w", f, err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE folders SET uid_next = uid_next + 1 WHERE id = $1`, folderID); err != nil {
		return nil, fmt.Errorf("advance uid_next: %w", err)
	}
	if err := recomputeFolderCountersTx(ctx, tx, folderID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return um, nil
}

// recomputeFolderCountersTx re-derives exists/unseen/recent from
// user_messages + message_flags, the normalized-table equivalent of the
// teacher's UpdateFolderCounts JSONB `@>` query.
func recomputeFolderCountersTx(ctx context.Context, tx pgx.Tx, folderID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE folders f SET
			exists_count = (SELECT COUNT(*) FROM user_messages um WHERE um.folder_id = f.id),
			unseen_count = (SELECT COUNT(*) FROM user_messages um
				WHERE um.folder_id = f.id AND NOT EXISTS (
					SELECT 1 FROM message_flags mf
					WHERE mf.message_id = um.message_id AND mf.user_id = um.user_id
					  AND mf.flag_name = '\Seen' AND mf.is_set)),
			recent_count = (SELECT COUNT(*) FROM user_messages um
				WHERE um.folder_id = f.id AND EXISTS (
					SELECT 1 FROM message_flags mf
					WHERE mf.message_id = um.message_id AND mf.user_id = um.user_id
					  AND mf.flag_name = '\Recent' AND mf.is_set))
		WHERE f.id = $1`, folderID)
	return err
}

func (s *PGStore) ListMessages(ctx context.Context, folderID int64) ([]*UserMessage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, message_id, folder_id, uid, sequence_number, received_at
		FROM user_messages WHERE folder_id = $1 ORDER BY sequence_number ASC`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*UserMessage
	for rows.Next() {
		um := &UserMessage{}
		if err := rows.Scan(&um.ID, &um.UserID, &um.MessageID, &um.FolderID, &um.UID, &um.SequenceNumber, &um.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, um)
	}
	return out, rows.Err()
}

func (s *PGStore) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, header_message_id, from_address, to_address, cc, bcc, subject, headers,
		       body, body_html, size_bytes, received_at, sent_date, in_reply_to, "references",
		       body_structure, envelope
		FROM messages WHERE id = $1`, messageID)
	m := &Message{}
	if err := row.Scan(&m.ID, &m.HeaderMessageID, &m.FromAddress, &m.ToAddress, &m.CC, &m.BCC,
		&m.Subject, &m.Headers, &m.Body, &m.BodyHTML, &m.SizeBytes, &m.ReceivedAt, &m.SentDate,
		&m.InReplyTo, &m.References, &m.BodyStructure, &m.Envelope); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMessageNotFound()
		}
		return nil, err
	}
	return m, nil
}

func (s *PGStore) GetUserMessageBySeq(ctx context.Context, folderID int64, seq int) (*UserMessage, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, message_id, folder_id, uid, sequence_number, received_at
		FROM user_messages WHERE folder_id = $1 AND sequence_number = $2`, folderID, seq)
	um := &UserMessage{}
	if err := row.Scan(&um.ID, &um.UserID, &um.MessageID, &um.FolderID, &um.UID, &um.SequenceNumber, &um.ReceivedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMessageNotFound()
		}
		return nil, err
	}
	return um, nil
}

func (s *PGStore) GetUserMessageByUID(ctx context.Context, folderID int64, uid uint32) (*UserMessage, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, message_id, folder_id, uid, sequence_number, received_at
		FROM user_messages WHERE folder_id = $1 AND uid = $2`, folderID, uid)
	um := &UserMessage{}
	if err := row.Scan(&um.ID, &um.UserID, &um.MessageID, &um.FolderID, &um.UID, &um.SequenceNumber, &um.ReceivedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMessageNotFound()
		}
		return nil, err
	}
	return um, nil
}

func (s *PGStore) GetFlags(ctx context.Context, messageID, userID int64) (map[string]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT flag_name, is_set FROM message_flags WHERE message_id = $1 AND user_id = $2`, messageID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var name string
		var set bool
		if err := rows.Scan(&name, &set); err != nil {
			return nil, err
		}
		out[name] = set
	}
	return out, rows.Err()
}

func (s *PGStore) ApplyFlags(ctx context.Context, messageID, userID int64, op StoreOp, flags []Flag) (map[string]bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	switch op {
	case StoreReplace:
		if _, err := tx.Exec(ctx, `UPDATE message_flags SET is_set = false, modified_at = now() WHERE message_id = $1 AND user_id = $2`, messageID, userID); err != nil {
			return nil, err
		}
		fallthrough
	case StoreAdd:
		for _, f := range flags {
			if _, err := tx.Exec(ctx, `
				INSERT INTO message_flags (message_id, user_id, flag_name, is_set, modified_at)
				VALUES ($1,$2,$3,true,now())
				ON CONFLICT (message_id, user_id, flag_name) DO UPDATE SET is_set = true, modified_at = now()`,
				messageID, userID, string(f)); err != nil {
				return nil, err
			}
		}
	case StoreRemove:
		for _, f := range flags {
			if _, err := tx.Exec(ctx, `
				UPDATE message_flags SET is_set = false, modified_at = now()
				WHERE message_id = $1 AND user_id = $2 AND flag_name = $3`,
				messageID, userID, string(f)); err != nil {
				return nil, err
			}
		}
	}

	var folderID int64
	if err := tx.QueryRow(ctx, `SELECT folder_id FROM user_messages WHERE message_id = $1 AND user_id = $2`, messageID, userID).Scan(&folderID); err == nil {
		if err := recomputeFolderCountersTx(ctx, tx, folderID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetFlags(ctx, messageID, userID)
}

// Expunge removes \Deleted placements and renumbers survivors, all in one
// transaction so exists/sequence numbers are never observed mid-update
// (spec §8 invariant 3, §5 "never observable in an intermediate state").
func (s *PGStore) Expunge(ctx context.Context, userID, folderID int64) ([]int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT um.id, um.sequence_number FROM user_messages um
		JOIN message_flags mf ON mf.message_id = um.message_id AND mf.user_id = um.user_id
		WHERE um.folder_id = $1 AND mf.flag_name = '\Deleted' AND mf.is_set
		ORDER BY um.sequence_number ASC`, folderID)
	if err != nil {
		return nil, err
	}
	type victim struct {
		id  int64
		seq int
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.seq); err != nil {
			rows.Close()
			return nil, err
		}
		victims = append(victims, v)
	}
	rows.Close()

	for _, v := range victims {
		if _, err := tx.Exec(ctx, `DELETE FROM user_messages WHERE id = $1`, v.id); err != nil {
			return nil, err
		}
	}

	survivors, err := tx.Query(ctx, `SELECT id FROM user_messages WHERE folder_id = $1 ORDER BY sequence_number ASC`, folderID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for survivors.Next() {
		var id int64
		if err := survivors.Scan(&id); err != nil {
			survivors.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	survivors.Close()
	for i, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE user_messages SET sequence_number = $2 WHERE id = $1`, id, i+1); err != nil {
			return nil, err
		}
	}

	if err := recomputeFolderCountersTx(ctx, tx, folderID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	removed := make([]int, len(victims))
	for i, v := range victims {
		removed[i] = v.seq
	}
	// Descending order, per spec §4.2/§4.7: "emitting one expunge event
	// per removal (descending sequence numbers at the protocol layer)".
	sort.Sort(sort.Reverse(sort.IntSlice(removed)))
	return removed, nil
}

func (s *PGStore) Status(ctx context.Context, folderID int64) (*Folder, error) {
	return s.GetFolderByID(ctx, folderID)
}

// Move implements spec §4.2's move(user_id, src_folder, dst_folder, uids):
// each placement is detached from src and re-inserted into dst under a
// freshly allocated dst UID, using the same "lock folders FOR UPDATE, then
// allocate" discipline as Append so concurrent Append/Move into dst never
// collide on a UID.
func (s *PGStore) Move(ctx context.Context, userID, srcFolderID, dstFolderID int64, uids []uint32) ([]*UserMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin move tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dstUIDNext uint32
	if err := tx.QueryRow(ctx, `SELECT uid_next FROM folders WHERE id = $1 FOR UPDATE`, dstFolderID).Scan(&dstUIDNext); err != nil {
		return nil, fmt.Errorf("lock dst folder uid_next: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, message_id, received_at FROM user_messages
		WHERE folder_id = $1 AND user_id = $2 AND uid = ANY($3)
		ORDER BY uid ASC`, srcFolderID, userID, uids)
	if err != nil {
		return nil, fmt.Errorf("select move victims: %w", err)
	}
	type victim struct {
		id         int64
		messageID  int64
		receivedAt time.Time
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.messageID, &v.receivedAt); err != nil {
			rows.Close()
			return nil, err
		}
		victims = append(victims, v)
	}
	rows.Close()

	var dstSeq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_number),0) FROM user_messages WHERE folder_id = $1`, dstFolderID).Scan(&dstSeq); err != nil {
		return nil, fmt.Errorf("compute dst sequence: %w", err)
	}

	moved := make([]*UserMessage, 0, len(victims))
	for _, v := range victims {
		if _, err := tx.Exec(ctx, `DELETE FROM user_messages WHERE id = $1`, v.id); err != nil {
			return nil, fmt.Errorf("detach from src: %w", err)
		}

		dstSeq++
		nu := &UserMessage{UserID: userID, MessageID: v.messageID, FolderID: dstFolderID, UID: dstUIDNext, SequenceNumber: dstSeq, ReceivedAt: v.receivedAt}
		dstUIDNext++
		if err := tx.QueryRow(ctx, `
			INSERT INTO user_messages (user_id, message_id, folder_id, uid, sequence_number, received_at)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			nu.UserID, nu.MessageID, nu.FolderID, nu.UID, nu.SequenceNumber, nu.ReceivedAt).Scan(&nu.ID); err != nil {
			return nil, fmt.Errorf("insert moved user_message: %w", err)
		}
		moved = append(moved, nu)
	}

	if _, err := tx.Exec(ctx, `UPDATE folders SET uid_next = $2 WHERE id = $1`, dstFolderID, dstUIDNext); err != nil {
		return nil, fmt.Errorf("advance dst uid_next: %w", err)
	}

	survivorRows, err := tx.Query(ctx, `SELECT id FROM user_messages WHERE folder_id = $1 ORDER BY sequence_number ASC`, srcFolderID)
	if err != nil {
		return nil, fmt.Errorf("select src survivors: %w", err)
	}
	var survivorIDs []int64
	for survivorRows.Next() {
		var id int64
		if err := survivorRows.Scan(&id); err != nil {
			survivorRows.Close()
			return nil, err
		}
		survivorIDs = append(survivorIDs, id)
	}
	survivorRows.Close()
	for i, id := range survivorIDs {
		if _, err := tx.Exec(ctx, `UPDATE user_messages SET sequence_number = $2 WHERE id = $1`, id, i+1); err != nil {
			return nil, fmt.Errorf("renumber src survivor: %w", err)
		}
	}

	if err := recomputeFolderCountersTx(ctx, tx, srcFolderID); err != nil {
		return nil, err
	}
	if err := recomputeFolderCountersTx(ctx, tx, dstFolderID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit move: %w", err)
	}
	return moved, nil
}

func (s *PGStore) AppendAttachment(ctx context.Context, messageID int64, att *Attachment) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO attachments (message_id, file_name, content_type, size, file_guid, file_extension)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		messageID, att.FileName, att.ContentType, att.Size, att.FileGUID, att.FileExtension).Scan(&att.ID)
	return err
}

func (s *PGStore) ListAttachments(ctx context.Context, messageID int64) ([]*Attachment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, message_id, file_name, content_type, size, file_guid, file_extension
		FROM attachments WHERE message_id = $1`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Attachment
	for rows.Next() {
		a := &Attachment{}
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.ContentType, &a.Size, &a.FileGUID, &a.FileExtension); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
