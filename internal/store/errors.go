package store

import "github.com/oonrumail/mailcore/internal/kinds"

// ErrFolderNotFound, ErrMessageNotFound, ErrUserNotFound are convenience
// constructors kept close to the store so call sites read naturally;
// they all carry kinds.NotFound so sessions map them uniformly.
func ErrFolderNotFound(name string) error {
	return kinds.Newf(kinds.NotFound, "folder not found: %s", name)
}

func ErrMessageNotFound() error {
	return kinds.New(kinds.NotFound, "message not found")
}

func ErrUserNotFound() error {
	return kinds.New(kinds.NotFound, "user not found")
}

func ErrDomainNotFound() error {
	return kinds.New(kinds.NotFound, "domain not found")
}

func ErrQuotaExceeded() error {
	return kinds.New(kinds.QuotaExceeded, "storage quota exceeded")
}
