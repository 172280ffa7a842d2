package app

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrUserNotFound      = errors.New("user not found")
	ErrForbidden         = errors.New("forbidden")

	ErrFileNotSupported = errors.New("file type not supported")
	ErrDuplicateFile    = errors.New("file already uploaded")
	ErrEmptyDocument    = errors.New("document has no extractable text")
	ErrDocumentNotFound = errors.New("document not found")
	ErrIndexNotReady    = errors.New("document index not ready")
	ErrUnauthorized     = errors.New("unauthorized")
)
