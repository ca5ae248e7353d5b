package repo

import "errors"

var (
	// ErrNotFound — конфликта нет в архиве.
	ErrNotFound = errors.New("not found in archive")

	// ErrNoDatabase — строка подключения не задана.
	ErrNoDatabase = errors.New("database not configured")
)
