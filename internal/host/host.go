// Package host declares the contract the migration engine consumes from
// the platform the game runs on: posts, user accounts, denormalized post
// data, and comments. The engine never owns this data; it only reads it and
// pushes best-effort updates.
package host

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a post or user does not exist (including
// deleted accounts).
var ErrNotFound = errors.New("host: not found")

// User is a platform account.
type User struct {
	ID   string
	Name string
}

// Post is a platform content item with its denormalized data bag. Data is
// the loosely-typed per-post metadata the platform stores alongside the
// post; for a migrated drawing post it mirrors the canonical record.
type Post struct {
	ID         string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
	Data       map[string]any
}

// Platform is everything the engine needs from the host. User lookups
// return ErrNotFound rather than erroring for deleted accounts.
// SetPostData and CreateComment are consumed best-effort: callers log and
// continue on failure.
type Platform interface {
	PostByID(ctx context.Context, id string) (*Post, error)
	UserByID(ctx context.Context, id string) (*User, error)
	UserByName(ctx context.Context, name string) (*User, error)
	SetPostData(ctx context.Context, id string, data map[string]any) error
	CreateComment(ctx context.Context, postID, body string) error
}
