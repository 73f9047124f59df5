package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/doodlery/doodlery/internal/store"
)

// StorePlatform implements Platform on top of the key-value store itself,
// for deployments where the platform state lives in the same backend as the
// game data (and for the standalone admin server). Layout:
//
//	postdata:{id}   hash: authorId, authorName, createdAt, data (JSON bag)
//	user:{id}       hash: id, name
//	username:{name} scalar: user id
//	comments:{id}   hash: {comment id} -> body
type StorePlatform struct {
	store store.Store
	scope store.Scope
}

// NewStorePlatform returns a store-backed Platform in the given scope.
func NewStorePlatform(s store.Store, scope store.Scope) *StorePlatform {
	return &StorePlatform{store: s, scope: scope}
}

func postDataKey(id string) string   { return "postdata:" + id }
func userKey(id string) string       { return "user:" + id }
func usernameKey(name string) string { return "username:" + name }
func commentsKey(id string) string   { return "comments:" + id }

func (p *StorePlatform) PostByID(ctx context.Context, id string) (*Post, error) {
	fields, err := p.store.HGetAll(ctx, p.scope, postDataKey(id))
	if err != nil {
		return nil, fmt.Errorf("read post %q: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	post := &Post{ID: id, AuthorID: fields["authorId"], AuthorName: fields["authorName"]}
	if ms, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		post.CreatedAt = time.UnixMilli(ms)
	}
	if raw := fields["data"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &post.Data); err != nil {
			return nil, fmt.Errorf("decode post %q data: %w", id, err)
		}
	}
	return post, nil
}

func (p *StorePlatform) UserByID(ctx context.Context, id string) (*User, error) {
	fields, err := p.store.HGetAll(ctx, p.scope, userKey(id))
	if err != nil {
		return nil, fmt.Errorf("read user %q: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return &User{ID: id, Name: fields["name"]}, nil
}

func (p *StorePlatform) UserByName(ctx context.Context, name string) (*User, error) {
	id, found, err := p.store.Get(ctx, p.scope, usernameKey(name))
	if err != nil {
		return nil, fmt.Errorf("resolve username %q: %w", name, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return p.UserByID(ctx, id)
}

func (p *StorePlatform) SetPostData(ctx context.Context, id string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode post %q data: %w", id, err)
	}
	return p.store.HSet(ctx, p.scope, postDataKey(id), map[string]string{"data": string(raw)})
}

func (p *StorePlatform) CreateComment(ctx context.Context, postID, body string) error {
	return p.store.HSet(ctx, p.scope, commentsKey(postID), map[string]string{uuid.NewString(): body})
}

// PutPost writes a post's envelope fields; used by seeding and tests.
func (p *StorePlatform) PutPost(ctx context.Context, post *Post) error {
	fields := map[string]string{
		"authorId":   post.AuthorID,
		"authorName": post.AuthorName,
		"createdAt":  strconv.FormatInt(post.CreatedAt.UnixMilli(), 10),
	}
	if post.Data != nil {
		raw, err := json.Marshal(post.Data)
		if err != nil {
			return fmt.Errorf("encode post %q data: %w", post.ID, err)
		}
		fields["data"] = string(raw)
	}
	return p.store.HSet(ctx, p.scope, postDataKey(post.ID), fields)
}

// PutUser registers a user and its username mapping; used by seeding and tests.
func (p *StorePlatform) PutUser(ctx context.Context, u *User) error {
	if err := p.store.HSet(ctx, p.scope, userKey(u.ID), map[string]string{"id": u.ID, "name": u.Name}); err != nil {
		return err
	}
	return p.store.Set(ctx, p.scope, usernameKey(u.Name), u.ID, 0)
}
