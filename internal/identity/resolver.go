// Package identity resolves drawing-post authorship across the legacy
// record shapes: generation 1 stored either a user id or a raw username,
// generation 2 only ever stored a username.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/doodlery/doodlery/internal/host"
)

// DeletedAuthorName is the placeholder shown when an author id is known but
// the account no longer resolves and the legacy record kept no username.
const DeletedAuthorName = "[deleted]"

// ErrUnresolvable means no author id could be recovered: the legacy record
// held only a username and the directory cannot map it to an account. This
// is the one identity failure that is fatal to migration.
var ErrUnresolvable = errors.New("identity: author unresolvable")

// Directory is the subset of the host platform used for identity lookups.
type Directory interface {
	UserByID(ctx context.Context, id string) (*host.User, error)
	UserByName(ctx context.Context, name string) (*host.User, error)
}

// Author is a resolved (id, display name) pair.
type Author struct {
	ID   string
	Name string
}

// Resolve recovers the author of a legacy record from whatever the record
// kept: an id, a username, or both.
//
// With an id present, username lookup failures are tolerated: the stored
// username literal (or DeletedAuthorName) stands in, because an id is
// enough to key the indexes. With only a username, a failed lookup is
// fatal: there is no id literal anywhere to fall back to.
func Resolve(ctx context.Context, dir Directory, authorID, username string) (Author, error) {
	authorID = strings.TrimSpace(authorID)
	username = strings.TrimSpace(username)

	if authorID != "" {
		u, err := dir.UserByID(ctx, authorID)
		if err == nil && u != nil && u.Name != "" {
			return Author{ID: authorID, Name: u.Name}, nil
		}
		if err != nil && !errors.Is(err, host.ErrNotFound) {
			slog.Warn("author lookup by id failed, using stored username", "author_id", authorID, "error", err)
		}
		if username != "" {
			return Author{ID: authorID, Name: username}, nil
		}
		return Author{ID: authorID, Name: DeletedAuthorName}, nil
	}

	if username == "" {
		return Author{}, fmt.Errorf("%w: record has neither id nor username", ErrUnresolvable)
	}
	u, err := dir.UserByName(ctx, username)
	if err != nil || u == nil || u.ID == "" {
		if err == nil {
			err = host.ErrNotFound
		}
		return Author{}, fmt.Errorf("%w: username %q: %v", ErrUnresolvable, username, err)
	}
	return Author{ID: u.ID, Name: u.Name}, nil
}
