package mastodon

import (
	"context"
	"slices"
	"sync"

	"tools.zach/dev/catbot/internal/cleaner"
)

// DefaultPageLimit is the page size used for the status history.
const DefaultPageLimit = 40

// Timeline exposes the authenticated account's statuses oldest first. It
// satisfies [cleaner.Timeline].
type Timeline struct {
	client *Client
	limit  int

	mu sync.Mutex
	me Account
}

// NewTimeline returns a Timeline reading limit statuses per page.
func NewTimeline(c *Client, limit int) *Timeline {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return &Timeline{client: c, limit: limit}
}

// Self verifies the credentials and remembers the account for paging.
func (t *Timeline) Self(ctx context.Context) (string, error) {
	me, err := t.client.VerifyCredentials(ctx)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.me = me
	t.mu.Unlock()
	return me.Acct, nil
}

// Page returns the statuses newer than cursor, oldest first. An empty cursor
// starts from the very first status (min_id=0). The next cursor is the
// min_id of the Link header's prev page.
func (t *Timeline) Page(ctx context.Context, cursor string) ([]cleaner.Post, string, bool, error) {
	t.mu.Lock()
	id := t.me.ID
	t.mu.Unlock()
	if id == "" {
		if _, err := t.Self(ctx); err != nil {
			return nil, "", false, err
		}
		t.mu.Lock()
		id = t.me.ID
		t.mu.Unlock()
	}

	if cursor == "" {
		cursor = "0"
	}
	statuses, pg, err := t.client.AccountStatuses(ctx, id, Page{MinID: cursor, Limit: t.limit})
	if err != nil {
		return nil, "", false, err
	}

	posts := make([]cleaner.Post, 0, len(statuses))
	for _, st := range statuses {
		posts = append(posts, ToPost(st))
	}
	// The server returns the page newest first.
	slices.Reverse(posts)

	if len(posts) == 0 || pg.Newer == nil {
		return posts, "", false, nil
	}
	return posts, pg.Newer.MinID, true, nil
}

// Delete deletes a status.
func (t *Timeline) Delete(ctx context.Context, id string) error {
	return t.client.DeleteStatus(ctx, id)
}

// ToPost converts a status to a cleaner.Post.
func ToPost(st Status) cleaner.Post {
	p := cleaner.Post{
		ID:         st.ID,
		CreatedAt:  st.CreatedAt,
		Reblogs:    st.ReblogsCount,
		Replies:    st.RepliesCount,
		Favourites: st.FavouritesCount,
	}
	if st.Application != nil {
		p.App = st.Application.Name
	}
	return p
}
