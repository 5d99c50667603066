package twitter

import (
	"context"
	"fmt"

	"tools.zach/dev/catbot/internal/catbot"
)

// MissingFollows returns the followers that are not followed back, in
// follower order.
func MissingFollows(followers, following []string) []string {
	have := make(map[string]bool, len(following))
	for _, id := range following {
		have[id] = true
	}
	var missing []string
	for _, id := range followers {
		if !have[id] {
			have[id] = true
			missing = append(missing, id)
		}
	}
	return missing
}

// FollowBack follows every follower the bot does not follow yet, paced by
// the adapter's limiter. Individual failures are logged and skipped; a rate
// limit response ends the pass. It returns how many accounts were followed.
func (a *Adapter) FollowBack(ctx context.Context) (int, error) {
	me, err := a.Identify(ctx)
	if err != nil {
		return 0, err
	}
	followers, err := a.client.FollowerIDs(ctx, me.ID)
	if err != nil {
		return 0, fmt.Errorf("list followers: %w", err)
	}
	following, err := a.client.FollowingIDs(ctx, me.ID)
	if err != nil {
		return 0, fmt.Errorf("list following: %w", err)
	}

	missing := MissingFollows(followers, following)
	a.log.Info("follow back", "followers", len(followers), "following", len(following), "missing", len(missing))

	n := 0
	for _, id := range missing {
		if err := a.opts.Limiter.Wait(ctx); err != nil {
			return n, err
		}
		out, err := a.bot.HandleFollow(ctx, a, catbot.Account{ID: id})
		switch {
		case IsRateLimited(err):
			return n, err
		case err != nil:
			a.log.Warn("follow back skipped", "user", id, "error", err)
		case out == catbot.Followed:
			n++
		}
	}
	return n, nil
}
