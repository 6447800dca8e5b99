// Package timeline is the read-only profile path: handle resolution,
// timeline pagination, and follower/following listings. It shares the
// signed API client with the streaming side but none of its retry
// machinery; failures surface directly as RequestError.
package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ifebuche/twifesh/internal/apiclient"
	"github.com/ifebuche/twifesh/internal/records"
)

const (
	// Each connections page already carries up to 250 entries, so the
	// page count is hard-capped rather than left open-ended.
	maxConnectionPages  = 20
	connectionsPageSize = 250
)

// ErrUserNotFound means the handle resolved to no account.
var ErrUserNotFound = errors.New("user not found")

// Direction selects which side of the follow graph to list.
type Direction string

const (
	Followers Direction = "followers"
	Following Direction = "following"
)

// Tweet is one normalized timeline entry.
type Tweet struct {
	ID        string  `json:"id"`
	CreatedAt *string `json:"created_at"`
	Text      *string `json:"text"`
	CleanText *string `json:"text_clean"`
	Source    *string `json:"source"`
}

// Profile is one normalized account summary from a connections listing.
type Profile struct {
	ID          string  `json:"id"`
	Name        *string `json:"name"`
	Username    *string `json:"username"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	Verified    *bool   `json:"verified"`
	Following   *int    `json:"following_count"`
	Followers   *int    `json:"followers_count"`
	Tweets      *int    `json:"total_tweets"`
}

type Client struct {
	api *apiclient.Client
}

func New(api *apiclient.Client) *Client {
	return &Client{api: api}
}

// ResolveUserID resolves a handle to the account's opaque id.
func (c *Client) ResolveUserID(ctx context.Context, handle string) (string, error) {
	resp, err := c.api.GetRead(ctx, "/users/by/username/"+url.PathEscape(handle), nil)
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return "", ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiclient.Err("resolve user", resp)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("resolve user: decode response: %w", err)
	}
	if out.Data.ID == "" {
		return "", ErrUserNotFound
	}
	return out.Data.ID, nil
}

// pageMeta is the continuation marker shared by all paginated endpoints.
// An absent next_token signals exhaustion.
type pageMeta struct {
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token"`
}

// TweetPager walks a user's timeline one page at a time. Reset rewinds
// it to the first page, so the sequence is restartable.
type TweetPager struct {
	c      *Client
	userID string
	next   string
	done   bool
}

// Tweets returns a pager over the user's timeline.
func (c *Client) Tweets(userID string) *TweetPager {
	return &TweetPager{c: c, userID: userID}
}

// More reports whether another page may exist. It is true before the
// first fetch and turns false once a page arrives without a
// continuation token.
func (p *TweetPager) More() bool { return !p.done }

// Reset rewinds the pager to the start of the timeline.
func (p *TweetPager) Reset() {
	p.next = ""
	p.done = false
}

// Next fetches the next timeline page. Calling it after exhaustion
// returns an empty page.
func (p *TweetPager) Next(ctx context.Context) ([]Tweet, error) {
	if p.done {
		return nil, nil
	}

	q := url.Values{}
	q.Set("tweet.fields", "created_at,source,text")
	if p.next != "" {
		q.Set("pagination_token", p.next)
	}

	resp, err := p.c.api.GetRead(ctx, "/users/"+url.PathEscape(p.userID)+"/tweets", q)
	if err != nil {
		return nil, fmt.Errorf("list tweets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiclient.Err("list tweets", resp)
	}

	var out struct {
		Data []struct {
			ID        string  `json:"id"`
			CreatedAt *string `json:"created_at"`
			Text      *string `json:"text"`
			Source    *string `json:"source"`
		} `json:"data"`
		Meta pageMeta `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list tweets: decode response: %w", err)
	}

	page := make([]Tweet, 0, len(out.Data))
	for _, d := range out.Data {
		tw := Tweet{ID: d.ID, CreatedAt: d.CreatedAt, Text: d.Text, Source: d.Source}
		if d.Text != nil {
			clean := records.CleanText(*d.Text)
			tw.CleanText = &clean
		}
		page = append(page, tw)
	}

	p.next = out.Meta.NextToken
	if p.next == "" {
		p.done = true
	}
	return page, nil
}

// AllTweets drains the pager and returns the full timeline in page order.
func (p *TweetPager) AllTweets(ctx context.Context) ([]Tweet, error) {
	var all []Tweet
	for p.More() {
		page, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
	return all, nil
}

// ListConnections lists one side of a user's follow graph, up to
// maxPages pages of 250 entries each. maxPages is clamped to [1, 20].
func (c *Client) ListConnections(ctx context.Context, userID string, dir Direction, maxPages int) ([]Profile, error) {
	if dir != Followers && dir != Following {
		return nil, fmt.Errorf("list connections: unknown direction %q", dir)
	}
	if maxPages < 1 {
		maxPages = 1
	}
	if maxPages > maxConnectionPages {
		maxPages = maxConnectionPages
	}

	var (
		all  []Profile
		next string
	)
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("max_results", fmt.Sprint(connectionsPageSize))
		q.Set("user.fields", "created_at,description,location,name,public_metrics,username,verified")
		if next != "" {
			q.Set("pagination_token", next)
		}

		resp, err := c.api.GetRead(ctx, "/users/"+url.PathEscape(userID)+"/"+string(dir), q)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}

		var out struct {
			Data []struct {
				ID            string  `json:"id"`
				Name          *string `json:"name"`
				Username      *string `json:"username"`
				Description   *string `json:"description"`
				Location      *string `json:"location"`
				Verified      *bool   `json:"verified"`
				PublicMetrics *struct {
					FollowingCount int `json:"following_count"`
					FollowersCount int `json:"followers_count"`
					TweetCount     int `json:"tweet_count"`
				} `json:"public_metrics"`
			} `json:"data"`
			Meta pageMeta `json:"meta"`
		}

		if resp.StatusCode != http.StatusOK {
			err := apiclient.Err(fmt.Sprintf("list %s", dir), resp)
			resp.Body.Close()
			return nil, err
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("list %s: decode response: %w", dir, decodeErr)
		}

		for _, d := range out.Data {
			pr := Profile{
				ID:          d.ID,
				Name:        d.Name,
				Username:    d.Username,
				Description: d.Description,
				Location:    d.Location,
				Verified:    d.Verified,
			}
			if pm := d.PublicMetrics; pm != nil {
				pr.Following = &pm.FollowingCount
				pr.Followers = &pm.FollowersCount
				pr.Tweets = &pm.TweetCount
			}
			all = append(all, pr)
		}

		next = out.Meta.NextToken
		if next == "" {
			break
		}
	}
	return all, nil
}
