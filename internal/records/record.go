package records

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// StreamEnvelope is one raw line off the feed: an id wrapper and nothing
// more. It is consumed immediately and never persisted.
type StreamEnvelope struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ParseEnvelope decodes a feed line. The id is the only field the session
// needs; everything else on the line is provider noise.
func ParseEnvelope(line []byte) (StreamEnvelope, error) {
	var env StreamEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return StreamEnvelope{}, fmt.Errorf("decode stream line: %w", err)
	}
	if env.Data.ID == "" {
		return StreamEnvelope{}, fmt.Errorf("stream line missing data.id")
	}
	return env, nil
}

// Record is the normalized output row: one tweet plus its author, flattened.
// Optional upstream fields are pointers so an absent value serializes as an
// explicit null instead of disappearing from the schema.
type Record struct {
	TweetID   string  `json:"tweet_id"`
	CreatedAt *string `json:"created_at"`
	Text      *string `json:"tweet"`
	CleanText *string `json:"tweet_clean"`
	Source    *string `json:"source"`
	QuotedID  *string `json:"quoted_id"`
	ReplyToID *string `json:"in_reply_to_id"`

	AuthorID          *string `json:"tweet_author_id"`
	AuthorName        *string `json:"tweet_author_name"`
	AuthorUsername    *string `json:"tweet_author_username"`
	AuthorDescription *string `json:"tweet_author_description"`
	AuthorLocation    *string `json:"tweet_author_location"`
	AuthorImage       *string `json:"tweet_author_image"`
	AuthorJoinDate    *string `json:"tweet_author_join_date"`
	AuthorFollowing   *int    `json:"tweet_author_following_count"`
	AuthorFollowers   *int    `json:"tweet_author_followers_count"`
	AuthorTweets      *int    `json:"tweet_author_total_tweets"`
	AuthorVerified    *bool   `json:"tweet_author_verified"`
}

// Equal reports full structural equality. The session uses it to spot
// provider-side replay of the previous delivery.
func (r Record) Equal(other Record) bool {
	a, errA := json.Marshal(r)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

// Wire shapes for the detail endpoint response.

type detailResponse struct {
	Data     []TweetDetail `json:"data"`
	Includes struct {
		Users []UserDetail `json:"users"`
	} `json:"includes"`
}

type TweetDetail struct {
	ID               string  `json:"id"`
	CreatedAt        *string `json:"created_at"`
	AuthorID         *string `json:"author_id"`
	Text             *string `json:"text"`
	Source           *string `json:"source"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type UserDetail struct {
	Name            *string `json:"name"`
	Username        *string `json:"username"`
	Description     *string `json:"description"`
	Location        *string `json:"location"`
	ProfileImageURL *string `json:"profile_image_url"`
	CreatedAt       *string `json:"created_at"`
	Verified        *bool   `json:"verified"`
	PublicMetrics   *struct {
		FollowingCount int `json:"following_count"`
		FollowersCount int `json:"followers_count"`
		TweetCount     int `json:"tweet_count"`
	} `json:"public_metrics"`
}

// FromDetail normalizes a detail endpoint response body into a Record.
// The primary payload is data[0] and the author is includes.users[0];
// a response without a primary entry is malformed.
func FromDetail(body []byte) (Record, error) {
	var resp detailResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Record{}, fmt.Errorf("decode detail response: %w", err)
	}
	if len(resp.Data) == 0 {
		return Record{}, fmt.Errorf("detail response has no primary entry")
	}

	data := resp.Data[0]
	rec := Record{
		TweetID:   data.ID,
		CreatedAt: data.CreatedAt,
		Text:      data.Text,
		Source:    data.Source,
		AuthorID:  data.AuthorID,
	}

	if data.Text != nil {
		clean := CleanText(*data.Text)
		rec.CleanText = &clean
	}

	// Split parent references by type. The model allows at most one of
	// each in practice; comma-join defensively if more ever arrive.
	var quoted, replied []string
	for _, ref := range data.ReferencedTweets {
		switch ref.Type {
		case "quoted":
			quoted = append(quoted, ref.ID)
		case "replied_to":
			replied = append(replied, ref.ID)
		}
	}
	if len(quoted) > 0 {
		v := strings.Join(quoted, ",")
		rec.QuotedID = &v
	}
	if len(replied) > 0 {
		v := strings.Join(replied, ",")
		rec.ReplyToID = &v
	}

	if len(resp.Includes.Users) > 0 {
		user := resp.Includes.Users[0]
		rec.AuthorName = user.Name
		rec.AuthorUsername = user.Username
		rec.AuthorDescription = user.Description
		rec.AuthorLocation = user.Location
		rec.AuthorImage = user.ProfileImageURL
		rec.AuthorJoinDate = user.CreatedAt
		rec.AuthorVerified = user.Verified
		if pm := user.PublicMetrics; pm != nil {
			rec.AuthorFollowing = &pm.FollowingCount
			rec.AuthorFollowers = &pm.FollowersCount
			rec.AuthorTweets = &pm.TweetCount
		}
	}

	return rec, nil
}

var (
	urlPattern      = regexp.MustCompile(`https?://\S+|www\.\S+`)
	nonAlphaPattern = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

// CleanText strips URL-shaped substrings, then collapses every run of
// non-alphanumeric characters to a single space.
func CleanText(text string) string {
	stripped := urlPattern.ReplaceAllString(text, " ")
	collapsed := nonAlphaPattern.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(collapsed)
}
