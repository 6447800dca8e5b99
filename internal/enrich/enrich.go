package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ifebuche/twifesh/internal/apiclient"
	"github.com/ifebuche/twifesh/internal/records"
)

// Status tags a fetch outcome so the session dispatches by variant
// instead of inspecting diagnostic strings.
type Status int

const (
	StatusOK Status = iota
	StatusRateLimited
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRateLimited:
		return "rate_limited"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one detail fetch. Record is set only for
// StatusOK; Cause only for the failure variants.
type Result struct {
	Status Status
	Record records.Record
	Cause  string
}

// Fetcher expands a minimal feed event into a full normalized record.
// It never panics past its boundary: every failure path resolves to a
// Result the session can classify.
type Fetcher struct {
	api *apiclient.Client
}

func New(api *apiclient.Client) *Fetcher {
	return &Fetcher{api: api}
}

func detailQuery(id string) url.Values {
	q := url.Values{}
	q.Set("ids", id)
	q.Set("tweet.fields", "source,created_at,geo")
	q.Set("user.fields", "created_at,description,entities,id,location,name,pinned_tweet_id,profile_image_url,protected,public_metrics,url,username,verified,withheld")
	q.Set("place.fields", "contained_within,country,country_code,full_name,geo,id,name,place_type")
	q.Set("expansions", "referenced_tweets.id.author_id")
	return q
}

// Fetch retrieves and normalizes the full record for one tweet id.
func (f *Fetcher) Fetch(ctx context.Context, id string) Result {
	resp, err := f.api.GetPaced(ctx, "/tweets", detailQuery(id))
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return Result{
			Status: StatusRateLimited,
			Cause:  fmt.Sprintf("%d: rate limit reached", resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return failed(apiclient.Err("fetch tweet detail", resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed(err)
	}

	rec, err := records.FromDetail(body)
	if err != nil {
		return failed(err)
	}

	return Result{Status: StatusOK, Record: rec}
}

func failed(err error) Result {
	return Result{
		Status: StatusFailed,
		Cause:  fmt.Sprintf("error fetching full tweet details: %v", err),
	}
}
