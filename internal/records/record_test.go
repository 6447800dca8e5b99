package records

import (
	"encoding/json"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"data":{"id":"1507481", "text":"hello"}}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if env.Data.ID != "1507481" {
		t.Errorf("expected id 1507481, got %s", env.Data.ID)
	}
}

func TestParseEnvelope_MissingID(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"data":{}}`)); err == nil {
		t.Error("expected error for missing data.id")
	}
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed line")
	}
}

const detailBody = `{
	"data": [{
		"id": "99001",
		"created_at": "2022-07-03T19:53:37.000Z",
		"author_id": "4411",
		"text": "check http://x.co now! ok",
		"source": "Twitter Web App",
		"referenced_tweets": [
			{"type": "quoted", "id": "777"},
			{"type": "replied_to", "id": "888"}
		]
	}],
	"includes": {
		"users": [{
			"name": "Fesh",
			"username": "fesh_dev",
			"description": "data person",
			"location": "Lagos",
			"profile_image_url": "https://pbs.example/img.jpg",
			"created_at": "2012-01-01T00:00:00.000Z",
			"verified": true,
			"public_metrics": {"following_count": 120, "followers_count": 3400, "tweet_count": 9100}
		}]
	}
}`

func TestFromDetail_MapsAllFields(t *testing.T) {
	rec, err := FromDetail([]byte(detailBody))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if rec.TweetID != "99001" {
		t.Errorf("expected tweet id 99001, got %s", rec.TweetID)
	}
	if rec.Text == nil || *rec.Text != "check http://x.co now! ok" {
		t.Errorf("unexpected text: %v", rec.Text)
	}
	if rec.CleanText == nil || *rec.CleanText != "check now ok" {
		t.Errorf("expected clean text %q, got %v", "check now ok", rec.CleanText)
	}
	if rec.Source == nil || *rec.Source != "Twitter Web App" {
		t.Errorf("unexpected source: %v", rec.Source)
	}
	if rec.QuotedID == nil || *rec.QuotedID != "777" {
		t.Errorf("expected quoted id 777, got %v", rec.QuotedID)
	}
	if rec.ReplyToID == nil || *rec.ReplyToID != "888" {
		t.Errorf("expected reply-to id 888, got %v", rec.ReplyToID)
	}
	if rec.AuthorUsername == nil || *rec.AuthorUsername != "fesh_dev" {
		t.Errorf("unexpected author username: %v", rec.AuthorUsername)
	}
	if rec.AuthorFollowers == nil || *rec.AuthorFollowers != 3400 {
		t.Errorf("unexpected follower count: %v", rec.AuthorFollowers)
	}
	if rec.AuthorVerified == nil || !*rec.AuthorVerified {
		t.Errorf("expected verified author, got %v", rec.AuthorVerified)
	}
}

func TestFromDetail_MultipleReferencesCommaJoined(t *testing.T) {
	body := `{"data":[{"id":"1","text":"t","referenced_tweets":[
		{"type":"quoted","id":"10"},{"type":"quoted","id":"11"}
	]}],"includes":{"users":[]}}`

	rec, err := FromDetail([]byte(body))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.QuotedID == nil || *rec.QuotedID != "10,11" {
		t.Errorf("expected quoted ids 10,11, got %v", rec.QuotedID)
	}
	if rec.ReplyToID != nil {
		t.Errorf("expected nil reply-to, got %v", rec.ReplyToID)
	}
}

func TestFromDetail_AbsentFieldsSerializeAsNull(t *testing.T) {
	rec, err := FromDetail([]byte(`{"data":[{"id":"42"}],"includes":{"users":[]}}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	// Every optional field must be present as an explicit null, not dropped.
	for _, key := range []string{
		`"created_at":null`, `"tweet":null`, `"source":null`,
		`"quoted_id":null`, `"in_reply_to_id":null`,
		`"tweet_author_username":null`, `"tweet_author_followers_count":null`,
		`"tweet_author_verified":null`,
	} {
		if !strings.Contains(string(out), key) {
			t.Errorf("expected serialized record to contain %s, got: %s", key, out)
		}
	}
}

func TestFromDetail_NoPrimaryEntry(t *testing.T) {
	if _, err := FromDetail([]byte(`{"data":[],"includes":{}}`)); err == nil {
		t.Error("expected error for empty data array")
	}
	if _, err := FromDetail([]byte(`{`)); err == nil {
		t.Error("expected error for malformed body")
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"check http://x.co now! ok", "check now ok"},
		{"plain words only", "plain words only"},
		{"https://t.co/abc123", ""},
		{"RT @user: nice!!! see www.example.com/a?b=c today", "RT user nice see today"},
		{"tabs\tand\nnewlines", "tabs and newlines"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordEqual(t *testing.T) {
	a := Record{TweetID: "1", Text: strPtr("hello")}
	b := Record{TweetID: "1", Text: strPtr("hello")}
	c := Record{TweetID: "1", Text: strPtr("different")}

	if !a.Equal(b) {
		t.Error("expected records with identical content to be equal")
	}
	if a.Equal(c) {
		t.Error("expected records with different text to differ")
	}
	if a.Equal(Record{TweetID: "2", Text: strPtr("hello")}) {
		t.Error("expected records with different ids to differ")
	}
}
