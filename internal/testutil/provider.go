package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// ProviderRule mirrors one remote rule held by the fake provider.
type ProviderRule struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Provider is an in-memory stand-in for the upstream API: the rule
// endpoint keeps real add/delete state, the stream endpoint serves one
// scripted set of lines per connection, and the detail endpoint replays
// configured bodies per tweet id.
type Provider struct {
	Srv *httptest.Server

	mu      sync.Mutex
	rules   []ProviderRule
	nextID  int
	scripts [][]string
	conns   int

	detailBodies map[string]string
	detailStatus map[string]int
	detailCalls  int
}

func NewProvider() *Provider {
	p := &Provider{
		nextID:       1,
		detailBodies: make(map[string]string),
		detailStatus: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/tweets/search/stream/rules", p.handleRules)
	mux.HandleFunc("/tweets/search/stream", p.handleStream)
	mux.HandleFunc("/tweets", p.handleDetail)

	p.Srv = httptest.NewServer(mux)
	return p
}

func (p *Provider) Close() { p.Srv.Close() }

// URL is the base to point an apiclient.Client at.
func (p *Provider) URL() string { return p.Srv.URL }

// SeedRules installs pre-existing remote rules, as if left by an earlier run.
func (p *Provider) SeedRules(values ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range values {
		p.rules = append(p.rules, ProviderRule{ID: fmt.Sprintf("r-%d", p.nextID), Value: v})
		p.nextID++
	}
}

// Rules returns a copy of the provider's current rule set.
func (p *Provider) Rules() []ProviderRule {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProviderRule, len(p.rules))
	copy(out, p.rules)
	return out
}

// ScriptConnections sets the lines served by successive stream
// connections. Connection N writes scripts[N] one line at a time (an
// empty string becomes a bare newline, the feed's disconnect signal),
// then closes. Connections beyond the scripts close immediately.
func (p *Provider) ScriptConnections(scripts ...[]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = scripts
	p.conns = 0
}

// Connections reports how many stream connections were opened.
func (p *Provider) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns
}

// SetDetail configures the detail endpoint's body for a tweet id.
func (p *Provider) SetDetail(id, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detailBodies[id] = body
}

// SetDetailStatus forces a non-200 status for a tweet id.
func (p *Provider) SetDetailStatus(id string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detailStatus[id] = status
}

// DetailCalls reports how many detail fetches were served.
func (p *Provider) DetailCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detailCalls
}

func (p *Provider) handleRules(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		if len(p.rules) == 0 {
			w.Write([]byte(`{"meta":{"result_count":0}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": p.rules})

	case http.MethodPost:
		var req struct {
			Add    []struct{ Value string `json:"value"` } `json:"add"`
			Delete *struct{ IDs []string `json:"ids"` }    `json:"delete"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if req.Delete != nil {
			kept := p.rules[:0]
			for _, rule := range p.rules {
				drop := false
				for _, id := range req.Delete.IDs {
					if rule.ID == id {
						drop = true
						break
					}
				}
				if !drop {
					kept = append(kept, rule)
				}
			}
			p.rules = kept
			w.WriteHeader(http.StatusOK)
			return
		}

		for _, add := range req.Add {
			for _, existing := range p.rules {
				if existing.Value == add.Value {
					w.WriteHeader(http.StatusBadRequest)
					fmt.Fprintf(w, `{"errors":[{"title":"DuplicateRule","value":%q}]}`, add.Value)
					return
				}
			}
		}
		for _, add := range req.Add {
			p.rules = append(p.rules, ProviderRule{ID: fmt.Sprintf("r-%d", p.nextID), Value: add.Value})
			p.nextID++
		}
		w.WriteHeader(http.StatusCreated)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (p *Provider) handleStream(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	idx := p.conns
	p.conns++
	var script []string
	if idx < len(p.scripts) {
		script = p.scripts[idx]
	}
	p.mu.Unlock()

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, line := range script {
		fmt.Fprintf(w, "%s\n", line)
		flusher.Flush()
	}
}

func (p *Provider) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("ids")

	p.mu.Lock()
	p.detailCalls++
	status, forced := p.detailStatus[id]
	body := p.detailBodies[id]
	p.mu.Unlock()

	if forced {
		w.WriteHeader(status)
		if status == http.StatusTooManyRequests {
			w.Write([]byte(`{"status":429,"title":"Too Many Requests"}`))
		}
		return
	}
	if body == "" {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"title":"Not Found"}]}`))
		return
	}
	w.Write([]byte(body))
}

// DetailBody builds a minimal valid detail response for a tweet id and text.
func DetailBody(id, text, username string) string {
	b, _ := json.Marshal(map[string]any{
		"data": []map[string]any{{
			"id":         id,
			"text":       text,
			"author_id":  "a-" + id,
			"created_at": "2022-07-03T19:53:37.000Z",
			"source":     "Twitter Web App",
		}},
		"includes": map[string]any{
			"users": []map[string]any{{
				"username": username,
				"name":     username,
				"public_metrics": map[string]int{
					"following_count": 1, "followers_count": 2, "tweet_count": 3,
				},
			}},
		},
	})
	return string(b)
}
