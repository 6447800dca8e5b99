package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ifebuche/twifesh/internal/apiclient"
)

const rulesPath = "/tweets/search/stream/rules"

// MaxRules is the provider's cap on concurrently active filter rules.
// Add truncates silently beyond it rather than erroring.
const MaxRules = 5

// Rule is one filter expression registered with the provider. ID is set
// only for rules that already exist remotely.
type Rule struct {
	ID    string `json:"id,omitempty"`
	Value string `json:"value"`
}

// FetchError is a non-success response from the rule endpoint.
type FetchError struct {
	Op     string
	Status int
	Body   string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// Client manages the remote rule set. It holds no state beyond the
// request/response cycle.
type Client struct {
	api *apiclient.Client
}

func New(api *apiclient.Client) *Client {
	return &Client{api: api}
}

// Fetch returns the currently active rule set, or an empty slice when the
// provider has none. The previously active values are logged newest-first
// for operator visibility.
func (c *Client) Fetch(ctx context.Context) ([]Rule, error) {
	resp, err := c.api.Get(ctx, rulesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fetchErr("fetch rules", resp)
	}

	var payload struct {
		Data []Rule `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode rules response: %w", err)
	}

	if len(payload.Data) == 0 {
		slog.Info("no keywords in play before now")
		return nil, nil
	}

	values := make([]string, 0, len(payload.Data))
	for i := len(payload.Data) - 1; i >= 0; i-- {
		values = append(values, payload.Data[i].Value)
	}
	slog.Info("last keywords streamed", "values", values)

	return payload.Data, nil
}

// Delete removes the given rules by id. An empty or id-less input is a
// no-op: it returns false with no error, signalling nothing was deleted.
func (c *Client) Delete(ctx context.Context, toDelete []Rule) (bool, error) {
	ids := make([]string, 0, len(toDelete))
	for _, r := range toDelete {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return false, nil
	}

	resp, err := c.api.Post(ctx, rulesPath, map[string]any{
		"delete": map[string]any{"ids": ids},
	})
	if err != nil {
		return false, fmt.Errorf("delete rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fetchErr("delete rules", resp)
	}

	slog.Info("old rules cleared", "count", len(ids))
	return true, nil
}

// Add registers up to MaxRules new filter values. Inputs beyond the cap
// are dropped silently; blanks and duplicates within the batch are
// discarded before sending. Returns the values actually registered.
func (c *Client) Add(ctx context.Context, values []string) ([]string, error) {
	seen := make(map[string]bool)
	var keep []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		keep = append(keep, v)
		if len(keep) == MaxRules {
			break
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("add rules: no usable keywords")
	}

	batch := make([]Rule, len(keep))
	for i, v := range keep {
		batch[i] = Rule{Value: v}
	}

	resp, err := c.api.Post(ctx, rulesPath, map[string]any{"add": batch})
	if err != nil {
		return nil, fmt.Errorf("add rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fetchErr("add rules", resp)
	}

	slog.Info("rules set", "keywords", keep)
	return keep, nil
}

// Reconcile brings the remote rule set to exactly the given keywords:
// fetch the standing rules, delete them, then add the new batch. A failed
// or no-op delete falls through to the add, where a genuine conflict will
// surface as the provider rejecting the batch.
func (c *Client) Reconcile(ctx context.Context, keywords []string) ([]string, error) {
	existing, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := c.Delete(ctx, existing); err != nil {
		slog.Warn("rule delete failed, attempting add anyway", "error", err)
	}

	return c.Add(ctx, keywords)
}

func fetchErr(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &FetchError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
