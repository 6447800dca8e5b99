// Package session owns the streaming loop: rule reconciliation, the
// long-lived feed connection, per-event enrichment and persistence, and
// the reconnect/backoff/cooldown state machine around all of it.
package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ifebuche/twifesh/internal/apiclient"
	"github.com/ifebuche/twifesh/internal/enrich"
	"github.com/ifebuche/twifesh/internal/records"
	"github.com/ifebuche/twifesh/internal/rules"
)

const streamPath = "/tweets/search/stream"

// State is the session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRulesSynced
	StateConnected
	StateReceiving
	StateBackingOff
	StateCoolingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRulesSynced:
		return "rules_synced"
	case StateConnected:
		return "connected"
	case StateReceiving:
		return "receiving"
	case StateBackingOff:
		return "backing_off"
	case StateCoolingDown:
		return "cooling_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Reason records which signal is currently driving reconnect pressure.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDisconnect
	ReasonReplay
)

func (r Reason) String() string {
	switch r {
	case ReasonDisconnect:
		return "disconnect"
	case ReasonReplay:
		return "replay"
	default:
		return "none"
	}
}

// StreamOpenError is a non-success response when opening the feed.
type StreamOpenError struct {
	Status int
	Body   string
}

func (e *StreamOpenError) Error() string {
	return fmt.Sprintf("cannot open stream: HTTP %d: %s", e.Status, e.Body)
}

var (
	// ErrBackoffExhausted means the disconnect backoff reached its ceiling.
	ErrBackoffExhausted = errors.New("reconnect backoff ceiling reached")
	// ErrReplayBudgetExhausted means too many replay-triggered reconnects.
	ErrReplayBudgetExhausted = errors.New("replay reconnect budget exhausted")
	// ErrStreamEnded means the feed closed from the far end.
	ErrStreamEnded = errors.New("stream ended")
)

// ConnectionState tracks retry pressure across both interruption reasons
// with one budget structure. It is owned exclusively by the session.
type ConnectionState struct {
	Attempts int
	Backoff  time.Duration
	Reason   Reason

	last *records.Record
}

// Fetcher is the enrichment dependency. A nil Fetcher disables
// enrichment: the raw envelope is the delivered record and the dedup
// check and sink are skipped.
type Fetcher interface {
	Fetch(ctx context.Context, id string) enrich.Result
}

// Sink persists one delivered record. A nil Sink disables persistence.
type Sink interface {
	Append(rec records.Record) error
}

// SinkOpener binds a sink to the reconciled keywords and session start
// time; it runs after rule reconciliation, when both are known.
type SinkOpener func(keywords []string, start time.Time) (Sink, error)

// Observer receives state-machine notifications. All callbacks run on
// the consumer goroutine and must not block.
type Observer interface {
	Delivered(rec records.Record)
	Duplicate(id string)
	Reconnect(reason string, wait time.Duration)
	RateLimited(wait time.Duration)
	EnrichFailed(id, cause string)
}

// Config carries the state machine's timing knobs.
type Config struct {
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	ReplayCooldown time.Duration
	ReplayBudget   int
	RateLimitPause time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = 2 * time.Second
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = 960 * time.Second
	}
	if c.ReplayCooldown <= 0 {
		c.ReplayCooldown = 30 * time.Second
	}
	if c.ReplayBudget <= 0 {
		c.ReplayBudget = 5
	}
	if c.RateLimitPause <= 0 {
		c.RateLimitPause = 15 * time.Minute
	}
	return c
}

// Session is the streaming state machine.
type Session struct {
	id    string
	api   *apiclient.Client
	rules *rules.Client
	cfg   Config

	fetcher  Fetcher
	openSink SinkOpener

	observer    Observer
	onDelivered func(rec records.Record)
	alertPub    func(subject string, data []byte) error

	// Injectable for tests; defaults to a context-aware timer sleep.
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	conn      ConnectionState
	keywords  []string
	startedAt time.Time
	sink      Sink
}

func New(api *apiclient.Client, ruleClient *rules.Client, cfg Config) *Session {
	return &Session{
		id:    uuid.New().String(),
		api:   api,
		rules: ruleClient,
		cfg:   cfg.withDefaults(),
		sleep: ctxSleep,
		state: StateIdle,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// SetFetcher enables per-event enrichment.
func (s *Session) SetFetcher(f Fetcher) { s.fetcher = f }

// SetSinkOpener enables persistence.
func (s *Session) SetSinkOpener(open SinkOpener) { s.openSink = open }

// SetObserver registers the state-machine observer.
func (s *Session) SetObserver(o Observer) { s.observer = o }

// SetDeliveryHandler registers a callback for every delivered record,
// in addition to the sink (archive batcher, event bus fan-out).
func (s *Session) SetDeliveryHandler(fn func(rec records.Record)) { s.onDelivered = fn }

// SetAlertPublisher registers the function used to publish lifecycle
// alerts to the event bus.
func (s *Session) SetAlertPublisher(fn func(subject string, data []byte) error) { s.alertPub = fn }

// Snapshot is a point-in-time view of the session for the ops API.
type Snapshot struct {
	ID             string    `json:"session_id"`
	State          string    `json:"state"`
	Keywords       []string  `json:"keywords"`
	StartedAt      time.Time `json:"started_at"`
	Attempts       int       `json:"attempts"`
	BackoffSeconds float64   `json:"backoff_seconds"`
	Reason         string    `json:"reason"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:             s.id,
		State:          s.state.String(),
		Keywords:       append([]string(nil), s.keywords...),
		StartedAt:      s.startedAt,
		Attempts:       s.conn.Attempts,
		BackoffSeconds: s.conn.Backoff.Seconds(),
		Reason:         s.conn.Reason.String(),
	}
}

// signal classifies why consume returned.
type signal int

const (
	sigDisconnect signal = iota
	sigReplay
	sigRateLimited
	sigEnded
	sigCancelled
)

// Run reconciles rules, opens the feed, and consumes it until a terminal
// condition. The returned error describes why the session ended; a nil
// return never happens for a healthy feed, which is endless by design.
func (s *Session) Run(ctx context.Context, keywords []string) error {
	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.conn = ConnectionState{Attempts: 1, Backoff: s.cfg.BackoffFloor}
	s.mu.Unlock()

	applied, err := s.rules.Reconcile(ctx, keywords)
	if err != nil {
		return s.terminate(fmt.Errorf("rule reconciliation: %w", err))
	}
	s.mu.Lock()
	s.keywords = applied
	start := s.startedAt
	s.mu.Unlock()
	s.setState(StateRulesSynced)

	if s.openSink != nil {
		snk, err := s.openSink(applied, start)
		if err != nil {
			return s.terminate(fmt.Errorf("open sink: %w", err))
		}
		s.mu.Lock()
		s.sink = snk
		s.mu.Unlock()
	}

	body, err := s.open(ctx)
	if err != nil {
		return s.terminate(err)
	}

	for {
		sig, consumeErr := s.consume(ctx, body)
		body.Close()

		switch sig {
		case sigCancelled:
			return s.terminate(consumeErr)

		case sigEnded:
			if consumeErr != nil {
				return s.terminate(fmt.Errorf("%w: %v", ErrStreamEnded, consumeErr))
			}
			return s.terminate(ErrStreamEnded)

		case sigDisconnect:
			s.setState(StateBackingOff)
			s.mu.Lock()
			pre := s.conn.Backoff
			s.conn.Reason = ReasonDisconnect
			s.conn.Attempts++
			s.conn.Backoff = pre * 2
			attempts := s.conn.Attempts
			s.mu.Unlock()

			slog.Warn("empty signal from feed, backing off",
				"sleep", pre, "attempts", attempts)
			if s.observer != nil {
				s.observer.Reconnect(ReasonDisconnect.String(), pre)
			}
			s.alert("twifesh.session.backoff", map[string]any{
				"reason": ReasonDisconnect.String(), "sleep_s": pre.Seconds(), "attempts": attempts,
			})

			if err := s.sleep(ctx, pre); err != nil {
				return s.terminate(err)
			}
			if pre >= s.cfg.BackoffCeiling {
				return s.terminate(ErrBackoffExhausted)
			}

		case sigReplay:
			s.mu.Lock()
			s.conn.Reason = ReasonReplay
			s.conn.Attempts++
			attempts := s.conn.Attempts
			s.mu.Unlock()

			if attempts > s.cfg.ReplayBudget {
				return s.terminate(ErrReplayBudgetExhausted)
			}

			s.setState(StateBackingOff)
			slog.Warn("repeated tweet from feed, suspecting replay after throttle",
				"sleep", s.cfg.ReplayCooldown, "attempts", attempts)
			if s.observer != nil {
				s.observer.Reconnect(ReasonReplay.String(), s.cfg.ReplayCooldown)
			}
			s.alert("twifesh.session.replay", map[string]any{
				"sleep_s": s.cfg.ReplayCooldown.Seconds(), "attempts": attempts,
			})

			if err := s.sleep(ctx, s.cfg.ReplayCooldown); err != nil {
				return s.terminate(err)
			}

		case sigRateLimited:
			// The connection is closed before the long pause and reopened
			// after, so nothing delivered during the sleep can be half-read.
			s.setState(StateCoolingDown)
			slog.Warn("rate limit reached, cooling down", "sleep", s.cfg.RateLimitPause)
			if s.observer != nil {
				s.observer.RateLimited(s.cfg.RateLimitPause)
			}
			s.alert("twifesh.session.cooldown", map[string]any{
				"sleep_s": s.cfg.RateLimitPause.Seconds(),
			})

			if err := s.sleep(ctx, s.cfg.RateLimitPause); err != nil {
				return s.terminate(err)
			}
		}

		body, err = s.open(ctx)
		if err != nil {
			// Transport failure while reestablishing is unrecoverable.
			return s.terminate(fmt.Errorf("reopen stream: %w", err))
		}
	}
}

// open connects to the feed and returns its body on HTTP 200.
func (s *Session) open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.api.Stream(ctx, streamPath, nil)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StreamOpenError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	s.setState(StateConnected)
	slog.Info("connection to stream successful", "session_id", s.id)
	s.alert("twifesh.session.connected", map[string]any{"session_id": s.id})
	return resp.Body, nil
}

// consume reads feed lines until one of the three protocol signals fires.
func (s *Session) consume(ctx context.Context, body io.Reader) (signal, error) {
	s.setState(StateReceiving)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return sigCancelled, ctx.Err()
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			// Heartbeat/disconnect signal from the far end.
			return sigDisconnect, nil
		}

		env, err := records.ParseEnvelope(line)
		if err != nil {
			slog.Warn("malformed feed line, skipping", "error", err)
			continue
		}

		if s.fetcher == nil {
			// The envelope itself is the delivery; there is no normalized
			// record, so dedup and persistence do not apply.
			s.resetBudget()
			slog.Info("tweet received", "tweet_id", env.Data.ID)
			continue
		}

		res := s.fetcher.Fetch(ctx, env.Data.ID)
		switch res.Status {
		case enrich.StatusOK:
			// The sink is the faithful feed artifact: every enriched
			// record lands there, then the replay check decides whether
			// this counts as a fresh delivery.
			s.persist(res.Record)
			if s.isReplay(res.Record) {
				if s.observer != nil {
					s.observer.Duplicate(res.Record.TweetID)
				}
				return sigReplay, nil
			}
			s.deliver(res.Record)

		case enrich.StatusRateLimited:
			return sigRateLimited, nil

		case enrich.StatusFailed:
			slog.Warn("tweet detail fetch failed", "tweet_id", env.Data.ID, "cause", res.Cause)
			if s.observer != nil {
				s.observer.EnrichFailed(env.Data.ID, res.Cause)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return sigCancelled, ctx.Err()
		}
		return sigEnded, err
	}
	return sigEnded, nil
}

// persist appends one record to the sink. A write failure is logged and
// swallowed; losing one row must not kill the feed.
func (s *Session) persist(rec records.Record) {
	s.mu.Lock()
	snk := s.sink
	s.mu.Unlock()
	if snk == nil {
		return
	}
	if err := snk.Append(rec); err != nil {
		slog.Error("failed to persist record", "tweet_id", rec.TweetID, "error", err)
	}
}

// deliver records one fresh delivery and resets the retry budget: a
// genuine delivery proves the feed is healthy again. Replayed records
// never reach here, so replay reconnect attempts keep accumulating.
func (s *Session) deliver(rec records.Record) {
	s.resetBudget()

	s.mu.Lock()
	cp := rec
	s.conn.last = &cp
	s.mu.Unlock()

	if s.onDelivered != nil {
		s.onDelivered(rec)
	}
	if s.observer != nil {
		s.observer.Delivered(rec)
	}
	slog.Info("tweet delivered", "tweet_id", rec.TweetID)
}

// isReplay reports whether rec equals the immediately preceding delivery.
func (s *Session) isReplay(rec records.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.last != nil && s.conn.last.Equal(rec)
}

func (s *Session) resetBudget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Attempts = 1
	s.conn.Backoff = s.cfg.BackoffFloor
	s.conn.Reason = ReasonNone
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	from := s.state
	s.state = st
	s.mu.Unlock()
	if from != st {
		slog.Debug("session state change", "from", from.String(), "to", st.String())
	}
}

// terminate marks the session dead and returns err for the caller.
func (s *Session) terminate(err error) error {
	s.setState(StateTerminated)
	slog.Error("session terminated", "session_id", s.id, "error", err)
	s.alert("twifesh.session.terminated", map[string]any{
		"session_id": s.id, "error": fmt.Sprint(err),
	})
	return err
}

func (s *Session) alert(subject string, payload map[string]any) {
	if s.alertPub == nil {
		return
	}
	data, _ := json.Marshal(payload)
	if err := s.alertPub(subject, data); err != nil {
		slog.Warn("failed to publish session alert", "subject", subject, "error", err)
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
