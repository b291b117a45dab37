package orchestrators

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	emailAdapter "assocmail/internal/adapters/email"
	"assocmail/internal/domain/automation"
	"assocmail/internal/domain/deliverylog"
	"assocmail/internal/domain/email"
	"assocmail/internal/domain/locale"
	"assocmail/internal/domain/member"
	"assocmail/internal/domain/queue"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// clock is a settable test clock.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("log-%d", n)
	}
}

// --- Mock member store ---

type mockMemberStore struct {
	members  map[int64]member.Member
	renewals map[int64][]time.Time
	recorded []int64
	listErr  map[string]error // keyed by target date
}

func newMockMemberStore(members ...member.Member) *mockMemberStore {
	s := &mockMemberStore{
		members:  make(map[int64]member.Member),
		renewals: make(map[int64][]time.Time),
		listErr:  make(map[string]error),
	}
	for _, m := range members {
		s.members[m.ID] = m
	}
	return s
}

// renewedIn returns one mid-year renewal per year.
func renewedIn(years ...int) []time.Time {
	out := make([]time.Time, len(years))
	for i, y := range years {
		out[i] = time.Date(y, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return out
}

// GetByID retrieves a mock member.
// PRE: id > 0
// POST: Returns member or member.ErrNotFound
func (s *mockMemberStore) GetByID(_ context.Context, id int64) (member.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return member.Member{}, fmt.Errorf("member %d: %w", id, member.ErrNotFound)
	}
	return m, nil
}

// RenewalTimes returns the stored renewal instants for a member.
func (s *mockMemberStore) RenewalTimes(_ context.Context, memberID int64) ([]time.Time, error) {
	return s.renewals[memberID], nil
}

// RecordRenewal appends the renewal unless one exists on the same day of at.
// POST: Returns false for a same-day duplicate
func (s *mockMemberStore) RecordRenewal(_ context.Context, memberID int64, at time.Time) (bool, error) {
	for _, prev := range s.renewals[memberID] {
		if prev.In(at.Location()).Format("2006-01-02") == at.Format("2006-01-02") {
			return false, nil
		}
	}
	s.recorded = append(s.recorded, memberID)
	s.renewals[memberID] = append(s.renewals[memberID], at)
	return true, nil
}

// ListExpiringOn filters like the SQL store: approved, matching type, same date.
func (s *mockMemberStore) ListExpiringOn(_ context.Context, day time.Time, types []member.MembershipType) ([]member.Member, error) {
	key := day.Format("2006-01-02")
	if err := s.listErr[key]; err != nil {
		return nil, err
	}
	allowed := make(map[member.MembershipType]bool)
	for _, t := range types {
		allowed[t] = true
	}
	var out []member.Member
	for _, m := range s.members {
		if m.Status == member.StatusApproved && allowed[m.MembershipType] &&
			m.HasEndDate() && m.MembershipEndDate.Format("2006-01-02") == key {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Mock template store ---

type mockTemplateStore struct {
	templates map[string]email.Template
}

func newMockTemplateStore(templates ...email.Template) *mockTemplateStore {
	s := &mockTemplateStore{templates: make(map[string]email.Template)}
	for _, t := range templates {
		s.templates[t.Key] = t
	}
	return s
}

// GetActiveByKey returns the active template for key.
// POST: Returns email.ErrTemplateNotFound when missing or inactive
func (s *mockTemplateStore) GetActiveByKey(_ context.Context, key string) (email.Template, error) {
	t, ok := s.templates[key]
	if !ok || !t.Active {
		return email.Template{}, fmt.Errorf("template %q: %w", key, email.ErrTemplateNotFound)
	}
	return t, nil
}

// Save stores a template by key.
func (s *mockTemplateStore) Save(_ context.Context, t email.Template) (int64, error) {
	t.ID = int64(len(s.templates) + 1)
	s.templates[t.Key] = t
	return t.ID, nil
}

// Count returns the number of templates.
func (s *mockTemplateStore) Count(context.Context) (int, error) {
	return len(s.templates), nil
}

func newTemplate(key, subject, body string) email.Template {
	t := email.Template{Key: key, Active: true}
	t.SetContent(locale.English, subject, body)
	return t
}

// --- Mock rule store ---

type mockRuleStore struct {
	rules []automation.Rule
}

// ListActiveByTrigger returns the active rules for trigger.
func (s *mockRuleStore) ListActiveByTrigger(_ context.Context, trigger automation.TriggerType) ([]automation.Rule, error) {
	var out []automation.Rule
	for _, r := range s.rules {
		if r.Trigger == trigger && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

// Save appends a rule.
func (s *mockRuleStore) Save(_ context.Context, r automation.Rule) (int64, error) {
	r.ID = int64(len(s.rules) + 1)
	s.rules = append(s.rules, r)
	return r.ID, nil
}

// Count returns the number of rules.
func (s *mockRuleStore) Count(context.Context) (int, error) {
	return len(s.rules), nil
}

// --- Mock queue store ---

type mockQueueStore struct {
	mu       sync.Mutex
	messages map[int64]queue.Message
	seq      int64
	listErr  error
	// completeErr, when set, fails every Complete.
	completeErr error
	// listBarrier, when set, holds every ListDue caller until all have
	// taken their snapshot.
	listBarrier *sync.WaitGroup
}

func newMockQueueStore() *mockQueueStore {
	return &mockQueueStore{messages: make(map[int64]queue.Message)}
}

// Insert stores a new message.
// POST: Returns the next sequential ID
func (s *mockQueueStore) Insert(_ context.Context, m queue.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	m.ID = s.seq
	s.messages[m.ID] = m
	return m.ID, nil
}

// ListDue returns due pending messages ordered by priority band, then FIFO.
func (s *mockQueueStore) ListDue(_ context.Context, now time.Time, limit int) ([]queue.Message, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	var out []queue.Message
	for _, m := range s.messages {
		if m.IsDue(now) {
			out = append(out, m)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if s.listBarrier != nil {
		s.listBarrier.Done()
		s.listBarrier.Wait()
	}
	return out, nil
}

// Claim moves a due pending message to processing and returns the stored row.
// POST: Returns queue.ErrNotClaimed if it is no longer pending or not yet due
func (s *mockQueueStore) Claim(ctx context.Context, id int64, now time.Time) (queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return queue.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || !m.IsDue(now) {
		return queue.Message{}, queue.ErrNotClaimed
	}
	m.Status = queue.StatusProcessing
	m.ClaimedAt = now
	s.messages[id] = m
	return m, nil
}

// Complete stores the outcome of a message still held under m's claim.
// A cancelled ctx fails the write, as a database driver would.
func (s *mockQueueStore) Complete(ctx context.Context, m queue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	cur, ok := s.messages[m.ID]
	if !ok || cur.Status != queue.StatusProcessing || !cur.ClaimedAt.Equal(m.ClaimedAt) {
		return queue.ErrNotClaimed
	}
	m.ClaimedAt = time.Time{}
	s.messages[m.ID] = m
	return nil
}

// ListStale returns processing messages claimed before cutoff.
func (s *mockQueueStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]queue.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []queue.Message
	for _, m := range s.messages {
		if m.Status == queue.StatusProcessing && m.ClaimedAt.Before(cutoff) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// put overwrites a stored message, used to stage a stranded claim.
func (s *mockQueueStore) put(m queue.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
}

// ExistsForMember reports a message queued for the pair in [from, to).
func (s *mockQueueStore) ExistsForMember(_ context.Context, memberID int64, key string, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.MemberID == memberID && m.TemplateKey == key && !m.CreatedAt.Before(from) && m.CreatedAt.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

// CountByStatus counts messages per status.
func (s *mockQueueStore) CountByStatus(context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, m := range s.messages {
		out[m.Status]++
	}
	return out, nil
}

func (s *mockQueueStore) get(id int64) queue.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id]
}

func (s *mockQueueStore) all() []queue.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]queue.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Mock delivery log ---

type mockLogStore struct {
	mu      sync.Mutex
	entries []deliverylog.Entry
	since   time.Time
}

// Append records an entry.
func (s *mockLogStore) Append(ctx context.Context, e deliverylog.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// ExistsForMember reports an entry for the pair in [from, to).
func (s *mockLogStore) ExistsForMember(_ context.Context, memberID int64, key string, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.MemberID == memberID && e.TemplateKey == key && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

// Statistics aggregates entries at or after since, ordered by key.
func (s *mockLogStore) Statistics(_ context.Context, since time.Time) ([]deliverylog.TemplateStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = since
	byKey := map[string]*deliverylog.TemplateStat{}
	for _, e := range s.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		st, ok := byKey[e.TemplateKey]
		if !ok {
			st = &deliverylog.TemplateStat{TemplateKey: e.TemplateKey}
			byKey[e.TemplateKey] = st
		}
		st.Total++
		if e.Status == deliverylog.StatusSent {
			st.Sent++
		} else {
			st.Failed++
		}
	}
	out := []deliverylog.TemplateStat{}
	for _, st := range byKey {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateKey < out[j].TemplateKey })
	return out, nil
}

// --- Mock sender ---

type mockSender struct {
	mu    sync.Mutex
	calls []emailAdapter.SendRequest
	fail  func(req emailAdapter.SendRequest) error
}

// Send records the request and fails when fail says so.
// PRE: none; fail may cancel the caller's context to simulate shutdown
func (s *mockSender) Send(_ context.Context, req emailAdapter.SendRequest) (emailAdapter.SendResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(req); err != nil {
			return emailAdapter.SendResult{}, err
		}
	}
	return emailAdapter.SendResult{MessageID: "msg", SentAt: fixedNow}, nil
}

func (s *mockSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.To
	}
	return out
}
