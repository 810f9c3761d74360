package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/ignite/mailflow/internal/service/campaign"
	"github.com/ignite/mailflow/internal/templating"
)

// memRepo is an in-memory campaign repository for unit testing.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign // keyed by id
}

func newMemRepo() *memRepo {
	return &memRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memRepo) Create(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		return fmt.Errorf("id required")
	}
	cp := *c
	m.campaigns[cp.ID] = &cp
	return nil
}

func (m *memRepo) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.ScheduledAt != nil {
		at := *u.ScheduledAt
		c.ScheduledAt = &at
	}
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignCancelled {
		return fmt.Errorf("can only delete draft/cancelled")
	}
	delete(m.campaigns, id)
	return nil
}

func (m *memRepo) TransitionStatus(_ context.Context, id string, from, to domain.CampaignStatus, u campaign.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != from {
		return campaign.ErrStatusConflict
	}
	c.Status = to
	if u.ScheduledAt != nil {
		c.ScheduledAt = u.ScheduledAt
	}
	if u.StartedAt != nil {
		c.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		c.CompletedAt = u.CompletedAt
	}
	if u.LastError != nil {
		c.LastError = *u.LastError
	}
	return nil
}

func (m *memRepo) ListDue(_ context.Context, now time.Time, _ int) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.IsDue(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

type staticContacts []domain.Contact

func (s staticContacts) ListRecipients(context.Context, []string) ([]domain.Contact, error) {
	out := make([]domain.Contact, len(s))
	copy(out, s)
	return out, nil
}

type staticTemplates map[string]*domain.Template

func (s staticTemplates) Get(_ context.Context, name string) (*domain.Template, error) {
	tpl, ok := s[name]
	if !ok {
		return nil, errors.New("template not found")
	}
	return tpl, nil
}

// recordingSender fails for the addresses in failFor and tracks peak
// concurrency.
type recordingSender struct {
	mu       sync.Mutex
	messages []domain.Message
	tracking []domain.TrackingContext
	failFor  map[string]bool
	validate bool
	onSend   func()
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (r *recordingSender) SendEmail(_ context.Context, msg domain.Message, tc *domain.TrackingContext) (bool, error) {
	if r.validate {
		if err := msg.Validate(); err != nil {
			return false, err
		}
	}
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.tracking = append(r.tracking, *tc)
	r.mu.Unlock()
	if r.onSend != nil {
		r.onSend()
	}
	return !r.failFor[msg.To[0].Email], nil
}

func contacts(n int) staticContacts {
	out := make(staticContacts, n)
	for i := range out {
		out[i] = domain.Contact{
			ID:        fmt.Sprintf("c%03d", i),
			Email:     fmt.Sprintf("guest%03d@guest.test", i),
			FirstName: "Guest",
			Consent:   true,
		}
	}
	return out
}

var welcome = &domain.Template{
	Name:        "welcome",
	Subject:     "Hello {{firstName|\"friend\"}}",
	HTMLContent: `<p>Tonight: {{special}}</p><a href="{{unsubscribeUrl}}">Unsubscribe</a></body>`,
	Variables:   []string{"firstName", "special", "unsubscribeUrl"},
}

type fixture struct {
	repo   *memRepo
	sender *recordingSender
	events *eventlog.MemoryStore
	svc    *campaign.Service
	pauses atomic.Int64
}

func newFixture(t *testing.T, recipients staticContacts, opts campaign.Options) *fixture {
	t.Helper()
	f := &fixture{repo: newMemRepo(), sender: &recordingSender{failFor: map[string]bool{}}, events: eventlog.NewMemoryStore()}
	templates := staticTemplates{
		"welcome": welcome,
		"broken":  {Name: "broken", Subject: "x", HTMLContent: "{% if open %}never closed", Engine: domain.EngineLiquid},
	}
	f.svc = campaign.NewService(f.repo, recipients, templates, templating.NewEngine(), f.sender, f.events, opts)
	f.svc.SetSleep(func(ctx context.Context, _ time.Duration) error {
		f.pauses.Add(1)
		return ctx.Err()
	})
	return f
}

func (f *fixture) create(t *testing.T, tpl string) *domain.Campaign {
	t.Helper()
	c, err := f.svc.Create(context.Background(), campaign.CreateInput{
		Name: "Friday specials", TemplateName: tpl, FromEmail: "hello@bistro.test", FromName: "Bistro",
		Variables: map[string]string{"special": "bouillabaisse"},
	})
	require.NoError(t, err)
	return c
}

func TestSendNowBatchesAndIsolatesFailures(t *testing.T) {
	recipients := contacts(250)
	f := newFixture(t, recipients, campaign.Options{BatchSize: 200, BatchPause: time.Second, MaxInFlight: 8, TrackingBaseURL: "https://x.test"})
	f.sender.failFor[recipients[17].Email] = true
	c := f.create(t, "welcome")

	report, err := f.svc.SendNow(context.Background(), c.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 250, report.Recipients)
	assert.Equal(t, 249, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, domain.CampaignSent, report.Status)
	assert.EqualValues(t, 1, f.pauses.Load(), "one pause between two batches")
	assert.LessOrEqual(t, f.sender.peak.Load(), int64(8))
	assert.Len(t, f.sender.messages, 250)

	got, _ := f.repo.Get(context.Background(), c.ID)
	assert.Equal(t, domain.CampaignSent, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "1 of 250 recipients failed", got.LastError)
}

func TestSendNowRecordsBounceForUnsendableRecipient(t *testing.T) {
	recipients := staticContacts{
		{ID: "c1", Email: "good@example.com", Consent: true},
		{ID: "c2", Email: "not-an-address", Consent: true},
	}
	f := newFixture(t, recipients, campaign.Options{})
	f.sender.validate = true
	c := f.create(t, "welcome")

	report, err := f.svc.SendNow(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)

	bounces, err := f.events.List(context.Background(), eventlog.Filter{CampaignID: c.ID, Type: domain.EventBounce})
	require.NoError(t, err)
	require.Len(t, bounces, 1)
	assert.Equal(t, "c2", bounces[0].ContactID)
	assert.Equal(t, string(domain.KindRejected), bounces[0].Meta["error_kind"])
	assert.NotEmpty(t, bounces[0].Meta["error"])
}

func TestSendNowPersonalisesEachMessage(t *testing.T) {
	recipients := staticContacts{
		{ID: "c1", Email: "ana@guest.test", FirstName: "Ana", Consent: true},
		{ID: "c2", Email: "ben@guest.test", Consent: true},
	}
	f := newFixture(t, recipients, campaign.Options{TrackingBaseURL: "https://x.test"})
	c := f.create(t, "welcome")

	_, err := f.svc.SendNow(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, f.sender.messages, 2)

	byTo := map[string]domain.Message{}
	for _, m := range f.sender.messages {
		byTo[m.To[0].Email] = m
	}
	ana := byTo["ana@guest.test"]
	assert.Equal(t, "Hello Ana", ana.Subject)
	assert.Equal(t, "Hello friend", byTo["ben@guest.test"].Subject)
	assert.Contains(t, ana.HTMLBody, "Tonight: bouillabaisse")
	assert.Contains(t, ana.HTMLBody, "https://x.test/track/unsubscribe?cid=c1&cmp="+c.ID)
	assert.Equal(t, "<https://x.test/track/unsubscribe?cid=c1&cmp="+c.ID+">", ana.Headers["List-Unsubscribe"])
	assert.Equal(t, domain.Address{Email: "hello@bistro.test", Name: "Bistro"}, ana.From)

	for _, tc := range f.sender.tracking {
		assert.Equal(t, c.ID, tc.CampaignID)
		assert.Equal(t, "https://x.test", tc.BaseURL)
	}
}

func TestSendNowSkipsIneligibleContacts(t *testing.T) {
	gone := time.Now()
	recipients := staticContacts{
		{ID: "c1", Email: "a@guest.test", Consent: true, Tags: []string{"vip"}},
		{ID: "c2", Email: "b@guest.test", Consent: false, Tags: []string{"vip"}},
		{ID: "c3", Email: "c@guest.test", Consent: true, Tags: []string{"vip"}, UnsubscribedAt: &gone},
		{ID: "c4", Email: "d@guest.test", Consent: true, Tags: []string{"regular"}},
	}
	f := newFixture(t, recipients, campaign.Options{})
	c, err := f.svc.Create(context.Background(), campaign.CreateInput{Name: "VIP", TemplateName: "welcome", SegmentTags: []string{"vip"}})
	require.NoError(t, err)

	report, err := f.svc.SendNow(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recipients)
	require.Len(t, f.sender.messages, 1)
	assert.Equal(t, "a@guest.test", f.sender.messages[0].To[0].Email)
}

func TestSendNowCancelsOnTemplateFailure(t *testing.T) {
	for _, tpl := range []string{"broken", "missing"} {
		t.Run(tpl, func(t *testing.T) {
			f := newFixture(t, contacts(3), campaign.Options{})
			c := f.create(t, tpl)

			_, err := f.svc.SendNow(context.Background(), c.ID)
			assert.ErrorIs(t, err, campaign.ErrTemplateFailed)
			assert.Empty(t, f.sender.messages)

			got, _ := f.repo.Get(context.Background(), c.ID)
			assert.Equal(t, domain.CampaignCancelled, got.Status)
			assert.Contains(t, got.LastError, "template")
		})
	}
}

func TestSendNowRejectsWrongStatus(t *testing.T) {
	f := newFixture(t, contacts(1), campaign.Options{})
	ctx := context.Background()
	c := f.create(t, "welcome")

	_, err := f.svc.SendNow(ctx, c.ID)
	require.NoError(t, err)

	_, err = f.svc.SendNow(ctx, c.ID)
	assert.ErrorIs(t, err, campaign.ErrAlreadySending)

	c2 := f.create(t, "welcome")
	_, err = f.svc.Cancel(ctx, c2.ID)
	require.NoError(t, err)
	_, err = f.svc.SendNow(ctx, c2.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.SendNow(ctx, "nope")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

// conflictRepo loses every compare-and-set, as if another instance had
// already claimed the campaign.
type conflictRepo struct{ *memRepo }

func (conflictRepo) TransitionStatus(context.Context, string, domain.CampaignStatus, domain.CampaignStatus, campaign.StatusUpdate) error {
	return campaign.ErrStatusConflict
}

func TestSendNowLosesRace(t *testing.T) {
	repo := conflictRepo{newMemRepo()}
	sender := &recordingSender{}
	svc := campaign.NewService(repo, contacts(2), staticTemplates{"welcome": welcome}, templating.NewEngine(), sender, nil, campaign.Options{})
	c, err := svc.Create(context.Background(), campaign.CreateInput{Name: "x", TemplateName: "welcome"})
	require.NoError(t, err)

	_, err = svc.SendNow(context.Background(), c.ID)
	assert.ErrorIs(t, err, campaign.ErrAlreadySending)
	assert.Empty(t, sender.messages)
}

func TestSendNowInterruptedEndsCancelled(t *testing.T) {
	f := newFixture(t, contacts(3), campaign.Options{MaxInFlight: 1})
	c := f.create(t, "welcome")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	f.sender.onSend = stop

	report, err := f.svc.SendNow(ctx, c.ID)
	require.NoError(t, err)
	assert.Less(t, report.Sent, 3)
	assert.Equal(t, domain.CampaignCancelled, report.Status)

	got, _ := f.repo.Get(context.Background(), c.ID)
	assert.Equal(t, domain.CampaignCancelled, got.Status)
	assert.Contains(t, got.LastError, "interrupted")
	assert.NotNil(t, got.CompletedAt)
}

func TestCancelBetweenBatches(t *testing.T) {
	f := newFixture(t, contacts(5), campaign.Options{BatchSize: 2})
	c := f.create(t, "welcome")
	f.svc.SetSleep(func(ctx context.Context, _ time.Duration) error {
		_, err := f.svc.Cancel(ctx, c.ID)
		return err
	})

	report, err := f.svc.SendNow(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, domain.CampaignCancelled, report.Status)

	got, _ := f.repo.Get(context.Background(), c.ID)
	assert.Equal(t, domain.CampaignCancelled, got.Status)
}

func TestScheduleLifecycle(t *testing.T) {
	f := newFixture(t, nil, campaign.Options{})
	ctx := context.Background()
	c := f.create(t, "welcome")

	at := time.Now().Add(time.Hour)
	got, err := f.svc.Schedule(ctx, c.ID, at)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, got.Status)

	later := at.Add(time.Hour)
	_, err = f.svc.Schedule(ctx, c.ID, later)
	require.NoError(t, err)
	stored, _ := f.repo.Get(ctx, c.ID)
	assert.True(t, stored.ScheduledAt.Equal(later))

	due, err := f.svc.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	got, err = f.svc.Unschedule(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, got.Status)

	_, err = f.svc.Schedule(ctx, c.ID, time.Time{})
	assert.ErrorIs(t, err, campaign.ErrInvalidInput)
}

func TestDueCampaigns(t *testing.T) {
	f := newFixture(t, nil, campaign.Options{})
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	c, err := f.svc.Create(ctx, campaign.CreateInput{Name: "x", TemplateName: "welcome", ScheduledAt: &past})
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, c.Status)

	due, err := f.svc.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, c.ID, due[0].ID)
}

func TestCancelTerminalCampaign(t *testing.T) {
	f := newFixture(t, contacts(1), campaign.Options{})
	ctx := context.Background()
	c := f.create(t, "welcome")
	_, err := f.svc.SendNow(ctx, c.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = f.svc.Update(ctx, c.ID, campaign.UpdateFields{})
	assert.ErrorIs(t, err, campaign.ErrNotEditable)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil, campaign.Options{})
	for _, in := range []campaign.CreateInput{
		{TemplateName: "welcome"},
		{Name: "x"},
		{Name: "x", TemplateName: "welcome", FromEmail: "not-an-address"},
	} {
		_, err := f.svc.Create(context.Background(), in)
		assert.ErrorIs(t, err, campaign.ErrInvalidInput)
	}
}

func TestListWithFilter(t *testing.T) {
	f := newFixture(t, nil, campaign.Options{})
	ctx := context.Background()
	a := f.create(t, "welcome")
	f.create(t, "welcome")
	_, err := f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)

	list, total, err := f.svc.List(ctx, campaign.ListFilter{Status: domain.CampaignDraft})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil, campaign.Options{})
	c := f.create(t, "welcome")
	require.NoError(t, f.svc.Delete(context.Background(), c.ID))
	_, err := f.svc.Get(context.Background(), c.ID)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}
