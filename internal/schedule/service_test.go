package schedule

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Didihazan/WhatsApp-Bot/internal/model"
	"github.com/Didihazan/WhatsApp-Bot/internal/repo"
)

type fakeTenantStore struct {
	mu       sync.Mutex
	tenants  map[string]*model.Tenant
	records  []model.SentMessageRecord
	schedErr error
}

func newFakeTenantStore(tenants ...*model.Tenant) *fakeTenantStore {
	s := &fakeTenantStore{tenants: make(map[string]*model.Tenant)}
	for _, t := range tenants {
		s.tenants[t.ID] = t
	}
	return s
}

func (s *fakeTenantStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, repo.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTenantStore) ListScheduled(ctx context.Context) ([]model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Tenant
	for _, t := range s.tenants {
		if t.IsActive && t.DailyMessage.Enabled && t.Schedule.Enabled {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeTenantStore) UpdateDailySchedule(ctx context.Context, id string, sendTime string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedErr != nil {
		return s.schedErr
	}
	t, ok := s.tenants[id]
	if !ok {
		return repo.ErrTenantNotFound
	}
	t.DailyMessage.Time = sendTime
	t.DailyMessage.Enabled = enabled
	return nil
}

func (s *fakeTenantStore) AppendSentMessage(ctx context.Context, id string, rec model.SentMessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeTenantStore) batchRecords() []model.SentMessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SentMessageRecord
	for _, r := range s.records {
		if r.Status == model.StatusBatchSent || r.Status == model.StatusBatchFailed {
			out = append(out, r)
		}
	}
	return out
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]error
}

func (f *fakeSender) SendToGroup(ctx context.Context, tenantID, groupID, text, mediaPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[groupID]; err != nil {
		return err
	}
	f.sent = append(f.sent, groupID)
	return nil
}

type fakeConnectivity struct {
	connected bool
}

func (f *fakeConnectivity) IsConnected(tenantID string) bool { return f.connected }

func scheduledTenant(id string) *model.Tenant {
	return &model.Tenant{
		ID:       id,
		Username: id,
		IsActive: true,
		DailyMessage: model.DailyMessage{
			Text:    "good morning",
			Time:    "08:30",
			Enabled: true,
		},
		Schedule: model.Schedule{Enabled: true, Timezone: "UTC"},
		SelectedGroups: []model.SelectedGroup{
			{ID: "g1@g.us", Name: "Alpha", Enabled: true},
			{ID: "g2@g.us", Name: "Beta", Enabled: true},
			{ID: "g3@g.us", Name: "Gamma", Enabled: true},
			{ID: "g4@g.us", Name: "Muted", Enabled: false},
		},
	}
}

func TestParseDailyTime(t *testing.T) {
	t.Parallel()

	valid := []struct {
		in           string
		hour, minute int
	}{
		{"00:00", 0, 0},
		{"08:30", 8, 30},
		{"23:59", 23, 59},
	}
	for _, tt := range valid {
		hour, minute, err := parseDailyTime(tt.in)
		if err != nil {
			t.Fatalf("parseDailyTime(%q) error: %v", tt.in, err)
		}
		if hour != tt.hour || minute != tt.minute {
			t.Fatalf("parseDailyTime(%q) = %d:%d, want %d:%d", tt.in, hour, minute, tt.hour, tt.minute)
		}
	}

	invalid := []string{"", "8", "24:00", "12:60", "ab:cd", "12:30:00", "-1:00"}
	for _, in := range invalid {
		if _, _, err := parseDailyTime(in); !errors.Is(err, ErrInvalidTime) {
			t.Fatalf("parseDailyTime(%q) = %v, want ErrInvalidTime", in, err)
		}
	}
}

func TestDailySpec(t *testing.T) {
	t.Parallel()

	spec, err := dailySpec("08:30", "UTC")
	if err != nil {
		t.Fatalf("dailySpec() error: %v", err)
	}
	if spec != "CRON_TZ=UTC 30 8 * * *" {
		t.Fatalf("unexpected spec %q", spec)
	}

	spec, err = dailySpec("08:30", "")
	if err != nil {
		t.Fatalf("dailySpec() error: %v", err)
	}
	if !strings.Contains(spec, "CRON_TZ=Asia/Jerusalem") {
		t.Fatalf("expected default timezone, got %q", spec)
	}

	if _, err := dailySpec("08:30", "Mars/Olympus"); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}

func TestNextRun_RollsToNextDay(t *testing.T) {
	t.Parallel()

	s := NewService(newFakeTenantStore(), &fakeSender{}, &fakeConnectivity{}, 0)

	now := time.Date(2026, 3, 10, 23, 31, 0, 0, time.UTC)
	next, err := s.NextRun("23:30", "UTC", now)
	if err != nil {
		t.Fatalf("NextRun() error: %v", err)
	}

	want := time.Date(2026, 3, 11, 23, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextRun() = %v, want %v", next, want)
	}
}

func TestTriggerNow_PartialFailure(t *testing.T) {
	t.Parallel()

	store := newFakeTenantStore(scheduledTenant("tenant-1"))
	sender := &fakeSender{failFor: map[string]error{"g2@g.us": errors.New("send rejected")}}
	s := NewService(store, sender, &fakeConnectivity{connected: true}, 0)

	res := s.TriggerNow(context.Background(), "tenant-1")
	if !res.Success {
		t.Fatalf("expected success with partial failure, got %+v", res)
	}
	if !strings.Contains(res.Message, "2/3") || !strings.Contains(res.Message, "1 failed") {
		t.Fatalf("unexpected message %q", res.Message)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 successful sends, got %v", sender.sent)
	}

	batches := store.batchRecords()
	if len(batches) != 1 {
		t.Fatalf("expected exactly one aggregate record, got %d", len(batches))
	}
	if batches[0].Status != model.StatusBatchSent {
		t.Fatalf("expected batch_sent, got %s", batches[0].Status)
	}
	if !strings.Contains(batches[0].Content, "2/3 sent, 1 failed") {
		t.Fatalf("unexpected aggregate content %q", batches[0].Content)
	}
}

func TestTriggerNow_AllFail(t *testing.T) {
	t.Parallel()

	store := newFakeTenantStore(scheduledTenant("tenant-1"))
	sender := &fakeSender{failFor: map[string]error{
		"g1@g.us": errors.New("down"),
		"g2@g.us": errors.New("down"),
		"g3@g.us": errors.New("down"),
	}}
	s := NewService(store, sender, &fakeConnectivity{connected: true}, 0)

	res := s.TriggerNow(context.Background(), "tenant-1")
	if res.Success {
		t.Fatalf("expected failure when nothing sent, got %+v", res)
	}

	batches := store.batchRecords()
	if len(batches) != 1 || batches[0].Status != model.StatusBatchFailed {
		t.Fatalf("expected one batch_failed record, got %+v", batches)
	}
}

func TestTriggerNow_SkipReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*model.Tenant)
		connected bool
		reason    string
	}{
		{
			name:      "daily disabled",
			mutate:    func(t *model.Tenant) { t.DailyMessage.Enabled = false },
			connected: true,
			reason:    "daily message disabled",
		},
		{
			name:      "no groups",
			mutate:    func(t *model.Tenant) { t.SelectedGroups = nil },
			connected: true,
			reason:    "no groups selected",
		},
		{
			name:      "not connected",
			mutate:    func(t *model.Tenant) {},
			connected: false,
			reason:    "whatsapp not connected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tenant := scheduledTenant("tenant-1")
			tt.mutate(tenant)
			store := newFakeTenantStore(tenant)
			sender := &fakeSender{}
			s := NewService(store, sender, &fakeConnectivity{connected: tt.connected}, 0)

			res := s.TriggerNow(context.Background(), "tenant-1")
			if res.Success {
				t.Fatalf("expected skip, got %+v", res)
			}
			if !strings.Contains(res.Message, tt.reason) {
				t.Fatalf("expected reason %q in %q", tt.reason, res.Message)
			}
			if len(sender.sent) != 0 {
				t.Fatalf("expected no sends, got %v", sender.sent)
			}
			if got := store.batchRecords(); len(got) != 0 {
				t.Fatalf("expected no aggregate record for a skipped run, got %+v", got)
			}
		})
	}
}

func TestUpsertTask_ReplacesPrevious(t *testing.T) {
	t.Parallel()

	tenant := scheduledTenant("tenant-1")
	store := newFakeTenantStore(tenant)
	s := NewService(store, &fakeSender{}, &fakeConnectivity{connected: true}, 0)

	if err := s.UpsertTask(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("UpsertTask() error: %v", err)
	}

	store.mu.Lock()
	store.tenants["tenant-1"].DailyMessage.Time = "09:15"
	store.mu.Unlock()

	if err := s.UpsertTask(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("UpsertTask() error: %v", err)
	}

	tasks := s.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one task, got %d", len(tasks))
	}
	if tasks[0].TenantID != "tenant-1" {
		t.Fatalf("unexpected task %+v", tasks[0])
	}
}

func TestUpsertTask_DisabledRetiresTask(t *testing.T) {
	t.Parallel()

	tenant := scheduledTenant("tenant-1")
	store := newFakeTenantStore(tenant)
	s := NewService(store, &fakeSender{}, &fakeConnectivity{connected: true}, 0)

	if err := s.UpsertTask(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("UpsertTask() error: %v", err)
	}

	store.mu.Lock()
	store.tenants["tenant-1"].Schedule.Enabled = false
	store.mu.Unlock()

	if err := s.UpsertTask(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("UpsertTask() error: %v", err)
	}
	if tasks := s.Tasks(); len(tasks) != 0 {
		t.Fatalf("expected task retired, got %+v", tasks)
	}

	// Manual trigger still works while the recurring task is off.
	if res := s.TriggerNow(context.Background(), "tenant-1"); !res.Success {
		t.Fatalf("expected manual trigger to send, got %+v", res)
	}
}

func TestUpdateDailySchedule_RejectsInvalidTimeBeforeMutation(t *testing.T) {
	t.Parallel()

	tenant := scheduledTenant("tenant-1")
	store := newFakeTenantStore(tenant)
	s := NewService(store, &fakeSender{}, &fakeConnectivity{connected: true}, 0)

	res := s.UpdateDailySchedule(context.Background(), "tenant-1", "25:00", true)
	if res.Success {
		t.Fatalf("expected rejection, got %+v", res)
	}

	store.mu.Lock()
	got := store.tenants["tenant-1"].DailyMessage.Time
	store.mu.Unlock()
	if got != "08:30" {
		t.Fatalf("store mutated despite invalid input: %q", got)
	}
}

func TestUpdateDailySchedule_DisableRemovesTask(t *testing.T) {
	t.Parallel()

	tenant := scheduledTenant("tenant-1")
	store := newFakeTenantStore(tenant)
	s := NewService(store, &fakeSender{}, &fakeConnectivity{connected: true}, 0)

	if err := s.UpsertTask(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("UpsertTask() error: %v", err)
	}

	res := s.UpdateDailySchedule(context.Background(), "tenant-1", "08:30", false)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if tasks := s.Tasks(); len(tasks) != 0 {
		t.Fatalf("expected task removed, got %+v", tasks)
	}
}

func TestInit_InstallsScheduledTenants(t *testing.T) {
	t.Parallel()

	idle := scheduledTenant("tenant-idle")
	idle.Schedule.Enabled = false
	store := newFakeTenantStore(scheduledTenant("tenant-1"), scheduledTenant("tenant-2"), idle)
	s := NewService(store, &fakeSender{}, &fakeConnectivity{connected: true}, 0)
	defer s.StopAll()

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if tasks := s.Tasks(); len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", tasks)
	}
}

func TestWithBatchHook(t *testing.T) {
	t.Parallel()

	store := newFakeTenantStore(scheduledTenant("tenant-1"))
	var (
		mu  sync.Mutex
		got []BatchSummary
	)
	s := NewService(store, &fakeSender{}, &fakeConnectivity{connected: true}, 0).
		WithBatchHook(func(tenantID string, sum BatchSummary) {
			mu.Lock()
			got = append(got, sum)
			mu.Unlock()
		})

	if res := s.TriggerNow(context.Background(), "tenant-1"); !res.Success {
		t.Fatalf("trigger failed: %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 hook call, got %d", len(got))
	}
	sum := got[0]
	if sum.TenantID != "tenant-1" || sum.Total != 3 || sum.Sent != 3 || sum.Failed != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.RunID == "" {
		t.Fatalf("expected run id")
	}
}
