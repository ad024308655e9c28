// Package schedule turns each tenant's daily-send configuration into a
// recurring cron task and fans the daily message out to the tenant's
// enabled groups at fire time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Didihazan/WhatsApp-Bot/internal/model"
)

var ErrInvalidTime = errors.New(`send time must be "HH:MM"`)

const defaultTimezone = "Asia/Jerusalem"

// Sender dispatches one message to one group.
type Sender interface {
	SendToGroup(ctx context.Context, tenantID, groupID, text, mediaPath string) error
}

// SessionStatus reports whether a tenant's session is usable.
type SessionStatus interface {
	IsConnected(tenantID string) bool
}

// TenantStore is the slice of the tenant store the scheduler needs.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	ListScheduled(ctx context.Context) ([]model.Tenant, error)
	UpdateDailySchedule(ctx context.Context, id string, sendTime string, enabled bool) error
	AppendSentMessage(ctx context.Context, id string, rec model.SentMessageRecord) error
}

// BatchSummary is the outcome of one daily fan-out run.
type BatchSummary struct {
	RunID    string `json:"runId"`
	TenantID string `json:"tenantId"`
	Total    int    `json:"total"`
	Sent     int    `json:"sent"`
	Failed   int    `json:"failed"`
	// Skipped carries the reason when the run exited without sending.
	Skipped string `json:"skipped,omitempty"`
}

// TaskStatus is the diagnostic view of one live task.
type TaskStatus struct {
	TenantID string    `json:"tenantId"`
	Status   string    `json:"status"`
	NextRun  time.Time `json:"nextRun"`
}

type Service struct {
	repo      TenantStore
	sender    Sender
	sessions  SessionStatus
	sendDelay time.Duration

	onBatchDone func(tenantID string, sum BatchSummary)

	cron   *cron.Cron
	parser cron.Parser

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewService(repo TenantStore, sender Sender, sessions SessionStatus, sendDelay time.Duration) *Service {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		repo:      repo,
		sender:    sender,
		sessions:  sessions,
		sendDelay: sendDelay,
		parser:    parser,
		cron:      cron.New(cron.WithParser(parser)),
		entries:   make(map[string]cron.EntryID),
	}
}

// WithBatchHook registers a callback invoked after every completed
// (non-skipped) batch run.
func (s *Service) WithBatchHook(fn func(tenantID string, sum BatchSummary)) *Service {
	s.onBatchDone = fn
	return s
}

// Init installs tasks for every tenant with the daily message and the
// schedule enabled, then starts the cron runner. Called once at process
// startup so restarts do not drop schedules.
func (s *Service) Init(ctx context.Context) error {
	tenants, err := s.repo.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("listing scheduled tenants: %w", err)
	}

	for _, t := range tenants {
		if err := s.UpsertTask(ctx, t.ID); err != nil {
			slog.Error("installing schedule failed", "tenant", t.ID, "error", err)
		}
	}

	s.cron.Start()
	slog.Info("scheduler started", "tasks", len(s.entries))
	return nil
}

// UpsertTask derives the tenant's recurring task from its configuration.
// A disabled tenant gets any existing task retired; an enabled one gets
// the previous task retired before the replacement is installed, so two
// tasks for one tenant never run concurrently.
func (s *Service) UpsertTask(ctx context.Context, tenantID string) error {
	t, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	if !t.DailyMessage.Enabled || !t.Schedule.Enabled {
		s.RemoveTask(tenantID)
		return nil
	}

	spec, err := dailySpec(t.DailyMessage.Time, t.Schedule.Timezone)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[tenantID]; ok {
		s.cron.Remove(old)
		delete(s.entries, tenantID)
	}

	id, err := s.cron.AddFunc(spec, func() { s.fire(tenantID) })
	if err != nil {
		return fmt.Errorf("registering task: %w", err)
	}
	s.entries[tenantID] = id

	slog.Info("daily task scheduled", "tenant", tenantID, "time", t.DailyMessage.Time, "timezone", t.Schedule.Timezone)
	return nil
}

// RemoveTask retires the tenant's task. Safe when none exists.
func (s *Service) RemoveTask(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[tenantID]; ok {
		s.cron.Remove(id)
		delete(s.entries, tenantID)
		slog.Info("daily task removed", "tenant", tenantID)
	}
}

// StopAll retires every task and stops the cron runner. Used on process
// shutdown.
func (s *Service) StopAll() {
	s.mu.Lock()
	for tenantID, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, tenantID)
	}
	s.mu.Unlock()

	s.cron.Stop()
	slog.Info("scheduler stopped")
}

// Tasks lists the live tasks for diagnostics.
func (s *Service) Tasks() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.entries))
	for tenantID, id := range s.entries {
		out = append(out, TaskStatus{
			TenantID: tenantID,
			Status:   "scheduled",
			NextRun:  s.cron.Entry(id).Next,
		})
	}
	return out
}

// TriggerNow runs the fire logic synchronously, independent of the
// recurring schedule.
func (s *Service) TriggerNow(ctx context.Context, tenantID string) model.Result {
	sum, err := s.runBatch(ctx, tenantID)
	if err != nil {
		return model.Result{Success: false, Message: err.Error()}
	}
	if sum.Skipped != "" {
		return model.Result{Success: false, Message: fmt.Sprintf("Daily message skipped: %s", sum.Skipped)}
	}
	return model.Result{
		Success: sum.Sent > 0,
		Message: fmt.Sprintf("Daily message sent to %d/%d groups (%d failed)", sum.Sent, sum.Total, sum.Failed),
	}
}

// TriggerAll fires the daily message for every scheduled tenant. Admin
// operation.
func (s *Service) TriggerAll(ctx context.Context) model.Result {
	tenants, err := s.repo.ListScheduled(ctx)
	if err != nil {
		return model.Result{Success: false, Message: err.Error()}
	}

	var ok, failed int
	for _, t := range tenants {
		sum, err := s.runBatch(ctx, t.ID)
		if err != nil || (sum.Skipped == "" && sum.Sent == 0 && sum.Total > 0) {
			failed++
			continue
		}
		ok++
	}
	return model.Result{
		Success: true,
		Message: fmt.Sprintf("Daily messages triggered: %d successful, %d failed", ok, failed),
	}
}

// UpdateDailySchedule persists a new daily-send time and enablement,
// then re-derives the tenant's task. Invalid input is rejected before
// anything is mutated.
func (s *Service) UpdateDailySchedule(ctx context.Context, tenantID, sendTime string, enabled bool) model.Result {
	if _, _, err := parseDailyTime(sendTime); err != nil {
		return model.Result{Success: false, Message: err.Error()}
	}

	if err := s.repo.UpdateDailySchedule(ctx, tenantID, sendTime, enabled); err != nil {
		return model.Result{Success: false, Message: err.Error()}
	}

	if !enabled {
		s.RemoveTask(tenantID)
		return model.Result{Success: true, Message: "Daily message disabled"}
	}

	if err := s.UpsertTask(ctx, tenantID); err != nil {
		return model.Result{Success: false, Message: err.Error()}
	}
	return model.Result{Success: true, Message: fmt.Sprintf("Daily message rescheduled to %s", sendTime)}
}

// fire is the cron entry point for one tenant.
func (s *Service) fire(tenantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	slog.Info("daily task fired", "tenant", tenantID)
	if _, err := s.runBatch(ctx, tenantID); err != nil {
		slog.Error("daily batch failed", "tenant", tenantID, "error", err)
	}
}

// runBatch fans the daily message out to the tenant's enabled groups.
// Sends are sequential with a fixed inter-send delay; one group's
// failure never aborts the rest. Once triggered the batch runs to
// completion: retrying an already-sent message is worse than letting a
// slow batch finish.
func (s *Service) runBatch(ctx context.Context, tenantID string) (BatchSummary, error) {
	sum := BatchSummary{RunID: uuid.NewString(), TenantID: tenantID}

	t, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return sum, err
	}

	groups := t.EnabledGroups()
	switch {
	case !t.DailyMessage.Enabled:
		sum.Skipped = "daily message disabled"
	case len(groups) == 0:
		sum.Skipped = "no groups selected"
	case !s.sessions.IsConnected(tenantID):
		sum.Skipped = "whatsapp not connected"
	}
	if sum.Skipped != "" {
		slog.Info("daily batch skipped", "tenant", tenantID, "reason", sum.Skipped)
		return sum, nil
	}

	sum.Total = len(groups)
	for i, g := range groups {
		if i > 0 && s.sendDelay > 0 {
			time.Sleep(s.sendDelay)
		}

		if err := s.sender.SendToGroup(ctx, tenantID, g.ID, t.DailyMessage.Text, t.DailyMessage.MediaPath); err != nil {
			sum.Failed++
			slog.Error("daily send failed", "tenant", tenantID, "group", g.Name, "error", err)
			continue
		}
		sum.Sent++
	}

	status := model.StatusBatchSent
	if sum.Sent == 0 {
		status = model.StatusBatchFailed
	}
	rec := model.SentMessageRecord{
		Contact:   "Daily broadcast",
		Content:   fmt.Sprintf("run %s: %d/%d sent, %d failed", sum.RunID, sum.Sent, sum.Total, sum.Failed),
		Status:    status,
		Timestamp: time.Now(),
	}
	if err := s.repo.AppendSentMessage(ctx, tenantID, rec); err != nil {
		slog.Error("appending batch record failed", "tenant", tenantID, "error", err)
	}

	slog.Info("daily batch completed", "tenant", tenantID, "sent", sum.Sent, "failed", sum.Failed)

	if s.onBatchDone != nil {
		s.onBatchDone(tenantID, sum)
	}
	return sum, nil
}

// NextRun computes the next fire time for a daily send configuration.
// A time already past today lands on the next calendar day.
func (s *Service) NextRun(sendTime, timezone string, now time.Time) (time.Time, error) {
	spec, err := dailySpec(sendTime, timezone)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}

// dailySpec builds the "once per day at HH:MM" cron spec bound to the
// tenant's timezone.
func dailySpec(sendTime, timezone string) (string, error) {
	hour, minute, err := parseDailyTime(sendTime)
	if err != nil {
		return "", err
	}

	if timezone == "" {
		timezone = defaultTimezone
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", timezone, minute, hour), nil
}

func parseDailyTime(sendTime string) (hour, minute int, err error) {
	parts := strings.Split(sendTime, ":")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidTime
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, ErrInvalidTime
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, ErrInvalidTime
	}
	return hour, minute, nil
}
