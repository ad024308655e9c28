package repo

import (
	"context"
	"errors"
	"time"

	"github.com/Didihazan/WhatsApp-Bot/internal/model"
)

var ErrTenantNotFound = errors.New("tenant not found")

type TenantRepository interface {
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)

	// ListScheduled returns active tenants with both the daily message
	// and the schedule enabled, for scheduler startup.
	ListScheduled(ctx context.Context) ([]model.Tenant, error)

	SetConnectionStatus(ctx context.Context, id string, connected bool, lastConnectedAt *time.Time) error
	SetPairingCode(ctx context.Context, id string, code *string) error
	UpdateDailySchedule(ctx context.Context, id string, sendTime string, enabled bool) error

	AppendSentMessage(ctx context.Context, id string, rec model.SentMessageRecord) error
	ListSentMessages(ctx context.Context, id string, limit, offset int) ([]model.SentMessageRecord, error)
}
