// Package dispatch sends single messages through a tenant's active
// session and records every attempt in the tenant's history.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Didihazan/WhatsApp-Bot/internal/model"
	"github.com/Didihazan/WhatsApp-Bot/internal/transport"
)

const unknownGroupLabel = "Unknown Group"

// DispatchError is a single-destination send failure. It is recorded
// and surfaced with its cause; it never crashes the caller.
type DispatchError struct {
	Destination string
	Err         error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("sending to %s: %v", e.Destination, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Sessions is the slice of the session manager the dispatcher needs.
type Sessions interface {
	ClientFor(tenantID string) (transport.Client, error)
	GroupName(tenantID, groupID string) string
}

// HistoryStore appends sent-message records to the tenant history.
type HistoryStore interface {
	AppendSentMessage(ctx context.Context, tenantID string, rec model.SentMessageRecord) error
}

type Dispatcher struct {
	sessions    Sessions
	history     HistoryStore
	mediaDir    string
	countryCode string
}

func NewDispatcher(sessions Sessions, history HistoryStore, mediaDir, countryCode string) *Dispatcher {
	return &Dispatcher{
		sessions:    sessions,
		history:     history,
		mediaDir:    mediaDir,
		countryCode: countryCode,
	}
}

// SendToGroup sends the text to one group, optionally with a media
// attachment resolved from mediaPath. A media file that cannot be read
// degrades the send to text-only instead of failing it.
func (d *Dispatcher) SendToGroup(ctx context.Context, tenantID, groupID, text, mediaPath string) error {
	client, err := d.sessions.ClientFor(tenantID)
	if err != nil {
		return err
	}

	media := d.resolveMedia(tenantID, mediaPath)

	label := d.sessions.GroupName(tenantID, groupID)
	if label == "" {
		label = unknownGroupLabel
	}

	content := text
	if media != nil {
		content = text + " [with image]"
	}

	if err := client.SendMessage(ctx, groupID, text, media); err != nil {
		d.record(ctx, tenantID, label, content, model.StatusFailed)
		return &DispatchError{Destination: label, Err: err}
	}

	d.record(ctx, tenantID, label, content, model.StatusSent)
	slog.Info("message sent to group", "tenant", tenantID, "group", label, "media", media != nil)
	return nil
}

// SendDirect sends the text to a phone number, normalized to the
// network's canonical destination form first.
func (d *Dispatcher) SendDirect(ctx context.Context, tenantID, number, text string) error {
	client, err := d.sessions.ClientFor(tenantID)
	if err != nil {
		return err
	}

	dest := transport.UserDestination(NormalizePhone(number, d.countryCode))

	if err := client.SendMessage(ctx, dest, text, nil); err != nil {
		d.record(ctx, tenantID, number, text, model.StatusFailed)
		return &DispatchError{Destination: number, Err: err}
	}

	d.record(ctx, tenantID, number, text, model.StatusSent)
	slog.Info("direct message sent", "tenant", tenantID)
	return nil
}

// NormalizePhone strips everything but digits and prefixes the country
// calling code: a 10-digit number with a leading trunk "0" has the zero
// replaced, a bare 9-digit number gets the code prepended.
func NormalizePhone(number, countryCode string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:]
	case len(digits) == 9:
		return countryCode + digits
	}
	return digits
}

// resolveMedia reads the attachment from disk. Any failure is recovered
// locally: warn and send text-only.
func (d *Dispatcher) resolveMedia(tenantID, mediaPath string) *transport.Media {
	if mediaPath == "" {
		return nil
	}

	path := mediaPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.mediaDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("media unavailable, sending text only", "tenant", tenantID, "path", path, "error", err)
		return nil
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return &transport.Media{
		Data:     data,
		MimeType: mimeType,
		Filename: filepath.Base(path),
	}
}

func (d *Dispatcher) record(ctx context.Context, tenantID, contact, content string, status model.RecordStatus) {
	rec := model.SentMessageRecord{
		Contact:   contact,
		Content:   content,
		Status:    status,
		Timestamp: time.Now(),
	}
	if err := d.history.AppendSentMessage(ctx, tenantID, rec); err != nil {
		slog.Error("appending message history failed", "tenant", tenantID, "error", err)
	}
}
