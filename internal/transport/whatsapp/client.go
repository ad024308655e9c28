// Package whatsapp implements the transport contract over whatsmeow, a
// native Go WhatsApp Web API library. Each tenant gets its own sqlite
// session store, so a linked device survives restarts without pairing
// again.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // sqlite driver for the session store

	"github.com/Didihazan/WhatsApp-Bot/internal/transport"
)

type Factory struct {
	sessionDir string
	deviceName string
}

func NewFactory(sessionDir, deviceName string) *Factory {
	return &Factory{sessionDir: sessionDir, deviceName: deviceName}
}

func (f *Factory) NewClient(tenantID string) (transport.Client, error) {
	if err := os.MkdirAll(f.sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}
	return &Client{
		dbPath:     filepath.Join(f.sessionDir, tenantID+".db"),
		deviceName: f.deviceName,
		events:     make(chan transport.Event, 16),
		done:       make(chan struct{}),
	}, nil
}

// Client adapts one whatsmeow client to the transport contract.
type Client struct {
	dbPath     string
	deviceName string
	events     chan transport.Event
	done       chan struct{}
	emitters   sync.WaitGroup

	mu     sync.Mutex
	wa     *whatsmeow.Client
	closed bool
}

func (c *Client) Events() <-chan transport.Event { return c.events }

func (c *Client) Connect(ctx context.Context) error {
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", c.dbPath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := c.getDevice(ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	// Name shown in the tenant's linked-devices list.
	store.SetOSInfo(c.deviceName, [3]uint32{1, 0, 0})

	wa := whatsmeow.NewClient(device, waLog.Noop)
	wa.AddEventHandler(c.handleEvent)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("client destroyed")
	}
	c.wa = wa
	c.mu.Unlock()

	if wa.Store.ID == nil {
		// No linked device yet: the QR/pairing channel must be opened
		// before the websocket connects.
		qrChan, err := wa.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("opening pairing channel: %w", err)
		}
		if err := wa.Connect(); err != nil {
			return fmt.Errorf("connecting: %w", err)
		}
		go c.forwardPairing(qrChan)
		return nil
	}

	return wa.Connect()
}

func (c *Client) Destroy() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wa := c.wa
	c.wa = nil
	close(c.done)
	c.mu.Unlock()

	if wa != nil {
		wa.RemoveEventHandlers()
		wa.Disconnect()
	}

	// done is closed, so blocked emitters drain out before the event
	// channel closes.
	c.emitters.Wait()
	close(c.events)
	return nil
}

func (c *Client) ListChats(ctx context.Context) ([]transport.Chat, error) {
	wa := c.active()
	if wa == nil {
		return nil, errors.New("client destroyed")
	}

	groups, err := wa.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing joined groups: %w", err)
	}

	out := make([]transport.Chat, 0, len(groups))
	for _, g := range groups {
		out = append(out, transport.Chat{
			ID:               g.JID.String(),
			Name:             g.Name,
			IsGroup:          true,
			ParticipantCount: len(g.Participants),
		})
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, destination, text string, media *transport.Media) error {
	wa := c.active()
	if wa == nil {
		return errors.New("client destroyed")
	}

	jid, err := types.ParseJID(destination)
	if err != nil {
		return fmt.Errorf("invalid destination %q: %w", destination, err)
	}

	var msg *waE2E.Message
	if media != nil {
		up, err := wa.Upload(ctx, media.Data, whatsmeow.MediaImage)
		if err != nil {
			return fmt.Errorf("uploading media: %w", err)
		}
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(text),
			Mimetype:      proto.String(media.MimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(text)}
	}

	if _, err := wa.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

func (c *Client) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

func (c *Client) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		c.emit(transport.Event{Type: transport.EventReady})

	case *events.LoggedOut:
		c.emit(transport.Event{
			Type:   transport.EventAuthFailure,
			Reason: fmt.Sprintf("logged out: %v", evt.Reason),
		})

	case *events.TemporaryBan:
		c.emit(transport.Event{
			Type:   transport.EventAuthFailure,
			Reason: fmt.Sprintf("temporary ban: %v", evt.Code),
		})

	case *events.StreamReplaced:
		c.emit(transport.Event{
			Type:   transport.EventDisconnected,
			Reason: "stream replaced by another session",
		})

	case *events.Disconnected:
		c.emit(transport.Event{
			Type:   transport.EventDisconnected,
			Reason: "connection closed",
		})
	}
}

func (c *Client) forwardPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			c.emit(transport.Event{Type: transport.EventPairing, Code: evt.Code})
		case "success":
			// Connected event follows; nothing to forward.
		case "timeout":
			c.emit(transport.Event{
				Type:   transport.EventDisconnected,
				Reason: "pairing window expired",
			})
		default:
			if evt.Error != nil {
				c.emit(transport.Event{
					Type:   transport.EventDisconnected,
					Reason: fmt.Sprintf("pairing failed: %v", evt.Error),
				})
			}
		}
	}
}

// emit delivers a lifecycle event to the owning consumer. Delivery
// blocks rather than drops: losing a terminal ready or disconnected
// event would strand the session until the connect timeout. Destroy
// unblocks any waiting emitter.
func (c *Client) emit(ev transport.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.emitters.Add(1)
	c.mu.Unlock()
	defer c.emitters.Done()

	ev.At = time.Now()
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) active() *whatsmeow.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.wa
}
