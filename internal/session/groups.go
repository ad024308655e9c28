package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/Didihazan/WhatsApp-Bot/internal/model"
)

// RefreshGroups queries the transport for the full chat list and
// replaces the cached snapshot wholesale. Only valid while connected.
func (m *Manager) RefreshGroups(ctx context.Context, tenantID string) ([]model.Group, error) {
	m.mu.Lock()
	s := m.sessions[tenantID]
	if s == nil || s.state != StateConnected || s.client == nil {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	client := s.client
	m.mu.Unlock()

	chats, err := client.ListChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}

	var groups []model.Group
	for _, c := range chats {
		if !c.IsGroup {
			continue
		}
		groups = append(groups, model.Group{
			ID:               c.ID,
			Name:             c.Name,
			ParticipantCount: c.ParticipantCount,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })

	// No incremental merge: a wholesale swap cannot leak entries from a
	// prior connection.
	m.mu.Lock()
	if s := m.sessions[tenantID]; s != nil && s.client == client {
		s.groups = groups
	}
	m.mu.Unlock()

	slog.Info("groups refreshed", "tenant", tenantID, "count", len(groups))
	return groups, nil
}

// Groups returns the cached snapshot, refreshing once lazily if the
// cache is empty while connected. Not connected means an empty list,
// not an error.
func (m *Manager) Groups(ctx context.Context, tenantID string) ([]model.Group, error) {
	m.mu.Lock()
	s := m.sessions[tenantID]
	if s == nil || s.state != StateConnected {
		m.mu.Unlock()
		return nil, nil
	}
	if len(s.groups) > 0 {
		snapshot := slices.Clone(s.groups)
		m.mu.Unlock()
		return snapshot, nil
	}
	m.mu.Unlock()

	return m.RefreshGroups(ctx, tenantID)
}

// GroupName resolves a group's display name from the cached snapshot.
// Empty when unknown.
func (m *Manager) GroupName(tenantID, groupID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[tenantID]
	if s == nil {
		return ""
	}
	for _, g := range s.groups {
		if g.ID == groupID {
			return g.Name
		}
	}
	return ""
}
