// Package inventory holds the link records and radio profiles the engine
// resolves client addresses against. Lookups are read-locked so a SIGHUP
// reload can swap the whole inventory under live traffic.
package inventory

import (
	"log/slog"
	"net/netip"
	"sort"
	"sync"

	"github.com/shsakib0002/smart-noc/models"
)

// Store is an in-memory, replaceable inventory.
type Store struct {
	logger *slog.Logger

	mu       sync.RWMutex
	links    map[string]models.Link
	byClient map[netip.Addr]string
	profiles []models.RadioProfile
}

// NewStore builds a Store from links keyed by id and the radio profiles used
// to match declared models.
func NewStore(links map[string]models.Link, profiles []models.RadioProfile, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	s := &Store{logger: logger}
	s.Replace(links, profiles)
	return s
}

// Replace swaps the inventory atomically. Links whose client address is not a
// valid IP are kept for listing but cannot be looked up. When two links claim
// the same client address the lowest id wins.
func (s *Store) Replace(links map[string]models.Link, profiles []models.RadioProfile) {
	ids := make([]string, 0, len(links))
	for id := range links {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	copied := make(map[string]models.Link, len(links))
	byClient := make(map[netip.Addr]string, len(links))
	for _, id := range ids {
		l := links[id]
		l.ID = id
		copied[id] = l

		addr := models.ParseAddress(l.ClientIP)
		if !addr.IsValid() {
			s.logger.Debug("inventory: link has no usable client address",
				"link_id", id,
				"client_ip", l.ClientIP,
			)
			continue
		}
		if prev, dup := byClient[addr.IP()]; dup {
			s.logger.Warn("inventory: duplicate client address",
				"client_ip", addr.String(),
				"kept", prev,
				"ignored", id,
			)
			continue
		}
		byClient[addr.IP()] = id
	}

	sorted := append([]models.RadioProfile(nil), profiles...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	s.mu.Lock()
	s.links = copied
	s.byClient = byClient
	s.profiles = sorted
	s.mu.Unlock()

	s.logger.Info("inventory: loaded",
		"links", len(copied),
		"addressable", len(byClient),
		"profiles", len(sorted),
	)
}

// Lookup finds the link whose client radio has address ip.
func (s *Store) Lookup(ip netip.Addr) (models.Link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byClient[ip.Unmap()]
	if !ok {
		return models.Link{}, false
	}
	return s.links[id], true
}

// ByDevice returns the links whose client or base radio has address ip,
// ordered by id. A sector's base radio usually serves many links.
func (s *Store) ByDevice(ip netip.Addr) []models.Link {
	ip = ip.Unmap()
	var out []models.Link
	for _, l := range s.List() {
		client := models.ParseAddress(l.ClientIP)
		base := models.ParseAddress(l.BaseIP)
		if (client.IsValid() && client.IP() == ip) || (base.IsValid() && base.IP() == ip) {
			out = append(out, l)
		}
	}
	return out
}

// Get returns the link with the given id.
func (s *Store) Get(id string) (models.Link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[id]
	return l, ok
}

// List returns every link ordered by id.
func (s *Store) List() []models.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Active returns the links that take part in sweeps, ordered by id.
func (s *Store) Active() []models.Link {
	all := s.List()
	out := all[:0]
	for _, l := range all {
		if l.IsActive() {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of links.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// Profile returns the first profile, by name, whose match list selects model.
func (s *Store) Profile(model string) (models.RadioProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Matches(model) {
			return p, true
		}
	}
	return models.RadioProfile{}, false
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
