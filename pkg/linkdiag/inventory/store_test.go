package inventory_test

import (
	"net/netip"
	"testing"

	"github.com/shsakib0002/smart-noc/models"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/inventory"
)

func boolPtr(b bool) *bool { return &b }

func testLinks() map[string]models.Link {
	return map[string]models.Link{
		"dhk-101": {Name: "Rahim Traders", ClientIP: "10.20.30.41", BaseIP: "10.20.30.2", RadioModel: "ePMP Force 180"},
		"dhk-102": {Name: "Karim Store", ClientIP: " 10.20.30.42 ", BaseIP: "10.20.30.2", Vendor: "Ubiquiti"},
		"dhk-103": {Name: "Old Link", ClientIP: "N/A"},
		"dhk-104": {Name: "Duplicate", ClientIP: "10.20.30.41"},
		"dhk-105": {Name: "Disabled", ClientIP: "10.20.30.45", Active: boolPtr(false)},
	}
}

func testProfiles() []models.RadioProfile {
	return []models.RadioProfile{
		{Name: "ubiquiti", Match: []string{"ubiquiti", "powerbeam", "nano"}, SignalOIDs: []string{"1.3.6.1.4.1.41112.1.4.5.1.5.1"}},
		{Name: "cambium_epmp", Match: []string{"cambium", "epmp"}, SignalOIDs: []string{"1.3.6.1.4.1.17713.21.1.2.1.0"}},
	}
}

func TestStore_Lookup(t *testing.T) {
	s := inventory.NewStore(testLinks(), testProfiles(), nil)

	tests := []struct {
		ip     string
		wantID string
		wantOK bool
	}{
		{"10.20.30.41", "dhk-101", true},
		{"10.20.30.42", "dhk-102", true},
		{"::ffff:10.20.30.42", "dhk-102", true},
		{"10.20.30.99", "", false},
	}
	for _, tc := range tests {
		l, ok := s.Lookup(netip.MustParseAddr(tc.ip))
		if ok != tc.wantOK || l.ID != tc.wantID {
			t.Errorf("Lookup(%s) = %q, %v; want %q, %v", tc.ip, l.ID, ok, tc.wantID, tc.wantOK)
		}
	}
}

func TestStore_ByDevice(t *testing.T) {
	s := inventory.NewStore(testLinks(), testProfiles(), nil)

	tests := []struct {
		ip      string
		wantIDs []string
	}{
		{"10.20.30.2", []string{"dhk-101", "dhk-102"}},
		{"10.20.30.41", []string{"dhk-101", "dhk-104"}},
		{"::ffff:10.20.30.42", []string{"dhk-102"}},
		{"10.9.9.9", nil},
	}
	for _, tc := range tests {
		t.Run(tc.ip, func(t *testing.T) {
			got := s.ByDevice(netip.MustParseAddr(tc.ip))
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("ByDevice = %d links, want %v", len(got), tc.wantIDs)
			}
			for i, l := range got {
				if l.ID != tc.wantIDs[i] {
					t.Errorf("link %d = %s, want %s", i, l.ID, tc.wantIDs[i])
				}
			}
		})
	}
}

func TestStore_ListAndActive(t *testing.T) {
	s := inventory.NewStore(testLinks(), nil, nil)

	all := s.List()
	if len(all) != 5 || all[0].ID != "dhk-101" || all[4].ID != "dhk-105" {
		t.Fatalf("List order = %v", ids(all))
	}
	active := s.Active()
	if len(active) != 4 {
		t.Errorf("Active = %v, want 4 links", ids(active))
	}
	for _, l := range active {
		if l.ID == "dhk-105" {
			t.Error("disabled link listed as active")
		}
	}
}

func TestStore_ProfileMatching(t *testing.T) {
	s := inventory.NewStore(nil, testProfiles(), nil)

	tests := []struct {
		model string
		want  string
	}{
		{"ePMP Force 180", "cambium_epmp"},
		{"Cambium", "cambium_epmp"},
		{"PowerBeam 5AC", "ubiquiti"},
		{"NanoStation", "ubiquiti"},
		{"Mimosa C5", ""},
		{"", ""},
	}
	for _, tc := range tests {
		p, ok := s.Profile(tc.model)
		if (tc.want != "") != ok || p.Name != tc.want {
			t.Errorf("Profile(%q) = %q, %v; want %q", tc.model, p.Name, ok, tc.want)
		}
	}
}

func TestStore_Replace(t *testing.T) {
	s := inventory.NewStore(testLinks(), testProfiles(), nil)
	s.Replace(map[string]models.Link{"pop-1": {ClientIP: "192.0.2.10"}}, nil)

	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if _, ok := s.Lookup(netip.MustParseAddr("10.20.30.41")); ok {
		t.Error("old link still resolvable after Replace")
	}
	if _, ok := s.Get("pop-1"); !ok {
		t.Error("new link missing after Replace")
	}
	if _, ok := s.Profile("epmp"); ok {
		t.Error("old profiles still matched after Replace")
	}
}

func ids(links []models.Link) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.ID
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Gateway policies
// ─────────────────────────────────────────────────────────────────────────────

func TestPreviousAddress(t *testing.T) {
	tests := []struct {
		base   string
		want   string
		wantOK bool
	}{
		{"10.20.30.2", "10.20.30.1", true},
		{"10.20.30.200", "10.20.30.199", true},
		{"10.20.30.1", "", false},
		{"10.20.30.0", "", false},
		{"10.20.31.0", "", false},
		{"2001:db8::10", "2001:db8::f", true},
		{"::1", "", false},
	}
	for _, tc := range tests {
		got, ok := inventory.PreviousAddress{}.Derive(netip.MustParseAddr(tc.base))
		if ok != tc.wantOK {
			t.Errorf("Derive(%s) ok = %v, want %v", tc.base, ok, tc.wantOK)
			continue
		}
		if ok && got.String() != tc.want {
			t.Errorf("Derive(%s) = %s, want %s", tc.base, got, tc.want)
		}
	}
	if _, ok := (inventory.PreviousAddress{}).Derive(netip.Addr{}); ok {
		t.Error("Derive(invalid) should fail")
	}
}

func TestParseGatewayPolicy(t *testing.T) {
	p, err := inventory.ParseGatewayPolicy("")
	if err != nil || p.Name() != "previous" {
		t.Errorf("default policy = %v, %v", p, err)
	}
	p, err = inventory.ParseGatewayPolicy("none")
	if err != nil || p.Name() != "none" {
		t.Errorf("none policy = %v, %v", p, err)
	}
	if _, ok := p.Derive(netip.MustParseAddr("10.0.0.5")); ok {
		t.Error("none policy derived an address")
	}
	if _, err := inventory.ParseGatewayPolicy("dhcp"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
