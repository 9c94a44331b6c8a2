package geoip

import "testing"

func TestNew_DisabledWithoutDatabase(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/path.mmdb"} {
		r, err := New(path)
		if err != nil {
			t.Fatalf("New(%q) should degrade gracefully, got %v", path, err)
		}
		if country, city := r.Lookup("8.8.8.8"); country != "" || city != "" {
			t.Errorf("disabled resolver returned country=%q city=%q", country, city)
		}
		if err := r.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
	}
}

func TestLookup_BadInput(t *testing.T) {
	r, _ := New("")
	for _, ip := range []string{"", "not-an-ip"} {
		if country, city := r.Lookup(ip); country != "" || city != "" {
			t.Errorf("Lookup(%q) = %q, %q", ip, country, city)
		}
	}
}
