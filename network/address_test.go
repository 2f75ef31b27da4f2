package network

import (
	"net"
	"testing"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		s           string
		defaultPort int
		wantHost    string
		wantPort    int
	}{
		{"127.0.0.1:9000", -1, "127.0.0.1", 9000},
		{"127.0.0.1:9000", 8000, "127.0.0.1", 9000},
		{"127.0.0.1", 8000, "127.0.0.1", 8000},
	}
	for _, c := range cases {
		addr, err := ParseAddress(c.s, c.defaultPort)
		if err != nil {
			t.Errorf("ParseAddress(%q, %d): %v", c.s, c.defaultPort, err)
			continue
		}
		if addr.Host != c.wantHost || addr.Port != c.wantPort {
			t.Errorf("ParseAddress(%q, %d) = %v, want %s:%d",
				c.s, c.defaultPort, addr, c.wantHost, c.wantPort)
		}
		if addr.IP == nil {
			t.Errorf("ParseAddress(%q, %d) did not resolve an IP", c.s, c.defaultPort)
		}
	}
}

func TestParseAddressErrors(t *testing.T) {
	cases := []struct {
		s           string
		defaultPort int
	}{
		{"127.0.0.1", -1},
		{"127.0.0.1:notaport", -1},
	}
	for _, c := range cases {
		if addr, err := ParseAddress(c.s, c.defaultPort); err == nil {
			t.Errorf("ParseAddress(%q, %d) = %v, want error", c.s, c.defaultPort, addr)
		}
	}
}

func TestSameHost(t *testing.T) {
	addr, err := NewAddress("127.0.0.1", 9000)
	if err != nil {
		t.Fatal(err)
	}
	if !addr.SameHost(net.IPv4(127, 0, 0, 1)) {
		t.Error("SameHost(127.0.0.1) = false")
	}
	if addr.SameHost(net.IPv4(10, 0, 0, 1)) {
		t.Error("SameHost(10.0.0.1) = true")
	}
}
