package main

import "testing"

func TestProbeURL(t *testing.T) {
	tests := []struct {
		addr  string
		ready bool
		want  string
	}{
		{"", false, "http://localhost:8080/healthz"},
		{":9000", true, "http://localhost:9000/readyz"},
		{"0.0.0.0:8081", false, "http://localhost:8081/healthz"},
		{"[::]:8082", false, "http://localhost:8082/healthz"},
		{"127.0.0.1:7000", false, "http://127.0.0.1:7000/healthz"},
	}
	for _, tt := range tests {
		if got := probeURL(tt.addr, tt.ready); got != tt.want {
			t.Errorf("probeURL(%q, %v) = %q, want %q", tt.addr, tt.ready, got, tt.want)
		}
	}
}
