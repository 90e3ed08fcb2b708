package health

import "testing"

func TestNewUsageRoundsHalfUp(t *testing.T) {
	cases := []struct {
		total, available int64
		want             float64
	}{
		{1000, 250, 75},
		{3, 2, 33.33},
		{3, 1, 66.67},
		{20000, 19999, 0.01},    // 0.005% rounds half-up
		{2000000, 1999999, 0.0}, // 0.00005% rounds down
		{8, 7, 12.5},
		{100, 0, 100},
	}
	for _, tc := range cases {
		got := NewUsage(tc.total, tc.available).Percent
		if got != tc.want {
			t.Fatalf("usage(%d,%d): got %v want %v", tc.total, tc.available, got, tc.want)
		}
	}
}

func TestNewUsageUnknownInputs(t *testing.T) {
	for _, u := range []Usage{
		NewUsage(UnknownInt, 10),
		NewUsage(10, UnknownInt),
		NewUsage(0, 0),
		UnknownUsage(),
	} {
		if u.Percent != UnknownFloat {
			t.Fatalf("expected unknown percent, got %+v", u)
		}
	}
}

func TestNewConsumption(t *testing.T) {
	if c := NewConsumption(10, 32); c.Total != 42 {
		t.Fatalf("unexpected total: %+v", c)
	}
	if c := NewConsumption(UnknownInt, 32); c.Total != UnknownInt {
		t.Fatalf("expected unknown total: %+v", c)
	}
	if c := UnknownConsumption(); c.Total != UnknownInt {
		t.Fatalf("expected unknown total: %+v", c)
	}
}

func TestNewNetworkStatusDerivesType(t *testing.T) {
	if s := NewNetworkStatus(true, "WIFI"); s.Type != NetworkWifi {
		t.Fatalf("unexpected type: %v", s.Type)
	}
	if s := NewNetworkStatus(true, "mobile"); s.Type != NetworkMobile {
		t.Fatalf("unexpected type: %v", s.Type)
	}
	if s := NewNetworkStatus(false, UnknownString); s.Type != NetworkUnknown || s.Connected {
		t.Fatalf("unexpected status: %+v", s)
	}
}

func TestEventTypeNames(t *testing.T) {
	if EventIgnitionOn.String() != "IGNITION_ON" || EventType(99).String() != "UNKNOWN" {
		t.Fatalf("unexpected names")
	}
	if !EventIgnitionOff.IsIgnition() || EventNetworkStatusChanged.IsIgnition() {
		t.Fatalf("unexpected ignition classification")
	}
}
