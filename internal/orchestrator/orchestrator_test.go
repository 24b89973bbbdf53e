package orchestrator

import (
	"testing"
	"time"

	"github.com/odac-run/odac/internal/events"
	"github.com/odac-run/odac/internal/notify"
)

func TestTranslateEventAppStatus(t *testing.T) {
	cases := []struct {
		message string
		want    notify.EventType
	}{
		{"running", notify.EventAppStarted},
		{"stopped", notify.EventAppStopped},
		{"deleted", notify.EventAppStopped},
		{"errored", notify.EventAppErrored},
		{"installing", notify.EventWatchdogAction},
	}
	for _, tc := range cases {
		evt := events.Event{Type: events.EventAppStatusChanged, Subject: "app1", Message: tc.message, Timestamp: time.Now()}
		got := translateEvent(evt)
		if got.Type != tc.want {
			t.Errorf("message %q: got %q, want %q", tc.message, got.Type, tc.want)
		}
		if got.Subject != "app1" {
			t.Errorf("subject not preserved: got %q", got.Subject)
		}
	}
}

func TestTranslateEventAppRedeployed(t *testing.T) {
	evt := events.Event{Type: events.EventAppRedeployed, Subject: "app1"}
	got := translateEvent(evt)
	if got.Type != notify.EventAppRedeployed {
		t.Errorf("got %q, want %q", got.Type, notify.EventAppRedeployed)
	}
}

func TestTranslateEventDomainChanged(t *testing.T) {
	evt := events.Event{Type: events.EventDomainChanged, Subject: "example.com", Message: "created"}
	got := translateEvent(evt)
	if got.Type != notify.EventDomainChanged {
		t.Errorf("got %q, want %q", got.Type, notify.EventDomainChanged)
	}
	if got.Message != "created" {
		t.Errorf("message not preserved: got %q", got.Message)
	}
}

func TestTranslateEventSSLFailedCarriesError(t *testing.T) {
	evt := events.Event{Type: events.EventSSLFailed, Subject: "example.com", Message: "dns propagation timeout"}
	got := translateEvent(evt)
	if got.Type != notify.EventSSLFailed {
		t.Errorf("got %q, want %q", got.Type, notify.EventSSLFailed)
	}
	if got.Error != "dns propagation timeout" {
		t.Errorf("Error = %q, want message carried over", got.Error)
	}
}

func TestTranslateEventSSLRenewed(t *testing.T) {
	evt := events.Event{Type: events.EventSSLRenewed, Subject: "example.com"}
	got := translateEvent(evt)
	if got.Type != notify.EventSSLRenewed {
		t.Errorf("got %q, want %q", got.Type, notify.EventSSLRenewed)
	}
}

func TestTranslateEventProxySynced(t *testing.T) {
	evt := events.Event{Type: events.EventProxySynced, Subject: "proxy"}
	got := translateEvent(evt)
	if got.Type != notify.EventProxySynced {
		t.Errorf("got %q, want %q", got.Type, notify.EventProxySynced)
	}
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("Authorization: Bearer xyz, X-Source: odac")
	if got["Authorization"] != "Bearer xyz" {
		t.Errorf("Authorization = %q", got["Authorization"])
	}
	if got["X-Source"] != "odac" {
		t.Errorf("X-Source = %q", got["X-Source"])
	}
}

func TestParseHeadersEmpty(t *testing.T) {
	if got := parseHeaders(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestStopCancelsRunContext(t *testing.T) {
	o := &Orchestrator{}
	// Stop before Run assigns a cancel func must not panic.
	o.Stop()
}
