package telephony

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const soapContentType = "text/xml; charset=utf-8"

// axlServer answers scripted SOAP responses keyed by SOAPAction suffix. The
// session probe issues a listPhone request before any real lookup, so phone
// responses must be scripted even for code-only tests.
func axlServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read request body: %v", err)
		}
		if !strings.Contains(string(body), "soapenv:Envelope") {
			t.Errorf("request is not a SOAP envelope: %s", body)
		}

		action := r.Header.Get("SOAPAction")
		for suffix, response := range responses {
			if strings.HasSuffix(action, suffix) {
				w.Header().Set("Content-Type", soapContentType)
				fmt.Fprint(w, response)
				return
			}
		}
		t.Errorf("unscripted action %q", action)
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

func envelope(body string) string {
	return `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
		body + `</soapenv:Body></soapenv:Envelope>`
}

const emptyPhoneList = `<ns:listPhoneResponse><return/></ns:listPhoneResponse>`

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		AXL:     Config{Host: "cucm.example.edu", Username: "axl", Password: "secret"},
		BaseURL: server.URL,
	})
}

func TestSecretCodeFound(t *testing.T) {
	server := axlServer(t, map[string]string{
		"listPhone": envelope(emptyPhoneList),
		"listFacInfo": envelope(
			`<ns:listFacInfoResponse><return><facInfo><code>4321</code></facInfo></return></ns:listFacInfoResponse>`,
		),
	})
	defer server.Close()

	lookup := newTestClient(t, server).SecretCode("jdoe")
	if lookup.Outcome != OutcomeFound {
		t.Fatalf("expected found, got outcome %d err %v", lookup.Outcome, lookup.Err)
	}
	if lookup.Code != "4321" {
		t.Fatalf("unexpected code %q", lookup.Code)
	}
}

func TestSecretCodeAbsentIsNotFound(t *testing.T) {
	server := axlServer(t, map[string]string{
		"listPhone":   envelope(emptyPhoneList),
		"listFacInfo": envelope(`<ns:listFacInfoResponse><return/></ns:listFacInfoResponse>`),
	})
	defer server.Close()

	lookup := newTestClient(t, server).SecretCode("jdoe")
	if lookup.Outcome != OutcomeNotFound {
		t.Fatalf("expected not-found, got outcome %d err %v", lookup.Outcome, lookup.Err)
	}
	if lookup.Code != "" {
		t.Fatalf("unexpected code %q", lookup.Code)
	}
}

func TestSecretCodeServerFailureIsTransient(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Let the session probe succeed so the failure lands on the lookup.
			w.Header().Set("Content-Type", soapContentType)
			fmt.Fprint(w, envelope(emptyPhoneList))
			return
		}
		http.Error(w, "database unavailable", http.StatusInternalServerError)
	}))
	defer server.Close()

	lookup := newTestClient(t, server).SecretCode("jdoe")
	if lookup.Outcome != OutcomeTransientFault {
		t.Fatalf("expected transient fault, got outcome %d", lookup.Outcome)
	}
	if lookup.Err == nil {
		t.Fatalf("transient fault must retain the cause")
	}
}

func TestUnconfiguredClientFailsFastWithoutDialing(t *testing.T) {
	client := NewClient(ClientConfig{})

	lookup := client.SecretCode("jdoe")
	if lookup.Outcome != OutcomeTransientFault {
		t.Fatalf("expected transient fault, got outcome %d", lookup.Outcome)
	}
	if !errors.Is(lookup.Err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", lookup.Err)
	}

	devices := client.OwnedDevice("jdoe")
	if devices.Outcome != OutcomeTransientFault || !errors.Is(devices.Err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for device lookup, got %v", devices.Err)
	}
}

func TestRejectedCredentialsSurfaceAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	lookup := newTestClient(t, server).SecretCode("jdoe")
	if lookup.Outcome != OutcomeTransientFault {
		t.Fatalf("expected transient fault, got outcome %d", lookup.Outcome)
	}
	if !errors.Is(lookup.Err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", lookup.Err)
	}
}

func TestOwnedDeviceNormalizesMACFromName(t *testing.T) {
	server := axlServer(t, map[string]string{
		"listPhone": envelope(
			`<ns:listPhoneResponse><return>` +
				`<phone><name>SEP001122AABBCC</name><description>jdoe desk phone</description><model>Cisco 8845</model></phone>` +
				`<phone><name>SEPFFFFFFFFFFFF</name><description>jdoe spare</description><model>Cisco 7821</model></phone>` +
				`</return></ns:listPhoneResponse>`,
		),
	})
	defer server.Close()

	lookup := newTestClient(t, server).OwnedDevice("jdoe")
	if lookup.Outcome != OutcomeFound {
		t.Fatalf("expected found, got outcome %d err %v", lookup.Outcome, lookup.Err)
	}
	if lookup.Device.MAC != "00:11:22:AA:BB:CC" {
		t.Fatalf("unexpected mac %q", lookup.Device.MAC)
	}
	if lookup.Device.Model != "Cisco 8845" {
		t.Fatalf("first matching device must win, got %q", lookup.Device.Model)
	}
}

func TestOwnedDeviceEmptyListIsNotFound(t *testing.T) {
	server := axlServer(t, map[string]string{
		"listPhone": envelope(emptyPhoneList),
	})
	defer server.Close()

	lookup := newTestClient(t, server).OwnedDevice("jdoe")
	if lookup.Outcome != OutcomeNotFound {
		t.Fatalf("expected not-found, got outcome %d err %v", lookup.Outcome, lookup.Err)
	}
}

func TestNotFoundFaultCollapsesToNotFound(t *testing.T) {
	calls := 0
	fault := envelope(`<soapenv:Fault><faultstring>Item was not found</faultstring></soapenv:Fault>`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", soapContentType)
			fmt.Fprint(w, envelope(emptyPhoneList))
			return
		}
		w.Header().Set("Content-Type", soapContentType)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, fault)
	}))
	defer server.Close()

	lookup := newTestClient(t, server).SecretCode("jdoe")
	if lookup.Outcome != OutcomeNotFound {
		t.Fatalf("expected not-found for missing-item fault, got outcome %d err %v", lookup.Outcome, lookup.Err)
	}
}

func TestBlankIdentityShortCircuits(t *testing.T) {
	client := NewClient(ClientConfig{})

	if lookup := client.SecretCode("  "); lookup.Outcome != OutcomeNotFound {
		t.Fatalf("blank uid must be not-found, got outcome %d", lookup.Outcome)
	}
	if lookup := client.OwnedDevice(""); lookup.Outcome != OutcomeNotFound {
		t.Fatalf("blank uid must be not-found, got outcome %d", lookup.Outcome)
	}
}
