package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/micro-nova/simcontacts/internal/api"
	"github.com/micro-nova/simcontacts/internal/auth"
	"github.com/micro-nova/simcontacts/internal/controller"
	"github.com/micro-nova/simcontacts/internal/events"
	"github.com/micro-nova/simcontacts/internal/models"
	"github.com/micro-nova/simcontacts/internal/modem"
	"github.com/micro-nova/simcontacts/internal/snapshot"
)

type testEnv struct {
	srv  *httptest.Server
	pub  *snapshot.Publisher
	ctrl *controller.Controller
	mgr  *modem.Mock
	bus  *events.Bus
}

// newTestServer spins up a full router over a controller fed by mock modems.
func newTestServer(t *testing.T, modems ...*modem.MockModem) *testEnv {
	t.Helper()
	return newTestServerWithAuth(t, "", modems...)
}

func newTestServerWithAuth(t *testing.T, keysDir string, modems ...*modem.MockModem) *testEnv {
	t.Helper()

	bus := events.NewBus()
	pub := snapshot.NewPublisher(snapshot.NewMemStore("/tmp/contacts-test.vcf"), bus)
	ctrl := controller.New(pub)
	mgr := modem.NewMock(modems...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx, mgr)
	}()

	authSvc, err := auth.NewService(keysDir)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	info := models.Info{Hostname: "test-host", Version: "9.9.9", Backend: "mock"}
	srv := httptest.NewServer(api.NewRouter(ctrl, pub, bus, info, authSvc))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		ctrl.Close()
		<-done
		authSvc.Close()
	})
	return &testEnv{srv: srv, pub: pub, ctrl: ctrl, mgr: mgr, bus: bus}
}

func quickModems(n int) []*modem.MockModem {
	ms := modem.DemoModems(n)
	for _, m := range ms {
		m.SetDelay(0)
	}
	return ms
}

// waitVersion blocks until the publisher has published at least v snapshots.
func (e *testEnv) waitVersion(t *testing.T, v uint64) models.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap := e.pub.Snapshot(); snap.Version >= v {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot version did not reach %d", v)
	return models.Snapshot{}
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *httptest.Server, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireStatus fails the test if the response status doesn't match.
func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

// --- Tests ---

func TestGetContacts_Empty(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, "GET", "/api/contacts")
	requireStatus(t, resp, http.StatusOK)

	var snap models.Snapshot
	decodeJSON(t, resp, &snap)
	if snap.HasContacts || snap.Contacts != "" {
		t.Errorf("snapshot = %+v, want empty", snap)
	}
	if snap.VCardFile != "file:///tmp/contacts-test.vcf" {
		t.Errorf("vcardFile = %q", snap.VCardFile)
	}
}

func TestGetContacts_Aggregated(t *testing.T) {
	ms := quickModems(2)
	env := newTestServer(t, ms...)
	env.waitVersion(t, 1)

	resp := do(t, env.srv, "GET", "/api/contacts")
	requireStatus(t, resp, http.StatusOK)

	var snap models.Snapshot
	decodeJSON(t, resp, &snap)
	if !snap.HasContacts {
		t.Fatal("hasContacts = false after import")
	}
	first := strings.Index(snap.Contacts, "SIM1 Contact 1")
	second := strings.Index(snap.Contacts, "SIM2 Contact 1")
	if first < 0 || second < 0 || first > second {
		t.Errorf("contacts not aggregated in discovery order:\n%s", snap.Contacts)
	}
	if n := strings.Count(snap.Contacts, "BEGIN:VCARD"); n != 6 {
		t.Errorf("got %d vCards, want 6", n)
	}
}

func TestGetContactsFile(t *testing.T) {
	env := newTestServer(t, quickModems(1)...)
	snap := env.waitVersion(t, 1)

	resp := do(t, env.srv, "GET", "/api/contacts.vcf")
	requireStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/vcard") {
		t.Errorf("Content-Type = %q, want text/vcard", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != snap.Contacts {
		t.Errorf("body does not match snapshot contacts:\n%s", body)
	}
}

func TestGetContactsFile_EmptyIsNoContent(t *testing.T) {
	env := newTestServer(t)
	resp := do(t, env.srv, "GET", "/api/contacts.vcf")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestGetModems(t *testing.T) {
	env := newTestServer(t, quickModems(2)...)
	env.waitVersion(t, 1)

	resp := do(t, env.srv, "GET", "/api/modems")
	requireStatus(t, resp, http.StatusOK)

	var modems []models.ModemStatus
	decodeJSON(t, resp, &modems)
	if len(modems) != 2 {
		t.Fatalf("got %d modems, want 2", len(modems))
	}
	for i, m := range modems {
		if !m.PhonebookValid || m.ImportState != models.ImportSucceeded {
			t.Errorf("modem %d = %+v", i, m)
		}
	}
	if modems[0].Handle != "/mock_0" {
		t.Errorf("first modem = %q, want /mock_0", modems[0].Handle)
	}
}

func TestRefresh(t *testing.T) {
	env := newTestServer(t, quickModems(1)...)
	env.waitVersion(t, 1)

	resp := do(t, env.srv, "POST", "/api/refresh")
	requireStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	env.waitVersion(t, 2)
	mm, _ := env.mgr.Modem("/mock_0")
	if mm.Imports() != 2 {
		t.Errorf("imports = %d, want 2 after refresh", mm.Imports())
	}
}

func TestGetCampaign_Idle(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, "GET", "/api/campaign")
	requireStatus(t, resp, http.StatusOK)

	var info models.CampaignInfo
	decodeJSON(t, resp, &info)
	if info.Phase != models.PhaseIdle {
		t.Errorf("phase = %v, want idle", info.Phase)
	}
}

func TestGetInfo(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, "GET", "/api/info")
	requireStatus(t, resp, http.StatusOK)

	var info models.Info
	decodeJSON(t, resp, &info)
	if info.Version != "9.9.9" || info.Backend != "mock" {
		t.Errorf("info = %+v", info)
	}
}

func TestNotFound_JSON(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, "GET", "/api/nonexistent")
	requireStatus(t, resp, http.StatusNotFound)

	var appErr models.AppError
	decodeJSON(t, resp, &appErr)
	if appErr.Code != "NOT_FOUND" {
		t.Errorf("error code = %q, want NOT_FOUND", appErr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, "DELETE", "/api/contacts")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestCORSOptions(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, http.MethodOptions, "/api/contacts")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, "api-key") {
		t.Errorf("Access-Control-Allow-Headers = %q", got)
	}
}

func TestAuthRequired(t *testing.T) {
	dir := t.TempDir()
	keys := `{"kiosk":{"key":"let-me-in"}}`
	if err := os.WriteFile(filepath.Join(dir, auth.KeysFileName), []byte(keys), 0o600); err != nil {
		t.Fatal(err)
	}
	env := newTestServerWithAuth(t, dir)

	resp := do(t, env.srv, "GET", "/api/contacts")
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = do(t, env.srv, "GET", "/api/contacts?api-key=let-me-in")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestSSESubscribe(t *testing.T) {
	env := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/subscribe", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := make(chan models.Snapshot, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var snap models.Snapshot
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err == nil {
				events <- snap
			}
		}
		close(events)
	}()

	first := <-events
	if first.HasContacts {
		t.Errorf("initial event = %+v, want empty snapshot", first)
	}
	if n := env.bus.SubscriberCount(); n != 1 {
		t.Errorf("subscribers = %d, want 1 while streaming", n)
	}

	// Plugging in a modem produces one contactsChanged event.
	mm := quickModems(1)[0]
	env.mgr.Add(mm)

	select {
	case snap, ok := <-events:
		if !ok {
			t.Fatal("stream closed before publish event")
		}
		if !snap.HasContacts || snap.Version != 1 {
			t.Errorf("published event = %+v", snap)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no SSE event after modem import")
	}
}
