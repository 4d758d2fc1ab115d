package ariston

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// testLogger records log calls for assertions.
type testLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	kv    []any
}

func (l *testLogger) record(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, kv: kv})
}

func (l *testLogger) Debug(msg string, kv ...any) { l.record("debug", msg, kv) }
func (l *testLogger) Info(msg string, kv ...any)  { l.record("info", msg, kv) }
func (l *testLogger) Warn(msg string, kv ...any)  { l.record("warn", msg, kv) }
func (l *testLogger) Error(msg string, kv ...any) { l.record("error", msg, kv) }

func (l *testLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg == msg {
			return true
		}
	}
	return false
}

func newTestClient(t *testing.T, handler http.Handler, logger Logger) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientOptions{
		BaseURL:        srv.URL + "/",
		RequestTimeout: 2 * time.Second,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c
}

func TestClient_LoginKeepsSessionCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/R2/Account/Login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("login method = %s, want POST", r.Method)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding login body: %v", err)
		}
		if body["email"] != "user@example.com" || body["password"] != "secret" {
			t.Errorf("login body = %v", body)
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v2/remote/plants/lite", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("session"); err != nil || ck.Value != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `[{"gwId":"GW1"},{"gwId":""},{"gwId":"GW2"}]`)
	})

	c := newTestClient(t, mux, nil)
	ctx := context.Background()

	if _, err := c.Gateways(ctx); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Gateways() before login error = %v, want ErrAuthentication", err)
	}
	if err := c.Login(ctx, "user@example.com", "secret"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	gws, err := c.Gateways(ctx)
	if err != nil {
		t.Fatalf("Gateways() error: %v", err)
	}
	if len(gws) != 2 || gws[0] != "GW1" || gws[1] != "GW2" {
		t.Errorf("Gateways() = %v, want [GW1 GW2]", gws)
	}
}

func TestClient_LoginFailureIsAuthentication(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusInternalServerError} {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}), nil)

		err := c.Login(context.Background(), "u", "p")
		if !errors.Is(err, ErrAuthentication) {
			t.Errorf("status %d: error = %v, want ErrAuthentication", status, err)
		}
		var rf *RequestFailedError
		if !errors.As(err, &rf) || rf.Endpoint != EndpointLogin || rf.Status != status {
			t.Errorf("status %d: RequestFailedError = %+v", status, rf)
		}
	}
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		call   func(*Client) error
		want   error
	}{
		{"read 401", http.StatusUnauthorized, func(c *Client) error {
			_, err := c.Errors(context.Background(), "GW1")
			return err
		}, ErrAuthentication},
		{"read 403", http.StatusForbidden, func(c *Client) error {
			_, err := c.Energy(context.Background(), "GW1")
			return err
		}, ErrAuthentication},
		{"read 404", http.StatusNotFound, func(c *Client) error {
			_, err := c.CHSchedule(context.Background(), "GW1")
			return err
		}, ErrUnsupportedParameter},
		{"read 502", http.StatusBadGateway, func(c *Client) error {
			_, err := c.MainData(context.Background(), "GW1", MainDataRequest{})
			return err
		}, ErrTransport},
		{"additional 500", http.StatusInternalServerError, func(c *Client) error {
			_, err := c.AdditionalParams(context.Background(), "GW1", []string{"U6_2_0"})
			return err
		}, ErrUnsupportedParameter},
		{"main data 500", http.StatusInternalServerError, func(c *Client) error {
			_, err := c.MainData(context.Background(), "GW1", MainDataRequest{})
			return err
		}, ErrTransport},
		{"write 409", http.StatusConflict, func(c *Client) error {
			return c.SetDHWTemperature(context.Background(), "GW1", 48, 45)
		}, ErrStaleWrite},
		{"write 412", http.StatusPreconditionFailed, func(c *Client) error {
			return c.SetPlantMode(context.Background(), "GW1", 1, 0)
		}, ErrStaleWrite},
		{"write 404", http.StatusNotFound, func(c *Client) error {
			return c.SetDHWMode(context.Background(), "GW1", 1, 0)
		}, ErrTransport},
		{"write 401", http.StatusUnauthorized, func(c *Client) error {
			return c.SetZoneMode(context.Background(), "GW1", 1, 1, 2)
		}, ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}), nil)

			err := tt.call(c)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_UnsupportedMenuBodyNotLogged(t *testing.T) {
	logger := &testLogger{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "<html>error page</html>")
	}), logger)

	if _, err := c.AdditionalParams(context.Background(), "GW1", []string{"U6_2_0"}); !errors.Is(err, ErrUnsupportedParameter) {
		t.Fatalf("error = %v, want ErrUnsupportedParameter", err)
	}
	if logger.has("remote request failed") {
		t.Error("unsupported menu reply should not be logged")
	}

	if _, err := c.Errors(context.Background(), "GW1"); !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	if !logger.has("remote request failed") {
		t.Error("unexpected failure should be logged")
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(ClientOptions{BaseURL: srv.URL, RequestTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}

	start := time.Now()
	_, err = c.Gateways(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded cause", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request took %v, timeout not applied", elapsed)
	}
}

func TestClient_DecodeFailureIsTransport(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}), nil)

	if _, err := c.Errors(context.Background(), "GW1"); !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

func TestClient_PlantFeaturesKeepsRawDocument(t *testing.T) {
	const doc = `{"zones":[{"num":1},{"num":2}],"hasDhw":true,"extra":"kept"}`
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v2/remote/plants/GW1/features") {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, doc)
	}), nil)

	f, err := c.PlantFeatures(context.Background(), "GW1")
	if err != nil {
		t.Fatalf("PlantFeatures() error: %v", err)
	}
	if !f.HasDHW || len(f.Zones) != 2 || f.Zones[1].Num != 2 {
		t.Errorf("features = %+v", f)
	}
	if string(f.Raw) != doc {
		t.Errorf("Raw = %s, want %s", f.Raw, doc)
	}
}

func TestClient_MainData(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/remote/dataItems/GW1/get" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req MainDataRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Items) != 1 || req.Items[0].ID != "DhwTemp" {
			t.Errorf("items = %+v", req.Items)
		}
		_, _ = io.WriteString(w, `{"items":[{"id":"DhwTemp","zn":0,"value":45,"unit":"°C","min":36,"max":60,"step":1}]}`)
	}), nil)

	items, err := c.MainData(context.Background(), "GW1", MainDataRequest{Items: []ItemRef{{ID: "DhwTemp"}}})
	if err != nil {
		t.Fatalf("MainData() error: %v", err)
	}
	if len(items) != 1 || items[0].Value != 45.0 || items[0].Max == nil || *items[0].Max != 60 {
		t.Errorf("items = %+v", items)
	}
}

func TestClient_WritePayloads(t *testing.T) {
	type captured struct {
		path string
		body string
	}
	var mu sync.Mutex
	var got []captured

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{path: r.URL.Path, body: strings.TrimSpace(string(data))})
		mu.Unlock()
	}), nil)
	ctx := context.Background()

	writes := []struct {
		w        WriteRequest
		wantPath string
		wantBody string
	}{
		{WriteRequest{Op: OpDHWTemperature, New: 48.0, Old: 45.0},
			"/api/v2/remote/plantData/GW1/dhwTemp", `{"new":48,"old":45}`},
		{WriteRequest{Op: OpZoneMode, Zone: 2, New: 1.0, Old: 2.0},
			"/api/v2/remote/zones/GW1/2/mode", `{"new":1,"old":2}`},
		{WriteRequest{Op: OpZoneTemperatures, Zone: 1,
			New: map[string]any{"comf": 22.0, "econ": 18.0},
			Old: map[string]any{"comf": 21.0, "econ": 18.0}},
			"/api/v2/remote/zones/GW1/1/temperatures", `{"new":{"comf":22,"econ":18},"old":{"comf":21,"econ":18}}`},
		{WriteRequest{Op: OpSubmitMenu, New: []MenuSubmit{{ID: "U6_9_0", NewValue: 1, OldValue: 0}}},
			"/R2/PlantMenu/Submit/GW1", `[{"id":"U6_9_0","newValue":1,"oldValue":0}]`},
	}

	for _, tt := range writes {
		if err := c.Write(ctx, "GW1", tt.w); err != nil {
			t.Fatalf("Write(%s) error: %v", tt.w.Op, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(writes) {
		t.Fatalf("server saw %d writes, want %d", len(got), len(writes))
	}
	for i, tt := range writes {
		if got[i].path != tt.wantPath {
			t.Errorf("write %d path = %s, want %s", i, got[i].path, tt.wantPath)
		}
		if got[i].body != tt.wantBody {
			t.Errorf("write %d body = %s, want %s", i, got[i].body, tt.wantBody)
		}
	}
}

func TestClient_WriteRejectsBadRequests(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	}), nil)

	if err := c.Write(context.Background(), "GW1", WriteRequest{Op: OpSubmitMenu, New: 1}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad submit payload error = %v, want ErrValidation", err)
	}
	if err := c.Write(context.Background(), "GW1", WriteRequest{Op: OpNone}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("no-op write error = %v, want ErrReadOnly", err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		class  endpointClass
		status int
		want   error
	}{
		{classLogin, http.StatusBadRequest, ErrAuthentication},
		{classRead, http.StatusUnauthorized, ErrAuthentication},
		{classRead, http.StatusNotFound, ErrUnsupportedParameter},
		{classRead, http.StatusInternalServerError, ErrTransport},
		{classAdditionalRead, http.StatusInternalServerError, ErrUnsupportedParameter},
		{classAdditionalRead, http.StatusNotFound, ErrUnsupportedParameter},
		{classWrite, http.StatusConflict, ErrStaleWrite},
		{classWrite, http.StatusPreconditionFailed, ErrStaleWrite},
		{classWrite, http.StatusNotFound, ErrTransport},
		{classWrite, http.StatusServiceUnavailable, ErrTransport},
		{classRead, http.StatusConflict, ErrTransport},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.class, tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d, %d) = %v, want %v", tt.class, tt.status, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	transport := &RequestFailedError{Endpoint: EndpointSetDHWTemp, Status: 503, Kind: ErrTransport}
	if !isRetryable(transport) {
		t.Error("transport failure should be retryable")
	}
	for _, kind := range []error{ErrAuthentication, ErrStaleWrite, ErrUnsupportedParameter, ErrValidation} {
		if isRetryable(&RequestFailedError{Endpoint: EndpointSetDHWTemp, Kind: kind}) {
			t.Errorf("%v should not be retryable", kind)
		}
	}
}

func TestRequestFailedError_Message(t *testing.T) {
	err := &RequestFailedError{Endpoint: EndpointEnergy, Status: 502, Kind: ErrTransport}
	if got := err.Error(); !strings.Contains(got, "energy") || !strings.Contains(got, "502") {
		t.Errorf("Error() = %q", got)
	}

	wrapped := &RequestFailedError{Endpoint: EndpointLogin, Kind: ErrTransport, Err: context.Canceled}
	if !errors.Is(wrapped, context.Canceled) || !errors.Is(wrapped, ErrTransport) {
		t.Error("RequestFailedError should unwrap to both kind and cause")
	}
}
