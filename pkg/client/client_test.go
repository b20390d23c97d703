package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, New(Config{BaseURL: ts.URL + "/comfyui-cockpit", Token: "secret"})
}

func TestGetProcess(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/comfyui-cockpit/process" || r.Method != http.MethodGet {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "token secret" {
			t.Errorf("missing token header: %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(ProcessStatus{Status: "running", Message: "pid 7, uptime 0:00:03"})
	})
	st, err := c.GetProcess(context.Background())
	if err != nil {
		t.Fatalf("GetProcess: %v", err)
	}
	if st.Status != "running" || st.Message == "" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestControlProcessSendsAction(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Action != "stop" {
			t.Errorf("action=%q", req.Action)
		}
		_ = json.NewEncoder(w).Encode(ActionResponse{Status: "success", Message: "comfyui: stopped"})
	})
	resp, err := c.ControlProcess(context.Background(), "stop")
	if err != nil {
		t.Fatalf("ControlProcess: %v", err)
	}
	if resp.Status != "success" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestControlProcessErrorBody(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Status: "error", Message: "supervisorctl failed"})
	})
	_, err := c.ControlProcess(context.Background(), "start")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Message != "supervisorctl failed" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestControlProcessStatusErrorWith200(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ActionResponse{Status: "error", Message: "nope"})
	})
	if _, err := c.ControlProcess(context.Background(), "start"); err == nil {
		t.Fatal("expected error for status=error body")
	}
}

func TestVersionEndpoints(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Query().Get("action") == "list":
			_, _ = w.Write([]byte(`{"available_versions":["v0.3.1","v0.3.0"]}`))
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"comfyui_version":null}`))
		case r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"success":false,"message":"checkout failed","version":null}`))
		}
	})
	ctx := context.Background()
	info, err := c.GetVersion(ctx)
	if err != nil || info.ComfyUIVersion != nil {
		t.Fatalf("GetVersion: %+v %v", info, err)
	}
	list, err := c.ListVersions(ctx)
	if err != nil || len(list.AvailableVersions) != 2 {
		t.Fatalf("ListVersions: %+v %v", list, err)
	}
	res, err := c.SwitchVersion(ctx, "v0.3.0")
	if err != nil {
		t.Fatalf("SwitchVersion: %v", err)
	}
	if res.Success || res.Message != "checkout failed" {
		t.Fatalf("unexpected switch result: %+v", res)
	}
}

func TestListVersionsNeverNil(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	list, err := c.ListVersions(context.Background())
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if list.AvailableVersions == nil {
		t.Fatal("expected empty slice")
	}
}

func TestSocketURL(t *testing.T) {
	cases := []struct {
		base, token, want string
	}{
		{"http://host:8080/comfyui-cockpit", "", "ws://host:8080/comfyui-cockpit/socket"},
		{"https://host/api/comfyui-cockpit/", "", "wss://host/api/comfyui-cockpit/socket"},
		{"http://host/comfyui-cockpit", "abc", "ws://host/comfyui-cockpit/socket?token=abc"},
	}
	for _, tc := range cases {
		c := New(Config{BaseURL: tc.base, Token: tc.token})
		got, err := c.SocketURL()
		if err != nil {
			t.Fatalf("SocketURL(%s): %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("SocketURL(%s)=%s want %s", tc.base, got, tc.want)
		}
	}
}

func TestIsReachable(t *testing.T) {
	ts, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"stopped","message":""}`))
	})
	if !c.IsReachable(context.Background()) {
		t.Fatal("expected reachable")
	}
	ts.Close()
	if c.IsReachable(context.Background()) {
		t.Fatal("expected unreachable after close")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaseURL != DefaultBaseURL || cfg.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	c := New(Config{})
	if c.BaseURL() != DefaultBaseURL {
		t.Fatalf("BaseURL=%s", c.BaseURL())
	}
}
