package panel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "app-key", "client-key", zerolog.Nop())
}

func TestTransportErrorHasNoStatus(t *testing.T) {
	// Point at a closed server to force a connection failure.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "app-key", "client-key", zerolog.Nop())
	_, err := c.GetServer(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransportError(err) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if !strings.HasPrefix(err.Error(), "connection error: ") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestAPIErrorExtractsFirstDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"errors":[{"code":"ValidationException","status":"422","detail":"The name field is required."},{"detail":"second"}]}`)
	})

	_, err := c.GetServer(context.Background(), 42)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != 422 {
		t.Errorf("status = %d", apiErr.Status)
	}
	if apiErr.Detail != "The name field is required." {
		t.Errorf("detail = %q", apiErr.Detail)
	}
}

func TestAPIErrorFallsBackToUnknown(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `<html>gateway exploded</html>`)
	})

	_, err := c.GetServer(context.Background(), 42)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Detail != "Unknown error" {
		t.Errorf("detail = %q", apiErr.Detail)
	}
	if apiErr.Status != 500 {
		t.Errorf("status = %d", apiErr.Status)
	}
}

func TestNoContentIsSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.SuspendServer(context.Background(), 7); err != nil {
		t.Errorf("204 should be success: %v", err)
	}
}

func TestCredentialScopesNeverMix(t *testing.T) {
	var appAuth, clientAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/client/") {
			clientAuth = r.Header.Get("Authorization")
		} else {
			appAuth = r.Header.Get("Authorization")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	c.SuspendServer(ctx, 1)
	c.CreateBackup(ctx, "uuid-1")

	if appAuth != "Bearer app-key" {
		t.Errorf("application call used %q", appAuth)
	}
	if clientAuth != "Bearer client-key" {
		t.Errorf("client call used %q", clientAuth)
	}
}

func TestLookupUserByEmail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filter[email]") == "known@panel.local" {
			io.WriteString(w, `{"object":"list","data":[{"object":"user","attributes":{"id":9,"username":"known","email":"known@panel.local"}}]}`)
			return
		}
		io.WriteString(w, `{"object":"list","data":[]}`)
	})

	ctx := context.Background()
	user, found, err := c.LookupUserByEmail(ctx, "known@panel.local")
	if err != nil || !found {
		t.Fatalf("expected match: found=%v err=%v", found, err)
	}
	if user.ID != 9 || user.Username != "known" {
		t.Errorf("unexpected user: %+v", user)
	}

	_, found, err = c.LookupUserByEmail(ctx, "missing@panel.local")
	if err != nil {
		t.Fatalf("absence must not be an error: %v", err)
	}
	if found {
		t.Error("expected no match")
	}
}

func TestCreateServerComposesPayload(t *testing.T) {
	var payload map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		io.WriteString(w, `{"object":"server","attributes":{"id":101,"uuid":"abc","name":"survival","user":9,"limits":{"memory":2048,"swap":0,"disk":5000,"io":500,"cpu":100}}}`)
	})

	srv, err := c.CreateServer(context.Background(), CreateServerInput{
		Name:         "survival",
		UserID:       9,
		EggID:        7,
		DockerImage:  "ghcr.io/pterodactyl/yolks:java_17",
		AllocationID: 31,
		Memory:       2048,
		CPU:          100,
		Disk:         5000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if srv.ID != 101 {
		t.Errorf("server id = %d", srv.ID)
	}

	limits := payload["limits"].(map[string]any)
	if limits["swap"].(float64) != 0 || limits["io"].(float64) != 500 {
		t.Errorf("default swap/io not applied: %v", limits)
	}
	features := payload["feature_limits"].(map[string]any)
	if features["databases"].(float64) != 1 || features["backups"].(float64) != 2 {
		t.Errorf("feature limits wrong: %v", features)
	}
	alloc := payload["allocation"].(map[string]any)
	if alloc["default"].(float64) != 31 {
		t.Errorf("allocation wrong: %v", alloc)
	}
	if payload["startup"].(string) != "" {
		t.Errorf("startup should default empty")
	}
}

func TestFirstFreeAllocation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"object":"list","data":[
			{"object":"allocation","attributes":{"id":11,"assigned":true}},
			{"object":"allocation","attributes":{"id":12,"assigned":false}},
			{"object":"allocation","attributes":{"id":13,"assigned":false}}]}`)
	})

	id, fallback := c.FirstFreeAllocation(context.Background(), 3)
	if fallback {
		t.Error("unexpected fallback")
	}
	if id != 12 {
		t.Errorf("expected first unassigned id 12, got %d", id)
	}
}

func TestFirstFreeAllocationFallbackWhenNoneFree(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"object":"list","data":[{"object":"allocation","attributes":{"id":11,"assigned":true}}]}`)
	})

	id, fallback := c.FirstFreeAllocation(context.Background(), 3)
	if !fallback || id != FallbackAllocationID {
		t.Errorf("expected loud fallback, got id=%d fallback=%v", id, fallback)
	}
}

func TestFirstFreeAllocationFallbackOnListingFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	id, fallback := c.FirstFreeAllocation(context.Background(), 3)
	if !fallback || id != FallbackAllocationID {
		t.Errorf("expected fallback on listing failure, got id=%d fallback=%v", id, fallback)
	}
}

func TestResizePayloadPreservesAllocation(t *testing.T) {
	var payload map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		io.WriteString(w, `{"object":"server","attributes":{"id":42,"limits":{"memory":4096,"swap":0,"disk":5000,"io":500,"cpu":100}}}`)
	})

	_, err := c.UpdateServerBuild(context.Background(), 42, 8, Limits{Memory: 4096, Disk: 5000, IO: 500, CPU: 100})
	if err != nil {
		t.Fatalf("update build: %v", err)
	}
	if payload["allocation"].(float64) != 8 {
		t.Errorf("allocation = %v", payload["allocation"])
	}
}
