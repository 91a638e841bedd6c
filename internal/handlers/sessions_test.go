package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gluk-w/online-ide/internal/config"
	"github.com/gluk-w/online-ide/internal/session"
)

func TestListAndCloseSessions(t *testing.T) {
	srv, _ := setupIDEServer(t, nil)
	c := dialIDE(t, srv, "")

	resp, err := http.DefaultClient.Do(adminRequest(t, http.MethodGet, srv.URL+"/api/v1/sessions"))
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(body.Sessions) != 1 {
		t.Fatalf("sessions = %+v", body.Sessions)
	}
	info := body.Sessions[0]
	if info.Key != "127.0.0.1" || info.State != session.StateIdle {
		t.Errorf("info = %+v", info)
	}

	req := adminRequest(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+info.ID)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	select {
	case <-c.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("client socket still open")
	}
	waitSessions(t, 0)

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d", resp.StatusCode)
	}
}

func TestSessionRoutesRequireAdminToken(t *testing.T) {
	srv, _ := setupIDEServer(t, nil)
	dialIDE(t, srv, "")
	waitSessions(t, 1)

	list, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/sessions", nil)
	resp, err := http.DefaultClient.Do(list)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("list without token: status = %d", resp.StatusCode)
	}

	id := Sessions.List()[0].ID
	del, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/sessions/"+id, nil)
	del.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(del)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("delete with wrong token: status = %d", resp.StatusCode)
	}
	if Sessions.Count() != 1 {
		t.Errorf("session closed without a valid token")
	}

	config.Cfg.AdminToken = ""
	resp, err = http.DefaultClient.Do(adminRequest(t, http.MethodGet, srv.URL+"/api/v1/sessions"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("list with admin API disabled: status = %d", resp.StatusCode)
	}
}

func TestListSessionsWithoutRegistry(t *testing.T) {
	Sessions = nil
	srv := newJSONServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string][]session.Info
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["sessions"] == nil || len(body["sessions"]) != 0 {
		t.Errorf("body = %v", body)
	}
}
