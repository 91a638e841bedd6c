package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/online-ide/internal/database"
	"github.com/gluk-w/online-ide/internal/runner"
	"github.com/gluk-w/online-ide/internal/sandbox"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	var err error
	database.DB, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := database.DB.DB()
	if err != nil {
		t.Fatal(err)
	}
	// Every pooled connection would get its own :memory: database.
	sqlDB.SetMaxOpenConns(1)
	if err := database.DB.AutoMigrate(&database.Project{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
		database.DB = nil
	})
}

// newJSONServer serves the plain HTTP API routes.
func newJSONServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := chi.NewRouter()
	mux.Get("/health", HealthCheck)
	mux.Get("/api/v1/sessions", ListSessions)
	mux.Post("/api/v1/projects", CreateProject)
	mux.Get("/api/v1/projects/{publicId}", GetProject)
	mux.Post("/api/v1/projects/{publicId}/unlock", UnlockProject)
	mux.Get("/api/v1/server-logs", GetServerLogs)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateAndGetProject(t *testing.T) {
	setupTestDB(t)
	Runner = runner.New(nil)
	t.Cleanup(func() { Runner = nil })
	srv := newJSONServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/projects", "application/json",
		strings.NewReader(`{"lang":"python","pass":"hunter2","ttl":3600}`))
	if err != nil {
		t.Fatal(err)
	}
	var created createProjectResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if created.Lang != "py" || created.TTL != 3600 || created.EditID == "" {
		t.Errorf("created = %+v", created)
	}

	resp, err = http.Get(srv.URL + "/api/v1/projects/" + created.PublicID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&got)
	if got["public_id"] != created.PublicID || got["lang"] != "py" {
		t.Errorf("project = %v", got)
	}
	if _, ok := got["pass"]; ok {
		t.Error("pass leaked")
	}
	if _, ok := got["edit_id"]; ok {
		t.Error("edit_id leaked")
	}
}

func TestUnlockProject(t *testing.T) {
	setupTestDB(t)
	Runner = runner.New(nil)
	t.Cleanup(func() { Runner = nil })
	srv := newJSONServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/projects", "application/json",
		strings.NewReader(`{"lang":"c","pass":"open sesame"}`))
	if err != nil {
		t.Fatal(err)
	}
	var created createProjectResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	stored, err := database.GetProjectByPublicID(created.PublicID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Pass == "open sesame" || stored.Pass == "" {
		t.Errorf("password stored as %q", stored.Pass)
	}

	unlock := func(pass string) (int, map[string]string) {
		body, _ := json.Marshal(map[string]string{"pass": pass})
		resp, err := http.Post(srv.URL+"/api/v1/projects/"+created.PublicID+"/unlock", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out map[string]string
		json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	if code, _ := unlock("wrong"); code != http.StatusForbidden {
		t.Errorf("wrong password: status = %d", code)
	}
	code, out := unlock("open sesame")
	if code != http.StatusOK || out["edit_id"] != created.EditID {
		t.Errorf("unlock = %d %v", code, out)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	setupTestDB(t)
	Runner = runner.New(nil)
	t.Cleanup(func() { Runner = nil })
	srv := newJSONServer(t)

	for _, body := range []string{
		`{"pass":"x"}`,
		`{"lang":"cobol"}`,
		`{"lang":"py","unknown":1}`,
		`{"lang":"py","ttl":9223372036854775807}`,
		`not json`,
	} {
		resp, err := http.Post(srv.URL+"/api/v1/projects", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, resp.StatusCode)
		}
	}
}

func TestGetProjectNotFound(t *testing.T) {
	setupTestDB(t)
	srv := newJSONServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/projects/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestIDE_ProjectScopesSandbox(t *testing.T) {
	setupTestDB(t)
	p, err := database.CreateProject("py", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	srv, usersPath := setupIDEServer(t, nil)
	c := dialIDE(t, srv, "?eid="+p.EditID)

	c.sendControl(t, "save", map[string]string{"path": "main.py", "data": "print(1)"})
	c.waitFor(t, "saveconf", 5*time.Second)
	if _, err := readFile(usersPath, sandbox.ProjectsDir, p.PublicID, "127.0.0.1", "main.py"); err != nil {
		t.Fatalf("project sandbox not used: %v", err)
	}
	if _, err := readFile(usersPath, "127.0.0.1", "main.py"); err == nil {
		t.Error("project save landed in the anonymous sandbox")
	}
	if s := onlySession(t); s.Project.PublicID != p.PublicID {
		t.Errorf("session project = %q", s.Project.PublicID)
	}
}

func TestHealthCheck(t *testing.T) {
	setupTestDB(t)
	srv := newJSONServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "healthy" || body["database"] != "connected" || body["sessions"] != float64(0) {
		t.Errorf("health = %v", body)
	}
}

func TestHealthCheckWithoutDatabase(t *testing.T) {
	database.DB = nil
	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest("GET", "/health", nil))
	if !strings.Contains(rec.Body.String(), `"unhealthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
