package main

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/online-ide/internal/database"
)

func setupTestDBMain(t *testing.T) func() {
	t.Helper()
	var err error
	database.DB, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	sqlDB, _ := database.DB.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := database.DB.AutoMigrate(&database.Project{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return func() {
		sqlDB.Close()
		database.DB = nil
	}
}

func TestPurgeExpiredProjects_NoDatabase(t *testing.T) {
	database.DB = nil
	n, err := purgeExpiredProjects(time.Now())
	if n != 0 || err != nil {
		t.Fatalf("got %d, %v", n, err)
	}
}

func TestPurgeExpiredProjects_RemovesOnlyExpired(t *testing.T) {
	cleanup := setupTestDBMain(t)
	defer cleanup()

	short, err := database.CreateProject("py", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	long, err := database.CreateProject("c", "", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	forever, err := database.CreateProject("js", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	n, err := purgeExpiredProjects(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := database.GetProjectByPublicID(short.PublicID); err == nil {
		t.Error("expired project survived")
	}
	for _, p := range []*database.Project{long, forever} {
		if _, err := database.GetProjectByPublicID(p.PublicID); err != nil {
			t.Errorf("project %s removed: %v", p.PublicID, err)
		}
	}
}

func TestStartProjectPurgeJob(t *testing.T) {
	cleanup := setupTestDBMain(t)
	defer cleanup()

	if _, err := startProjectPurgeJob("not a schedule"); err == nil {
		t.Error("expected invalid schedule error")
	}

	c, err := startProjectPurgeJob("@every 1h")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("entries = %d", len(c.Entries()))
	}
	<-c.Stop().Done()
}
