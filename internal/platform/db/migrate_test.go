package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestMigratorLoad(t *testing.T) {
	files := fstest.MapFS{
		"002_catalog.sql": {Data: []byte("CREATE TABLE medication (id UUID PRIMARY KEY);")},
		"001_clinic.sql":  {Data: []byte("CREATE TABLE appointment (id UUID PRIMARY KEY);")},
		"010_reports.sql": {Data: []byte("SELECT 1;")},
		"README.md":       {Data: []byte("docs")},
		"notes.sql":       {Data: []byte("-- no version")},
		"abc_thing.sql":   {Data: []byte("-- bad version")},
	}

	migrations, err := NewMigrator(nil, files).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_clinic.sql" {
		t.Errorf("expected 001_clinic.sql first, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE appointment (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL: %s", migrations[0].SQL)
	}
}

func TestMigratorLoad_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, files).Load(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestMigratorLoad_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestPendingAndStatuses(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_clinic.sql"},
		{Version: 2, Name: "002_catalog.sql"},
		{Version: 3, Name: "003_reports.sql"},
	}
	appliedAt := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	done := map[int]time.Time{1: appliedAt}

	pending := Pending(migrations, done)
	if len(pending) != 2 || pending[0].Version != 2 || pending[1].Version != 3 {
		t.Fatalf("unexpected pending set: %+v", pending)
	}

	statuses := Statuses(migrations, done)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(appliedAt) {
		t.Errorf("expected migration 1 applied at %v, got %+v", appliedAt, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected migration 2 pending, got %+v", statuses[1])
	}
}
