package migrate

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestEmptyDSN(t *testing.T) {
	if err := Run("", "up"); !errors.Is(err, ErrNoDSN) {
		t.Errorf("Run err = %v, want ErrNoDSN", err)
	}
	if _, _, err := Version(""); !errors.Is(err, ErrNoDSN) {
		t.Errorf("Version err = %v, want ErrNoDSN", err)
	}
	if err := Force("", 1); !errors.Is(err, ErrNoDSN) {
		t.Errorf("Force err = %v, want ErrNoDSN", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "invalid", "UP", "Down", "both"} {
		t.Run(direction, func(t *testing.T) {
			err := Run("postgres://localhost/test", direction)
			if err == nil || !strings.Contains(err.Error(), "direction must be up or down") {
				t.Fatalf("Run(%q) err = %v", direction, err)
			}
		})
	}
}

func TestForce_NegativeVersion(t *testing.T) {
	if err := Force("postgres://localhost/test", -2); err == nil {
		t.Fatal("Force(-2) should fail")
	}
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	src, err := os.ReadDir("../migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range src {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) < 4 {
		t.Errorf("up migrations = %d, want >= 4", len(ups))
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}

func TestRun_UpThenVersion(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	if err := Run(dsn, "up"); err != nil {
		t.Fatalf("Run up: %v", err)
	}
	if err := Run(dsn, "up"); err != nil {
		t.Fatalf("Run up again: %v", err)
	}
	v, dirty, err := Version(dsn)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if dirty || v < 4 {
		t.Errorf("Version = %d dirty=%v, want >= 4 and clean", v, dirty)
	}
}
