package history

import (
	"os"
	"testing"
	"time"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/model"
)

func TestTouchAndLastOpened(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Touch(7); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := LastOpened()
	if err != nil {
		t.Fatalf("last opened: %v", err)
	}
	if got[7] <= 0 {
		t.Fatalf("expected timestamp for server 7, got %+v", got)
	}
}

func TestCorruptHistoryIsIgnored(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path, err := appconfig.HistoryFilePath()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(appconfigDir(t), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LastOpened()
	if err != nil {
		t.Fatalf("last opened: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %+v", got)
	}
}

func appconfigDir(t *testing.T) string {
	t.Helper()
	d, err := appconfig.ConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestSortServersRecent(t *testing.T) {
	servers := []model.Server{
		{ID: 1, Name: "db"},
		{ID: 2, Name: "api"},
		{ID: 3, Name: "cache"},
	}
	now := time.Now().UnixNano()
	sorted := SortServersRecent(servers, map[int]int64{
		2: now,
		1: now - 60,
	})
	if sorted[0].Name != "api" || sorted[1].Name != "db" || sorted[2].Name != "cache" {
		t.Fatalf("unexpected order: %+v", sorted)
	}
	if servers[0].Name != "db" {
		t.Fatal("input slice must not be reordered")
	}
}
