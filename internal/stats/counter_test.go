package stats

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCounter_PersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")

	c := Load(path)
	c.Increment()
	c.Increment()
	c.Event("thread")
	c.Event("thread")
	c.Event("")
	c.Event("market")
	c.Flush()

	again := Load(path)
	snap := again.Snapshot()
	if snap.Completions != 2 || snap.Events != 4 {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := snap.TopCommands(); len(got) != 2 || got[0] != "thread" || got[1] != "market" {
		t.Errorf("TopCommands = %v", got)
	}
}

func TestCounter_FlushesEveryN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	c := Load(path)
	for i := 0; i < flushEveryN; i++ {
		c.Increment()
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file after %d increments: %v", flushEveryN, err)
	}
}

func TestCounter_CorruptFileStartsFromZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if snap := Load(path).Snapshot(); snap.Completions != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCounter_RunFlushesOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	c := Load(path)
	c.Increment()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if Load(path).Snapshot().Completions != 1 {
		t.Error("Run did not flush on shutdown")
	}
}

func TestCounter_NoPath(t *testing.T) {
	c := Load("")
	c.Increment()
	c.Flush()
	if c.Snapshot().Completions != 1 {
		t.Error("in-memory counting broken")
	}
}
