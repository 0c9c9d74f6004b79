package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_IngestsCompletedLogs(t *testing.T) {
	dir := t.TempDir()
	sink := newMemorySink()

	w, err := NewWatcher(dir, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(50 * time.Millisecond)

	ingested := make(chan string, 4)
	w.SetCallback(func(path string, units int, err error) {
		if err == nil {
			ingested <- filepath.Base(path)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	path := filepath.Join(dir, "shop_20250301_120000.jsonl")
	if err := os.WriteFile(path, []byte(`{"event":"task_completed","task":"a"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case name := <-ingested:
		t.Fatalf("ingested %s before run_completed", name)
	case <-time.After(300 * time.Millisecond):
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"event":"run_completed","exit_code":0}` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	select {
	case name := <-ingested:
		if name != "shop_20250301_120000.jsonl" {
			t.Errorf("ingested %s", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("completed log was not ingested")
	}

	run, ok := sink.run("20250301_120000")
	if !ok {
		t.Fatal("run missing from sink")
	}
	if run.Repo != "shop" || run.TasksCompleted != 1 {
		t.Errorf("run = %+v", run)
	}
}
