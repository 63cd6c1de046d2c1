package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseMarkSchemaScheduledOnce(t *testing.T) {
	db := NewDatabase("inventory")
	var wg sync.WaitGroup
	var winners int32
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if db.MarkSchemaScheduled() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("expected exactly one goroutine to win MarkSchemaScheduled, got %d", winners)
	}
	if !db.SchemaScheduled() {
		t.Error("expected SchemaScheduled to be true after a successful MarkSchemaScheduled")
	}
}

func TestTableWorkerCap(t *testing.T) {
	tbl := &Table{Database: "shop", Name: "orders", MaxThreads: 2}
	if !tbl.TryAcquireWorker() {
		t.Fatal("expected first acquire to succeed")
	}
	if !tbl.TryAcquireWorker() {
		t.Fatal("expected second acquire to succeed")
	}
	if tbl.TryAcquireWorker() {
		t.Fatal("expected third acquire to fail at MaxThreads=2")
	}
	tbl.ReleaseWorker()
	if !tbl.TryAcquireWorker() {
		t.Fatal("expected acquire to succeed again after a release")
	}
}

func TestTableJobOrdering(t *testing.T) {
	tbl := &Table{Database: "shop", Name: "orders"}
	if tbl.HasPendingJobs() {
		t.Fatal("expected no pending jobs on a fresh table")
	}
	j1 := &Job{Kind: JobRestoreData, Chunk: 1}
	j2 := &Job{Kind: JobRestoreData, Chunk: 2}
	tbl.AttachJob(j1)
	tbl.AttachJob(j2)

	if got := tbl.NextJob(); got != j1 {
		t.Error("expected FIFO ordering: first attached job should be returned first")
	}
	if got := tbl.NextJob(); got != j2 {
		t.Error("expected second attached job after the first is popped")
	}
	if tbl.NextJob() != nil {
		t.Error("expected nil once all jobs are drained")
	}
}

func TestConfigurationTableRegistryIsSingleton(t *testing.T) {
	cfg := NewConfiguration(4)
	a := cfg.Table("shop", "orders")
	b := cfg.Table("shop", "orders")
	assert.Same(t, a, b, "repeated Table() calls for the same key should return the same *Table")
	assert.Nil(t, cfg.TableIfExists("shop", "missing"))
}

func TestJobKindString(t *testing.T) {
	assert.Equal(t, "shutdown", JobShutdown.String())
}
