package restore

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/skeema/mydump/internal/model"
)

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// TestRestoreOrderingSchemaBeforeData drives a full demux->classify->pool
// round trip for one table and asserts no RestoreData job ever executes
// before the table's RestoreSchema job.
func TestRestoreOrderingSchemaBeforeData(t *testing.T) {
	cfg := model.NewConfiguration(2)
	queues := NewQueues()
	intermediate := NewQueue()
	wake := NewQueue()
	log := discardLogger()

	c := NewClassifier(cfg, queues, intermediate, wake, log)

	var mu sync.Mutex
	var order []string
	handler := func(ctx context.Context, job *model.Job) error {
		mu.Lock()
		order = append(order, job.Kind.String()+":"+job.FilePath)
		mu.Unlock()
		return nil
	}

	pool := NewPool(cfg, queues, 2, log, handler, wake)

	// Feed the intermediate queue out of dependency order: data and
	// metadata before the table's schema has been classified, followed
	// by the schema files that unblock them.
	go func() {
		intermediate.Push("db.t.00000.sql")
		intermediate.Push("db.t-metadata")
		intermediate.Push("db-schema-create.sql")
		intermediate.Push("db.t-schema.sql")
		intermediate.Push("END")
	}()

	classifyDone := make(chan error, 1)
	go func() { classifyDone <- c.Run(context.Background()) }()

	poolDone := make(chan struct{})
	go func() {
		pool.Run(context.Background())
		close(poolDone)
	}()

	if err := <-classifyDone; err != nil {
		t.Fatalf("classifier: %v", err)
	}
	pool.Shutdown()
	<-poolDone

	mu.Lock()
	defer mu.Unlock()
	schemaIdx, dataIdx := -1, -1
	for i, entry := range order {
		if entry == "restore-schema:db.t-schema.sql" {
			schemaIdx = i
		}
		if entry == "restore-data:db.t.00000.sql" {
			dataIdx = i
		}
	}
	if schemaIdx == -1 || dataIdx == -1 {
		t.Fatalf("expected both schema and data jobs to run, got %v", order)
	}
	if dataIdx < schemaIdx {
		t.Errorf("data job ran before schema job: %v", order)
	}
}

// TestPoolFallsBackToAnyTableDataWhenSoleTableIsCapped exercises
// give_any_data_job's uncapped fallback tier: with only one table in
// flight, once it's at its concurrency cap every other worker has nothing
// else to dequeue and must be given one of its jobs anyway rather than
// spin forever re-pushing its wake token.
func TestPoolFallsBackToAnyTableDataWhenSoleTableIsCapped(t *testing.T) {
	cfg := model.NewConfiguration(4)
	queues := NewQueues()
	wake := NewQueue()
	log := discardLogger()

	table := cfg.Table("db", "t")
	table.MaxThreads = 1
	for i := 0; i < 5; i++ {
		table.AttachJob(&model.Job{Kind: model.JobRestoreData, Database: "db", Table: "t", FilePath: "f"})
		wake.Push("")
	}

	var processed int32
	handler := func(ctx context.Context, job *model.Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}

	pool := NewPool(cfg, queues, 4, log, handler, wake)
	done := make(chan struct{})
	go func() {
		pool.Run(context.Background())
		close(done)
	}()
	pool.Shutdown()
	<-done

	if processed != 5 {
		t.Errorf("expected all 5 jobs to be processed without deadlocking on the per-table cap, got %d", processed)
	}
}

// TestDequeuePrefersCappedSlotThenFallsBackWhenFull unit-tests the
// priority order dequeue implements directly: a table with a free slot
// satisfies the capped tier and reports acquired=true; once its slot is
// taken, a further call still returns its remaining job through the
// uncapped fallback tier, reporting acquired=false so the caller knows not
// to release a slot that was never taken.
func TestDequeuePrefersCappedSlotThenFallsBackWhenFull(t *testing.T) {
	cfg := model.NewConfiguration(2)
	queues := NewQueues()
	table := cfg.Table("db", "t")
	table.MaxThreads = 1
	table.AttachJob(&model.Job{Kind: model.JobRestoreData, Database: "db", Table: "t", FilePath: "a"})
	table.AttachJob(&model.Job{Kind: model.JobRestoreData, Database: "db", Table: "t", FilePath: "b"})

	pool := NewPool(cfg, queues, 2, discardLogger(), nil, nil)

	job, acquired, ok := pool.dequeue()
	if !ok || job == nil || !acquired {
		t.Fatalf("expected the first dequeue to acquire the table's free slot, got job=%v acquired=%v ok=%v", job, acquired, ok)
	}

	job, acquired, ok = pool.dequeue()
	if !ok || job == nil {
		t.Fatalf("expected the second dequeue to fall back to the capped table's remaining job, got job=%v ok=%v", job, ok)
	}
	if acquired {
		t.Error("expected the fallback tier to report acquired=false, since no slot was taken")
	}

	if _, _, ok := pool.dequeue(); ok {
		t.Error("expected no more jobs once both have been dequeued")
	}
}
