package queue

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/skeema/mydump/internal/model"
)

func TestBinPackDistributesByLowestRunningSum(t *testing.T) {
	tables := []*model.Table{
		{Database: "shop", Name: "a", DataSize: 100},
		{Database: "shop", Name: "b", DataSize: 90},
		{Database: "shop", Name: "c", DataSize: 10},
		{Database: "shop", Name: "d", DataSize: 5},
	}
	lists := BinPack(tables, 2)
	if len(lists) != 2 {
		t.Fatalf("expected 2 lists, found %d", len(lists))
	}
	sumOf := func(l []*model.Table) int64 {
		var s int64
		for _, t := range l {
			s += t.DataSize
		}
		return s
	}
	s0, s1 := sumOf(lists[0]), sumOf(lists[1])
	diff := s0 - s1
	if diff < 0 {
		diff = -diff
	}
	if diff > 10 {
		t.Errorf("expected roughly balanced sums, found %d and %d", s0, s1)
	}
}

func TestBinPackEmptyInput(t *testing.T) {
	if lists := BinPack(nil, 4); lists != nil {
		t.Errorf("expected nil for empty input, found %v", lists)
	}
}

func TestBinPackZeroWorkers(t *testing.T) {
	tables := []*model.Table{{Database: "shop", Name: "a", DataSize: 1}}
	if lists := BinPack(tables, 0); lists != nil {
		t.Errorf("expected nil for zero workers, found %v", lists)
	}
}

func TestPoolRunDrainsQueueAndShutsDown(t *testing.T) {
	cfg := model.NewConfiguration(2)
	var executed int32
	handle := func(ctx context.Context, worker int, job *model.Job) error {
		atomic.AddInt32(&executed, 1)
		return nil
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	pool := NewPool(cfg, 2, log, handle)

	cfg.MainQueue <- &model.Job{Kind: model.JobDumpTableData, Database: "shop", Table: "orders"}
	cfg.MainQueue <- &model.Job{Kind: model.JobDumpTableData, Database: "shop", Table: "customers"}
	pool.Shutdown()

	done := make(chan struct{})
	go func() {
		pool.Run(context.Background())
		close(done)
	}()
	<-done

	if executed != 2 {
		t.Errorf("expected 2 jobs executed, found %d", executed)
	}
}

func TestFinishNonInnoDBPushesGateOnlyWhenDone(t *testing.T) {
	cfg := model.NewConfiguration(1)
	pool := &Pool{Config: cfg, NumThreads: 1}

	pool.finishNonInnoDB()
	select {
	case <-cfg.UnlockTablesGate:
		t.Fatal("expected no gate push before counter reaches zero and done is set")
	default:
	}

	cfg.NonInnoDBDone = 1
	pool.finishNonInnoDB()
	select {
	case <-cfg.UnlockTablesGate:
	default:
		t.Fatal("expected gate push once counter is zero and done is set")
	}
}
