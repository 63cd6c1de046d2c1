package plan

import (
	"testing"

	"github.com/skeema/mydump/internal/model"
)

func TestClassifyEngineInnoDBIsTransactional(t *testing.T) {
	row := tableStatusRow{name: "orders", engine: "InnoDB", comment: ""}
	if got := classifyEngine(row); got != model.EngineTransactional {
		t.Errorf("expected EngineTransactional, found %v", got)
	}
}

func TestClassifyEngineMyISAMIsNonTransactional(t *testing.T) {
	row := tableStatusRow{name: "logs", engine: "MyISAM", comment: ""}
	if got := classifyEngine(row); got != model.EngineNonTransactional {
		t.Errorf("expected EngineNonTransactional, found %v", got)
	}
}

func TestClassifyEngineViewByNullEngine(t *testing.T) {
	row := tableStatusRow{name: "active_orders", engine: "", comment: ""}
	if got := classifyEngine(row); got != model.EngineView {
		t.Errorf("expected EngineView for empty engine, found %v", got)
	}
}

func TestClassifyEngineViewByComment(t *testing.T) {
	row := tableStatusRow{name: "active_orders", engine: "", comment: "VIEW"}
	if got := classifyEngine(row); got != model.EngineView {
		t.Errorf("expected EngineView for VIEW comment, found %v", got)
	}
}

func TestClassifyEngineTokuDBIsTransactional(t *testing.T) {
	row := tableStatusRow{name: "orders", engine: "TokuDB"}
	if got := classifyEngine(row); got != model.EngineTransactional {
		t.Errorf("expected EngineTransactional for TokuDB, found %v", got)
	}
}

func TestSplitQualified(t *testing.T) {
	db, table, err := splitQualified("shop.orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db != "shop" || table != "orders" {
		t.Errorf("expected (shop, orders), found (%s, %s)", db, table)
	}
}

func TestSplitQualifiedRejectsUnqualified(t *testing.T) {
	if _, _, err := splitQualified("orders"); err == nil {
		t.Error("expected error for unqualified table name")
	}
}

func TestScheduleSchemaDumpOnlyOnce(t *testing.T) {
	cfg := model.NewConfiguration(1)
	p := New(nil, nil, cfg, Options{})

	p.scheduleSchemaDump("shop")
	p.scheduleSchemaDump("shop")

	jobs := drainQueue(cfg.MainQueue)
	count := 0
	for _, j := range jobs {
		if j.Kind == model.JobDumpSchema && j.Database == "shop" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly 1 DumpSchema job for shop, found %d", count)
	}
}

func drainQueue(ch chan *model.Job) []*model.Job {
	var jobs []*model.Job
	for {
		select {
		case j := <-ch:
			jobs = append(jobs, j)
		default:
			return jobs
		}
	}
}

func TestToStringAndToInt64(t *testing.T) {
	if got := toString([]byte("InnoDB")); got != "InnoDB" {
		t.Errorf("expected InnoDB, found %q", got)
	}
	if got := toString(nil); got != "" {
		t.Errorf("expected empty string for nil, found %q", got)
	}
	if got := toInt64([]byte("12345")); got != 12345 {
		t.Errorf("expected 12345, found %d", got)
	}
	if got := toInt64(nil); got != 0 {
		t.Errorf("expected 0 for nil, found %d", got)
	}
}
