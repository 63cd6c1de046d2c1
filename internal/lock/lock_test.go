package lock

import "testing"

func TestBuildLockTableStatement(t *testing.T) {
	stmt := buildLockTableStatement([]string{"orders", "customers"})
	want := "LOCK TABLE `orders` READ, `customers` READ"
	if stmt != want {
		t.Errorf("expected %q, found %q", want, stmt)
	}
}

func TestBuildLockTableStatementQualifiesSchemaAndTableSeparately(t *testing.T) {
	stmt := buildLockTableStatement([]string{"shop.orders", "shop.customers"})
	want := "LOCK TABLE `shop`.`orders` READ, `shop`.`customers` READ"
	if stmt != want {
		t.Errorf("expected %q, found %q", want, stmt)
	}
}

func TestRemoveTable(t *testing.T) {
	tables := []string{"shop.orders", "shop.customers", "shop.products"}
	result := removeTable(tables, "shop.customers")
	if len(result) != 2 {
		t.Fatalf("expected 2 remaining tables, found %d: %v", len(result), result)
	}
	for _, r := range result {
		if r == "shop.customers" {
			t.Error("expected shop.customers to be removed")
		}
	}
}

func TestReTableFromLockError(t *testing.T) {
	err := "Error 1100: Table 'shop.orders' was not locked with LOCK TABLES"
	m := reTableFromLockError.FindStringSubmatch(err)
	if m == nil || m[1] != "shop.orders" {
		t.Errorf("expected to extract table name shop.orders, found %v", m)
	}
}
