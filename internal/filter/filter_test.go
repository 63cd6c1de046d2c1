package filter

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestAcceptNoOptions(t *testing.T) {
	f := New()
	if !f.Accept("shop", "orders") {
		t.Error("expected unconfigured filter to accept everything")
	}
}

func TestAcceptAllowlist(t *testing.T) {
	f := New(WithTables([]string{"Orders", "Customers"}))
	if !f.Accept("shop", "orders") {
		t.Error("expected case-insensitive allowlist match to accept")
	}
	if f.Accept("shop", "products") {
		t.Error("expected table not in allowlist to be rejected")
	}
}

func TestAcceptSkipList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skip.txt")
	if err := os.WriteFile(path, []byte("# comment\nshop.orders\n\n"), 0644); err != nil {
		t.Fatal(err)
	}
	f := New(WithSkipListFile(path))
	if f.Accept("shop", "orders") {
		t.Error("expected skiplisted table to be rejected")
	}
	if !f.Accept("shop", "customers") {
		t.Error("expected non-skiplisted table to be accepted")
	}
}

func TestAcceptRegexp(t *testing.T) {
	f := New(WithRegexp(regexp.MustCompile(`^shop\.`)))
	if !f.Accept("shop", "orders") {
		t.Error("expected regex match to accept")
	}
	if f.Accept("billing", "invoices") {
		t.Error("expected regex mismatch to reject")
	}
}

func TestAcceptDatabaseOnly(t *testing.T) {
	f := New(WithTables([]string{"orders"}), WithRegexp(regexp.MustCompile(`^shop$`)))
	if !f.Accept("shop", "") {
		t.Error("expected database-only check to consult only the regex")
	}
	if f.Accept("billing", "") {
		t.Error("expected database-only check to reject on regex mismatch")
	}
}

func TestAcceptComposition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skip.txt")
	os.WriteFile(path, []byte("shop.archived_orders\n"), 0644)

	f := New(
		WithTables([]string{"orders", "archived_orders"}),
		WithSkipListFile(path),
		WithRegexp(regexp.MustCompile(`^shop\.`)),
	)
	if !f.Accept("shop", "orders") {
		t.Error("expected orders to pass all three checks")
	}
	if f.Accept("shop", "archived_orders") {
		t.Error("expected archived_orders to be rejected by the skiplist despite being allowlisted")
	}
	if f.Accept("shop", "products") {
		t.Error("expected products to be rejected by the allowlist")
	}
}
