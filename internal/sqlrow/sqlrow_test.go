package sqlrow

import (
	"strings"
	"testing"
)

func TestInsertWriterSingleStatement(t *testing.T) {
	var b strings.Builder
	w := NewInsertWriter(0)
	if err := w.WriteHeader(&b, "db", "t"); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRow(&b, []interface{}{int64(1), "a'b", nil}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRow(&b, []interface{}{int64(2), "c", nil}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFooter(&b); err != nil {
		t.Fatal(err)
	}
	got := b.String()
	want := "INSERT INTO `t` VALUES\n(1,'a\\'b',NULL),\n(2,'c',NULL);\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInsertWriterBatchesByRowsPerStatement(t *testing.T) {
	var b strings.Builder
	w := NewInsertWriter(1)
	w.WriteHeader(&b, "db", "t")
	w.WriteRow(&b, []interface{}{int64(1)})
	w.WriteRow(&b, []interface{}{int64(2)})
	w.WriteFooter(&b)
	got := b.String()
	if strings.Count(got, "INSERT INTO") != 2 {
		t.Errorf("expected 2 INSERT statements with RowsPerStatement=1, got:\n%s", got)
	}
}

func TestEscapeValue(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{nil, "NULL"},
		{"hi", "'hi'"},
		{"a\nb", `'a\nb'`},
		{[]byte("bytes"), "'bytes'"},
		{true, "1"},
		{false, "0"},
		{int64(42), "42"},
	}
	for _, c := range cases {
		if got := EscapeValue(c.in); got != c.want {
			t.Errorf("EscapeValue(%#v) = %q, want %q", c.in, got, c.want)
		}
	}
}
