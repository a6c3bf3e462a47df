package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{CoreImportForbidden, "trafficcore/internal/core", true},
		{CoreImportForbidden, "trafficcore/internal/blob/core", false},
		{LedgerImportForbidden, "trafficcore/internal/infra/persistence/sqlite", true},
		{LedgerImportForbidden, "trafficcore/internal/infra/blob/fs", false},
		{AnyOf(CoreImportForbidden, LedgerImportForbidden), "trafficcore/internal/infra/persistence/memory", true},
		{AnyOf(), "trafficcore/internal/core", false},
		{InternalImportForbidden, "trafficcore/internal/blob", true},
		{InternalImportForbidden, "trafficcore/pkg/domain", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestAssertNoDirectImportsSkipsTestsAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}\n")
	writeFile(t, dir, "x_test.go", "package tmp\nimport \"forbidden/pkg\"\n")
	writeFile(t, dir, "notes.txt", "import \"forbidden/pkg\"")
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, sub, "sub.go", "package sub\nimport \"forbidden/pkg\"\n")

	AssertNoDirectImports(t, dir, func(p string) bool { return p == "forbidden/pkg" }, "none")
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDirectViolationsReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", "package tmp\nimport _ \"trafficcore/internal/core\"\n")

	viols, err := directImportViolations(dir, CoreImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "bad.go") {
		t.Fatalf("unexpected violations %v", viols)
	}
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "documents stay pure", viols)
	if !strings.Contains(rec.msg, "documents stay pure") {
		t.Fatalf("expected reason in failure, got %q", rec.msg)
	}
}

func TestDirectImportViolationsMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), CoreImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
