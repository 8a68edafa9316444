package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"golang.org/x/tools/go/packages"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// TestPredicates covers the import predicates.
func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred func(string) bool
		in   string
		want bool
	}{
		{"internal deep", InternalImportForbidden, "tradepost/internal/core", true},
		{"internal bare", InternalImportForbidden, "internal", false},
		{"internal suffix", InternalImportForbidden, "tradepost/internal", false},
		{"infra blob", InfraImportForbidden, "tradepost/internal/infra/blob/s3", true},
		{"infra root", InfraImportForbidden, "tradepost/internal/infra", true},
		{"infra lookalike", InfraImportForbidden, "tradepost/internal/infrastructure", false},
		{"third party", ThirdPartyImport, "github.com/spf13/cobra", true},
		{"golang.org x", ThirdPartyImport, "golang.org/x/text/cases", true},
		{"stdlib", ThirdPartyImport, "encoding/json", false},
		{"module", ThirdPartyImport, "tradepost/pkg/domain", false},
		{"empty", ThirdPartyImport, "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.pred(c.in); got != c.want {
				t.Fatalf("pred(%q)=%v want %v", c.in, got, c.want)
			}
		})
	}

	pred := PrefixForbidden("tradepost/internal/infra/blob", "github.com/aws")
	prefixCases := map[string]bool{
		"tradepost/internal/infra/blob":           true,
		"github.com/aws/aws-sdk-go-v2/service/s3": true,
		"tradepost/internal/infra/blobby":         false,
		"tradepost/internal/blob":                 false,
	}
	for in, want := range prefixCases {
		if got := pred(in); got != want {
			t.Fatalf("PrefixForbidden(%q)=%v want %v", in, got, want)
		}
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\talias \"tradepost/internal/infra/blob/fs\"\n)\nvar _ = fmt.Sprint\nvar _ = alias.New\n")
	writeGo(t, dir, "a_test.go", "package tmp\nimport \"tradepost/internal/infra/blob/s3\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeGo(t, filepath.Join(dir, "sub"), "b.go", "package sub\nimport \"tradepost/internal/infra/blob/memory\"\n")
	writeGo(t, dir, "notes.txt", "import \"x\"")

	viols, err := directImportViolations(dir, InfraImportForbidden)
	if err != nil {
		t.Fatalf("directImportViolations: %v", err)
	}
	want := []string{"tradepost/internal/infra/blob/fs (in a.go)"}
	if !reflect.DeepEqual(viols, want) {
		t.Fatalf("violations %v want %v", viols, want)
	}

	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
	AssertNoDirectImports(t, t.TempDir(), func(string) bool { return true }, "empty dir")
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "bad.go", "package tmp\nimport (\"fmt\"")
	if _, err := directImportViolations(dir, InfraImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTransitiveDependencyViolationsWalksGraph(t *testing.T) {
	orig := loadPackages
	t.Cleanup(func() { loadPackages = orig })

	leaf := &packages.Package{PkgPath: "github.com/aws/smithy-go"}
	mid := &packages.Package{PkgPath: "tradepost/internal/blob", Imports: map[string]*packages.Package{"github.com/aws/smithy-go": leaf}}
	root := &packages.Package{PkgPath: "tradepost/internal/core", Imports: map[string]*packages.Package{
		"tradepost/internal/blob": mid,
		"fmt":                     {PkgPath: "fmt"},
	}}
	loadPackages = func(string) ([]*packages.Package, error) { return []*packages.Package{root, mid}, nil }

	viols, err := transitiveDependencyViolations("./...", ThirdPartyImport)
	if err != nil {
		t.Fatalf("transitiveDependencyViolations: %v", err)
	}
	if want := []string{"github.com/aws/smithy-go"}; !reflect.DeepEqual(viols, want) {
		t.Fatalf("violations %v want %v", viols, want)
	}

	loadPackages = func(string) ([]*packages.Package, error) { return nil, errors.New("boom") }
	if _, err := transitiveDependencyViolations(".", ThirdPartyImport); err == nil || err.Error() != "boom" {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestFailHelpers(t *testing.T) {
	r := &recordingFatal{}
	failIfDirectViolations(r, "why", nil)
	failIfTransitiveViolations(r, "why", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure %q", r.msg)
	}

	failIfDirectViolations(r, "why", []string{"x (in a.go)"})
	if want := "forbidden direct imports detected (why):\nx (in a.go)"; r.msg != want {
		t.Fatalf("got %q want %q", r.msg, want)
	}
	failIfTransitiveViolations(r, "why", []string{"a", "b"})
	if want := "forbidden transitive dependency detected (why):\na\nb"; r.msg != want {
		t.Fatalf("got %q want %q", r.msg, want)
	}
}

func TestAssertNoTransitiveDependencyOnThisPackage(t *testing.T) {
	AssertNoTransitiveDependency(t, ".", PrefixForbidden("tradepost/internal"), "testutil must not depend on internal packages")
}
