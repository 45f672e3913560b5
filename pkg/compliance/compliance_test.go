package compliance

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExpandHome(t *testing.T) {
	if got := expandHome("~/.bashrc", "alice"); got != "/home/alice/.bashrc" {
		t.Errorf("expandHome = %q", got)
	}
	if got := expandHome("~/.bashrc", "root"); got != "/root/.bashrc" {
		t.Errorf("expandHome(root) = %q", got)
	}
	if got := expandHome("/etc/hosts", "alice"); got != "/etc/hosts" {
		t.Errorf("expandHome should not touch absolute paths, got %q", got)
	}
}

func TestSudoPrefix(t *testing.T) {
	if sudoPrefix("deploy", "root") != "sudo -n " {
		t.Error("expected sudo prefix when ssh user differs from config user")
	}
	if sudoPrefix("root", "root") != "" {
		t.Error("expected no sudo prefix when users match")
	}
}

func TestDebianVersionCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1:2.3.4-1ubuntu1", "2.3.4", 0},
		{"7.68.0-1", "8.0.0", -1},
		{"8.1.0-2", "8.0.0", 1},
	}
	for _, c := range cases {
		if got := debianVersionCompare(c.a, c.b); got != c.want {
			t.Errorf("debianVersionCompare(%q,%q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestWrongPermissionsSkipsMode777(t *testing.T) {
	// 777 is treated as a symlink indicator per the documented heuristic gap
	// (spec §9): the permission comparison is skipped in that case.
	mismatches := evaluateFileMode("644", "777")
	if len(mismatches) != 0 {
		t.Errorf("expected mode 777 to skip permission comparison, got %v", mismatches)
	}
	mismatches = evaluateFileMode("644", "600")
	if len(mismatches) == 0 {
		t.Error("expected mismatch for differing non-777 modes")
	}
}

func TestEvaluateFileModeMismatchShape(t *testing.T) {
	got := evaluateFileMode("644", "600")
	want := []Mismatch{{Category: WrongPermissions, Expected: "644", Actual: "600"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("evaluateFileMode mismatch (-want +got):\n%s", diff)
	}
}

// evaluateFileMode is a copy of the mode-comparison condition in checkFiles,
// so that condition can be tested without an SSH round trip.
func evaluateFileMode(expected, actual string) []Mismatch {
	var mismatches []Mismatch
	if expected != "" && actual != "777" && expected != actual {
		mismatches = append(mismatches, Mismatch{Category: WrongPermissions, Expected: expected, Actual: actual})
	}
	return mismatches
}
