package configapply

import (
	"testing"

	"github.com/wisbric/fleethub/pkg/configpack"
)

func TestBuildPreview(t *testing.T) {
	pack := configpack.Pack{
		Items: configpack.Items{
			Files:    []configpack.File{{Path: "/etc/hosts"}},
			Packages: []configpack.Package{{Name: "curl"}, {Name: "git"}},
			Settings: []configpack.Setting{{Key: "TZ"}},
		},
	}
	p := BuildPreview(pack)
	if p.TotalItems != 4 {
		t.Errorf("TotalItems = %d, want 4", p.TotalItems)
	}
	if len(p.Files) != 1 || len(p.Packages) != 2 || len(p.Settings) != 1 {
		t.Errorf("unexpected preview groups: %+v", p)
	}
}

func TestExpandHomeAndDirOf(t *testing.T) {
	if got := expandHome("~/.bashrc", "alice"); got != "/home/alice/.bashrc" {
		t.Errorf("expandHome = %q", got)
	}
	if got := dirOf("/etc/foo/bar.conf"); got != "/etc/foo" {
		t.Errorf("dirOf = %q", got)
	}
	if got := dirOf("/bar.conf"); got != "/" {
		t.Errorf("dirOf(top-level) = %q", got)
	}
}

func TestRcPath(t *testing.T) {
	if rcPath("root") != "/root/.bashrc" {
		t.Errorf("rcPath(root) = %q", rcPath("root"))
	}
	if rcPath("alice") != "/home/alice/.bashrc" {
		t.Errorf("rcPath(alice) = %q", rcPath("alice"))
	}
}
