// Package compliance diffs a loaded configuration pack against the live
// state of a remote host over SSH: file existence/mode/hash, installed
// package versions, and environment variable values (spec §4.8).
package compliance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wisbric/fleethub/pkg/configpack"
	"github.com/wisbric/fleethub/pkg/sshexec"
)

// MismatchKind enumerates the categories of compliance deviation.
type MismatchKind string

const (
	MissingFile       MismatchKind = "missing_file"
	WrongPermissions  MismatchKind = "wrong_permissions"
	WrongContent      MismatchKind = "wrong_content"
	MissingPackage    MismatchKind = "missing_package"
	WrongVersion      MismatchKind = "wrong_version"
	WrongSetting      MismatchKind = "wrong_setting"
)

// Mismatch is one detected deviation between pack and host.
type Mismatch struct {
	Category MismatchKind `json:"category"`
	Item     string       `json:"item"`
	Expected string       `json:"expected"`
	Actual   string       `json:"actual"`
	Diff     string       `json:"diff,omitempty"`
}

// Result is the outcome of one compliance check run.
type Result struct {
	Mismatches      []Mismatch
	CheckDurationMS int64
}

// Compliant reports whether the check produced zero mismatches.
func (r Result) Compliant() bool { return len(r.Mismatches) == 0 }

// ErrSSHUnavailable is the single kind surfaced to callers for any SSH
// failure during a compliance probe (spec §4.8 step 2).
var ErrSSHUnavailable = fmt.Errorf("compliance: ssh unavailable")

// Checker runs compliance probes over an SSH pool.
type Checker struct {
	Pool *sshexec.Pool
}

// NewChecker builds a Checker backed by pool.
func NewChecker(pool *sshexec.Pool) *Checker {
	return &Checker{Pool: pool}
}

// Check probes target for compliance with pack, per spec §4.8. An empty
// pack (no items in any category) is trivially compliant.
func (c *Checker) Check(ctx context.Context, target sshexec.Target, configUser string, pack configpack.Pack) (Result, error) {
	start := time.Now()

	if len(pack.Items.Files) == 0 && len(pack.Items.Packages) == 0 && len(pack.Items.Settings) == 0 {
		return Result{CheckDurationMS: time.Since(start).Milliseconds()}, nil
	}

	var mismatches []Mismatch

	if len(pack.Items.Files) > 0 {
		fm, err := c.checkFiles(ctx, target, configUser, pack.Items.Files)
		if err != nil {
			return Result{}, err
		}
		mismatches = append(mismatches, fm...)
	}

	if len(pack.Items.Packages) > 0 {
		pm, err := c.checkPackages(ctx, target, pack.Items.Packages)
		if err != nil {
			return Result{}, err
		}
		mismatches = append(mismatches, pm...)
	}

	if len(pack.Items.Settings) > 0 {
		sm, err := c.checkSettings(ctx, target, configUser, pack.Items.Settings)
		if err != nil {
			return Result{}, err
		}
		mismatches = append(mismatches, sm...)
	}

	return Result{Mismatches: mismatches, CheckDurationMS: time.Since(start).Milliseconds()}, nil
}

// expandHome expands a leading ~ to the config user's home directory
// (spec §4.8 step 3).
func expandHome(path, configUser string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home := "/home/" + configUser
	if configUser == "root" {
		home = "/root"
	}
	return home + strings.TrimPrefix(path, "~")
}

// sudoPrefix returns "sudo -n " when the SSH user differs from the
// config user whose files/settings are being probed (spec §4.8 step 3).
func sudoPrefix(sshUser, configUser string) string {
	if sshUser != configUser {
		return "sudo -n "
	}
	return ""
}

func (c *Checker) checkFiles(ctx context.Context, target sshexec.Target, configUser string, files []configpack.File) ([]Mismatch, error) {
	var b strings.Builder
	prefix := sudoPrefix(target.User, configUser)
	for _, f := range files {
		path := expandHome(f.Path, configUser)
		fmt.Fprintf(&b, `if [ -e %q ]; then echo "%s|EXISTS|$(%sstat -c %%a %q)|$(%ssha256sum %q | cut -d' ' -f1)"; else echo "%s|MISSING||"; fi; `,
			path, path, prefix, path, prefix, path, path)
	}

	res, err := c.Pool.Execute(ctx, target, b.String(), 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSSHUnavailable, err)
	}

	byPath := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		byPath[pathFromProbeLine(line)] = line
	}

	var mismatches []Mismatch
	for _, f := range files {
		path := expandHome(f.Path, configUser)
		line, ok := byPath[path]
		if !ok {
			mismatches = append(mismatches, Mismatch{Category: MissingFile, Item: f.Path, Expected: "present", Actual: "missing"})
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		state, mode, hash := parts[1], parts[2], parts[3]
		if state == "MISSING" {
			mismatches = append(mismatches, Mismatch{Category: MissingFile, Item: f.Path, Expected: "present", Actual: "missing"})
			continue
		}

		// spec §9: mode "777" is treated as a symlink indicator and the
		// permission comparison is skipped — a documented, lossy heuristic.
		if f.Mode != "" && mode != "777" && f.Mode != mode {
			mismatches = append(mismatches, Mismatch{
				Category: WrongPermissions, Item: f.Path, Expected: f.Mode, Actual: mode,
			})
		}
		if f.ContentHash != "" && hash != f.ContentHash {
			mismatches = append(mismatches, Mismatch{
				Category: WrongContent, Item: f.Path, Expected: f.ContentHash, Actual: hash,
			})
		}
	}
	return mismatches, nil
}

func pathFromProbeLine(line string) string {
	if idx := strings.Index(line, "|"); idx >= 0 {
		return line[:idx]
	}
	return line
}

func (c *Checker) checkPackages(ctx context.Context, target sshexec.Target, packages []configpack.Package) ([]Mismatch, error) {
	const cmd = `dpkg-query -W -f='${Package}\t${Version}\t${Status}\n' 2>/dev/null || true`

	res, err := c.Pool.Execute(ctx, target, cmd, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSSHUnavailable, err)
	}

	installed := map[string]string{} // name -> version
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			continue
		}
		if !strings.Contains(fields[2], "installed") {
			continue
		}
		installed[fields[0]] = fields[1]
	}

	var mismatches []Mismatch
	for _, p := range packages {
		version, ok := installed[p.Name]
		if !ok {
			mismatches = append(mismatches, Mismatch{Category: MissingPackage, Item: p.Name, Expected: "installed", Actual: "absent"})
			continue
		}
		if p.MinVersion != "" && debianVersionCompare(version, p.MinVersion) < 0 {
			mismatches = append(mismatches, Mismatch{
				Category: WrongVersion, Item: p.Name, Expected: ">= " + p.MinVersion, Actual: version,
			})
		}
	}
	return mismatches, nil
}

// debianVersionCompare compares two Debian-style package versions after
// stripping the epoch (`N:`) and Debian revision (suffix after `-`), then
// doing a numeric-segment semantic compare (spec §4.8 step 4). Returns
// -1, 0, or 1.
func debianVersionCompare(a, b string) int {
	return compareVersionSegments(stripDebianDecoration(a), stripDebianDecoration(b))
}

func stripDebianDecoration(v string) string {
	if idx := strings.Index(v, ":"); idx >= 0 {
		v = v[idx+1:]
	}
	if idx := strings.LastIndex(v, "-"); idx >= 0 {
		v = v[:idx]
	}
	return v
}

func compareVersionSegments(a, b string) int {
	as := strings.FieldsFunc(a, splitVersionSep)
	bs := strings.FieldsFunc(b, splitVersionSep)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersionSep(r rune) bool { return r == '.' || r == '~' || r == '+' }

func (c *Checker) checkSettings(ctx context.Context, target sshexec.Target, configUser string, settings []configpack.Setting) ([]Mismatch, error) {
	var b strings.Builder
	prefix := sudoPrefix(target.User, configUser)
	for _, s := range settings {
		fmt.Fprintf(&b, `%secho "%s=${%s}"; `, prefix, s.Key, s.Key)
	}

	res, err := c.Pool.Execute(ctx, target, b.String(), 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSSHUnavailable, err)
	}

	actual := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if idx := strings.Index(line, "="); idx >= 0 {
			actual[line[:idx]] = line[idx+1:]
		}
	}

	var mismatches []Mismatch
	for _, s := range settings {
		if actual[s.Key] != s.Expected {
			mismatches = append(mismatches, Mismatch{
				Category: WrongSetting, Item: s.Key, Expected: s.Expected, Actual: actual[s.Key],
			})
		}
	}
	return mismatches, nil
}
