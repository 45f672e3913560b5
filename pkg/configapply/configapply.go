// Package configapply previews, applies, and removes configuration packs
// on a remote host: dry-run diffing, background execution with progress
// tracking, and removal with a backup policy (spec §4.9).
package configapply

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/pkg/configpack"
	"github.com/wisbric/fleethub/pkg/sshexec"
)

// Preview is the dry-run output: the grouped set of actions that an apply
// would take, without side effects.
type Preview struct {
	Files      []string `json:"files"`
	Packages   []string `json:"packages"`
	Settings   []string `json:"settings"`
	TotalItems int      `json:"total_items"`
}

// ItemResult records the outcome of applying or removing one pack item.
type ItemResult struct {
	Category string `json:"category"`
	Item     string `json:"item"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// ErrConflict indicates a non-terminal apply already exists for the server.
var ErrConflict = fmt.Errorf("configapply: a non-terminal apply already exists for this server")

// Engine executes config-pack apply/remove operations over SSH.
type Engine struct {
	Queries *db.Queries
	Pool    *sshexec.Pool
}

// NewEngine builds an Engine.
func NewEngine(q *db.Queries, pool *sshexec.Pool) *Engine {
	return &Engine{Queries: q, Pool: pool}
}

// BuildPreview produces the dry-run grouped list described in spec §4.9.
func BuildPreview(pack configpack.Pack) Preview {
	p := Preview{}
	for _, f := range pack.Items.Files {
		p.Files = append(p.Files, f.Path)
	}
	for _, pkg := range pack.Items.Packages {
		p.Packages = append(p.Packages, pkg.Name)
	}
	for _, s := range pack.Items.Settings {
		p.Settings = append(p.Settings, s.Key)
	}
	p.TotalItems = len(p.Files) + len(p.Packages) + len(p.Settings)
	return p
}

// Initiate creates a pending ConfigApply row after verifying no
// non-terminal apply exists for the server (spec §4.9 concurrency rule).
func (e *Engine) Initiate(ctx context.Context, serverID, packName, operation, triggeredBy string, itemsTotal int) (db.ConfigApply, error) {
	busy, err := e.Queries.HasNonTerminalApply(ctx, serverID)
	if err != nil {
		return db.ConfigApply{}, err
	}
	if busy {
		return db.ConfigApply{}, ErrConflict
	}
	return e.Queries.CreateConfigApply(ctx, db.ConfigApply{
		ServerID: serverID, PackName: packName, Operation: operation,
		ItemsTotal: itemsTotal, TriggeredBy: triggeredBy,
	})
}

// RunApply executes a pending apply in the background, per spec §4.9.
// It never holds a single long-running transaction — progress is
// persisted after each item (spec §5).
func (e *Engine) RunApply(ctx context.Context, apply db.ConfigApply, target sshexec.Target, configUser string, pack configpack.Pack) {
	now := time.Now().UTC()
	if err := e.Queries.StartConfigApply(ctx, apply.ID, now); err != nil {
		return
	}

	var results []ItemResult
	completed, failed := 0, 0
	total := len(pack.Items.Files) + len(pack.Items.Packages) + len(pack.Items.Settings)
	processed := 0

	step := func(category, item string, err error) {
		processed++
		r := ItemResult{Category: category, Item: item, Success: err == nil}
		if err != nil {
			r.Error = err.Error()
			failed++
		} else {
			completed++
		}
		results = append(results, r)
		progress := 0
		if total > 0 {
			progress = processed * 100 / total
		}
		_ = e.Queries.UpdateConfigApplyProgress(ctx, apply.ID, progress, completed, failed, item)
	}

	for _, f := range pack.Items.Files {
		err := e.applyFile(ctx, target, configUser, f)
		step("files", f.Path, err)
	}
	for _, p := range pack.Items.Packages {
		err := e.applyPackage(ctx, target, p)
		step("packages", p.Name, err)
	}
	for _, s := range pack.Items.Settings {
		err := e.applySetting(ctx, target, configUser, s)
		step("settings", s.Key, err)
	}

	e.finish(ctx, apply.ID, completed, failed, results)
}

// RunRemove executes a pending removal: files are backed up rather than
// deleted, packages are left installed, env vars are stripped from the rc
// file (spec §4.9 Remove).
func (e *Engine) RunRemove(ctx context.Context, apply db.ConfigApply, target sshexec.Target, configUser string, pack configpack.Pack) {
	now := time.Now().UTC()
	if err := e.Queries.StartConfigApply(ctx, apply.ID, now); err != nil {
		return
	}

	var results []ItemResult
	completed, failed := 0, 0
	total := len(pack.Items.Files) + len(pack.Items.Settings)
	processed := 0

	step := func(category, item string, err error) {
		processed++
		r := ItemResult{Category: category, Item: item, Success: err == nil}
		if err != nil {
			r.Error = err.Error()
			failed++
		} else {
			completed++
		}
		results = append(results, r)
		progress := 0
		if total > 0 {
			progress = processed * 100 / total
		}
		_ = e.Queries.UpdateConfigApplyProgress(ctx, apply.ID, progress, completed, failed, item)
	}

	for _, f := range pack.Items.Files {
		path := expandHome(f.Path, configUser)
		cmd := fmt.Sprintf("mv %q %q.homelabcmd.bak", path, path)
		_, err := e.Pool.Execute(ctx, target, cmd, 30*time.Second)
		step("files", f.Path, err)
	}
	for _, s := range pack.Items.Settings {
		err := e.removeSetting(ctx, target, configUser, s)
		step("settings", s.Key, err)
	}

	e.finish(ctx, apply.ID, completed, failed, results)
}

func (e *Engine) finish(ctx context.Context, id uuid.UUID, completed, failed int, results []ItemResult) {
	status := "completed"
	if completed == 0 && failed > 0 {
		status = "failed"
	}
	payload, _ := json.Marshal(results)
	var errText string
	if failed > 0 {
		errText = fmt.Sprintf("%d of %d items failed", failed, completed+failed)
	}
	_ = e.Queries.FinishConfigApply(ctx, id, status, payload, errText, time.Now().UTC())
}

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

// applyFile writes a file's content via a heredoc with a unique sentinel,
// then chmods it to the declared mode (spec §4.9).
func (e *Engine) applyFile(ctx context.Context, target sshexec.Target, configUser string, f configpack.File) error {
	path := expandHome(f.Path, configUser)
	sentinel := "HOMELABCMD_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	cmd := fmt.Sprintf("mkdir -p %q && cat > %q <<'%s'\n%s\n%s\nchmod %s %q",
		dirOf(path), path, sentinel, f.Template, sentinel, f.Mode, path)

	_, err := e.Pool.Execute(ctx, target, cmd, 30*time.Second)
	return err
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func (e *Engine) applyPackage(ctx context.Context, target sshexec.Target, p configpack.Package) error {
	cmd := fmt.Sprintf("sudo apt-get install -y %q", p.Name)
	_, err := e.Pool.Execute(ctx, target, cmd, 120*time.Second)
	return err
}

// applySetting upserts KEY=value into the config user's shell rc file.
func (e *Engine) applySetting(ctx context.Context, target sshexec.Target, configUser string, s configpack.Setting) error {
	rc := rcPath(configUser)
	cmd := fmt.Sprintf(
		`grep -q '^export %s=' %q && sed -i 's|^export %s=.*|export %s=%q|' %q || echo 'export %s=%q' >> %q`,
		s.Key, rc, s.Key, s.Key, s.Expected, rc, s.Key, s.Expected, rc,
	)
	_, err := e.Pool.Execute(ctx, target, cmd, 30*time.Second)
	return err
}

func (e *Engine) removeSetting(ctx context.Context, target sshexec.Target, configUser string, s configpack.Setting) error {
	rc := rcPath(configUser)
	cmd := fmt.Sprintf(`sed -i '/^export %s=/d' %q`, s.Key, rc)
	_, err := e.Pool.Execute(ctx, target, cmd, 30*time.Second)
	return err
}

func rcPath(configUser string) string {
	home := "/home/" + configUser
	if configUser == "root" {
		home = "/root"
	}
	return home + "/.bashrc"
}
