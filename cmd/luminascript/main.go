/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"luminascript/internal/assets"
	"luminascript/internal/backend"
	"luminascript/internal/config"
	"luminascript/internal/crash"
	"luminascript/internal/export"
	applog "luminascript/internal/log"
	"luminascript/internal/playback"
	"luminascript/internal/scenario"
	"luminascript/internal/server"
	"luminascript/internal/storage"
	"luminascript/internal/telemetry"
	"luminascript/internal/ui"
	"luminascript/internal/version"
)

func usage() {
	fmt.Println("LuminaScript — scenario compiler and branching player")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  luminascript version|-v|--version            Show version")
	fmt.Println("  luminascript config                          Show effective settings and their env overrides")
	fmt.Println("  luminascript init <dir> [title]              Create a game project with a sample scenario")
	fmt.Println("  luminascript check <dir>                     Compile the scenario and report problems")
	fmt.Println("  luminascript play <dir> [--slot N]           Play in the terminal")
	fmt.Println("  luminascript serve <dir>                     Serve the player API over HTTP")
	fmt.Println("  luminascript search <dir> <query>            Search scene text and speakers")
	fmt.Println("  luminascript where-used <dir> <asset>        List scenes using an image")
	fmt.Println("  luminascript export <dir> pdf|png|svg|bundle|web|print [out]")
	fmt.Println("                                               Export the script, route map or asset bundle")
	fmt.Println("  luminascript saves <dir>                     List save slots and autosaves")
	fmt.Println("  luminascript saves <dir> delete <slot>       Empty a save slot")
	fmt.Println("  luminascript saves <dir> import <file> <slot>")
	fmt.Println("                                               Copy a snapshot file (e.g. a crash save) into a slot")
	fmt.Println("  luminascript cloud-server                    Run the cloud-save server (PostgreSQL)")
	fmt.Println("  luminascript cloud login <token>             Store a cloud token in the OS keychain")
	fmt.Println("  luminascript cloud token <subject> [key]     Request a token from the cloud server and store it")
	fmt.Println("  luminascript cloud list <dir>                List cloud saves of a game")
	fmt.Println("  luminascript cloud push|pull <dir> <slot>    Upload or download a save slot")
}

// cli carries what every subcommand needs.
type cli struct {
	cfg   config.AppConfig
	token string
	l     *slog.Logger
	ph    *storage.ProjectHandle
	game  crash.Snapshotter
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg, token, cfgErr := config.Load()
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	l := applog.WithComponent("cli")
	if cfgErr != nil {
		l.Warn("config not loaded; using defaults", slog.Any("err", cfgErr))
	}
	telemetry.NewDefault(telemetry.FromAppConfig(cfg))

	c := &cli{cfg: cfg, token: token, l: l}
	defer crash.RecoverWith(func() (*storage.ProjectHandle, crash.Snapshotter) { return c.ph, c.game })

	args := os.Args
	l.Debug("start", slog.Int("args", len(args)))
	if len(args) < 2 {
		usage()
		return
	}
	code := c.run(args[1], args[2:])

	fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	telemetry.Flush(fctx)
	cancel()
	if code != 0 {
		os.Exit(code)
	}
}

// run dispatches a subcommand and returns the process exit code.
func (c *cli) run(cmd string, args []string) int {
	switch cmd {
	case "version", "--version", "-v":
		fmt.Println("LuminaScript")
		fmt.Println(version.String())
		return 0
	case "help", "--help", "-h":
		usage()
		return 0
	case "config":
		c.showConfig()
		return 0
	case "init":
		if len(args) < 1 {
			return c.usageErr("init requires <dir>")
		}
		return c.fail("init failed", c.initProject(args[0], strings.Join(args[1:], " ")))
	case "check":
		if len(args) < 1 {
			return c.usageErr("check requires <dir>")
		}
		return c.check(args[0])
	case "play":
		if len(args) < 1 {
			return c.usageErr("play requires <dir>")
		}
		slot, err := slotFlag(args[1:])
		if err != nil {
			return c.usageErr(err.Error())
		}
		return c.fail("play failed", c.play(args[0], slot))
	case "serve":
		if len(args) < 1 {
			return c.usageErr("serve requires <dir>")
		}
		return c.fail("serve failed", c.serve(args[0]))
	case "search":
		if len(args) < 2 {
			return c.usageErr("search requires <dir> and <query>")
		}
		return c.fail("search failed", c.search(args[0], strings.Join(args[1:], " ")))
	case "where-used":
		if len(args) < 2 {
			return c.usageErr("where-used requires <dir> and <asset>")
		}
		return c.fail("where-used failed", c.whereUsed(args[0], args[1]))
	case "export":
		if len(args) < 2 {
			return c.usageErr("export requires <dir> and a format")
		}
		out := ""
		if len(args) > 2 {
			out = args[2]
		}
		return c.fail("export failed", c.export(args[0], strings.ToLower(args[1]), out))
	case "saves":
		if len(args) < 1 {
			return c.usageErr("saves requires <dir>")
		}
		return c.savesCmd(args[0], args[1:])
	case "cloud-server":
		return c.fail("cloud server failed", c.cloudServer())
	case "cloud":
		return c.cloud(args)
	default:
		return c.usageErr("unknown command " + strconv.Quote(cmd))
	}
}

func (c *cli) showConfig() {
	if p, err := config.ConfigPath(); err == nil {
		fmt.Println("Config file:", p)
	}
	for _, st := range c.cfg.Settings() {
		line := fmt.Sprintf("  %-26s %s", st.Key, st.Value)
		if st.Env != "" {
			line += "  (from " + st.Env + ")"
		}
		fmt.Println(line)
	}
}

func (c *cli) usageErr(msg string) int {
	fmt.Println(msg)
	usage()
	return 2
}

func (c *cli) fail(what string, err error) int {
	if err == nil {
		return 0
	}
	c.l.Error(what, slog.Any("err", err))
	fmt.Println("Error:", err)
	return 1
}

// slotFlag parses an optional "--slot N" or "--slot=N".
func slotFlag(args []string) (int, error) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		var v string
		switch {
		case a == "--slot" || a == "-slot":
			if i+1 >= len(args) {
				return 0, errors.New("--slot requires a number")
			}
			v = args[i+1]
			i++
		case strings.HasPrefix(a, "--slot="):
			v = strings.TrimPrefix(a, "--slot=")
		default:
			return 0, fmt.Errorf("unexpected argument %q", a)
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > storage.MaxSlots {
			return 0, fmt.Errorf("slot must be between 1 and %d", storage.MaxSlots)
		}
		return n, nil
	}
	return 0, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// open loads the project at dir and remembers it for crash reports.
func (c *cli) open(dir string) (*storage.ProjectHandle, error) {
	abs, _ := filepath.Abs(dir)
	c.l.Info("open project", slog.String("root", abs))
	ph, err := storage.Open(abs)
	if err != nil {
		return nil, err
	}
	c.ph = ph
	for _, w := range ph.Warnings {
		c.l.Warn("project", slog.String("warning", w))
	}
	return ph, nil
}

// openCompiled is open plus a scenario that must have compiled.
func (c *cli) openCompiled(dir string) (*storage.ProjectHandle, error) {
	ph, err := c.open(dir)
	if err != nil {
		return nil, err
	}
	if _, err := ph.Compiled(); err != nil {
		return nil, fmt.Errorf("scenario does not compile: %w", err)
	}
	return ph, nil
}

func (c *cli) initProject(dir, title string) error {
	abs, _ := filepath.Abs(dir)
	meta := scenario.DefaultMeta()
	if strings.TrimSpace(title) != "" {
		meta.Title = strings.TrimSpace(title)
	}
	c.l.Info("init project", slog.String("root", abs), slog.String("title", meta.Title))
	ph, err := storage.InitProject(abs, meta)
	if err != nil {
		return err
	}
	c.ph = ph
	fmt.Println("Created project at", abs)
	return nil
}

func (c *cli) check(dir string) int {
	ph, err := c.open(dir)
	if err != nil {
		return c.fail("open failed", err)
	}
	fmt.Printf("Game: %s\n", ph.Meta.Title)
	for _, w := range ph.Warnings {
		fmt.Println("Warning:", w)
	}
	g, err := ph.Compiled()
	if err != nil {
		fmt.Println("Build failed:", err)
		return 1
	}
	telemetry.ScenarioBuilt(g)
	st := g.Stats()
	fmt.Printf("Scenes: %d  Chapters: %d  Choices: %d  Routes: %d  Endings: %d\n",
		st.Scenes, st.Chapters, st.Choices, st.Routes, st.Endings)
	fmt.Println("Fingerprint:", g.Fingerprint())

	problems := 0
	for _, id := range g.Unreachable() {
		fmt.Println("Unreachable:", id)
		problems++
	}
	rep := assets.Resolver{Root: ph.Root}.Check(g, ph.Meta)
	for _, m := range rep.Missing {
		fmt.Println("Missing asset:", m)
		problems++
	}
	if problems == 0 {
		fmt.Println("OK")
	}
	return 0
}

func (c *cli) play(dir string, slot int) error {
	ph, err := c.openCompiled(dir)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	store, err := storage.OpenStore(ctx, ph.Root)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	p := ui.NewPlayer(ph.Graph, store, c.cfg.Player.AutosaveKeep, c.cfg.Player.RewindDepth)
	c.game = p
	return ui.Run(ctx, p, ui.Options{
		Meta:   ph.Meta,
		Theme:  c.cfg.General.Theme,
		Resume: c.cfg.Player.ResumeAutosave,
		Slot:   slot,
	})
}

func (c *cli) serve(dir string) error {
	ph, err := c.openCompiled(dir)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	store, err := storage.OpenStore(ctx, ph.Root)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	srv := server.New(server.Options{
		Graph:        ph.Graph,
		Meta:         ph.Meta,
		Assets:       assets.Resolver{Root: ph.Root},
		Store:        store,
		AutosaveKeep: c.cfg.Player.AutosaveKeep,
		RewindDepth:  c.cfg.Player.RewindDepth,
		IdleTimeout:  c.cfg.Server.SessionIdle(),
	})
	fmt.Printf("Serving %s on http://%s\n", ph.Meta.Title, c.cfg.Server.Addr)
	return srv.Start(ctx, c.cfg.Server.Addr)
}

// indexedStore opens the save database with an up-to-date scene index.
func (c *cli) indexedStore(ctx context.Context, dir string) (*storage.Store, error) {
	ph, err := c.openCompiled(dir)
	if err != nil {
		return nil, err
	}
	store, err := storage.OpenStore(ctx, ph.Root)
	if err != nil {
		return nil, err
	}
	if reindexed, err := store.IndexScenes(ctx, ph.Graph); err != nil {
		_ = store.Close()
		return nil, err
	} else if reindexed {
		c.l.Info("scene index rebuilt", slog.String("fingerprint", ph.Graph.Fingerprint()))
	}
	return store, nil
}

func (c *cli) search(dir, query string) error {
	ctx := context.Background()
	store, err := c.indexedStore(ctx, dir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	res, err := store.Search(ctx, storage.SearchQuery{Text: query, Limit: 50})
	if err != nil {
		return err
	}
	if len(res) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, r := range res {
		if r.Speaker != "" {
			fmt.Printf("%-8s %-9s %s: %s\n", r.SceneID, r.Kind, r.Speaker, r.Snippet)
		} else {
			fmt.Printf("%-8s %-9s %s\n", r.SceneID, r.Kind, r.Snippet)
		}
	}
	return nil
}

func (c *cli) whereUsed(dir, asset string) error {
	ctx := context.Background()
	store, err := c.indexedStore(ctx, dir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	ids, err := store.WhereUsed(ctx, asset)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Printf("%s is not used by any scene.\n", asset)
		return nil
	}
	fmt.Println(strings.Join(ids, "\n"))
	return nil
}

func (c *cli) export(dir, format, out string) error {
	ph, err := c.openCompiled(dir)
	if err != nil {
		return err
	}
	target := func(def string) string {
		if out != "" {
			return out
		}
		return filepath.Join(ph.Root, storage.ExportsDirName, def)
	}
	var written []string
	switch format {
	case "pdf":
		path := target("script.pdf")
		err = export.ExportScriptPDF(ph, path, export.PDFOptions{IncludeAssets: true})
		written = []string{path}
	case "png":
		path := target("routes.png")
		err = export.ExportRouteMapPNG(ph, path, export.PNGOptions{})
		written = []string{path}
	case "svg":
		path := target("routes.svg")
		err = export.ExportRouteMapSVG(ph, path, export.SVGOptions{})
		written = []string{path}
	case "bundle":
		path := target("bundle.json")
		err = export.ExportBundle(ph, path)
		written = []string{path}
	case "web", "print":
		written, err = export.BatchExport(ph, export.BatchOptions{Preset: export.PresetName(format), OutDir: out})
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return err
	}
	for _, p := range written {
		fmt.Println("Wrote", p)
	}
	return nil
}

func (c *cli) savesCmd(dir string, args []string) int {
	if len(args) == 0 {
		return c.fail("listing saves failed", c.saves(dir))
	}
	switch args[0] {
	case "delete":
		if len(args) != 2 {
			return c.usageErr("saves delete requires <slot>")
		}
		slot, err := strconv.Atoi(args[1])
		if err != nil {
			return c.usageErr("slot must be a number")
		}
		return c.fail("deleting slot failed", c.deleteSlot(dir, slot))
	case "import":
		if len(args) != 3 {
			return c.usageErr("saves import requires <file> and <slot>")
		}
		slot, err := strconv.Atoi(args[2])
		if err != nil {
			return c.usageErr("slot must be a number")
		}
		return c.fail("importing snapshot failed", c.importSlot(dir, args[1], slot))
	default:
		return c.usageErr("unknown saves command " + strconv.Quote(args[0]))
	}
}

// withStore opens the project's save store for fn.
func (c *cli) withStore(dir string, fn func(context.Context, *storage.ProjectHandle, *storage.Store) error) error {
	ph, err := c.open(dir)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := storage.OpenStore(ctx, ph.Root)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(ctx, ph, store)
}

func (c *cli) deleteSlot(dir string, slot int) error {
	return c.withStore(dir, func(ctx context.Context, _ *storage.ProjectHandle, store *storage.Store) error {
		if err := store.DeleteSlot(ctx, slot); err != nil {
			return err
		}
		fmt.Printf("Slot %d deleted.\n", slot)
		return nil
	})
}

// importSlot stores a snapshot file in slot. The snapshot must restore
// against the current scenario.
func (c *cli) importSlot(dir, file string, slot int) error {
	snap, err := storage.ImportSnapshotFile(file)
	if err != nil {
		return err
	}
	return c.withStore(dir, func(ctx context.Context, ph *storage.ProjectHandle, store *storage.Store) error {
		g, err := ph.Compiled()
		if err != nil {
			return fmt.Errorf("scenario does not compile: %w", err)
		}
		if _, err := playback.Restore(g, snap); err != nil {
			return err
		}
		if snap.Fingerprint != "" && snap.Fingerprint != g.Fingerprint() {
			c.l.Warn("snapshot was taken on an older scenario", slog.String("file", file))
		}
		if err := store.SaveSlot(ctx, slot, "imported "+filepath.Base(file), snap); err != nil {
			return err
		}
		fmt.Printf("Imported %s into slot %d at %s.\n", file, slot, snap.Current)
		return nil
	})
}

func (c *cli) saves(dir string) error {
	return c.withStore(dir, c.listSaves)
}

func (c *cli) listSaves(ctx context.Context, ph *storage.ProjectHandle, store *storage.Store) error {
	slots, err := store.ListSlots(ctx)
	if err != nil {
		return err
	}
	fp := ""
	if ph.Graph != nil {
		fp = ph.Graph.Fingerprint()
	}
	fmt.Println("Slots:")
	if len(slots) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range slots {
		stale := ""
		if fp != "" && s.Fingerprint != fp {
			stale = "  [older scenario]"
		}
		fmt.Printf("  %2d  %-8s %s  %s%s\n", s.Slot, s.Scene, s.SavedAt.Local().Format("2006-01-02 15:04"), s.Label, stale)
	}
	autos, err := store.ListAutosaves(ctx, c.cfg.Player.AutosaveKeep)
	if err != nil {
		return err
	}
	fmt.Println("Autosaves:")
	if len(autos) == 0 {
		fmt.Println("  (none)")
	}
	for _, a := range autos {
		fmt.Printf("  %-8s %s\n", a.Scene, a.TS.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func (c *cli) cloudServer() error {
	cfg, err := backend.LoadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	return backend.Start(ctx, cfg)
}

func (c *cli) client(token string) *backend.Client {
	cl := backend.NewClient(c.cfg.Cloud.BaseURL, token, c.cfg.Cloud.Timeout())
	if c.cfg.Cloud.TLSInsecure {
		c.l.Warn("TLS verification disabled for cloud requests")
		cl.InsecureTLS()
	}
	return cl
}

func (c *cli) cloud(args []string) int {
	if len(args) < 1 {
		return c.usageErr("cloud requires a subcommand")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "login":
		if len(rest) < 1 {
			return c.usageErr("cloud login requires <token>")
		}
		if err := config.SetToken(strings.TrimSpace(rest[0])); err != nil {
			return c.fail("storing token failed", err)
		}
		fmt.Println("Token stored.")
		return 0
	case "logout":
		return c.fail("removing token failed", config.SetToken(""))
	case "token":
		if len(rest) < 1 {
			return c.usageErr("cloud token requires <subject>")
		}
		key := ""
		if len(rest) > 1 {
			key = rest[1]
		}
		return c.fail("requesting token failed", c.requestToken(rest[0], key))
	case "list":
		if len(rest) < 1 {
			return c.usageErr("cloud list requires <dir>")
		}
		return c.fail("cloud list failed", c.cloudList(rest[0]))
	case "push", "pull":
		if len(rest) < 2 {
			return c.usageErr("cloud " + sub + " requires <dir> and <slot>")
		}
		slot, err := strconv.Atoi(rest[1])
		if err != nil {
			return c.usageErr("slot must be a number")
		}
		if sub == "push" {
			return c.fail("cloud push failed", c.cloudPush(rest[0], slot))
		}
		return c.fail("cloud pull failed", c.cloudPull(rest[0], slot))
	default:
		return c.usageErr("unknown cloud command " + strconv.Quote(sub))
	}
}

func (c *cli) requestToken(subject, key string) error {
	ctx, cancel := signalContext()
	defer cancel()
	tok, exp, err := c.client("").RequestToken(ctx, subject, key, 0)
	if err != nil {
		return err
	}
	if err := config.SetToken(tok); err != nil {
		return err
	}
	fmt.Printf("Token stored (expires %s).\n", exp.Local().Format(time.RFC3339))
	return nil
}

// cloudSession opens the project and save store and builds an authenticated client.
func (c *cli) cloudSession(ctx context.Context, dir string) (*storage.ProjectHandle, *storage.Store, *backend.Client, error) {
	if c.token == "" {
		return nil, nil, nil, errors.New("not logged in; run 'luminascript cloud login <token>'")
	}
	ph, err := c.open(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := storage.OpenStore(ctx, ph.Root)
	if err != nil {
		return nil, nil, nil, err
	}
	return ph, store, c.client(c.token), nil
}

func (c *cli) cloudList(dir string) error {
	ph, err := c.open(dir)
	if err != nil {
		return err
	}
	if c.token == "" {
		return errors.New("not logged in; run 'luminascript cloud login <token>'")
	}
	ctx, cancel := signalContext()
	defer cancel()
	saves, err := c.client(c.token).ListSaves(ctx, backend.GameKey(ph.Meta.Title))
	if err != nil {
		return err
	}
	if len(saves) == 0 {
		fmt.Println("No cloud saves.")
	}
	for _, s := range saves {
		fmt.Printf("  %2d  %-8s v%d  %s  %s\n", s.Slot, s.Scene, s.Version, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Label)
	}
	return nil
}

func (c *cli) cloudPush(dir string, slot int) error {
	ctx, cancel := signalContext()
	defer cancel()
	ph, store, cl, err := c.cloudSession(ctx, dir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	snap, err := store.LoadSlot(ctx, slot)
	if err != nil {
		return err
	}
	label := ""
	if infos, err := store.ListSlots(ctx); err == nil {
		for _, in := range infos {
			if in.Slot == slot {
				label = in.Label
			}
		}
	}
	info, err := cl.Push(ctx, backend.GameKey(ph.Meta.Title), slot, label, snap, backend.AnyVersion)
	if err != nil {
		return err
	}
	fmt.Printf("Pushed slot %d (%s) as version %d.\n", info.Slot, info.Scene, info.Version)
	return nil
}

func (c *cli) cloudPull(dir string, slot int) error {
	ctx, cancel := signalContext()
	defer cancel()
	ph, store, cl, err := c.cloudSession(ctx, dir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	snap, info, err := cl.Pull(ctx, backend.GameKey(ph.Meta.Title), slot)
	if err != nil {
		return err
	}
	if ph.Graph != nil && snap.Fingerprint != "" && snap.Fingerprint != ph.Graph.Fingerprint() {
		fmt.Println("Warning: this save was made with a different version of the scenario.")
	}
	if err := store.SaveSlot(ctx, slot, info.Label, snap); err != nil {
		return err
	}
	fmt.Printf("Pulled slot %d (%s, version %d).\n", slot, info.Scene, info.Version)
	return nil
}
