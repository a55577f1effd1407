// Command mmrl is the unprivileged module manager client. It binds the
// Service Manager for the persisted working mode and drives modules
// through it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mmrl/internal/binder"
	"mmrl/internal/config"
	"mmrl/internal/fileops"
	"mmrl/internal/module"
	"mmrl/internal/platform"
	"mmrl/internal/prefs"
	"mmrl/internal/service"
	"mmrl/internal/shell"
	"mmrl/internal/webui"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
)

const (
	version     = "1.0.0"
	versionCode = 1
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var exit exitCode
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// exitCode ends the process with a job's status without printing.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "mmrl v%s - module manager\n\n", version)
	fmt.Fprintf(w, "Usage: mmrl [options] <command>\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  status                    Show the bound service and backend\n")
	fmt.Fprintf(w, "  mode [MODE]               Show or set the working mode\n")
	fmt.Fprintf(w, "  shell-tool on|off         Use the backend's own tool for state changes\n")
	fmt.Fprintf(w, "  modules                   List installed modules\n")
	fmt.Fprintf(w, "  info <zip>                Show the module inside an archive\n")
	fmt.Fprintf(w, "  enable <id>               Enable a module\n")
	fmt.Fprintf(w, "  disable <id>              Disable a module\n")
	fmt.Fprintf(w, "  remove <id>               Mark a module for removal\n")
	fmt.Fprintf(w, "  install <zip>...          Install module archives\n")
	fmt.Fprintf(w, "  action <id> [--legacy]    Run a module's action\n")
	fmt.Fprintf(w, "  reboot [reason]           Reboot the device\n")
	fmt.Fprintf(w, "  devtools <id> on|off      Toggle the web UI inspector for a module\n")
	fmt.Fprintf(w, "  webui <id> [--addr addr]  Serve a module's web UI\n\n")
	fmt.Fprintf(w, "Options:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// app is one invocation of the client.
type app struct {
	stdout io.Writer
	stderr io.Writer
	logger *log.Logger

	cfg      *config.Config
	prefs    *prefs.Store
	provider binder.ProviderConfig
	timeout  time.Duration

	binder *binder.Context
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("mmrl", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)
	prefsPath := fs.String("prefs", prefs.DefaultPath(), "path to the preference file")
	configPath := fs.String("config", config.DefaultPath, "path to the host config file")
	socketPath := fs.String("socket", "", "daemon socket (overrides the config)")
	hostBinary := fs.String("host-binary", "", "host binary run through su")
	container := fs.String("container", "", "run the host in this container")
	modulesDir := fs.String("modules-dir", "", "modules directory (overrides the config)")
	timeout := fs.Duration("timeout", binder.DefaultTimeout, "how long to wait for the service")
	verbose := fs.BoolP("verbose", "v", false, "log to stderr")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			usage(stdout, fs)
			return nil
		}
		return err
	}
	if fs.NArg() == 0 {
		usage(stderr, fs)
		return errors.New("missing command")
	}

	logger := log.New(io.Discard, "[mmrl] ", log.LstdFlags|log.Lmsgprefix)
	if *verbose {
		logger.SetOutput(stderr)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Printf("warning: using default config: %v", err)
		cfg = config.Default()
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *modulesDir != "" {
		cfg.ModulesDir = *modulesDir
	}

	store, err := prefs.Open(*prefsPath, logger)
	if err != nil {
		return err
	}

	a := &app{
		stdout: stdout,
		stderr: stderr,
		logger: logger,
		cfg:    cfg,
		prefs:  store,
		provider: binder.ProviderConfig{
			SocketPath: cfg.SocketPath,
			HostBinary: *hostBinary,
			Container:  *container,
			Logger:     logger,
		},
		timeout: *timeout,
	}
	defer a.close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "status":
		return a.status(rest)
	case "mode":
		return a.mode(rest)
	case "shell-tool":
		return a.shellTool(rest)
	case "modules":
		return a.modules(rest)
	case "info":
		return a.info(rest)
	case "enable", "disable", "remove":
		return a.transition(cmd, rest)
	case "install":
		return a.install(rest)
	case "action":
		return a.action(rest)
	case "reboot":
		return a.reboot(rest)
	case "devtools":
		return a.devtools(rest)
	case "webui":
		return a.webui(rest)
	case "help":
		usage(stdout, fs)
		return nil
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

// bind returns the Service Manager for the persisted working mode.
func (a *app) bind(ctx context.Context) (binder.Handle, error) {
	if a.binder == nil {
		p := a.prefs.WorkingMode().Platform()
		cfg := a.provider
		if !p.IsRoot() {
			fm := fileops.NewLocal()
			m := module.New(platform.NonRoot, module.Config{
				Files:      fm,
				ModulesDir: a.cfg.ModulesDir,
				AdbDir:     a.cfg.AdbDir,
				Logger:     a.logger,
			})
			cfg.Local = service.NewLocal(m, fm)
		}
		provider, err := binder.ProviderFor(p, cfg)
		if err != nil {
			return nil, err
		}
		a.logger.Printf("binding %s for %s", provider.Name(), p)
		a.binder = binder.NewContext(provider, a.timeout)
	}
	h, err := a.binder.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("bind service: %w", err)
	}
	return h, nil
}

func (a *app) close() {
	if a.binder != nil {
		a.binder.Close()
	}
}

// flags parses a command's own flags and checks its argument count.
func flags(fs *pflag.FlagSet, args []string, lo, hi int, usage string) ([]string, error) {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%s: %w", fs.Name(), err)
	}
	n := fs.NArg()
	if n < lo || (hi >= 0 && n > hi) {
		return nil, fmt.Errorf("usage: mmrl %s %s", fs.Name(), usage)
	}
	return fs.Args(), nil
}

func (a *app) status(args []string) error {
	if _, err := flags(pflag.NewFlagSet("status", pflag.ContinueOnError), args, 0, 0, ""); err != nil {
		return err
	}
	h, err := a.bind(context.Background())
	if err != nil {
		return err
	}

	id := h.Identity()
	m := h.ModuleManager()
	compat := m.Compatibility()

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Working mode:\t%s\n", a.prefs.WorkingMode())
	fmt.Fprintf(w, "Service:\tuid %d pid %d\n", id.UID, id.PID)
	if id.Context != "" {
		fmt.Fprintf(w, "Context:\t%s\n", id.Context)
	}
	fmt.Fprintf(w, "Platform:\t%s\n", id.Platform)
	fmt.Fprintf(w, "Backend:\t%s %s (%d)\n", m.Name(), m.Version(), m.VersionCode())
	fmt.Fprintf(w, "Superuser:\t%s\n", onOff(m.IsSuEnabled()))
	fmt.Fprintf(w, "Safe mode:\t%s\n", onOff(m.IsSafeMode()))
	fmt.Fprintf(w, "Superuser apps:\t%d\n", m.SuperUserCount())
	fmt.Fprintf(w, "LKM mode:\t%s\n", m.IsLKMMode())
	fmt.Fprintf(w, "Magic mount:\t%s\n", compat.HasMagicMount)
	fmt.Fprintf(w, "Restore modules:\t%s\n", yesNo(compat.CanRestoreModules))
	return w.Flush()
}

func (a *app) mode(args []string) error {
	rest, err := flags(pflag.NewFlagSet("mode", pflag.ContinueOnError), args, 0, 1, "[MODE]")
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		mode := a.prefs.WorkingMode()
		fmt.Fprintf(a.stdout, "%s (%s)\n", mode, mode.Platform())
		return nil
	}

	mode, err := platform.ParseWorkingMode(rest[0])
	if err != nil {
		return err
	}
	if err := a.prefs.SetWorkingMode(mode); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Working mode set to %s\n", mode)
	return nil
}

func (a *app) shellTool(args []string) error {
	rest, err := flags(pflag.NewFlagSet("shell-tool", pflag.ContinueOnError), args, 0, 1, "[on|off]")
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		fmt.Fprintln(a.stdout, onOff(a.prefs.Get().UseShellTool))
		return nil
	}
	v, err := parseOnOff(rest[0])
	if err != nil {
		return err
	}
	return a.prefs.SetUseShellTool(v)
}

func (a *app) modules(args []string) error {
	if _, err := flags(pflag.NewFlagSet("modules", pflag.ContinueOnError), args, 0, 0, ""); err != nil {
		return err
	}
	h, err := a.bind(context.Background())
	if err != nil {
		return err
	}
	mods, err := h.ModuleManager().Modules()
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(mods))
	for _, m := range mods {
		ids = append(ids, m.ID)
	}
	if err := a.prefs.Reconcile(ids); err != nil {
		a.logger.Printf("warning: reconcile prefs: %v", err)
	}

	if len(mods) == 0 {
		fmt.Fprintln(a.stdout, "No modules installed")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tSTATE\tSIZE\tFEATURES")
	for _, m := range mods {
		fmt.Fprintf(w, "%s\t%s\t%s (%d)\t%s\t%s\t%s\n",
			m.ID, m.Name, m.Version, m.VersionCode, m.State, humanSize(m.Size), features(m.Features))
	}
	return w.Flush()
}

func (a *app) info(args []string) error {
	rest, err := flags(pflag.NewFlagSet("info", pflag.ContinueOnError), args, 1, 1, "<zip>")
	if err != nil {
		return err
	}
	zipPath, err := filepath.Abs(rest[0])
	if err != nil {
		return err
	}
	h, err := a.bind(context.Background())
	if err != nil {
		return err
	}
	m, err := h.ModuleManager().ModuleInfo(zipPath)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", m.ID)
	fmt.Fprintf(w, "Name:\t%s\n", m.Name)
	fmt.Fprintf(w, "Version:\t%s (%d)\n", m.Version, m.VersionCode)
	fmt.Fprintf(w, "Author:\t%s\n", m.Author)
	fmt.Fprintf(w, "Description:\t%s\n", m.Description)
	if m.UpdateJSON != "" {
		fmt.Fprintf(w, "Update JSON:\t%s\n", m.UpdateJSON)
	}
	return w.Flush()
}

func (a *app) transition(op string, args []string) error {
	fs := pflag.NewFlagSet(op, pflag.ContinueOnError)
	useTool := fs.Bool("shell-tool", a.prefs.Get().UseShellTool, "use the backend's own tool")
	rest, err := flags(fs, args, 1, 1, "<id> [--shell-tool]")
	if err != nil {
		return err
	}
	id := rest[0]

	h, err := a.bind(context.Background())
	if err != nil {
		return err
	}
	m := h.ModuleManager()
	ctx := context.Background()
	switch op {
	case "enable":
		err = m.Enable(ctx, id, *useTool)
	case "disable":
		err = m.Disable(ctx, id, *useTool)
	case "remove":
		err = m.Remove(ctx, id, *useTool)
	}
	if err != nil {
		return err
	}

	if got, err := m.ModuleByID(id); err == nil {
		fmt.Fprintf(a.stdout, "%s: %s\n", id, got.State)
	}
	return nil
}

// output streams a job's lines to the terminal and remembers its exit
// status.
func (a *app) output(code *int) shell.Listener {
	return shell.ListenerFuncs{
		Stdout: func(line string) { fmt.Fprintln(a.stdout, line) },
		Stderr: func(line string) { fmt.Fprintln(a.stderr, line) },
		Exit:   func(c int) { *code = c },
	}
}

func (a *app) install(args []string) error {
	rest, err := flags(pflag.NewFlagSet("install", pflag.ContinueOnError), args, 1, -1, "<zip>...")
	if err != nil {
		return err
	}
	zips := make([]string, 0, len(rest))
	for _, p := range rest {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		zips = append(zips, abs)
	}

	h, err := a.bind(context.Background())
	if err != nil {
		return err
	}
	stop := interruptStreams(h, a.stderr)
	defer stop()

	var code int
	return h.ModuleManager().InstallAll(context.Background(), zips, a.output(&code))
}

func (a *app) action(args []string) error {
	fs := pflag.NewFlagSet("action", pflag.ContinueOnError)
	legacy := fs.Bool("legacy", false, "run action.sh directly instead of the backend command")
	rest, err := flags(fs, args, 1, 1, "<id> [--legacy]")
	if err != nil {
		return err
	}

	h, err := a.bind(context.Background())
	if err != nil {
		return err
	}
	stop := interruptStreams(h, a.stderr)
	defer stop()

	var code int
	err = h.ModuleManager().Action(context.Background(), rest[0], *legacy, a.output(&code))
	if err != nil && code != 0 {
		// The script's stderr has already been streamed.
		return exitCode(code)
	}
	return err
}

func (a *app) reboot(args []string) error {
	rest, err := flags(pflag.NewFlagSet("reboot", pflag.ContinueOnError), args, 0, 1, "[reason]")
	if err != nil {
		return err
	}
	reason := ""
	if len(rest) == 1 {
		reason = rest[0]
	}
	h, err := a.bind(context.Background())
	if err != nil {
		return err
	}
	return h.ModuleManager().Reboot(context.Background(), reason)
}

func (a *app) devtools(args []string) error {
	rest, err := flags(pflag.NewFlagSet("devtools", pflag.ContinueOnError), args, 1, 2, "<id> [on|off]")
	if err != nil {
		return err
	}
	id := rest[0]
	if !module.ValidID(id) {
		return fmt.Errorf("invalid module id %q", id)
	}
	if len(rest) == 1 {
		fmt.Fprintln(a.stdout, onOff(a.prefs.Module(id).DevTools))
		return nil
	}
	v, err := parseOnOff(rest[1])
	if err != nil {
		return err
	}
	m := a.prefs.Module(id)
	m.DevTools = v
	return a.prefs.SetModule(id, m)
}

func (a *app) webui(args []string) error {
	fs := pflag.NewFlagSet("webui", pflag.ContinueOnError)
	addr := fs.String("addr", a.cfg.WebUI.Addr, "address to serve on")
	devTools := fs.Bool("devtools", false, "inject the inspector for this session")
	rest, err := flags(fs, args, 1, 1, "<id> [--addr addr] [--devtools]")
	if err != nil {
		return err
	}
	id := rest[0]

	h, err := a.bind(context.Background())
	if err != nil {
		return err
	}
	srv, err := webui.NewServer(h.FileManager(), webui.Options{
		ModuleID:   id,
		ModulesDir: a.cfg.ModulesDir,
		ConfigDir:  a.cfg.WebUI.ConfigDir,
		AssetsDir:  a.cfg.WebUI.AssetsDir,
		Domain:     a.cfg.WebUI.Domain,
		Insets:     a.cfg.WebUI.Insets,
		Colors:     a.cfg.WebUI.Colors,
		DevTools:   *devTools || a.prefs.Module(id).DevTools,
		AppVersion: versionCode,
		Logger:     log.New(a.stderr, "[webui] ", log.LstdFlags|log.Lmsgprefix),
	})
	if err != nil {
		return err
	}
	if title := srv.Config().Title; title != "" {
		fmt.Fprintf(a.stdout, "%s\n", title)
	}
	fmt.Fprintf(a.stdout, "Serving %s on http://%s/\n", id, *addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-h.Done():
			a.logger.Printf("warning: service connection lost")
			stop()
		case <-ctx.Done():
		}
	}()
	return srv.ListenAndServe(ctx, *addr)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func features(f module.Features) string {
	var out []string
	for _, x := range []struct {
		on   bool
		name string
	}{
		{f.WebUI, "webui"},
		{f.Action, "action"},
		{f.Service, "service"},
		{f.PostFsData, "post-fs-data"},
		{f.System, "system"},
		{f.SEPolicy, "sepolicy"},
	} {
		if x.on {
			out = append(out, x.name)
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}
