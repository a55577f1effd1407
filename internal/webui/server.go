package webui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log"
	"mime"
	"mmrl/internal/fileops"
	"mmrl/internal/module"
	"net/http"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
)

const (
	DefaultDomain     = "mui.kernelsu.org"
	DefaultModulesDir = "/data/adb/modules"
	DefaultConfigDir  = "/data/adb/.config"
)

// maxInflated caps what one compressed file may expand to.
const maxInflated = 64 << 20

// Options configures a Server for one module.
type Options struct {
	ModuleID   string
	ModulesDir string
	ConfigDir  string // per-module user overrides
	AssetsDir  string // served under /internal/assets/ when set
	Domain     string // "" matches any host
	Insets     Insets
	Colors     Colors
	DevTools   bool
	AppVersion int // 0 skips the version requirement
	Logger     *log.Logger
}

// Server serves one module's web root.
type Server struct {
	fm     fileops.FileManager
	opts   Options
	config Config

	webroot      *Resolver
	moduleConfig *Resolver
	root         *Resolver // nil without PermissionRootPath
	assets       *Resolver // nil without AssetsDir

	logger *log.Logger
}

// NewServer loads the module's config and builds its resolvers.
func NewServer(fm fileops.FileManager, opts Options) (*Server, error) {
	if !module.ValidID(opts.ModuleID) {
		return nil, fmt.Errorf("invalid module id %q", opts.ModuleID)
	}
	if opts.ModulesDir == "" {
		opts.ModulesDir = DefaultModulesDir
	}
	if opts.ConfigDir == "" {
		opts.ConfigDir = DefaultConfigDir
	}
	if opts.Colors == nil {
		opts.Colors = DefaultColors()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[webui] ", log.LstdFlags|log.Lmsgprefix)
	}

	s := &Server{fm: fm, opts: opts, logger: opts.Logger}

	dir := path.Join(opts.ModulesDir, opts.ModuleID, "webroot")
	var err error
	if s.webroot, err = NewResolver(fm, dir); err != nil {
		return nil, err
	}
	if s.moduleConfig, err = NewResolver(fm, s.configDir()); err != nil {
		return nil, err
	}
	s.config = LoadConfig(fm, s.webroot.Root())

	if s.config.HasPermission(PermissionRootPath) {
		if s.root, err = NewResolver(fm, "/"); err != nil {
			return nil, err
		}
	}
	if opts.AssetsDir != "" {
		if s.assets, err = NewResolver(fm, opts.AssetsDir); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Config returns the module's web UI config.
func (s *Server) Config() Config { return s.config }

func (s *Server) configDir() string {
	return path.Join(s.opts.ConfigDir, s.opts.ModuleID)
}

// Handler returns the routes for the module's virtual domain. Paths are
// not cleaned by the router; confinement is the resolvers' job.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter().SkipClean(true)
	routes := r
	if s.opts.Domain != "" {
		routes = r.Host(s.opts.Domain).Subrouter()
	}

	get := []string{http.MethodGet, http.MethodHead}
	routes.PathPrefix("/internal/").HandlerFunc(s.handleInternal).Methods(get...)
	routes.PathPrefix("/.adb/.config/{id}/").HandlerFunc(s.handleModuleConfig).Methods(get...)
	routes.PathPrefix("/__root__/").HandlerFunc(s.handleRoot).Methods(get...)
	routes.PathPrefix("/").HandlerFunc(s.handleWebroot).Methods(get...)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Client-Via", "MMRL WebUI")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		r.ServeHTTP(w, req)
	})
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Printf("serving %s on %s", s.opts.ModuleID, addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// reserved prefixes belong to other namespaces and never reach the web
// root.
func (s *Server) reserved(p string) bool {
	for _, prefix := range []string{"mmrl/", "internal/", ".adb/", ".local/", ".config/", "." + s.opts.ModuleID + "/"} {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) handleWebroot(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	if s.reserved(p) || path.Base(p) == "favicon.ico" {
		http.NotFound(w, r)
		return
	}

	file, ok := s.locate(s.webroot, p)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !s.fm.Exists(file) && s.config.HistoryFallback {
		if file, ok = s.locate(s.webroot, s.config.HistoryFallbackFile); !ok {
			http.NotFound(w, r)
			return
		}
	}

	if isHTML(file) && s.opts.AppVersion > 0 && !s.config.Supports(s.opts.AppVersion) {
		s.writeUpgradeRequired(w)
		return
	}
	s.serveFile(w, r, file, true)
}

func (s *Server) handleInternal(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/internal/")
	switch p {
	case "insets.css":
		writeText(w, "text/css", s.opts.Insets.CSS())
		return
	case "colors.css":
		writeText(w, "text/css", s.opts.Colors.CSS())
		return
	case "scripts/require.js":
		writeText(w, "text/javascript", s.requireJS())
		return
	case "scripts/sufile-fetch-ext.js":
		writeText(w, "text/javascript", fetchExtScript)
		return
	}

	if rest, ok := strings.CutPrefix(p, "assets/"); ok && s.assets != nil {
		if file, ok := s.locate(s.assets, rest); ok {
			s.serveFile(w, r, file, false)
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Server) handleModuleConfig(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id != s.opts.ModuleID {
		http.NotFound(w, r)
		return
	}
	file, ok := s.locate(s.moduleConfig, strings.TrimPrefix(r.URL.Path, "/.adb/.config/"+id+"/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, r, file, false)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if s.root == nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	file, ok := s.locate(s.root, strings.TrimPrefix(r.URL.Path, "/__root__/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, r, file, false)
}

// locate resolves p under res, mapping directories to their index.html.
func (s *Server) locate(res *Resolver, p string) (string, bool) {
	file, ok := res.ResolveChild(p)
	if !ok {
		s.logger.Printf("warning: %s is outside %s", p, res.Root())
		return "", false
	}
	if s.fm.IsDirectory(file) {
		return res.ResolveChild(strings.TrimPrefix(file+"/", res.Root()) + "index.html")
	}
	return file, true
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, file string, inject bool) {
	if Forbidden(file) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	data, err := s.fm.Read(file)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	name := file
	switch path.Ext(file) {
	case ".svgz":
		name = strings.TrimSuffix(file, ".svgz") + ".svg"
		data, err = gunzip(data, maxInflated)
	case ".gz":
		name = strings.TrimSuffix(file, ".gz")
		data, err = gunzip(data, maxInflated)
	}
	if err != nil {
		s.logger.Printf("warning: decompress %s: %v", file, err)
		http.NotFound(w, r)
		return
	}

	if inject && isHTML(name) {
		data = Inject(data, s.injections())
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// injections builds the markup added to every HTML page, in insertion
// order.
func (s *Server) injections() []Injection {
	var out []Injection
	add := func(p Placement, format string, args ...any) {
		out = append(out, Injection{Placement: p, Code: fmt.Sprintf(format, args...)})
	}

	if s.opts.DevTools {
		add(Head, "<script data-internal type=\"module\">\n"+
			"\timport eruda from \"/internal/assets/eruda/eruda.mjs\";\n"+
			"\teruda.init();\n"+
			"\tconst sheet = new CSSStyleSheet();\n"+
			"\tsheet.replaceSync(\".eruda-dev-tools { padding-bottom: %dpx }\");\n"+
			"\twindow.eruda.shadowRoot.adoptedStyleSheets.push(sheet);\n"+
			"</script>\n", s.opts.Insets.Bottom)
	}

	add(Head, "<link data-internal rel=\"stylesheet\" href=\"/internal/colors.css\" type=\"text/css\" />\n")

	base := "/.adb/.config/" + s.opts.ModuleID
	for _, name := range s.listExt(path.Join(s.configDir(), "style"), ".css") {
		add(Head, "<link data-internal rel=\"stylesheet\" href=\"%s/style/%s\" type=\"text/css\" />\n", base, name)
	}

	add(Body, "<script data-internal data-internal-dont-use src=\"/internal/scripts/require.js\" type=\"module\"></script>\n")
	add(Body, "<script data-internal data-internal-dont-use src=\"/internal/scripts/sufile-fetch-ext.js\" type=\"module\"></script>\n")

	for _, name := range s.listExt(path.Join(s.configDir(), "js", "head"), ".js") {
		add(Head, "<script data-internal src=\"%s/js/head/%s\" type=\"module\"></script>\n", base, name)
	}
	for _, name := range s.listExt(path.Join(s.configDir(), "js", "body"), ".js") {
		add(Body, "<script data-internal src=\"%s/js/body/%s\" type=\"module\"></script>\n", base, name)
	}

	out = append(out, Injection{Placement: Head, Code: s.opts.Insets.inject()})
	return out
}

// listExt returns the sorted names in dir ending in ext. A missing dir
// has none.
func (s *Server) listExt(dir, ext string) []string {
	names, err := s.fm.List(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range names {
		if path.Ext(name) == ext && s.fm.IsFile(path.Join(dir, name)) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (s *Server) writeUpgradeRequired(w http.ResponseWriter) {
	v := s.config.Require.Version
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><title>Update required</title></head><body>\n")
	fmt.Fprintf(&b, "<p>This web UI requires app version %d or newer.</p>\n", v.Required)
	if v.SupportText != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(v.SupportText))
	}
	if v.SupportLink != "" {
		link := html.EscapeString(v.SupportLink)
		fmt.Fprintf(&b, "<p><a href=\"%s\">%s</a></p>\n", link, link)
	}
	b.WriteString("</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUpgradeRequired)
	io.WriteString(w, b.String())
}

func writeText(w http.ResponseWriter, ctype, body string) {
	w.Header().Set("Content-Type", ctype+"; charset=utf-8")
	io.WriteString(w, body)
}

func isHTML(name string) bool {
	ext := path.Ext(name)
	return ext == ".html" || ext == ".htm"
}

var errInflatedTooLarge = errors.New("inflated content too large")

// gunzip inflates data, failing rather than truncating past limit bytes.
func gunzip(data []byte, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, errInflatedTooLarge
	}
	return out, nil
}
