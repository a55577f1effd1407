package module

import (
	"fmt"
	"io"
	"mmrl/internal/fileops"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Well-known files of a module directory.
const (
	PropFile          = "module.prop"
	WebrootDir        = "webroot"
	ActionFile        = "action.sh"
	ServiceFile       = "service.sh"
	PostFsDataFile    = "post-fs-data.sh"
	PostMountFile     = "post-mount.sh"
	SystemPropFile    = "system.prop"
	BootCompletedFile = "boot-completed.sh"
	SEPolicyFile      = "sepolicy.rule"
	UninstallFile     = "uninstall.sh"
	SystemDir         = "system"
)

// lastUpdatedFiles are probed in order; the first that exists dates the
// module.
var lastUpdatedFiles = []string{
	SEPolicyFile,
	ActionFile,
	ServiceFile,
	PostFsDataFile,
	PostMountFile,
	WebrootDir,
	BootCompletedFile,
	UninstallFile,
	SystemDir,
	PropFile,
}

// maxPropSize bounds the module.prop read out of an archive.
const maxPropSize = 1 << 20

var idPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]+$`)

// ValidID reports whether id can name a module directory.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9._]`)

// SanitizeID maps id onto the characters allowed in a config directory or
// a JavaScript identifier.
func SanitizeID(id string) string {
	return unsafeIDChars.ReplaceAllString(id, "_")
}

// ParseProps reads key=value lines. Keys and values are trimmed; lines
// without "=" are ignored and later keys override earlier ones.
func ParseProps(text string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props
}

// fromProps builds a module description. fallback stands in for a missing
// id or name.
func fromProps(props map[string]string, fallback string) LocalModule {
	get := func(key, def string) string {
		if v, ok := props[key]; ok {
			return v
		}
		return def
	}

	versionCode, err := strconv.Atoi(get("versionCode", "-1"))
	if err != nil {
		versionCode = -1
	}

	return LocalModule{
		ID:          get("id", fallback),
		Name:        get("name", fallback),
		Version:     get("version", ""),
		VersionCode: versionCode,
		Author:      get("author", ""),
		Description: get("description", ""),
		UpdateJSON:  get("updateJson", ""),
	}
}

// readModule describes the installed module in dir. It fails with
// fs.ErrNotExist when dir has no module.prop.
func readModule(fm fileops.FileManager, dir string) (*LocalModule, error) {
	data, err := fm.Read(path.Join(dir, PropFile))
	if err != nil {
		return nil, err
	}

	m := fromProps(ParseProps(string(data)), path.Base(dir))
	m.State = ReadMarkers(fm, dir).State()
	m.Features = readFeatures(fm, dir)

	if size, err := fm.Size(dir, true); err == nil {
		m.Size = size
	}
	for _, name := range lastUpdatedFiles {
		if info, err := fm.Stat(path.Join(dir, name)); err == nil {
			m.LastUpdated = info.ModTime
			break
		}
	}
	return &m, nil
}

func readFeatures(fm fileops.FileManager, dir string) Features {
	file := func(name string) bool {
		return fm.IsFile(path.Join(dir, name))
	}
	return Features{
		WebUI:         fm.IsDirectory(path.Join(dir, WebrootDir)),
		Action:        file(ActionFile),
		Service:       file(ServiceFile),
		PostFsData:    file(PostFsDataFile),
		PostMount:     file(PostMountFile),
		ResetProp:     file(SystemPropFile),
		BootCompleted: file(BootCompletedFile),
		SEPolicy:      file(SEPolicyFile),
		Uninstall:     file(UninstallFile),
		System:        fm.IsDirectory(path.Join(dir, SystemDir)),
	}
}

// readArchiveInfo parses the module.prop at the top of a module zip. It
// returns nil without error when the archive has none.
func readArchiveInfo(zipPath string) (*LocalModule, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != PropFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", PropFile, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxPropSize))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", PropFile, err)
		}
		m := fromProps(ParseProps(string(data)), "unknown")
		return &m, nil
	}
	return nil, nil
}
