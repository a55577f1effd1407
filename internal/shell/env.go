package shell

import (
	"sort"
	"strings"
)

// Scripts spawned by the host run as root, so they only inherit the
// variables the Android runtime needs. Anything that lets a caller inject
// code into a root process is dropped even if allowlisted.

var envAllowlist = map[string]bool{
	"PATH":                  true,
	"HOME":                  true,
	"TMPDIR":                true,
	"LANG":                  true,
	"TERM":                  true,
	"SHELL":                 true,
	"ANDROID_ROOT":          true,
	"ANDROID_DATA":          true,
	"ANDROID_ART_ROOT":      true,
	"ANDROID_I18N_ROOT":     true,
	"ANDROID_TZDATA_ROOT":   true,
	"ANDROID_RUNTIME_ROOT":  true,
	"ANDROID_STORAGE":       true,
	"EXTERNAL_STORAGE":      true,
	"ASEC_MOUNTPOINT":       true,
	"BOOTCLASSPATH":         true,
	"DEX2OATBOOTCLASSPATH":  true,
	"SYSTEMSERVERCLASSPATH": true,
}

var envBlocklist = map[string]bool{
	"LD_PRELOAD":      true,
	"LD_LIBRARY_PATH": true,
	"LD_AUDIT":        true,
	"LD_DEBUG":        true,
	"ENV":             true,
	"BASH_ENV":        true,
	"MMRL_SOCKET":     true,
}

// ScrubEnvironment filters "KEY=VALUE" entries through the allowlist and
// the blocklist.
func ScrubEnvironment(env []string) []string {
	scrubbed := make([]string, 0, len(env))

	for _, entry := range env {
		key := envKey(entry)

		if envBlocklist[key] {
			continue
		}
		if envAllowlist[key] {
			scrubbed = append(scrubbed, entry)
		}
	}

	return scrubbed
}

// MergeEnv returns base with vars set, replacing existing keys. Added keys
// are appended in sorted order.
func MergeEnv(base []string, vars map[string]string) []string {
	merged := make([]string, 0, len(base)+len(vars))
	for _, entry := range base {
		if _, ok := vars[envKey(entry)]; ok {
			continue
		}
		merged = append(merged, entry)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+vars[k])
	}
	return merged
}

// ExportPrefix renders vars as "export K=V; " assignments for a command
// line run through a Session. Keys are sorted; values are single-quoted.
func ExportPrefix(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString("export ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(Quote(vars[k]))
		b.WriteString("; ")
	}
	return b.String()
}

// Quote single-quotes s for sh.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// envKey extracts the key from a "KEY=VALUE" environment entry.
func envKey(entry string) string {
	if idx := strings.IndexByte(entry, '='); idx >= 0 {
		return entry[:idx]
	}
	return entry
}
