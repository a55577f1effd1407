package shell

import "testing"

func TestScrubEnvironment(t *testing.T) {
	env := []string{
		"PATH=/sbin:/system/bin",
		"ANDROID_DATA=/data",
		"BOOTCLASSPATH=/apex/core.jar",
		"LD_PRELOAD=/data/local/tmp/evil.so",
		"LD_LIBRARY_PATH=/data/local/tmp",
		"BASH_ENV=/data/local/tmp/rc",
		"RANDOM_VAR=whatever",
	}

	scrubbed := ScrubEnvironment(env)

	expected := map[string]bool{
		"PATH":          false,
		"ANDROID_DATA":  false,
		"BOOTCLASSPATH": false,
	}

	for _, e := range scrubbed {
		key := envKey(e)
		if _, ok := expected[key]; ok {
			expected[key] = true
		} else {
			t.Errorf("unexpected env var passed through: %s", key)
		}
	}

	for key, found := range expected {
		if !found {
			t.Errorf("expected env var %s was not passed through", key)
		}
	}
}

func TestMergeEnv(t *testing.T) {
	got := MergeEnv([]string{"PATH=/bin", "KSU=false"}, map[string]string{"KSU": "true", "API": "34"})
	want := []string{"PATH=/bin", "API=34", "KSU=true"}
	if !equalLines(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExportPrefixQuotes(t *testing.T) {
	got := ExportPrefix(map[string]string{"B": "it's", "A": "1"})
	want := `export A='1'; export B='it'\''s'; `
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
