package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLaysOutProjectTree(t *testing.T) {
	pp := New("/proj")

	if pp.ConfigFile != filepath.Join("/proj", "storyreel.yaml") {
		t.Errorf("config file: got %q", pp.ConfigFile)
	}
	if pp.TimelineFile != filepath.Join("/proj", "timeline.json") {
		t.Errorf("timeline file: got %q", pp.TimelineFile)
	}
	if pp.CapabilityFile != filepath.Join("/proj", ".storyreel", "capability.json") {
		t.Errorf("capability file: got %q", pp.CapabilityFile)
	}
	if pp.OverlayKindDir("caption") != filepath.Join("/proj", "overlay-cache", "caption") {
		t.Errorf("overlay kind dir: got %q", pp.OverlayKindDir("caption"))
	}
}

func TestEnsureMetaDirs(t *testing.T) {
	pp := New(t.TempDir())
	if err := pp.EnsureMetaDirs(); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{pp.MetaDir, pp.OverlayCacheDir, pp.SegmentsDir, pp.OutputDir, pp.LogsDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("directory not created: %s", dir)
		}
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()

	exists, err := FileExists(filepath.Join(dir, "nope"))
	if err != nil || exists {
		t.Errorf("missing file: exists=%v err=%v", exists, err)
	}

	path := filepath.Join(dir, "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	exists, err = FileExists(path)
	if err != nil || !exists {
		t.Errorf("regular file: exists=%v err=%v", exists, err)
	}

	exists, err = FileExists(dir)
	if err != nil || exists {
		t.Errorf("directory reported as file: exists=%v err=%v", exists, err)
	}
}
