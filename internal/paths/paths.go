package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProjectPaths captures canonical locations for a storyreel project.
type ProjectPaths struct {
	Root            string
	ConfigFile      string
	TimelineFile    string
	MetaDir         string
	OverlayCacheDir string
	SegmentsDir     string
	OutputDir       string
	LogsDir         string
	CapabilityFile  string
	RenderStateFile string
}

// Resolve determines the project root using the optional --project flag or the
// current working directory when the flag is empty.
func Resolve(projectFlag string) (ProjectPaths, error) {
	var (
		root string
		err  error
	)

	if projectFlag != "" {
		root, err = filepath.Abs(projectFlag)
	} else {
		root, err = os.Getwd()
	}
	if err != nil {
		return ProjectPaths{}, fmt.Errorf("resolve project root: %w", err)
	}

	return New(root), nil
}

// New builds the canonical path set rooted at the given directory.
func New(root string) ProjectPaths {
	metaDir := filepath.Join(root, ".storyreel")
	return ProjectPaths{
		Root:            root,
		ConfigFile:      filepath.Join(root, "storyreel.yaml"),
		TimelineFile:    filepath.Join(root, "timeline.json"),
		MetaDir:         metaDir,
		OverlayCacheDir: filepath.Join(root, "overlay-cache"),
		SegmentsDir:     filepath.Join(root, "segments"),
		OutputDir:       filepath.Join(root, "output"),
		LogsDir:         filepath.Join(root, "logs"),
		CapabilityFile:  filepath.Join(metaDir, "capability.json"),
		RenderStateFile: filepath.Join(metaDir, "render_state.json"),
	}
}

// OverlayKindDir returns the cache directory for one overlay kind.
func (p ProjectPaths) OverlayKindDir(kind string) string {
	return filepath.Join(p.OverlayCacheDir, kind)
}

// EnsureMetaDirs creates the standard cache/logs/segments hierarchy alongside
// the hidden .storyreel metadata directory.
func (p ProjectPaths) EnsureMetaDirs() error {
	dirs := []string{p.MetaDir, p.OverlayCacheDir, p.SegmentsDir, p.OutputDir, p.LogsDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists reports whether a path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}
