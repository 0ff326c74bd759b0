// Package workspace implements the deterministic per-channel/per-project
// directory scheme the external programs require (spec.md §4.5). File
// placement outside this tree is never permitted.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/reelforge/orchestrator/pkg/model"
)

// Layout resolves paths under a single configured root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root (defaults to "./workspace" at the
// caller's discretion, per WORKSPACE_ROOT in spec.md §6).
func New(root string) *Layout {
	return &Layout{Root: root}
}

// ProjectDir returns <root>/channels/<channel_id>/projects/<project_id>.
func (l *Layout) ProjectDir(channelID, projectID uuid.UUID) string {
	return filepath.Join(l.Root, "channels", channelID.String(), "projects", projectID.String())
}

// EnsureProject idempotently creates the full directory tree for a
// project and returns its root path.
func (l *Layout) EnsureProject(channelID, projectID uuid.UUID) (string, error) {
	root := l.ProjectDir(channelID, projectID)
	dirs := []string{
		filepath.Join(root, "assets", "characters"),
		filepath.Join(root, "assets", "environments"),
		filepath.Join(root, "assets", "props"),
		filepath.Join(root, "assets", "composites"),
		filepath.Join(root, "videos"),
		filepath.Join(root, "audio"),
		filepath.Join(root, "sfx"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("create workspace dir %s: %w", d, err)
		}
	}
	return root, nil
}

// AssetDir returns the asset subdirectory for one of the four asset
// kinds the generate_asset program writes into.
func (l *Layout) AssetDir(channelID, projectID uuid.UUID, kind string) string {
	return filepath.Join(l.ProjectDir(channelID, projectID), "assets", kind)
}

// AssetPath returns the path for asset n (1-based, 1..model.AssetCount),
// generated directly under the project's assets root regardless of
// which of the four asset kinds it is: the external program decides the
// kind, the orchestrator only needs a stable numbered path to check for
// resume purposes.
func (l *Layout) AssetPath(channelID, projectID uuid.UUID, n int) string {
	return filepath.Join(l.ProjectDir(channelID, projectID), "assets", fmt.Sprintf("asset_%02d.png", n))
}

// CompositePath returns the path for composite n (1-based, 1..model.ClipCount).
func (l *Layout) CompositePath(channelID, projectID uuid.UUID, n int) string {
	return filepath.Join(l.ProjectDir(channelID, projectID), "assets", "composites", fmt.Sprintf("composite_%02d.png", n))
}

// MissingAssets is the asset analogue of MissingClips.
func (l *Layout) MissingAssets(channelID, projectID uuid.UUID) []int {
	return missingIndices(model.AssetCount, func(n int) string { return l.AssetPath(channelID, projectID, n) })
}

// MissingComposites is the composite analogue of MissingClips.
func (l *Layout) MissingComposites(channelID, projectID uuid.UUID) []int {
	return missingIndices(model.ClipCount, func(n int) string { return l.CompositePath(channelID, projectID, n) })
}

// ClipPath returns the path for clip n (1-based, 1..model.ClipCount).
func (l *Layout) ClipPath(channelID, projectID uuid.UUID, n int) string {
	return filepath.Join(l.ProjectDir(channelID, projectID), "videos", fmt.Sprintf("clip_%02d.mp4", n))
}

// NarrationPath returns the path for narration track n.
func (l *Layout) NarrationPath(channelID, projectID uuid.UUID, n int) string {
	return filepath.Join(l.ProjectDir(channelID, projectID), "audio", fmt.Sprintf("narration_%02d.wav", n))
}

// SFXPath returns the path for sound-effect track n.
func (l *Layout) SFXPath(channelID, projectID uuid.UUID, n int) string {
	return filepath.Join(l.ProjectDir(channelID, projectID), "sfx", fmt.Sprintf("sfx_%02d.wav", n))
}

// FinalPath returns <project_root>/<project_id>_final.mp4.
func (l *Layout) FinalPath(channelID, projectID uuid.UUID) string {
	return filepath.Join(l.ProjectDir(channelID, projectID), fmt.Sprintf("%s_final.mp4", projectID.String()))
}

// MissingClips returns the 1-based indices in [1, model.ClipCount] whose
// clip file is absent, so a resumed stage regenerates only what's
// missing (spec.md's "each stage idempotent given the workspace
// layout").
func (l *Layout) MissingClips(channelID, projectID uuid.UUID) []int {
	return missingIndices(model.ClipCount, func(n int) string { return l.ClipPath(channelID, projectID, n) })
}

// MissingNarrations is the narration analogue of MissingClips.
func (l *Layout) MissingNarrations(channelID, projectID uuid.UUID) []int {
	return missingIndices(model.NarrationCount, func(n int) string { return l.NarrationPath(channelID, projectID, n) })
}

// MissingSFX is the sound-effect analogue of MissingClips.
func (l *Layout) MissingSFX(channelID, projectID uuid.UUID) []int {
	return missingIndices(model.SFXCount, func(n int) string { return l.SFXPath(channelID, projectID, n) })
}

func missingIndices(count int, pathFor func(int) string) []int {
	var missing []int
	for n := 1; n <= count; n++ {
		if _, err := os.Stat(pathFor(n)); os.IsNotExist(err) {
			missing = append(missing, n)
		}
	}
	return missing
}

// DeleteOutput removes a single file, used when a review rejection
// names a specific clip/narration/sfx for regeneration (spec.md §8
// scenario 5) or when a non-zero exit means "partial outputs are
// invalid" (spec.md §6).
func (l *Layout) DeleteOutput(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete workspace output %s: %w", path, err)
	}
	return nil
}
