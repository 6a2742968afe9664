package kitstore

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

// Store manages kit archives on disk under base_path/owner/kit_id/version.
type Store struct {
	basePath string
}

// NewStore creates a Store rooted at basePath, creating it if missing.
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("kitstore: create base path: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) kitPath(owner, kitID string, version string) string {
	if version == "" {
		return filepath.Join(s.basePath, owner, kitID)
	}
	return filepath.Join(s.basePath, owner, kitID, version)
}

// Upload ingests a zip archive containing a top-level kit.yaml plus
// actions/, instructions/, and workspace/ subtrees. It extracts to a
// staging directory first and renames into place only once every
// validation has passed, so a failure never leaves a partial kit visible.
func (s *Store) Upload(archive []byte, overwrite bool) (*Manifest, error) {
	staging, err := os.MkdirTemp(s.basePath, ".stage-*")
	if err != nil {
		return nil, fmt.Errorf("kitstore: create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extractZip(archive, staging); err != nil {
		return nil, platformerr.Wrap(platformerr.MalformedKit, "extract archive", err)
	}

	manifestPath := filepath.Join(staging, "kit.yaml")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, platformerr.New(platformerr.MalformedKit, "kit.yaml not found in kit root")
	}

	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}

	if err := s.validateActionFiles(manifest, staging); err != nil {
		return nil, err
	}

	finalPath := s.kitPath(manifest.Owner, manifest.ID, manifest.Version)
	if _, err := os.Stat(finalPath); err == nil {
		if !overwrite {
			return nil, platformerr.New(platformerr.VersionExists,
				fmt.Sprintf("version %s already exists for %s/%s", manifest.Version, manifest.Owner, manifest.ID))
		}
		if err := os.RemoveAll(finalPath); err != nil {
			return nil, fmt.Errorf("kitstore: remove existing version for overwrite: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, fmt.Errorf("kitstore: create kit parent dirs: %w", err)
	}
	if err := os.Rename(staging, finalPath); err != nil {
		return nil, fmt.Errorf("kitstore: stage-then-rename into place: %w", err)
	}

	if err := manifest.resolve(finalPath); err != nil {
		return nil, err
	}
	return manifest, nil
}

// validateActionFiles checks that every "file:function" action path named
// by the manifest — both provide.actions and every profile's actions —
// resolves to an actual file under actions/.
func (s *Store) validateActionFiles(m *Manifest, stagingPath string) error {
	check := func(actionPath string) error {
		parts := splitActionPath(actionPath)
		if parts == "" {
			return platformerr.New(platformerr.MalformedKit,
				fmt.Sprintf("action path %q is not in \"file:function\" form", actionPath))
		}
		file := filepath.Join(stagingPath, "actions", parts+".py")
		if _, err := os.Stat(file); err != nil {
			return platformerr.New(platformerr.MalformedKit,
				fmt.Sprintf("action path %q resolves to missing file %s", actionPath, file))
		}
		return nil
	}

	for _, ref := range m.Provide.Actions {
		if err := check(ref.Path); err != nil {
			return err
		}
	}
	for name, profile := range m.Profiles {
		for _, actionPath := range profile.Actions {
			if err := check(actionPath); err != nil {
				return fmt.Errorf("profile %q: %w", name, err)
			}
		}
	}
	return nil
}

// splitActionPath returns the file portion of a "file:function" action
// path, or "" if the path isn't well-formed.
func splitActionPath(actionPath string) string {
	file, _, ok := strings.Cut(actionPath, ":")
	if !ok {
		return ""
	}
	return file
}

// GetKitConfig loads and fully resolves the manifest for one kit version;
// this is the ground truth downstream components consume and must not be
// cached across requests.
func (s *Store) GetKitConfig(owner, kitID, version string) (*Manifest, error) {
	if !ValidSemver(version) {
		return nil, platformerr.New(platformerr.InvalidVersion, fmt.Sprintf("invalid version %q", version))
	}

	kitPath := s.kitPath(owner, kitID, version)
	raw, err := os.ReadFile(filepath.Join(kitPath, "kit.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, platformerr.New(platformerr.KitNotFound,
				fmt.Sprintf("kit %s/%s version %s not found", owner, kitID, version))
		}
		return nil, fmt.Errorf("kitstore: read kit.yaml: %w", err)
	}

	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}
	if err := manifest.resolve(kitPath); err != nil {
		return nil, err
	}
	return manifest, nil
}

// ListVersions returns every version directory under owner/kit_id sorted
// ascending by numeric tuple (descending if desc is true).
func (s *Store) ListVersions(owner, kitID string, desc bool) ([]string, error) {
	kitDir := s.kitPath(owner, kitID, "")
	entries, err := os.ReadDir(kitDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, platformerr.New(platformerr.KitNotFound, fmt.Sprintf("kit not found: %s/%s", owner, kitID))
		}
		return nil, fmt.Errorf("kitstore: list versions: %w", err)
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() && ValidSemver(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		if desc {
			return compareSemver(versions[i], versions[j]) > 0
		}
		return compareSemver(versions[i], versions[j]) < 0
	})
	return versions, nil
}

// DeleteVersion removes one kit version and prunes now-empty parent
// directories (kit dir, then owner dir).
func (s *Store) DeleteVersion(owner, kitID, version string) error {
	if !ValidSemver(version) {
		return platformerr.New(platformerr.InvalidVersion, fmt.Sprintf("invalid version %q", version))
	}

	versionPath := s.kitPath(owner, kitID, version)
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		return platformerr.New(platformerr.KitNotFound,
			fmt.Sprintf("kit %s/%s version %s not found", owner, kitID, version))
	}

	if err := os.RemoveAll(versionPath); err != nil {
		return fmt.Errorf("kitstore: delete version: %w", err)
	}

	kitDir := filepath.Dir(versionPath)
	removeDirIfEmpty(kitDir)
	removeDirIfEmpty(filepath.Dir(kitDir))
	return nil
}

// DeleteKit removes every version of a kit and prunes the owner directory
// if it becomes empty.
func (s *Store) DeleteKit(owner, kitID string) error {
	kitDir := s.kitPath(owner, kitID, "")
	if _, err := os.Stat(kitDir); os.IsNotExist(err) {
		return platformerr.New(platformerr.KitNotFound, fmt.Sprintf("kit not found: %s/%s", owner, kitID))
	}

	if err := os.RemoveAll(kitDir); err != nil {
		return fmt.Errorf("kitstore: delete kit: %w", err)
	}
	removeDirIfEmpty(filepath.Dir(kitDir))
	return nil
}

func removeDirIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	os.Remove(dir)
}

func extractZip(archive []byte, dest string) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	for _, f := range reader.File {
		target := filepath.Join(dest, f.Name)
		if !isWithin(dest, target) {
			return fmt.Errorf("zip entry %q escapes extraction root", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func isWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !bytes.HasPrefix([]byte(rel), []byte(".."+string(filepath.Separator)))
}
