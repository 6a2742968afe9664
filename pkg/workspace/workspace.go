// Package workspace implements the Workspace Store: every module's
// workspace is a directory tree versioned as a git repository, seeded
// from the kit's workspace_seed_paths and committed to by the platform
// under a fixed synthetic author unless a caller overrides it.
package workspace

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

const (
	defaultAuthorName  = "Genbase Agent"
	defaultAuthorEmail = "genbase@localhost"
)

// CommitInfo names the author of a Workspace Store commit; empty fields
// fall back to the platform's fixed synthetic author.
type CommitInfo struct {
	Message     string
	AuthorName  string
	AuthorEmail string
}

// CommitResult reports what Commit actually did.
type CommitResult struct {
	Committed    bool
	CommitHash   string
	ChangedFiles []string
}

// Store manages workspace directory trees under base_path, each one a git
// repository identified 1:1 by its workspace_name.
type Store struct {
	basePath string
	gitBin   string
}

// NewStore creates a Store rooted at basePath, creating it if missing.
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create base path: %w", err)
	}
	gitBin, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("workspace: git binary not found in PATH: %w", err)
	}
	return &Store{basePath: basePath, gitBin: gitBin}, nil
}

func (s *Store) path(workspaceName string) string {
	return filepath.Join(s.basePath, workspaceName)
}

// HostPath returns the absolute host directory backing workspaceName, for
// callers (the Warm Container Pool, the Agent Runner) that bind-mount a
// workspace into a container.
func (s *Store) HostPath(workspaceName string) string {
	return s.path(workspaceName)
}

func (s *Store) exists(workspaceName string) bool {
	_, err := os.Stat(s.path(workspaceName))
	return err == nil
}

func (s *Store) git(workspaceName string, args ...string) (string, error) {
	cmd := exec.Command(s.gitBin, args...)
	cmd.Dir = s.path(workspaceName)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}

// Create materializes a new workspace from seedStream (a zip archive),
// extracting it beneath the workspace root and producing one initial
// commit authored by the platform. If workspaceName already exists it
// fails with an InvalidPath platformerr.Error and leaves the existing
// workspace untouched.
func (s *Store) Create(workspaceName string, seedStream []byte) error {
	if s.exists(workspaceName) {
		return platformerr.New(platformerr.InvalidPath, fmt.Sprintf("workspace %q already exists", workspaceName))
	}

	repoPath := s.path(workspaceName)
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return fmt.Errorf("workspace: create directory: %w", err)
	}

	if len(seedStream) > 0 {
		if err := extractZip(seedStream, repoPath); err != nil {
			os.RemoveAll(repoPath)
			return platformerr.Wrap(platformerr.InvalidPath, "extract workspace seed", err)
		}
	}

	if err := s.initRepo(workspaceName); err != nil {
		os.RemoveAll(repoPath)
		return err
	}

	if _, err := s.git(workspaceName, "add", "-A"); err != nil {
		os.RemoveAll(repoPath)
		return fmt.Errorf("workspace: stage initial commit: %w", err)
	}
	if _, err := s.commitAs(workspaceName, "Initial commit", defaultAuthorName, defaultAuthorEmail); err != nil {
		os.RemoveAll(repoPath)
		return err
	}

	return nil
}

func (s *Store) initRepo(workspaceName string) error {
	if _, err := s.git(workspaceName, "init"); err != nil {
		return fmt.Errorf("workspace: git init: %w", err)
	}
	if _, err := s.git(workspaceName, "config", "user.name", defaultAuthorName); err != nil {
		return fmt.Errorf("workspace: git config user.name: %w", err)
	}
	if _, err := s.git(workspaceName, "config", "user.email", defaultAuthorEmail); err != nil {
		return fmt.Errorf("workspace: git config user.email: %w", err)
	}
	return nil
}

func (s *Store) commitAs(workspaceName, message, authorName, authorEmail string) (string, error) {
	out, err := s.git(workspaceName,
		"-c", fmt.Sprintf("user.name=%s", authorName),
		"-c", fmt.Sprintf("user.email=%s", authorEmail),
		"commit", "-m", message,
		"--author", fmt.Sprintf("%s <%s>", authorName, authorEmail))
	if err != nil {
		return "", fmt.Errorf("workspace: git commit: %w (%s)", err, out)
	}

	hash, err := s.git(workspaceName, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("workspace: resolve commit hash: %w", err)
	}
	return hash, nil
}

// ListFiles returns every file under the workspace root, excluding the
// .git metadata directory.
func (s *Store) ListFiles(workspaceName string) ([]string, error) {
	if !s.exists(workspaceName) {
		return nil, platformerr.New(platformerr.InvalidPath, fmt.Sprintf("workspace %q not found", workspaceName))
	}

	var files []string
	root := s.path(workspaceName)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && (rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator))) {
			return filepath.SkipDir
		}
		if !info.IsDir() {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: list files: %w", err)
	}
	return files, nil
}

// Delete removes a workspace entirely.
func (s *Store) Delete(workspaceName string) error {
	if !s.exists(workspaceName) {
		return platformerr.New(platformerr.InvalidPath, fmt.Sprintf("workspace %q not found", workspaceName))
	}
	if err := os.RemoveAll(s.path(workspaceName)); err != nil {
		return fmt.Errorf("workspace: delete: %w", err)
	}
	return nil
}

// Commit stages every change and commits it. If there is nothing to
// commit, Committed is false and no error is returned.
func (s *Store) Commit(workspaceName string, info CommitInfo) (CommitResult, error) {
	if !s.exists(workspaceName) {
		return CommitResult{}, platformerr.New(platformerr.InvalidPath, fmt.Sprintf("workspace %q not found", workspaceName))
	}

	status, err := s.git(workspaceName, "status", "--porcelain")
	if err != nil {
		return CommitResult{}, fmt.Errorf("workspace: git status: %w", err)
	}
	if status == "" {
		return CommitResult{Committed: false}, nil
	}

	beforeHead, _ := s.git(workspaceName, "rev-parse", "HEAD")

	if _, err := s.git(workspaceName, "add", "-A"); err != nil {
		return CommitResult{}, fmt.Errorf("workspace: git add: %w", err)
	}

	authorName, authorEmail := info.AuthorName, info.AuthorEmail
	if authorName == "" {
		authorName = defaultAuthorName
	}
	if authorEmail == "" {
		authorEmail = defaultAuthorEmail
	}

	hash, err := s.commitAs(workspaceName, info.Message, authorName, authorEmail)
	if err != nil {
		return CommitResult{}, err
	}

	changed, err := s.changedFiles(workspaceName, beforeHead, hash)
	if err != nil {
		return CommitResult{}, err
	}

	return CommitResult{Committed: true, CommitHash: hash, ChangedFiles: changed}, nil
}

func (s *Store) changedFiles(workspaceName, before, after string) ([]string, error) {
	var out string
	var err error
	if before == "" {
		out, err = s.git(workspaceName, "show", "--pretty=", "--name-only", after)
	} else {
		out, err = s.git(workspaceName, "diff", "--name-only", before, after)
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: diff changed files: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// PathSafetyFn validates that relPath, resolved against repoRoot, does not
// escape the workspace.
type PathSafetyFn func(repoRoot, relPath string) bool

// DefaultPathSafety rejects any relative path whose resolved absolute
// form is not beneath repoRoot.
func DefaultPathSafety(repoRoot, relPath string) bool {
	full := filepath.Join(repoRoot, relPath)
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return false
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absFull)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// UpdateFile writes content to relPath inside the workspace, keeping a
// .bak sibling of any pre-existing file and restoring it if the write
// fails.
func (s *Store) UpdateFile(workspaceName, relPath, content string, safety PathSafetyFn) error {
	if !s.exists(workspaceName) {
		return platformerr.New(platformerr.InvalidPath, fmt.Sprintf("workspace %q not found", workspaceName))
	}

	repoRoot := s.path(workspaceName)
	if safety == nil {
		safety = DefaultPathSafety
	}
	if !safety(repoRoot, relPath) {
		return platformerr.New(platformerr.InvalidPath, fmt.Sprintf("path %q escapes workspace root", relPath))
	}

	fullPath := filepath.Join(repoRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("workspace: create parent dirs: %w", err)
	}

	var backupPath string
	if existing, err := os.ReadFile(fullPath); err == nil {
		backupPath = fullPath + ".bak"
		if err := os.WriteFile(backupPath, existing, 0o644); err != nil {
			return fmt.Errorf("workspace: create backup: %w", err)
		}
	}

	writeErr := os.WriteFile(fullPath, []byte(content), 0o644)
	if writeErr != nil {
		if backupPath != "" {
			if backup, readErr := os.ReadFile(backupPath); readErr == nil {
				os.WriteFile(fullPath, backup, 0o644)
			}
		}
		return fmt.Errorf("workspace: write file: %w", writeErr)
	}

	if backupPath != "" {
		os.Remove(backupPath)
	}
	return nil
}

// GetActiveBranch returns the current branch name.
func (s *Store) GetActiveBranch(workspaceName string) (string, error) {
	if !s.exists(workspaceName) {
		return "", platformerr.New(platformerr.InvalidPath, fmt.Sprintf("workspace %q not found", workspaceName))
	}
	branch, err := s.git(workspaceName, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("workspace: get active branch: %w", err)
	}
	return branch, nil
}

// AddSubmodule registers childWorkspace as a git submodule of
// parentWorkspace at subPath (defaulting to childWorkspace's name).
func (s *Store) AddSubmodule(parentWorkspace, childWorkspace, subPath string) error {
	if !s.exists(parentWorkspace) {
		return platformerr.New(platformerr.InvalidPath, fmt.Sprintf("workspace %q not found", parentWorkspace))
	}
	if !s.exists(childWorkspace) {
		return platformerr.New(platformerr.InvalidPath, fmt.Sprintf("workspace %q not found", childWorkspace))
	}
	if subPath == "" {
		subPath = childWorkspace
	}

	childAbsPath := s.path(childWorkspace)
	if _, err := s.git(parentWorkspace, "submodule", "add", childAbsPath, subPath); err != nil {
		return fmt.Errorf("workspace: add submodule: %w", err)
	}
	return nil
}

// RemoveSubmodule deregisters and removes the submodule at subPath.
func (s *Store) RemoveSubmodule(parentWorkspace, subPath string) error {
	if !s.exists(parentWorkspace) {
		return platformerr.New(platformerr.InvalidPath, fmt.Sprintf("workspace %q not found", parentWorkspace))
	}
	if _, err := s.git(parentWorkspace, "submodule", "deinit", "-f", subPath); err != nil {
		return fmt.Errorf("workspace: deinit submodule: %w", err)
	}
	if _, err := s.git(parentWorkspace, "rm", "-f", subPath); err != nil {
		return fmt.Errorf("workspace: remove submodule: %w", err)
	}
	gitModulePath := filepath.Join(s.path(parentWorkspace), ".git", "modules", subPath)
	os.RemoveAll(gitModulePath)
	return nil
}

func extractZip(archive []byte, dest string) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	for _, f := range reader.File {
		target := filepath.Join(dest, f.Name)
		if !DefaultPathSafety(dest, f.Name) {
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
