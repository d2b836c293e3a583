package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// maxInputSize caps staged input artifacts at 100 MiB.
const maxInputSize = 100 * 1024 * 1024

// openRetries bounds how often Open retries a colliding scope name.
const openRetries = 3

// ResourceError reports a staging failure caused by the filesystem:
// read-only media, exhausted space, or a scope name collision that
// survived every retry.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("staging %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Scope is the job-exclusive staging area used to exchange artifacts
// with an isolated environment. It is owned by exactly one job and is
// removed in full when that job finishes.
type Scope struct {
	JobID     string
	Root      string
	InputDir  string
	OutputDir string
	ConfigDir string
}

// OutputPath returns the host path of a file inside the output tree.
func (s *Scope) OutputPath(name string) string {
	return filepath.Join(s.OutputDir, name)
}

// ConfigPath returns the host path of a file inside the config tree.
func (s *Scope) ConfigPath(name string) string {
	return filepath.Join(s.ConfigDir, name)
}

// Stager creates and destroys per-job staging scopes.
type Stager struct {
	baseDir string
}

// NewStager creates a Stager rooted at baseDir. An empty baseDir uses
// the system temp directory.
func NewStager(baseDir string) *Stager {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "forge-staging")
	}
	return &Stager{baseDir: baseDir}
}

// Open creates a fresh staging scope for a job: a unique root with
// input/, output/ and config/ subtrees. Every successful Open must be
// paired with Close on all exit paths.
func (st *Stager) Open(jobID string) (*Scope, error) {
	if err := os.MkdirAll(st.baseDir, 0o755); err != nil {
		return nil, &ResourceError{Op: "open", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < openRetries; attempt++ {
		name := fmt.Sprintf("%s-%s", sanitizeName(jobID), uuid.NewString()[:8])
		root := filepath.Join(st.baseDir, name)

		if err := os.Mkdir(root, 0o755); err != nil {
			if os.IsExist(err) {
				lastErr = err
				continue
			}
			return nil, &ResourceError{Op: "open", Err: err}
		}

		scope := &Scope{
			JobID:     jobID,
			Root:      root,
			InputDir:  filepath.Join(root, "input"),
			OutputDir: filepath.Join(root, "output"),
			ConfigDir: filepath.Join(root, "config"),
		}
		for _, dir := range []string{scope.InputDir, scope.OutputDir, scope.ConfigDir} {
			if err := os.Mkdir(dir, 0o755); err != nil {
				os.RemoveAll(root)
				return nil, &ResourceError{Op: "open", Err: err}
			}
		}
		return scope, nil
	}

	return nil, &ResourceError{Op: "open", Err: fmt.Errorf("scope name collision after %d attempts: %w", openRetries, lastErr)}
}

// Close removes the scope's entire tree. It is safe to call on a scope
// whose tree is already gone.
func (st *Stager) Close(scope *Scope) error {
	if scope == nil {
		return nil
	}
	if err := os.RemoveAll(scope.Root); err != nil {
		return &ResourceError{Op: "close", Err: err}
	}
	return nil
}

// StageInput validates the input artifact and copies it into the scope's
// input tree under a sanitized name, leaving the original untouched.
// It returns the staged filename (the name the container sees under /input).
func (s *Scope) StageInput(srcPath string) (string, error) {
	if err := CheckInput(srcPath); err != nil {
		return "", err
	}

	name := sanitizeName(filepath.Base(srcPath))
	if !strings.HasSuffix(name, ".mlir") {
		name += ".mlir"
	}

	if err := copyFile(srcPath, filepath.Join(s.InputDir, name), 0o644); err != nil {
		return "", &ResourceError{Op: "stage input", Err: err}
	}
	return name, nil
}

// ExportOutput copies a produced artifact out of the scope's output tree
// to dst, overwriting an existing file. The scope keeps its copy until
// Close.
func (s *Scope) ExportOutput(name, dst string) error {
	in, err := os.Open(s.OutputPath(name))
	if err != nil {
		return &ResourceError{Op: "export output", Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &ResourceError{Op: "export output", Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return &ResourceError{Op: "export output", Err: err}
	}
	if err := out.Close(); err != nil {
		return &ResourceError{Op: "export output", Err: err}
	}
	return nil
}

// CheckInput verifies that a path points at a plausible MLIR artifact:
// it exists, is a regular file, has the .mlir extension, stays under the
// size cap, and its head mentions an MLIR construct.
func CheckInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".mlir") {
		return fmt.Errorf("input file %s must have .mlir extension", path)
	}
	if info.Size() > maxInputSize {
		return fmt.Errorf("input file %s too large: %d bytes (max %d)", path, info.Size(), maxInputSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("input file: %w", err)
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, _ := f.Read(head)
	text := string(head[:n])
	for _, keyword := range []string{"module", "func", "stablehlo"} {
		if strings.Contains(text, keyword) {
			return nil
		}
	}
	return fmt.Errorf("input file %s does not look like MLIR", path)
}

// sanitizeName strips path separators and anything else that could
// escape the staging tree, and caps the length.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || strings.HasPrefix(out, ".") {
		out = "file_" + out
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
