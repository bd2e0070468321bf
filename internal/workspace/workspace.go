// Package workspace exposes a sandboxed directory tree addressed by
// root-relative paths. Every operation resolves its path through Resolve,
// which refuses anything that would land outside the root.
package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

var (
	// ErrPathInvalid is returned for paths or names that escape the root.
	ErrPathInvalid = errors.New("workspace: invalid path")
	// ErrExists is returned when a target name is already taken.
	ErrExists = errors.New("workspace: already exists")
	// ErrIsDir is returned when a file operation targets a directory.
	ErrIsDir = errors.New("workspace: is a directory")
	// ErrNotDir is returned when a directory operation targets a file.
	ErrNotDir = errors.New("workspace: not a directory")
	// ErrRoot is returned when an operation would remove or rename the root.
	ErrRoot = errors.New("workspace: operation not allowed on root")
)

// FileStats describes one entry of the workspace.
type FileStats struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Extension  string    `json:"extension"`
	Size       int64     `json:"size"`
	Birthtime  time.Time `json:"birthtime"`
	IsFile     bool      `json:"isFile"`
	Mode       uint32    `json:"mode"`
	UpdateTime time.Time `json:"updatetime"`
}

// Workspace serves file operations below a fixed root.
type Workspace struct {
	fs   afero.Fs
	root string
}

// New returns a Workspace rooted at root inside fsys. The root directory is
// created when missing.
func New(fsys afero.Fs, root string) (*Workspace, error) {
	if fsys == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	clean, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := fsys.MkdirAll(clean, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	info, err := fsys.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", root)
	}
	return &Workspace{fs: fsys, root: clean}, nil
}

// NewOS returns a Workspace on the host filesystem.
func NewOS(root string) (*Workspace, error) {
	return New(afero.NewOsFs(), root)
}

// Root returns the absolute root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a client-relative path to a path inside the root. Leading
// slashes are treated as relative to the root; any ".." that climbs above
// the root is rejected with ErrPathInvalid.
func (w *Workspace) Resolve(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", ErrPathInvalid
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	cleaned := path.Clean("/" + rel)
	// path.Clean on a rooted path drops leading "..", so compare against
	// the raw segments to catch climbs.
	depth := 0
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", ErrPathInvalid
			}
		default:
			depth++
		}
	}
	full := filepath.Join(w.root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
	if inside, err := filepath.Rel(w.root, full); err != nil || inside == ".." ||
		strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", ErrPathInvalid
	}
	return full, nil
}

// Relative converts a resolved path back to its client form.
func (w *Workspace) Relative(full string) string {
	rel, err := filepath.Rel(w.root, full)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Stat describes the entry at rel.
func (w *Workspace) Stat(rel string) (FileStats, error) {
	full, err := w.Resolve(rel)
	if err != nil {
		return FileStats{}, err
	}
	info, err := w.fs.Stat(full)
	if err != nil {
		return FileStats{}, fmt.Errorf("stat %s: %w", rel, err)
	}
	return w.stats(full, info), nil
}

// List returns the entries of the directory at rel, directories first.
func (w *Workspace) List(rel string) ([]FileStats, error) {
	full, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := w.fs.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %s: %w", rel, ErrNotDir)
	}
	entries, err := afero.ReadDir(w.fs, full)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	out := make([]FileStats, 0, len(entries))
	for _, e := range entries {
		out = append(out, w.stats(filepath.Join(full, e.Name()), e))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsFile != out[j].IsFile {
			return !out[i].IsFile
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Open opens the file at rel for reading.
func (w *Workspace) Open(rel string) (io.ReadCloser, error) {
	full, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := w.fs.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open %s: %w", rel, ErrIsDir)
	}
	f, err := w.fs.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	return f, nil
}

// Preview returns the first maxLines lines of the file at rel.
func (w *Workspace) Preview(rel string, maxLines int) (string, FileStats, error) {
	stats, err := w.Stat(rel)
	if err != nil {
		return "", FileStats{}, err
	}
	if !stats.IsFile {
		return "", FileStats{}, fmt.Errorf("preview %s: %w", rel, ErrIsDir)
	}
	f, err := w.Open(rel)
	if err != nil {
		return "", FileStats{}, err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var b strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 0; (maxLines <= 0 || n < maxLines) && sc.Scan(); n++ {
		b.WriteString(sc.Text())
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", FileStats{}, fmt.Errorf("preview %s: %w", rel, err)
	}
	return b.String(), stats, nil
}

// Upload writes r to dir/name, replacing an existing file.
func (w *Workspace) Upload(dir, name string, r io.Reader) (FileStats, error) {
	if err := validName(name); err != nil {
		return FileStats{}, err
	}
	parent, err := w.Resolve(dir)
	if err != nil {
		return FileStats{}, err
	}
	if err := w.requireDir(parent, dir); err != nil {
		return FileStats{}, err
	}
	target := filepath.Join(parent, name)
	if info, err := w.fs.Stat(target); err == nil && info.IsDir() {
		return FileStats{}, fmt.Errorf("upload %s: %w", name, ErrIsDir)
	}
	f, err := w.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return FileStats{}, fmt.Errorf("upload %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return FileStats{}, fmt.Errorf("upload %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return FileStats{}, fmt.Errorf("upload %s: %w", name, err)
	}
	info, err := w.fs.Stat(target)
	if err != nil {
		return FileStats{}, fmt.Errorf("upload %s: %w", name, err)
	}
	return w.stats(target, info), nil
}

// Mkdir creates dir/name. It fails with ErrExists when the name is taken.
func (w *Workspace) Mkdir(dir, name string) (FileStats, error) {
	if err := validName(name); err != nil {
		return FileStats{}, err
	}
	parent, err := w.Resolve(dir)
	if err != nil {
		return FileStats{}, err
	}
	if err := w.requireDir(parent, dir); err != nil {
		return FileStats{}, err
	}
	target := filepath.Join(parent, name)
	if _, err := w.fs.Stat(target); err == nil {
		return FileStats{}, fmt.Errorf("mkdir %s: %w", name, ErrExists)
	}
	if err := w.fs.Mkdir(target, 0o750); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return FileStats{}, fmt.Errorf("mkdir %s: %w", name, ErrExists)
		}
		return FileStats{}, fmt.Errorf("mkdir %s: %w", name, err)
	}
	info, err := w.fs.Stat(target)
	if err != nil {
		return FileStats{}, fmt.Errorf("mkdir %s: %w", name, err)
	}
	return w.stats(target, info), nil
}

// Remove deletes the file or directory tree at rel.
func (w *Workspace) Remove(rel string) error {
	full, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if full == w.root {
		return ErrRoot
	}
	if _, err := w.fs.Stat(full); err != nil {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	if err := w.fs.RemoveAll(full); err != nil {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// Rename gives the entry at rel a new name in the same directory.
func (w *Workspace) Rename(rel, newName string) (FileStats, error) {
	if err := validName(newName); err != nil {
		return FileStats{}, err
	}
	full, err := w.Resolve(rel)
	if err != nil {
		return FileStats{}, err
	}
	if full == w.root {
		return FileStats{}, ErrRoot
	}
	if _, err := w.fs.Stat(full); err != nil {
		return FileStats{}, fmt.Errorf("rename %s: %w", rel, err)
	}
	target := filepath.Join(filepath.Dir(full), newName)
	if _, err := w.fs.Stat(target); err == nil {
		return FileStats{}, fmt.Errorf("rename %s: %w", rel, ErrExists)
	}
	if err := w.fs.Rename(full, target); err != nil {
		return FileStats{}, fmt.Errorf("rename %s: %w", rel, err)
	}
	info, err := w.fs.Stat(target)
	if err != nil {
		return FileStats{}, fmt.Errorf("rename %s: %w", rel, err)
	}
	return w.stats(target, info), nil
}

func (w *Workspace) requireDir(full, rel string) error {
	info, err := w.fs.Stat(full)
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", rel, ErrNotDir)
	}
	return nil
}

func (w *Workspace) stats(full string, info fs.FileInfo) FileStats {
	ext := ""
	if !info.IsDir() {
		ext = strings.TrimPrefix(filepath.Ext(info.Name()), ".")
	}
	return FileStats{
		Path:       w.Relative(full),
		Name:       info.Name(),
		Extension:  ext,
		Size:       info.Size(),
		Birthtime:  birthtime(info),
		IsFile:     !info.IsDir(),
		Mode:       uint32(info.Mode()),
		UpdateTime: info.ModTime().UTC(),
	}
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return ErrPathInvalid
	}
	return nil
}

// IsDirError reports whether err means a directory was used where a file was
// expected, from either the workspace itself or the OS.
func IsDirError(err error) bool {
	return errors.Is(err, ErrIsDir) || errors.Is(err, syscall.EISDIR)
}

// birthtime falls back to the modification time: creation time is not
// exposed portably by fs.FileInfo.
func birthtime(info fs.FileInfo) time.Time {
	return info.ModTime().UTC()
}
