// Package native drives the code-generated compute binaries: it
// scaffolds a Go project per compiled IR under a content-addressed cache
// directory, builds one executable per entity with the host toolchain,
// and invokes them as subprocesses speaking the length-prefixed binary
// wire protocol. The process boundary is deliberate isolation: the
// generated program is self-contained and the file protocol is its ABI.
package native

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mitchellh/hashstructure"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/codegen"
	"github.com/rules-as-code/racgo/internal/racerr"
	"github.com/rules-as-code/racgo/ir"
)

// Config carries the driver's knobs. Zero values select the defaults.
type Config struct {
	// CacheDir is the root of the content-addressed project cache.
	// Defaults to <user-cache>/rac/projects.
	CacheDir string

	// Toolchain is the build tool binary name. Defaults to "go".
	Toolchain string

	// ToolchainRoot is where a bootstrapped toolchain is installed when
	// none is found on PATH. Defaults to <home>/.rac/toolchain.
	ToolchainRoot string
}

// Driver builds and caches compute binaries for compiled IRs.
type Driver struct {
	cfg Config
	log *logrus.Entry
}

// NewDriver returns a Driver with cfg's zero values filled in.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, errors.Wrap(err, "resolving user cache dir")
		}
		cfg.CacheDir = filepath.Join(base, "rac", "projects")
	}
	if cfg.Toolchain == "" {
		cfg.Toolchain = "go"
	}
	if cfg.ToolchainRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "resolving user home dir")
		}
		cfg.ToolchainRoot = filepath.Join(home, ".rac", "toolchain")
	}
	return &Driver{
		cfg: cfg,
		log: logrus.WithField("component", "native"),
	}, nil
}

// stableIR is the hashed shape behind the cache key: the topological
// order plus each variable's serialized expression, which together
// determine the generated source byte for byte.
type stableIR struct {
	Order []string
	Exprs []string
}

// CacheKey derives the content address for i: the first 16 hex chars of
// SHA-256 over the stable IR serialization.
func CacheKey(i *ir.IR) (string, error) {
	stable := stableIR{Order: i.Order}
	for _, path := range i.Order {
		rv := i.Variables[path]
		stable.Exprs = append(stable.Exprs, fmt.Sprintf("%s|%s|%s", path, rv.Entity, ast.Format(rv.Expr)))
	}
	h, err := hashstructure.Hash(stable, nil)
	if err != nil {
		return "", errors.Wrap(err, "hashing IR structure")
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d\n%s", h, strings.Join(stable.Exprs, "\n"))))
	return hex.EncodeToString(sum[:])[:16], nil
}

// Build returns a ready-to-run Build for i, reusing the cached
// executables when the content address already exists. Scalars are baked
// into the generated source as constants, so they participate in the
// cache key only through the IR expressions that produced them; callers
// that change scalar values change expressions and therefore the key.
func (d *Driver) Build(i *ir.IR, scalars map[string]interface{}) (*Build, error) {
	key, err := CacheKey(i)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(d.cfg.CacheDir, key)
	log := d.log.WithFields(logrus.Fields{"key": key, "dir": dir})

	b := &Build{
		Key:      key,
		Dir:      dir,
		Programs: map[string]*codegen.Program{},
	}

	var pending []string
	for name := range i.Schema.Entities {
		if len(i.EntityVars(name)) == 0 {
			continue
		}
		prog, err := codegen.Generate(i, name, scalars)
		if err != nil {
			return nil, err
		}
		b.Programs[name] = prog
		if _, err := os.Stat(b.exePath(name)); err != nil {
			pending = append(pending, name)
		}
	}

	if len(pending) == 0 {
		log.Debug("build cache hit")
		return b, nil
	}
	log.WithField("entities", pending).Debug("build cache miss")

	tool, err := d.EnsureToolchain()
	if err != nil {
		return nil, err
	}

	if err := scaffold(dir, b, pending); err != nil {
		return nil, err
	}
	for _, name := range pending {
		if err := compile(tool, dir, name); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func scaffold(dir string, b *Build, entities []string) error {
	if err := os.MkdirAll(filepath.Join(dir, "target", "release"), 0o755); err != nil {
		return errors.Wrap(err, "creating project tree")
	}
	gomod := filepath.Join(dir, "go.mod")
	if _, err := os.Stat(gomod); err != nil {
		if err := os.WriteFile(gomod, []byte("module racgen\n\ngo 1.21\n"), 0o644); err != nil {
			return errors.Wrap(err, "writing go.mod")
		}
	}
	for _, name := range entities {
		cmdDir := filepath.Join(dir, "cmd", name)
		if err := os.MkdirAll(cmdDir, 0o755); err != nil {
			return errors.Wrap(err, "creating cmd dir")
		}
		src := b.Programs[name].Source
		if err := os.WriteFile(filepath.Join(cmdDir, "main.go"), []byte(src), 0o644); err != nil {
			return errors.Wrap(err, "writing generated source")
		}
	}
	return nil
}

// compile invokes the build tool once per entity binary. Concurrent
// builds for the same hash may race, but they write identical bytes, so
// last-writer-wins on the executable is safe.
func compile(tool, dir, entity string) error {
	out := filepath.Join("target", "release", entity)
	cmd := exec.Command(tool, "build", "-o", out, "./cmd/"+entity)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return racerr.ErrBuildFailure.Wrap(err, string(output))
	}
	return nil
}

// Build is a built (or cache-hit) set of per-entity executables for one
// IR, ready to run against row matrices.
type Build struct {
	Key      string
	Dir      string
	Programs map[string]*codegen.Program
}

func (b *Build) exePath(entity string) string {
	return filepath.Join(b.Dir, "target", "release", entity)
}

// Run invokes entity's binary over rows (one []float64 per input row, in
// the program's wire field order) and returns the output matrix aligned
// row-for-row with the input.
func (b *Build) Run(entity string, rows [][]float64) ([][]float64, error) {
	prog, ok := b.Programs[entity]
	if !ok {
		return nil, errors.Errorf("no compute binary for entity %q", entity)
	}

	scratch := filepath.Join(b.Dir, "tmp", uuid.NewV4().String())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating scratch dir")
	}
	defer os.RemoveAll(scratch)

	inPath := filepath.Join(scratch, "input.bin")
	outPath := filepath.Join(scratch, "output.bin")
	if err := writeMatrix(inPath, rows, len(prog.Inputs)); err != nil {
		return nil, err
	}

	cmd := exec.Command(b.exePath(entity), entity, inPath, outPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.Wrapf(err, "compute binary for %q failed: %s", entity, output)
	}

	return readMatrix(outPath, len(prog.Outputs))
}

// writeMatrix writes the wire format: u64 row count, then rows×k
// contiguous little-endian f64 values, row-major.
func writeMatrix(path string, rows [][]float64, k int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating input file")
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, uint64(len(rows))); err != nil {
		return errors.Wrap(err, "writing row count")
	}
	for _, row := range rows {
		if len(row) != k {
			return errors.Errorf("row has %d fields, want %d", len(row), k)
		}
		if err := binary.Write(f, binary.LittleEndian, row); err != nil {
			return errors.Wrap(err, "writing row")
		}
	}
	return nil
}

func readMatrix(path string, k int) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening output file")
	}
	defer f.Close()

	var n uint64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, errors.Wrap(err, "reading row count")
	}
	rows := make([][]float64, n)
	for idx := range rows {
		row := make([]float64, k)
		if err := binary.Read(f, binary.LittleEndian, row); err != nil {
			return nil, errors.Wrap(err, "reading row")
		}
		rows[idx] = row
	}
	return rows, nil
}
