package config

import (
	_ "embed"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

//go:embed schema.cue
var schemaSource string

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "/etc/hostfacts/hostfacts.cue"

// CUEParser loads hostfacts configuration written in CUE. The input is
// unified with the embedded #Config schema, which closes the struct and
// supplies defaults, then decoded and checked with validator tags.
type CUEParser struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewCUEParser creates a parser with the embedded schema compiled.
func NewCUEParser() (*CUEParser, error) {
	ctx := cuecontext.New()
	compiled := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := compiled.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	schema := compiled.LookupPath(cue.ParsePath("#Config"))
	if !schema.Exists() {
		return nil, fmt.Errorf("config schema has no #Config definition")
	}
	return &CUEParser{
		ctx:       ctx,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// Load reads the configuration at path, which may be a single .cue file or
// a directory holding a CUE package. An empty path or a missing
// DefaultFile yields the defaults.
func Load(path string) (*Config, error) {
	cp, err := NewCUEParser()
	if err != nil {
		return nil, err
	}
	return cp.Load(path)
}

// Default returns the configuration with every field at its default.
func Default() *Config {
	cp, err := NewCUEParser()
	if err != nil {
		// The schema is embedded and covered by tests.
		panic(err)
	}
	cfg, err := cp.decode(cp.schema, nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration at path. See the package-level Load.
func (cp *CUEParser) Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	info, err := os.Stat(path)
	switch {
	case err == nil:
	case stderrors.Is(err, os.ErrNotExist) && !explicit:
		return cp.decode(cp.schema, nil)
	default:
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var (
		val  cue.Value
		errs []ValidationError
	)
	if info.IsDir() {
		val, errs = cp.loadDirectory(path)
	} else {
		val, errs = cp.loadFile(path)
	}
	if len(errs) > 0 {
		return nil, &LoadError{Errors: errs}
	}
	return cp.decode(cp.schema.Unify(val), []string{path})
}

// ParseInline parses configuration held in memory.
func (cp *CUEParser) ParseInline(content string) (*Config, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Errors: cp.convertCUEErrors(err)}
	}
	return cp.decode(cp.schema.Unify(val), []string{"inline"})
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, []ValidationError{{File: dir, Message: "no CUE files found"}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}
	return val, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}
	return val, nil
}

// decode checks that val is concrete, decodes it and runs the struct
// validators.
func (cp *CUEParser) decode(val cue.Value, sources []string) (*Config, error) {
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Errors: cp.convertCUEErrors(err)}
	}

	var cfg Config
	if err := val.Decode(&cfg); err != nil {
		return nil, &LoadError{Errors: cp.convertCUEErrors(err)}
	}

	if err := cp.validator.Struct(cfg); err != nil {
		return nil, &LoadError{Errors: convertValidatorErrors(err, sources)}
	}
	return &cfg, nil
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		validationErrors = append(validationErrors, ve)
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
	}
	return validationErrors
}

// convertValidatorErrors maps struct validation failures onto config
// paths. Namespaces come back as "Config.Facts.Parallelism" and are turned
// into the lower-case CUE spelling.
func convertValidatorErrors(err error, sources []string) []ValidationError {
	var file string
	if len(sources) == 1 {
		file = sources[0]
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return []ValidationError{{File: file, Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			File:    file,
			Path:    configPath(fe.Namespace()),
			Message: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
		})
	}
	return out
}

func configPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CachePath returns the cache database location, defaulting to
// hostfacts/facts.db under the user cache directory.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return expandHome(c.Cache.Path)
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache directory: %w", err)
	}
	return filepath.Join(dir, "hostfacts", "facts.db"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
