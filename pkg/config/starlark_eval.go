package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ScriptExt is the extension of scripted fact files.
const ScriptExt = ".star"

// Script is a scripted fact loaded from a Starlark file. The file is
// executed once at load time; it must define name, produces and a
// resolve(facts) function, and may define confine, depends and priority.
//
//	name = "virtual"
//	confine = {"kernel": "Linux", "os.family": ["Debian", "RedHat"]}
//	depends = ["processors.models"]
//	produces = ["virtual"]
//
//	def resolve(facts):
//	    return {"virtual": "physical"}
type Script struct {
	Path     string
	Name     string
	Produces []string
	Depends  []string
	Confine  []ScriptConfine
	Priority int

	resolve *starlark.Function
	logger  zerolog.Logger
}

// ScriptConfine is one confine entry. Exactly one of Values or Pattern is
// set: a string or list becomes Values, a "/regex/" string becomes Pattern.
type ScriptConfine struct {
	Path    string
	Values  []string
	Pattern string
}

// LoadScripts loads every .star file in dirs in lexical order. Missing
// directories are ignored; files that fail to load are logged and skipped.
func LoadScripts(dirs []string, logger zerolog.Logger) []*Script {
	var out []*Script
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+ScriptExt))
		if err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("Cannot list script directory")
			continue
		}
		sort.Strings(matches)
		for _, path := range matches {
			script, err := LoadScript(path, logger)
			if err != nil {
				logger.Warn().Err(err).Str("file", path).Msg("Skipping scripted fact")
				continue
			}
			out = append(out, script)
		}
	}
	return out
}

// LoadScript executes the file at path and reads its declarations.
func LoadScript(path string, logger zerolog.Logger) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(path, src, logger)
}

// ParseScript executes src as a script named after path.
func ParseScript(path string, src []byte, logger zerolog.Logger) (*Script, error) {
	thread := newThread(filepath.Base(path), logger)
	globals, err := starlark.ExecFile(thread, path, src, predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	globals.Freeze()

	s := &Script{Path: path, logger: logger}

	if s.Name, err = stringGlobal(globals, "name"); err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), ScriptExt)
	}
	if s.Produces, err = stringListGlobal(globals, "produces"); err != nil {
		return nil, err
	}
	if len(s.Produces) == 0 {
		return nil, fmt.Errorf("%s: produces must list at least one path", path)
	}
	if s.Depends, err = stringListGlobal(globals, "depends"); err != nil {
		return nil, err
	}
	if s.Confine, err = confineGlobal(globals); err != nil {
		return nil, err
	}
	if v, ok := globals["priority"]; ok {
		n, err := starlark.AsInt32(v)
		if err != nil {
			return nil, fmt.Errorf("%s: priority: %w", path, err)
		}
		s.Priority = n
	}

	fn, ok := globals["resolve"].(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("%s: resolve(facts) function is not defined", path)
	}
	if fn.NumParams() != 1 {
		return nil, fmt.Errorf("%s: resolve must take exactly one argument", path)
	}
	s.resolve = fn
	return s, nil
}

// Call runs resolve with the nested fact map. The evaluation is canceled
// when ctx is done. The returned dict maps fact paths to values.
func (s *Script) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	arg, err := toStarlarkValue(input)
	if err != nil {
		return nil, fmt.Errorf("failed to convert facts: %w", err)
	}

	thread := newThread(s.Name, s.logger)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	result, err := starlark.Call(thread, s.resolve, starlark.Tuple{arg}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	if result == starlark.None {
		return nil, nil
	}

	out, err := fromStarlarkValue(result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: resolve must return a dict, got %s", s.Name, result.Type())
	}
	return m, nil
}

func newThread(name string, logger zerolog.Logger) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug().Str("script", name).Msg(msg)
		},
	}
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct":    starlarkstruct.Default,
		"enumerate": starlark.NewBuiltin("enumerate", builtinEnumerate),
		"zip":       starlark.NewBuiltin("zip", builtinZip),
	}
}

func stringGlobal(globals starlark.StringDict, name string) (string, error) {
	v, ok := globals[name]
	if !ok {
		return "", nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", name, v.Type())
	}
	return s, nil
}

func stringListGlobal(globals starlark.StringDict, name string) ([]string, error) {
	v, ok := globals[name]
	if !ok {
		return nil, nil
	}
	out, err := stringList(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func stringList(v starlark.Value) ([]string, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings, got %s", v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var (
		out []string
		x   starlark.Value
	)
	for iter.Next(&x) {
		s, ok := starlark.AsString(x)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %s", x.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

// confineGlobal reads the confine dict, sorted by path.
func confineGlobal(globals starlark.StringDict) ([]ScriptConfine, error) {
	v, ok := globals["confine"]
	if !ok {
		return nil, nil
	}
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("confine must be a dict, got %s", v.Type())
	}

	var out []ScriptConfine
	for _, item := range dict.Items() {
		path, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("confine keys must be strings")
		}
		c := ScriptConfine{Path: path}
		if s, ok := starlark.AsString(item[1]); ok {
			if len(s) > 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
				c.Pattern = s[1 : len(s)-1]
			} else {
				c.Values = []string{s}
			}
		} else {
			values, err := stringList(item[1])
			if err != nil {
				return nil, fmt.Errorf("confine %q: %w", path, err)
			}
			if len(values) == 0 {
				return nil, fmt.Errorf("confine %q: empty list", path)
			}
			c.Values = values
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			goItem, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// builtinEnumerate implements enumerate(iterable, start=0).
func builtinEnumerate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start int64

	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var list []starlark.Value
	var x starlark.Value
	i := start
	for iter.Next(&x) {
		list = append(list, starlark.Tuple{starlark.MakeInt64(i), x})
		i++
	}

	return starlark.NewList(list), nil
}

// builtinZip implements zip(*iterables).
func builtinZip(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return starlark.NewList(nil), nil
	}

	iters := make([]starlark.Iterator, len(args))
	for i, arg := range args {
		iterable, ok := arg.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("zip argument %d is not iterable", i)
		}
		iters[i] = iterable.Iterate()
		defer iters[i].Done()
	}

	var list []starlark.Value
	for {
		tuple := make(starlark.Tuple, len(iters))
		for i, iter := range iters {
			if !iter.Next(&tuple[i]) {
				return starlark.NewList(list), nil
			}
		}
		list = append(list, tuple)
	}
}
