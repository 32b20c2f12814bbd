package fragment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"tagforge/internal/tags"
)

// Source is one content source: a named filesystem whose top-level
// directories are tags.
type Source struct {
	Name string
	FS   fs.FS
}

// DirSource returns a Source rooted at a directory on disk.
func DirSource(name, dir string) Source {
	if name == "" {
		name = dir
	}
	return Source{Name: name, FS: os.DirFS(dir)}
}

// templateFile names the optional whole-structure override.
const templateFile = "structure_template"

var extensions = []string{".yaml", ".yml"}

// findFile returns the first existing file for base in dir, trying each
// supported extension. ok is false when none exists.
func findFile(fsys fs.FS, dir, base string) (name string, data []byte, ok bool, err error) {
	for _, ext := range extensions {
		name = path.Join(dir, base+ext)
		data, err = fs.ReadFile(fsys, name)
		if err == nil {
			return name, data, true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return name, nil, false, err
		}
	}
	return "", nil, false, nil
}

// decodeList parses a YAML document holding either a list of T or a single
// T. An empty document yields an empty list.
func decodeList[T any](data []byte) ([]T, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var list []T
	if err := yaml.Unmarshal(data, &list); err != nil {
		var single T
		if singleErr := yaml.Unmarshal(data, &single); singleErr != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		list = []T{single}
	}
	return list, nil
}

// tagLoad is the outcome of loading one tag directory of one source.
type tagLoad struct {
	set      *Set
	failures []Failure
	warnings []Warning
}

// loadTag reads every kind file of one tag directory. It never returns an
// error: per-file problems become failures or warnings on the result.
func loadTag(src Source, dir string, tag tags.Tag) tagLoad {
	out := tagLoad{set: &Set{Tag: tag}}

	fail := func(kind Kind, file string, err error) {
		out.failures = append(out.failures, Failure{
			Source: src.Name,
			Tag:    tag,
			Kind:   kind,
			File:   file,
			Error:  err.Error(),
		})
	}
	warn := func(kind Kind, file, format string, args ...any) {
		out.warnings = append(out.warnings, Warning{
			Source:  src.Name,
			Tag:     string(tag),
			Kind:    kind,
			File:    file,
			Message: fmt.Sprintf(format, args...),
		})
	}

	for _, kind := range []Kind{KindInstructions, KindRequirements, KindChecklists} {
		file, data, ok, err := findFile(src.FS, dir, string(kind))
		if err != nil {
			fail(kind, file, err)
			continue
		}
		if !ok {
			continue
		}
		blocks, err := decodeList[Block](data)
		if err != nil {
			fail(kind, file, err)
			continue
		}
		kept := dedupe(blocks, blockKey, func(b Block) error {
			if strings.TrimSpace(b.ID) == "" {
				return errors.New("block missing id")
			}
			return nil
		}, func(msg string) { warn(kind, file, "%s", msg) })
		switch kind {
		case KindInstructions:
			out.set.Instructions = kept
		case KindRequirements:
			out.set.Requirements = kept
		case KindChecklists:
			out.set.Checklists = kept
		}
	}

	if file, data, ok, err := findFile(src.FS, dir, string(KindStructure)); err != nil {
		fail(KindStructure, file, err)
	} else if ok {
		entries, err := decodeList[Entry](data)
		if err != nil {
			fail(KindStructure, file, err)
		} else {
			out.set.Structure = dedupe(entries, entryKey, validateEntry,
				func(msg string) { warn(KindStructure, file, "%s", msg) })
		}
	}

	if file, data, ok, err := findFile(src.FS, dir, templateFile); err != nil {
		fail(KindStructure, file, err)
	} else if ok {
		var tmpl StructureTemplate
		if err := yaml.Unmarshal(data, &tmpl); err != nil {
			fail(KindStructure, file, fmt.Errorf("failed to parse YAML: %w", err))
		} else {
			tmpl.Source = src.Name
			tmpl.Entries = dedupe(tmpl.Entries, entryKey, validateEntry,
				func(msg string) { warn(KindStructure, file, "%s", msg) })
			out.set.Template = &tmpl
		}
	}

	if file, data, ok, err := findFile(src.FS, dir, string(KindHooks)); err != nil {
		fail(KindHooks, file, err)
	} else if ok {
		hooks, err := decodeList[Hook](data)
		if err != nil {
			fail(KindHooks, file, err)
		} else {
			out.set.Hooks = dedupe(hooks, hookKey, func(h Hook) error {
				if strings.TrimSpace(h.Name) == "" {
					return errors.New("hook missing name")
				}
				if strings.TrimSpace(h.Script) == "" {
					return fmt.Errorf("hook %s has no script", h.Name)
				}
				return nil
			}, func(msg string) { warn(KindHooks, file, "%s", msg) })
		}
	}

	return out
}

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.Path) == "" {
		return errors.New("structure entry missing path")
	}
	return nil
}

// dedupe drops invalid fragments and repeated identities within a single
// file, keeping the first occurrence.
func dedupe[T any](in []T, key func(T) string, validate func(T) error, warn func(string)) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, f := range in {
		if err := validate(f); err != nil {
			warn(fmt.Sprintf("skipping fragment: %v", err))
			continue
		}
		k := key(f)
		if _, dup := seen[k]; dup {
			warn(fmt.Sprintf("duplicate id %q ignored", k))
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}
