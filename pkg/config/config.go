package config

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"
)

// GlobalSection holds defaults applied to every entry.
const GlobalSection = "global"

// DefaultTimeout bounds every external tool invocation.
const DefaultTimeout = 5 * time.Minute

// ErrNoEntries is returned when discovery and validation leave nothing to build.
var ErrNoEntries = errors.New("no kernel entries configured")

var interpolationRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// Keys recognized in entry sections.
var entryKeys = map[string]struct{}{
	"name":      {},
	"efistub":   {},
	"key":       {},
	"cert":      {},
	"kernel":    {},
	"initramfs": {},
	"cmdline":   {},
	"output":    {},
	"ignore":    {},
}

// Keys recognized only in the global section.
var globalKeys = map[string]struct{}{
	"kernels":     {},
	"kernel-name": {},
	"objcopy":     {},
	"sbsign":      {},
	"timeout":     {},
}

// Entry is one buildable and signable target. Immutable after validation.
type Entry struct {
	Name      string
	EFIStub   string
	Key       string
	Cert      string
	Kernel    string
	Initramfs []string
	Cmdline   string
	Output    string
	Ignore    bool
}

// Defaults carries global options shared by all entries.
type Defaults struct {
	// KernelGlob identifies kernel images on disk for entry discovery.
	KernelGlob string
	// KernelName derives an entry identifier from a kernel path. Also used
	// by hook mode against changed-path lines.
	KernelName *regexp.Regexp
	// Objcopy and Sbsign override the external tool binaries.
	Objcopy string
	Sbsign  string
	// Timeout bounds each external tool invocation.
	Timeout time.Duration

	values map[string]string
}

type section struct {
	name   string
	values map[string]string
}

// File is a loaded configuration: global defaults plus ordered candidate
// entry sections. Read-only after Load.
type File struct {
	Defaults Defaults

	sections []section
}

// Load reads and parses the configuration file. Any unreadable or
// unparseable input is fatal.
func Load(path string) (*File, error) {
	src, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
	}, path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading config %s", path)
	}

	f := &File{
		Defaults: Defaults{
			Objcopy: "objcopy",
			Sbsign:  "sbsign",
			Timeout: DefaultTimeout,
			values:  map[string]string{},
		},
	}

	for _, sec := range src.Sections() {
		name := strings.TrimSpace(sec.Name())
		if name == ini.DefaultSection {
			continue
		}

		values := map[string]string{}
		for _, key := range sec.Keys() {
			values[key.Name()] = key.Value()
		}

		if name == GlobalSection {
			if err := f.applyGlobal(values); err != nil {
				return nil, err
			}
			continue
		}
		f.sections = append(f.sections, section{name: name, values: values})
	}

	return f, nil
}

func (f *File) applyGlobal(values map[string]string) error {
	for key, value := range values {
		value = interpolate(value, values)
		switch key {
		case "kernels":
			f.Defaults.KernelGlob = value
		case "kernel-name":
			re, err := regexp.Compile(value)
			if err != nil {
				return errors.Wrap(err, "invalid kernel-name pattern")
			}
			if re.NumSubexp() < 1 {
				return errors.Errorf("kernel-name pattern %q has no capture group", value)
			}
			f.Defaults.KernelName = re
		case "objcopy":
			f.Defaults.Objcopy = value
		case "sbsign":
			f.Defaults.Sbsign = value
		case "timeout":
			timeout, err := time.ParseDuration(value)
			if err != nil {
				return errors.Wrap(err, "invalid timeout")
			}
			f.Defaults.Timeout = timeout
		default:
			if _, ok := entryKeys[key]; !ok {
				return errors.Errorf("unknown key %q in [%s]", key, GlobalSection)
			}
			f.Defaults.values[key] = value
		}
	}
	return nil
}

// Entries discovers, merges and validates kernel entries. Invalid entries
// are dropped with a warning; a missing kernel image drops the entry with an
// informational note only, since a removed kernel is an expected state.
func (f *File) Entries(ctx context.Context) []Entry {
	log := logger.Get(ctx)

	sections := f.discover()
	entries := make([]Entry, 0, len(sections))
	for _, sec := range sections {
		entry, verdict := f.build(sec)
		switch {
		case verdict == verdictValid && entry.Ignore:
		case verdict == verdictValid:
			entries = append(entries, entry)
		case verdict.kernelMissing:
			log.Info("Skipping entry, kernel image does not exist",
				zap.String("entry", sec.name), zap.String("kernel", verdict.detail))
		default:
			log.Warn("Dropping invalid entry",
				zap.String("entry", sec.name), zap.String("reason", verdict.detail))
		}
	}
	return entries
}

// Names returns the identifiers of all candidate sections after discovery.
func (f *File) Names() []string {
	sections := f.discover()
	names := make([]string, 0, len(sections))
	for _, sec := range sections {
		names = append(names, sec.name)
	}
	return names
}

// discover appends synthesized sections for kernels matched by the glob
// pattern. Explicitly configured sections are never overwritten.
func (f *File) discover() []section {
	sections := f.sections
	if f.Defaults.KernelGlob == "" || f.Defaults.KernelName == nil {
		return sections
	}

	matches, err := filepath.Glob(f.Defaults.KernelGlob)
	if err != nil {
		// Glob fails on bad patterns only; treat as no matches.
		return sections
	}

	known := map[string]struct{}{}
	for _, sec := range sections {
		known[sec.name] = struct{}{}
	}

	for _, match := range matches {
		m := f.Defaults.KernelName.FindStringSubmatch(match)
		if m == nil {
			continue
		}
		name := m[1]
		if _, exists := known[name]; exists {
			continue
		}
		known[name] = struct{}{}
		sections = append(sections, section{
			name:   name,
			values: map[string]string{"kernel": match},
		})
	}
	return sections
}

type verdict struct {
	detail        string
	kernelMissing bool
}

var verdictValid = verdict{}

// build merges global defaults with the section, interpolates ${ref}
// values and validates the result.
func (f *File) build(sec section) (Entry, verdict) {
	merged := map[string]string{"name": sec.name}
	for key, value := range f.Defaults.values {
		merged[key] = value
	}
	for key, value := range sec.values {
		if _, ok := entryKeys[key]; !ok {
			return Entry{}, verdict{detail: "unknown key " + strconv.Quote(key)}
		}
		merged[key] = value
	}
	for key, value := range merged {
		merged[key] = interpolate(value, merged)
	}

	entry := Entry{
		Name:      merged["name"],
		EFIStub:   merged["efistub"],
		Key:       merged["key"],
		Cert:      merged["cert"],
		Kernel:    merged["kernel"],
		Initramfs: splitLines(merged["initramfs"]),
		Cmdline:   merged["cmdline"],
		Output:    merged["output"],
		Ignore:    truthy(merged["ignore"]),
	}
	if entry.Ignore {
		return entry, verdictValid
	}

	for _, required := range []struct {
		key   string
		value string
	}{
		{"efistub", entry.EFIStub},
		{"key", entry.Key},
		{"cert", entry.Cert},
		{"kernel", entry.Kernel},
		{"output", entry.Output},
	} {
		if required.value == "" {
			return Entry{}, verdict{detail: "missing required field " + strconv.Quote(required.key)}
		}
	}
	if len(entry.Initramfs) == 0 {
		return Entry{}, verdict{detail: `missing required field "initramfs"`}
	}

	if _, err := os.Stat(entry.Kernel); err != nil {
		return Entry{}, verdict{detail: entry.Kernel, kernelMissing: true}
	}
	for _, path := range append([]string{entry.EFIStub, entry.Key, entry.Cert}, entry.Initramfs...) {
		if _, err := os.Stat(path); err != nil {
			return Entry{}, verdict{detail: "referenced file does not exist: " + path}
		}
	}

	return entry, verdictValid
}

// interpolate expands ${ref} references against values, resolved once at
// load time. Unknown references are left untouched.
func interpolate(value string, values map[string]string) string {
	for range 10 {
		expanded := interpolationRe.ReplaceAllStringFunc(value, func(ref string) string {
			key := ref[2 : len(ref)-1]
			if v, ok := values[key]; ok {
				return v
			}
			return ref
		})
		if expanded == value {
			return value
		}
		value = expanded
	}
	return value
}

func splitLines(value string) []string {
	var lines []string
	for _, line := range strings.Split(value, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
