package ukigen

import (
	"context"
	"io"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/ukigen/pkg/config"
	"github.com/outofforest/ukigen/pkg/hook"
	"github.com/outofforest/ukigen/pkg/osrelease"
	"github.com/outofforest/ukigen/pkg/uki"
)

// Options controls the config-driven modes.
type Options struct {
	// ConfigPath is the configuration file.
	ConfigPath string
	// BackupSuffix enables backups of previous outputs when non-empty.
	BackupSuffix string
}

// Auto builds every configured and discovered entry. Entry failures are
// isolated; having nothing at all to build is fatal.
func Auto(ctx context.Context, opts Options) error {
	f, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	entries := f.Entries(ctx)
	if len(entries) == 0 {
		return errors.WithStack(config.ErrNoEntries)
	}

	return NewPipeline(f.Defaults, opts.BackupSuffix).RunBatch(ctx, entries)
}

// Hook rebuilds the entries whose kernels were touched by a package
// transaction, as reported one path per line on input. Any unrecognized
// path falls back to rebuilding everything. Unlike Auto, the first entry
// failure aborts, since the hook runs scripted.
func Hook(ctx context.Context, opts Options, input io.Reader) error {
	f, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if f.Defaults.KernelName == nil {
		return errors.New("hook mode requires the kernel-name pattern in [global]")
	}

	lines, err := hook.ReadLines(input)
	if err != nil {
		return err
	}

	log := logger.Get(ctx)
	names, all := hook.Select(lines, f.Defaults.KernelName)
	entries := f.Entries(ctx)
	if all {
		log.Info("Unrecognized path in hook input, rebuilding all entries",
			zap.Strings("candidates", f.Names()))
	} else {
		selected := make(map[string]struct{}, len(names))
		for _, name := range names {
			selected[name] = struct{}{}
		}

		filtered := entries[:0]
		for _, e := range entries {
			if _, ok := selected[e.Name]; ok {
				filtered = append(filtered, e)
				delete(selected, e.Name)
			}
		}
		entries = filtered

		for name := range selected {
			log.Warn("No entry for hook target", zap.String("target", name))
		}
	}

	if len(entries) == 0 {
		log.Info("Nothing to rebuild")
		return nil
	}

	p := NewPipeline(f.Defaults, opts.BackupSuffix)
	for _, e := range entries {
		if err := p.RunEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// ManualOptions fully describes a single target, no config file involved.
type ManualOptions struct {
	EFIStub      string
	Key          string
	Cert         string
	Kernel       string
	Initramfs    []string
	Cmdline      string
	Output       string
	BackupSuffix string
}

// Manual builds and signs exactly one image from explicit parameters. Any
// failure is fatal.
func Manual(ctx context.Context, opts ManualOptions) error {
	if len(opts.Initramfs) == 0 {
		return errors.New("at least one initramfs is required")
	}

	p := Pipeline{
		Assembler:    uki.Assembler{Objcopy: "objcopy", Timeout: config.DefaultTimeout},
		Signer:       uki.Signer{Sbsign: "sbsign", Timeout: config.DefaultTimeout},
		BackupSuffix: opts.BackupSuffix,
		EtcOsRelease: osrelease.EtcPath,
	}
	return p.RunEntry(ctx, config.Entry{
		Name:      "manual",
		EFIStub:   opts.EFIStub,
		Key:       opts.Key,
		Cert:      opts.Cert,
		Kernel:    opts.Kernel,
		Initramfs: opts.Initramfs,
		Cmdline:   opts.Cmdline,
		Output:    opts.Output,
	})
}
