// Package ukigen builds and signs unified kernel images: bootable EFI
// binaries combining a stub loader, a kernel, its initramfs, the kernel
// command line and a synthesized os-release descriptor.
package ukigen

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/outofforest/ukigen/pkg/config"
	"github.com/outofforest/ukigen/pkg/osrelease"
	"github.com/outofforest/ukigen/pkg/uki"
)

// Pipeline runs the per-entry build sequence: backup of the previous image,
// assembly, signing, and the final rename onto the output path.
type Pipeline struct {
	Assembler uki.Assembler
	Signer    uki.Signer

	// BackupSuffix, when non-empty, preserves an existing output at
	// output+BackupSuffix before it is replaced.
	BackupSuffix string

	// EtcOsRelease is the host distribution descriptor.
	EtcOsRelease string
}

// NewPipeline creates a pipeline using the configured tool paths.
func NewPipeline(defaults config.Defaults, backupSuffix string) Pipeline {
	return Pipeline{
		Assembler:    uki.Assembler{Objcopy: defaults.Objcopy, Timeout: defaults.Timeout},
		Signer:       uki.Signer{Sbsign: defaults.Sbsign, Timeout: defaults.Timeout},
		BackupSuffix: backupSuffix,
		EtcOsRelease: osrelease.EtcPath,
	}
}

// RunEntry builds and signs one entry. The image is assembled and signed at
// a temporary path next to the output and renamed over it only after
// signing succeeds, so the canonical path never holds an unsigned binary.
// A signing failure leaves the unsigned image at the temporary path.
func (p Pipeline) RunEntry(ctx context.Context, e config.Entry) error {
	log := logger.Get(ctx).With(zap.String("entry", e.Name))
	log.Info("Building unified kernel image",
		zap.String("kernel", e.Kernel),
		zap.Strings("initramfs", e.Initramfs),
		zap.String("output", e.Output))

	osrel, err := osrelease.ForKernel(e.Kernel, p.EtcOsRelease)
	if err != nil {
		return err
	}
	log.Info("Synthesized os-release",
		zap.String("distro", osrel.Distro), zap.String("kernelVersion", osrel.Version))

	if p.BackupSuffix != "" {
		backedUp, err := backupFile(e.Output, e.Output+p.BackupSuffix)
		if err != nil {
			return err
		}
		if backedUp {
			log.Info("Backed up previous image", zap.String("backup", e.Output+p.BackupSuffix))
		}
	}

	tmpOutput := e.Output + ".new"
	if err := p.Assembler.Assemble(ctx, uki.Input{
		Stub:      e.EFIStub,
		Kernel:    e.Kernel,
		Initramfs: e.Initramfs,
		Cmdline:   e.Cmdline,
		OsRelease: osrel,
		Output:    tmpOutput,
	}); err != nil {
		return err
	}

	if err := p.Signer.Sign(ctx, e.Key, e.Cert, tmpOutput); err != nil {
		return err
	}

	if err := os.Rename(tmpOutput, e.Output); err != nil {
		return errors.WithStack(err)
	}
	log.Info("Signed image ready")
	return nil
}

// RunBatch processes entries in discovery order. Entries are independent:
// a failing entry is logged and counted, the batch continues.
func (p Pipeline) RunBatch(ctx context.Context, entries []config.Entry) error {
	log := logger.Get(ctx)

	var failed int
	for _, e := range entries {
		if err := p.RunEntry(ctx, e); err != nil {
			log.Error("Entry failed", zap.String("entry", e.Name), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d entries failed", failed, len(entries))
	}
	return nil
}

// backupFile copies src to dst preserving mode and timestamps, overwriting
// any previous backup. A missing src is not an error, there is simply
// nothing to back up yet.
func backupFile(src, dst string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(src, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, errors.WithStack(err)
	}

	in, err := os.Open(src)
	if err != nil {
		return false, errors.WithStack(err)
	}
	defer in.Close()

	mode := os.FileMode(st.Mode & 0o7777)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return false, errors.WithStack(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return false, errors.Wrapf(err, "backing up %s", src)
	}
	if err := out.Chmod(mode); err != nil {
		return false, errors.WithStack(err)
	}
	if err := out.Close(); err != nil {
		return false, errors.WithStack(err)
	}

	if err := unix.Chown(dst, int(st.Uid), int(st.Gid)); err != nil {
		return false, errors.WithStack(err)
	}

	atime := time.Unix(st.Atim.Sec, st.Atim.Nsec)
	mtime := time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
	return true, errors.WithStack(os.Chtimes(dst, atime, mtime))
}
