// Package uki assembles and signs unified kernel images by driving the
// external section-embedding and signing tools.
package uki

import (
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/outofforest/parallel"
	"github.com/pkg/errors"

	"github.com/outofforest/ukigen/pkg/initrd"
	"github.com/outofforest/ukigen/pkg/osrelease"
)

// Section virtual addresses are a compatibility contract with the boot-time
// loader and must not change.
const (
	osrelVMA   = "0x0020000"
	cmdlineVMA = "0x0030000"
	linuxVMA   = "0x2000000"
	initrdVMA  = "0x3000000"
)

// Input describes one image to assemble.
type Input struct {
	Stub      string
	Kernel    string
	Initramfs []string
	Cmdline   string
	OsRelease osrelease.OsRelease
	Output    string
}

// Assembler embeds the kernel, initramfs, command line and os-release
// sections into the EFI stub using the external objcopy tool.
type Assembler struct {
	// Objcopy is the section-embedding binary.
	Objcopy string
	// Timeout bounds the tool invocation, so a stuck tool does not hang
	// the whole run.
	Timeout time.Duration
}

// Assemble produces the combined EFI binary at in.Output. The cmdline,
// os-release and initramfs sections are fed through pipes by concurrent
// producers, because objcopy may start reading any section before the
// others are fully written. The kernel section is read from its path
// directly. On failure no output file is left behind.
func (a Assembler) Assemble(ctx context.Context, in Input) error {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	osrelR, osrelW, err := os.Pipe()
	if err != nil {
		return errors.WithStack(err)
	}
	cmdlineR, cmdlineW, err := os.Pipe()
	if err != nil {
		osrelR.Close()
		osrelW.Close()
		return errors.WithStack(err)
	}
	initrdR, initrdW, err := os.Pipe()
	if err != nil {
		osrelR.Close()
		osrelW.Close()
		cmdlineR.Close()
		cmdlineW.Close()
		return errors.WithStack(err)
	}

	cmd := exec.Command(a.Objcopy,
		"--add-section", ".osrel=/dev/fd/3",
		"--change-section-vma", ".osrel="+osrelVMA,
		"--add-section", ".cmdline=/dev/fd/4",
		"--change-section-vma", ".cmdline="+cmdlineVMA,
		"--add-section", ".linux="+in.Kernel,
		"--change-section-vma", ".linux="+linuxVMA,
		"--add-section", ".initrd=/dev/fd/5",
		"--change-section-vma", ".initrd="+initrdVMA,
		in.Stub, in.Output,
	)
	cmd.ExtraFiles = []*os.File{osrelR, cmdlineR, initrdR}

	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("osrel", parallel.Continue, produce(osrelW, func(w io.Writer) error {
			_, err := w.Write(in.OsRelease.Render())
			return errors.WithStack(err)
		}))
		spawn("cmdline", parallel.Continue, produce(cmdlineW, func(w io.Writer) error {
			_, err := io.WriteString(w, in.Cmdline)
			return errors.WithStack(err)
		}))
		spawn("initrd", parallel.Continue, produce(initrdW, func(w io.Writer) error {
			return initrd.Concat(w, in.Initramfs)
		}))
		spawn("objcopy", parallel.Exit, func(ctx context.Context) error {
			// Closing the read ends after the tool exits unblocks any
			// producer still waiting on pipe back-pressure.
			defer func() {
				osrelR.Close()
				cmdlineR.Close()
				initrdR.Close()
			}()
			return execTool(ctx, cmd)
		})
		return nil
	})
	if err != nil {
		_ = os.Remove(in.Output)
		return errors.Wrapf(err, "assembling %s", in.Output)
	}
	return nil
}

// produce writes one section stream and closes the write end, signalling
// EOF to the tool. EPIPE means the tool stopped reading first; the
// subprocess exit status decides the outcome then.
func produce(w *os.File, fn func(io.Writer) error) parallel.Task {
	return func(ctx context.Context) error {
		defer w.Close()

		if err := fn(w); err != nil && !errors.Is(err, syscall.EPIPE) {
			return err
		}
		return nil
	}
}
