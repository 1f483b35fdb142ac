package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/outofforest/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testContext(t *testing.T) (context.Context, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zap.InfoLevel)
	return logger.WithLogger(context.Background(), zap.New(core)), logs
}

// fixture creates a config file plus all the files a valid entry references.
type fixture struct {
	dir       string
	stub      string
	key       string
	cert      string
	kernel    string
	initramfs string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dir := t.TempDir()
	fx := fixture{
		dir:       dir,
		stub:      filepath.Join(dir, "linuxx64.efi.stub"),
		key:       filepath.Join(dir, "db.key"),
		cert:      filepath.Join(dir, "db.crt"),
		kernel:    filepath.Join(dir, "vmlinuz-linux"),
		initramfs: filepath.Join(dir, "initramfs-linux.img"),
	}
	for _, path := range []string{fx.stub, fx.key, fx.cert, fx.kernel, fx.initramfs} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}
	return fx
}

func (fx fixture) write(t *testing.T, content string) string {
	t.Helper()

	content = strings.NewReplacer(
		"{dir}", fx.dir,
		"{stub}", fx.stub,
		"{key}", fx.key,
		"{cert}", fx.cert,
		"{kernel}", fx.kernel,
		"{initramfs}", fx.initramfs,
	).Replace(content)

	path := filepath.Join(fx.dir, "ukigen.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validEntry = `
[linux]
efistub = {stub}
key = {key}
cert = {cert}
kernel = {kernel}
initramfs = {initramfs}
cmdline = root=/dev/sda1 rw
output = {dir}/linux.efi
`

func TestLoadValidEntry(t *testing.T) {
	ctx, _ := testContext(t)
	fx := newFixture(t)

	f, err := Load(fx.write(t, validEntry))
	require.NoError(t, err)

	entries := f.Entries(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, "linux", entries[0].Name)
	require.Equal(t, fx.kernel, entries[0].Kernel)
	require.Equal(t, []string{fx.initramfs}, entries[0].Initramfs)
	require.Equal(t, "root=/dev/sda1 rw", entries[0].Cmdline)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	require.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	fx := newFixture(t)
	_, err := Load(fx.write(t, "[unterminated\nkey value"))
	require.Error(t, err)
}

func TestGlobalDefaultsMerge(t *testing.T) {
	ctx, _ := testContext(t)
	fx := newFixture(t)

	f, err := Load(fx.write(t, `
[global]
efistub = {stub}
key = {key}
cert = {cert}
cmdline = quiet

[linux]
kernel = {kernel}
initramfs = {initramfs}
output = {dir}/linux.efi
cmdline = root=/dev/sda1
`))
	require.NoError(t, err)

	entries := f.Entries(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, fx.stub, entries[0].EFIStub)
	// Entry overrides win over globals.
	require.Equal(t, "root=/dev/sda1", entries[0].Cmdline)
}

func TestInterpolation(t *testing.T) {
	ctx, _ := testContext(t)
	fx := newFixture(t)

	f, err := Load(fx.write(t, `
[global]
efistub = {stub}
key = {key}
cert = {cert}
output = {dir}/${name}.efi

[linux]
kernel = {kernel}
initramfs = {initramfs}
cmdline = root=/dev/sda1
`))
	require.NoError(t, err)

	entries := f.Entries(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Join(fx.dir, "linux.efi"), entries[0].Output)
}

func TestInterpolationUnknownRefLeftAlone(t *testing.T) {
	ctx, _ := testContext(t)
	fx := newFixture(t)

	f, err := Load(fx.write(t, validEntry+"\n[second]\ncmdline = ${nope}\nignore = yes\n"))
	require.NoError(t, err)
	require.Len(t, f.Entries(ctx), 1)
}

func TestMissingRequiredFieldDropsEntryWithWarning(t *testing.T) {
	ctx, logs := testContext(t)
	fx := newFixture(t)

	f, err := Load(fx.write(t, validEntry+`
[broken]
efistub = {stub}
key = {key}
kernel = {kernel}
initramfs = {initramfs}
output = {dir}/broken.efi
`))
	require.NoError(t, err)

	entries := f.Entries(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, "linux", entries[0].Name)

	warnings := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warnings, 1)
	require.Equal(t, "broken", warnings[0].ContextMap()["entry"])

	reason, ok := warnings[0].ContextMap()["reason"].(string)
	require.True(t, ok)
	require.Contains(t, reason, "cert")
}

func TestUnknownEntryKeyDropsEntryWithWarning(t *testing.T) {
	ctx, logs := testContext(t)
	fx := newFixture(t)

	f, err := Load(fx.write(t, validEntry+`
[typo]
efistub = {stub}
key = {key}
cert = {cert}
kernell = {kernel}
initramfs = {initramfs}
output = {dir}/typo.efi
`))
	require.NoError(t, err)

	entries := f.Entries(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, "linux", entries[0].Name)

	warnings := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warnings, 1)
	require.Equal(t, "typo", warnings[0].ContextMap()["entry"])

	reason, ok := warnings[0].ContextMap()["reason"].(string)
	require.True(t, ok)
	require.Contains(t, reason, `unknown key "kernell"`)
}

func TestMissingKernelDropsEntryWithInfo(t *testing.T) {
	ctx, logs := testContext(t)
	fx := newFixture(t)

	f, err := Load(fx.write(t, validEntry+`
[gone]
efistub = {stub}
key = {key}
cert = {cert}
kernel = {dir}/vmlinuz-gone
initramfs = {initramfs}
output = {dir}/gone.efi
`))
	require.NoError(t, err)

	entries := f.Entries(ctx)
	require.Len(t, entries, 1)
	require.Empty(t, logs.FilterLevelExact(zap.WarnLevel).All())

	infos := logs.FilterLevelExact(zap.InfoLevel).All()
	require.Len(t, infos, 1)
	require.Equal(t, "gone", infos[0].ContextMap()["entry"])
}

func TestIgnoredEntrySkippedSilently(t *testing.T) {
	ctx, logs := testContext(t)
	fx := newFixture(t)

	f, err := Load(fx.write(t, validEntry+"\n[extra]\nignore = true\n"))
	require.NoError(t, err)

	require.Len(t, f.Entries(ctx), 1)
	require.Empty(t, logs.All())
}

func TestMultilineInitramfs(t *testing.T) {
	ctx, _ := testContext(t)
	fx := newFixture(t)

	ucode := filepath.Join(fx.dir, "intel-ucode.img")
	require.NoError(t, os.WriteFile(ucode, []byte("u"), 0o600))

	f, err := Load(fx.write(t, `
[linux]
efistub = {stub}
key = {key}
cert = {cert}
kernel = {kernel}
initramfs = `+ucode+`
	{initramfs}
output = {dir}/linux.efi
`))
	require.NoError(t, err)

	entries := f.Entries(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, []string{ucode, fx.initramfs}, entries[0].Initramfs)
}

func TestDiscovery(t *testing.T) {
	ctx, _ := testContext(t)
	fx := newFixture(t)

	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "vmlinuz-lts"), []byte("x"), 0o600))

	f, err := Load(fx.write(t, `
[global]
kernels = {dir}/vmlinuz-*
kernel-name = vmlinuz-(.+)
efistub = {stub}
key = {key}
cert = {cert}
initramfs = {initramfs}
output = {dir}/${name}.efi
`))
	require.NoError(t, err)

	entries := f.Entries(ctx)
	require.Len(t, entries, 2)

	names := []string{entries[0].Name, entries[1].Name}
	require.ElementsMatch(t, []string{"linux", "lts"}, names)
}

func TestDiscoveryDoesNotOverwriteExistingSection(t *testing.T) {
	ctx, _ := testContext(t)
	fx := newFixture(t)

	f, err := Load(fx.write(t, `
[global]
kernels = {dir}/vmlinuz-*
kernel-name = vmlinuz-(.+)
efistub = {stub}
key = {key}
cert = {cert}
initramfs = {initramfs}
output = {dir}/${name}.efi

[linux]
kernel = {kernel}
cmdline = root=/dev/sda1
`))
	require.NoError(t, err)

	entries := f.Entries(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, "root=/dev/sda1", entries[0].Cmdline)
}

func TestNames(t *testing.T) {
	fx := newFixture(t)

	f, err := Load(fx.write(t, validEntry+"\n[second]\nignore = yes\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"linux", "second"}, f.Names())
}

func TestUnknownGlobalKeyFatal(t *testing.T) {
	fx := newFixture(t)

	_, err := Load(fx.write(t, "[global]\nbogus = 1\n"))
	require.Error(t, err)
}

func TestTimeoutParsing(t *testing.T) {
	fx := newFixture(t)

	f, err := Load(fx.write(t, "[global]\ntimeout = 90s\n"))
	require.NoError(t, err)
	require.Equal(t, "1m30s", f.Defaults.Timeout.String())

	_, err = Load(fx.write(t, "[global]\ntimeout = soon\n"))
	require.Error(t, err)
}
