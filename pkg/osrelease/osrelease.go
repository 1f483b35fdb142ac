package osrelease

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/outofforest/ukigen/pkg/kernel"
)

// EtcPath is the descriptor file of the running distribution.
const EtcPath = "/etc/os-release"

// FallbackName is used when the host descriptor yields no usable name.
const FallbackName = "Linux"

// DistroName reads the distribution name from an os-release style file,
// preferring PRETTY_NAME over NAME. It never fails: a missing or malformed
// file yields FallbackName.
func DistroName(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return FallbackName
	}
	defer f.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "=")
		if !found {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(value, "\"'")
	}

	if name := values["PRETTY_NAME"]; name != "" {
		return name
	}
	if name := values["NAME"]; name != "" {
		return name
	}
	return FallbackName
}

// OsRelease is the descriptor embedded into the image for boot-time display.
type OsRelease struct {
	Distro  string
	ID      string
	Version string
}

// ForKernel synthesizes a descriptor for a kernel image on disk: the host
// distribution name, the kernel file name as ID and the release string
// parsed out of the image.
func ForKernel(kernelPath, etcPath string) (OsRelease, error) {
	version, err := kernel.VersionFromFile(kernelPath)
	if err != nil {
		return OsRelease{}, err
	}
	return OsRelease{
		Distro:  DistroName(etcPath),
		ID:      filepath.Base(kernelPath),
		Version: version,
	}, nil
}

// Render produces the os-release text block.
func (o OsRelease) Render() []byte {
	return fmt.Appendf(nil, "NAME=\"%s\"\nID=\"%s\"\nVERSION_ID=\"%s\"\n", o.Distro, o.ID, o.Version)
}
