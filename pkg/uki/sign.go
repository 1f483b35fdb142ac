package uki

import (
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// Signer signs assembled images in place using the external sbsign tool.
type Signer struct {
	// Sbsign is the signing binary.
	Sbsign string
	// Timeout bounds the tool invocation.
	Timeout time.Duration
}

// Sign signs the binary at path with the given key and certificate,
// overwriting it on success. On failure the unsigned file is left as is, no
// rollback happens here.
func (s Signer) Sign(ctx context.Context, key, cert, path string) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.Command(s.Sbsign, "--key", key, "--cert", cert, "--output", path, path)
	return errors.Wrapf(execTool(ctx, cmd), "signing %s", path)
}
