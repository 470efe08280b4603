package keys

import (
	"fmt"
	"os"
	"os/exec"
)

// Ensure generates the ed25519 signing key pair at path on first run.
// Workers fetch the private key over GET /key to sign the packages they
// build.
func Ensure(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat key file: %w", err)
	}

	cmd := exec.Command("ssh-keygen", "-f", path, "-t", "ed25519", "-N", "", "-q")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ssh-keygen failed: %w: %s", err, out)
	}
	return nil
}
