// Package launch starts the slave process on behalf of the master.
package launch

import (
	"fmt"
	"os"
	"os/exec"
)

// Spec describes the slave to start.
type Spec struct {
	Path string
	Args []string
	// Env is appended to the master's own environment.
	Env []string
}

// Spawn starts the slave detached from the master's process group and
// returns the running command. The caller reaps it with cmd.Wait.
func Spawn(spec Spec) (*exec.Cmd, error) {
	path, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve slave executable: %w", err)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	return cmd, nil
}
