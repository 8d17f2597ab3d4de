// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrRecoveryActionFailed marks a process-control call that errored
// or timed out. It feeds the escalation counter; it is never fatal to
// the supervisor loop.
var ErrRecoveryActionFailed = errors.New("recovery action failed")

// Controller is the process-control capability: query whether a
// service's process runs, and restart it. Implemented by
// ComposeController in production and by fakes in tests.
type Controller interface {
	// Running reports whether the named service's container is up.
	Running(ctx context.Context, service string) (bool, error)

	// Restart restarts the named service. With force, the container
	// is recreated instead of restarted in place.
	Restart(ctx context.Context, service string, force bool) error
}

// Runner executes external commands. Extracted so the compose
// controller is testable without a container runtime.
type Runner interface {
	// Run executes name with args in dir, returning captured output.
	// A non-zero exit reports through err.
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// ComposeController drives podman-compose for recovery actions. The
// docker CLI is argument-compatible for the subcommands used here, so
// deployments can point Binary at "docker" with a "compose" prefix
// handled by the shell wrapper they already use.
type ComposeController struct {
	runner Runner

	// binary is the compose executable. Default: "podman-compose".
	binary string

	// podmanBinary is the container runtime CLI used for liveness
	// inspection. Default: "podman".
	podmanBinary string

	// stackDir is the directory holding the compose file.
	stackDir string
}

// NewComposeController creates a controller for the stack in stackDir.
// A nil runner gets ExecRunner.
func NewComposeController(runner Runner, stackDir string) *ComposeController {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ComposeController{
		runner:       runner,
		binary:       "podman-compose",
		podmanBinary: "podman",
		stackDir:     stackDir,
	}
}

// Running inspects the service's container state.
func (c *ComposeController) Running(ctx context.Context, service string) (bool, error) {
	stdout, stderr, err := c.runner.Run(ctx, c.stackDir, c.podmanBinary,
		"inspect", "--format", "{{.State.Running}}", service)
	if err != nil {
		// "No such container" means not running, not an error.
		if strings.Contains(stderr, "no such") || strings.Contains(stderr, "No such") {
			return false, nil
		}
		return false, fmt.Errorf("inspect %s: %w", service, err)
	}
	return strings.TrimSpace(stdout) == "true", nil
}

// Restart restarts the service, recreating the container when force
// is set.
func (c *ComposeController) Restart(ctx context.Context, service string, force bool) error {
	args := []string{"restart", service}
	if force {
		args = []string{"up", "-d", "--force-recreate", service}
	}

	_, stderr, err := c.runner.Run(ctx, c.stackDir, c.binary, args...)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v (stderr: %s)",
			ErrRecoveryActionFailed, c.binary, strings.Join(args, " "), err, strings.TrimSpace(stderr))
	}
	return nil
}

var _ Controller = (*ComposeController)(nil)
