package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/sandboxd/internal/taskrun"
)

// Higher-level operations. Each is a fixed composition of RunCommand and
// WriteFiles and introduces no failure modes of its own.

const manifestPath = "/workspace/requirements.txt"

// InstallPackages installs the named pip packages.
func (m *Manager) InstallPackages(ctx context.Context, h Handle, packages []string) (ExecResult, error) {
	if len(packages) == 0 {
		return ExecResult{Success: true}, nil
	}
	args := append([]string{"install", "--quiet"}, packages...)
	return m.RunCommand(ctx, h, ExecRequest{Command: "pip", Args: args})
}

// DownloadFile fetches a URL into the sandbox filesystem.
func (m *Manager) DownloadFile(ctx context.Context, h Handle, url, dest string) (ExecResult, error) {
	return m.RunCommand(ctx, h, ExecRequest{
		Command: "curl",
		Args:    []string{"-fsSL", "-o", dest, url},
	})
}

// ExtractArchive unpacks a tarball inside the sandbox.
func (m *Manager) ExtractArchive(ctx context.Context, h Handle, archive, dest string) (ExecResult, error) {
	return m.RunCommand(ctx, h, ExecRequest{
		Command: "tar",
		Args:    []string{"-xf", archive, "-C", dest},
	})
}

// ListProcesses returns the sandbox process table.
func (m *Manager) ListProcesses(ctx context.Context, h Handle) (ExecResult, error) {
	return m.RunCommand(ctx, h, ExecRequest{Command: "ps", Args: []string{"aux"}})
}

// ApplyEnvironment prepares the sandbox from an EnvironmentSpec: it writes the
// package manifest, installs it, and runs the setup script with the
// spec's environment variables exported. The first failed step is
// returned as a failed ExecResult; later steps are skipped.
func (m *Manager) ApplyEnvironment(ctx context.Context, h Handle, spec taskrun.EnvironmentSpec) (ExecResult, error) {
	if len(spec.PackageManifest) > 0 {
		var lines []string
		for name, version := range spec.PackageManifest {
			if version == "" || version == "latest" {
				lines = append(lines, name)
			} else {
				lines = append(lines, fmt.Sprintf("%s==%s", name, version))
			}
		}
		wr, err := m.WriteFiles(ctx, h, []File{{Path: manifestPath, Content: strings.Join(lines, "\n") + "\n"}})
		if err != nil {
			return ExecResult{}, err
		}
		if len(wr.Failed) > 0 {
			return ExecResult{
				Success: false,
				Error:   fmt.Sprintf("writing manifest: %s", wr.Failed[0].Error),
			}, nil
		}

		res, err := m.RunCommand(ctx, h, ExecRequest{
			Command: "pip",
			Args:    []string{"install", "--quiet", "-r", manifestPath},
			Env:     spec.EnvironmentVariables,
		})
		if err != nil || !res.Success {
			return res, err
		}
	}

	if strings.TrimSpace(spec.SetupScript) != "" {
		return m.RunCommand(ctx, h, ExecRequest{
			Command: "bash",
			Args:    []string{"-c", spec.SetupScript},
			Env:     spec.EnvironmentVariables,
		})
	}

	return ExecResult{Success: true}, nil
}
