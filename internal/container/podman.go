// SPDX-License-Identifier: MPL-2.0

package container

import (
	"os"
	"os/exec"
	goruntime "runtime"
	"slices"
)

// selinuxEnforcePath exists when SELinux is enabled on the host.
const selinuxEnforcePath = "/sys/fs/selinux/enforce"

// PodmanEngine implements the Engine interface using the Podman CLI.
type PodmanEngine struct {
	*BaseCLIEngine
}

// NewPodmanEngine creates a new Podman engine. Mounts get the shared SELinux
// label when SELinux is enabled, and containers keep the invoking user's ID
// so files written to the mounted environment directory stay owned by them.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	path, _ := exec.LookPath("podman")

	allOpts := append([]BaseCLIEngineOption{
		WithVolumeFormatter(selinuxVolumeFormatter(selinuxEnabled)),
		WithRunArgsTransformer(keepUserNamespace),
	}, opts...)

	return &PodmanEngine{
		BaseCLIEngine: NewBaseCLIEngine(string(EngineTypePodman), path, allOpts...),
	}
}

// Available checks that podman can be queried.
func (e *PodmanEngine) Available() bool {
	return e.available("{{.Version}}")
}

func selinuxEnabled() bool {
	if goruntime.GOOS != "linux" {
		return false
	}
	_, err := os.Stat(selinuxEnforcePath)
	return err == nil
}

func selinuxVolumeFormatter(enabled func() bool) VolumeFormatFunc {
	return func(v VolumeMount) string {
		if v.SELinux == "" && enabled() {
			v.SELinux = "z"
		}
		return v.String()
	}
}

// keepUserNamespace inserts --userns=keep-id right after "run".
func keepUserNamespace(args []string) []string {
	if len(args) == 0 || args[0] != "run" || slices.Contains(args, "--userns=keep-id") {
		return args
	}
	return slices.Insert(slices.Clone(args), 1, "--userns=keep-id")
}
