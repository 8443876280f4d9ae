// SPDX-License-Identifier: MPL-2.0

package container

import "os/exec"

// DockerEngine implements the Engine interface using the Docker CLI.
type DockerEngine struct {
	*BaseCLIEngine
}

// NewDockerEngine creates a new Docker engine.
func NewDockerEngine(opts ...BaseCLIEngineOption) *DockerEngine {
	path, _ := exec.LookPath("docker")
	return &DockerEngine{
		BaseCLIEngine: NewBaseCLIEngine(string(EngineTypeDocker), path, opts...),
	}
}

// Available checks that the docker client can reach a daemon.
func (e *DockerEngine) Available() bool {
	return e.available("{{.Server.Version}}")
}
