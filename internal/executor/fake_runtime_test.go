// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"os"
	"sync"

	"github.com/envmatrix/envmatrix/internal/runtime"
	"github.com/envmatrix/envmatrix/pkg/types"
)

type (
	// fakeProvider hands out one fakeRuntime per Provision call.
	fakeProvider struct {
		mu       sync.Mutex
		err      error
		exitFor  func(inv runtime.Invocation) (types.ExitCode, error)
		requests []runtime.ProvisionRequest
		runtimes []*fakeRuntime
	}

	// fakeRuntime records invocations and answers with exitFor.
	fakeRuntime struct {
		mu          sync.Mutex
		req         runtime.ProvisionRequest
		exitFor     func(inv runtime.Invocation) (types.ExitCode, error)
		invocations []runtime.Invocation
		closed      int
	}
)

func (p *fakeProvider) Kind() runtime.Kind { return runtime.KindVirtual }
func (p *fakeProvider) Available() bool    { return true }

func (p *fakeProvider) Provision(_ context.Context, req runtime.ProvisionRequest) (runtime.Runtime, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if err := os.MkdirAll(req.EnvDir, 0o755); err != nil {
		return nil, err
	}
	rt := &fakeRuntime{req: req, exitFor: p.exitFor}
	p.runtimes = append(p.runtimes, rt)
	return rt, nil
}

func (p *fakeProvider) lastRuntime() *fakeRuntime {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.runtimes) == 0 {
		return nil
	}
	return p.runtimes[len(p.runtimes)-1]
}

func (r *fakeRuntime) Kind() runtime.Kind  { return runtime.KindVirtual }
func (r *fakeRuntime) Interpreter() string { return "python" + string(r.req.Interpreter) }
func (r *fakeRuntime) Python() string      { return r.req.EnvDir + "/bin/python" }
func (r *fakeRuntime) EnvDir() string      { return r.req.EnvDir }
func (r *fakeRuntime) ProjectDir() string  { return r.req.ProjectDir }

func (r *fakeRuntime) Run(ctx context.Context, inv runtime.Invocation) (types.ExitCode, error) {
	r.mu.Lock()
	r.invocations = append(r.invocations, inv)
	exitFor := r.exitFor
	r.mu.Unlock()
	if exitFor == nil {
		return 0, nil
	}
	return exitFor(inv)
}

func (r *fakeRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

// scripts returns the scripts of command invocations, skipping install steps.
func (r *fakeRuntime) scripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, inv := range r.invocations {
		if len(inv.Argv) == 0 {
			out = append(out, inv.Script)
		}
	}
	return out
}

// argvs returns the argv of install invocations.
func (r *fakeRuntime) argvs() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, inv := range r.invocations {
		if len(inv.Argv) > 0 {
			out = append(out, inv.Argv)
		}
	}
	return out
}

// exitOnScript fails the scripts named in codes with the given exit codes.
func exitOnScript(codes map[string]types.ExitCode) func(runtime.Invocation) (types.ExitCode, error) {
	return func(inv runtime.Invocation) (types.ExitCode, error) {
		return codes[inv.Script], nil
	}
}
