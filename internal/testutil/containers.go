// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// containerSlots bounds the containers started by tests of the whole
// process. ENVMATRIX_TEST_CONTAINER_PARALLEL overrides the default of
// min(GOMAXPROCS, 2); small CI runners hang when too many cell containers
// and object stores start at once.
var containerSlots = sync.OnceValue(func() chan struct{} {
	n := min(runtime.GOMAXPROCS(0), 2)
	if v, err := strconv.Atoi(os.Getenv("ENVMATRIX_TEST_CONTAINER_PARALLEL")); err == nil && v > 0 {
		n = v
	}
	return make(chan struct{}, n)
})

// AcquireContainerSlot blocks until a container slot is free and releases
// it when t finishes.
func AcquireContainerSlot(t testing.TB) {
	t.Helper()
	slots := containerSlots()
	slots <- struct{}{}
	t.Cleanup(func() { <-slots })
}

// RequireContainerProvider skips t in -short mode and when testcontainers
// cannot reach a Docker-compatible daemon.
func RequireContainerProvider(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if !containerProviderAvailable() {
		t.Skip("skipping container test: no testcontainers provider")
	}
}

// containerProviderAvailable recovers from provider detection, which
// panics on some hosts without a daemon.
func containerProviderAvailable() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	_ = provider.Close()
	return true
}
