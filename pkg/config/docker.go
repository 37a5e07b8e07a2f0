package config

import (
	"os"
	"sync"
)

const dockerHostGateway = "host.docker.internal"

var (
	inContainerOnce   sync.Once
	inContainerResult bool

	// inContainer is swapped in tests.
	inContainer = detectContainer
)

// detectContainer reports whether the process runs inside a Docker container,
// based on /.dockerenv. The result is cached.
func detectContainer() bool {
	inContainerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inContainerResult = err == nil
	})
	return inContainerResult
}

// resolveLoopback maps a loopback host to the Docker host gateway when running
// in a container, so a sync job started with `docker run` reaches the
// PostgreSQL and Redis instances of the developer machine.
func resolveLoopback(host string) string {
	if host != "localhost" && host != "127.0.0.1" {
		return host
	}
	if !inContainer() {
		return host
	}
	return dockerHostGateway
}

// applyContainerHosts rewrites the database and cache hosts in place.
func (c *Config) applyContainerHosts() {
	c.Database.Host = resolveLoopback(c.Database.Host)
	if c.Redis.Enabled() {
		c.Redis.Host = resolveLoopback(c.Redis.Host)
	}
}
