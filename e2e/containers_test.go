//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startSQLite prepares a WAL-mode database file in a host directory from a
// sqlite3 container, the way an operator would seed a volume.
func startSQLite(t *testing.T) string {
	t.Helper()

	hostDir := t.TempDir()
	dbPath := filepath.Join(hostDir, "telemetry.db")

	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:      "nouchka/sqlite3:latest",
		WorkingDir: "/data",
		Entrypoint: []string{"sh", "-c"},
		Cmd: []string{
			"sqlite3 /data/telemetry.db \"PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;\" && " +
				"chmod 666 /data/telemetry.db && " +
				"echo 'sqlite ready' && " +
				"tail -f /dev/null",
		},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Binds = append(hc.Binds, hostDir+":/data")
		},
		WaitingFor: wait.ForLog("sqlite ready").WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start sqlite container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("sqlite db file not created: %v", err)
	}
	return dbPath
}

const mosquittoPort = nat.Port("1883/tcp")

// startMosquitto runs an anonymous broker and returns its host and port.
func startMosquitto(t *testing.T) (string, int) {
	t.Helper()

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		ExposedPorts: []string{string(mosquittoPort)},
		WaitingFor:   wait.ForListeningPort(mosquittoPort).WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("mosquitto host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, mosquittoPort)
	if err != nil {
		t.Fatalf("mosquitto port: %v", err)
	}
	if mapped.Int() == 0 {
		t.Fatalf("mosquitto port not mapped: %s", fmt.Sprint(mapped))
	}
	return host, mapped.Int()
}
