package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Source struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"source"`
	Target struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"target"`
}

// TestMigration exercises the rdb2redis binary end to end against a real
// source and target server: write a key on the source, SAVE an RDB
// snapshot, migrate that snapshot into the target, and confirm the key
// landed. Skips unless integration.yaml (copied from
// integration.sample.yaml) points at two reachable servers.
func TestMigration(t *testing.T) {
	configPath := "integration.yaml"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Skip("Skipping integration test: integration.yaml not found. Copy integration.sample.yaml to run.")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	ctx := context.Background()

	rdbSource := redis.NewClient(&redis.Options{
		Addr:     cfg.Source.Addr,
		Password: cfg.Source.Password,
	})
	defer rdbSource.Close()

	if err := rdbSource.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Source unavailable (%v)", err)
	}

	rdbTarget := redis.NewClient(&redis.Options{
		Addr:     cfg.Target.Addr,
		Password: cfg.Target.Password,
	})
	defer rdbTarget.Close()

	if err := rdbTarget.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Target unavailable (%v)", err)
	}

	testKey := "test:integration:key"
	testValue := fmt.Sprintf("value-%d", time.Now().UnixNano())

	t.Logf("Writing test key %s to Source...", testKey)
	if err := rdbSource.Set(ctx, testKey, testValue, 0).Err(); err != nil {
		t.Fatalf("Failed to write to source: %v", err)
	}

	t.Log("Snapshotting source with SAVE...")
	if err := rdbSource.Process(ctx, redis.NewCmd(ctx, "SAVE")).Err(); err != nil {
		t.Fatalf("Failed to SAVE source: %v", err)
	}
	dir, err := rdbSource.ConfigGet(ctx, "dir").Result()
	if err != nil {
		t.Fatalf("Failed to read source dir: %v", err)
	}
	dbfilename, err := rdbSource.ConfigGet(ctx, "dbfilename").Result()
	if err != nil {
		t.Fatalf("Failed to read source dbfilename: %v", err)
	}
	rdbPath := filepath.Join(dir["dir"], dbfilename["dbfilename"])

	migrateConfigPath := filepath.Join(t.TempDir(), "migrate.yaml")
	migrateConfig := fmt.Sprintf(`
source:
  type: rdb
  path: %q

target:
  addr: %q
  connection_timeout: 5s

migrate:
  migrate_batch_size: 64
  migrate_threads: 2
  migrate_replace: on

state:
  dir: %q
`, rdbPath, cfg.Target.Addr, t.TempDir())
	if err := os.WriteFile(migrateConfigPath, []byte(migrateConfig), 0o644); err != nil {
		t.Fatalf("Failed to write migration config: %v", err)
	}

	cmdBuild := exec.Command("go", "build", "-o", "rdb2redis-integration", "../../cmd/rdb2redis")
	if out, err := cmdBuild.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build rdb2redis: %s", out)
	}
	defer os.Remove("rdb2redis-integration")

	t.Log("Starting rdb2redis migration...")
	cmdRun := exec.Command("./rdb2redis-integration", "migrate", "-config", migrateConfigPath)

	if err := cmdRun.Start(); err != nil {
		t.Fatalf("Failed to start rdb2redis: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmdRun.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("rdb2redis execution failed: %v", err)
		}
	case <-time.After(30 * time.Second):
		if err := cmdRun.Process.Kill(); err != nil {
			t.Fatal("Failed to kill timed-out process:", err)
		}
		t.Fatal("Integration test timed out")
	}

	t.Log("Verifying data on Target...")

	var got string
	var getErr error
	for i := 0; i < 5; i++ {
		got, getErr = rdbTarget.Get(ctx, testKey).Result()
		if getErr == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if getErr != nil {
		t.Fatalf("Failed to get key from target: %v", getErr)
	}

	if got != testValue {
		t.Errorf("Value mismatch! Want: %s, Got: %s", testValue, got)
	} else {
		t.Log("SUCCESS: Data migrated correctly!")
	}
}
