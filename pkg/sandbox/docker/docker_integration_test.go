package docker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/autofix/pkg/sandbox"
	"github.com/nstogner/autofix/pkg/sandbox/docker"
)

func TestIntegration_Runtime_Execute(t *testing.T) {
	// Check if DOCKER_HOST is set. If not, we skip.
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("Skipping integration test: DOCKER_HOST not set")
	}

	cfg := docker.DefaultConfig()
	// Any stock python image works here; the runner image only adds tooling.
	if img := os.Getenv("AUTOFIX_TEST_PYTHON_IMAGE"); img != "" {
		cfg.Images[sandbox.LanguagePython] = img
	}
	cfg.Limits.Timeout = 5 * time.Second

	rt, err := docker.New(cfg)
	if err != nil {
		t.Skipf("Skipping test: Docker not available or failed to init: %v", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	root := filepath.Join(t.TempDir(), uuid.NewString())
	if err := os.MkdirAll(filepath.Join(root, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"main.py":     "from lib.util import greet\nprint(greet())\n",
		"lib/util.py": "def greet():\n    return 'hello'\n",
		"loop.py":     "while True:\n    pass\n",
		"net.py":      "import socket\nsocket.create_connection(('1.1.1.1', 53), timeout=2)\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	res, err := rt.Execute(ctx, root, "main.py", sandbox.LanguagePython)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "hello\n" {
		t.Fatalf("unexpected result: exit=%d stdout=%q stderr=%q", res.ExitCode, res.Stdout, res.Stderr)
	}

	res, err = rt.Execute(ctx, root, "loop.py", sandbox.LanguagePython)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.TimedOut || res.ExitCode != sandbox.TimeoutExitCode {
		t.Fatalf("expected timeout, got exit=%d timedOut=%v", res.ExitCode, res.TimedOut)
	}

	res, err = rt.Execute(ctx, root, "net.py", sandbox.LanguagePython)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.ExitCode == 0 {
		t.Fatalf("expected network access to fail, stdout=%q", res.Stdout)
	}

	n, err := rt.Reap(ctx)
	if err != nil {
		t.Fatalf("Reap failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no leftover containers, reaped %d", n)
	}
}
