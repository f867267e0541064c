package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"camacq"}, args...))
	return out.String(), err
}

func TestPoliciesAndBackends(t *testing.T) {
	out, err := runApp(t, "policies")
	test.That(t, err, test.ShouldBeNil)
	for _, want := range []string{"ignore", "skip", "error", "frame transfer error"} {
		test.That(t, out, test.ShouldContainSubstring, want)
	}

	out, err = runApp(t, "backends")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Thorlabs")
	test.That(t, out, test.ShouldContainSubstring, "callback")
}

func TestRunSimulated(t *testing.T) {
	out, err := runApp(t, "run", "--frames", "20", "--frame-interval", "1ms", "--restart-every", "7",
		"--drop-every", "5", "--log-drops", "--timeout", "2s")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "sim-uc480")
	test.That(t, out, test.ShouldContainSubstring, "sim-ueye")
	test.That(t, out, test.ShouldContainSubstring, "SKIP COUNT")
	test.That(t, out, test.ShouldContainSubstring, "MEAN INTERVAL")
	test.That(t, out, test.ShouldContainSubstring, "MiB")
}

func TestRunFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cameras.yaml")
	file := `
log_level: warn
cameras:
  - id: bench
    backend: ueye
    attributes: {width_px: 32, height_px: 8, ring_size: 4, frameskip_behavior: error}
`
	test.That(t, os.WriteFile(path, []byte(file), 0o600), test.ShouldBeNil)

	logPath := filepath.Join(t.TempDir(), "camacq.log")
	out, err := runApp(t, "--config", path, "--log-file", logPath, "run", "--frames", "10",
		"--frame-interval", "1ms", "--restart-every", "4", "--timeout", "2s")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "bench")
	test.That(t, out, test.ShouldContainSubstring, "error")

	logs, err := os.ReadFile(logPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logs), test.ShouldContainSubstring, "rejected frame after hardware counter restart")
}

func TestRunErrors(t *testing.T) {
	_, err := runApp(t, "run", "--frames", "0")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = runApp(t, "run", "--frameskip-behavior", "retry")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = runApp(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "run")
	test.That(t, err, test.ShouldNotBeNil)
}
