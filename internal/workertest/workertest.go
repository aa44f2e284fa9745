// Package workertest turns a package's test binary into a fake bot worker.
//
// A test package opts in with
//
//	func TestHelperProcess(t *testing.T) { workertest.Main() }
//
// and then spawns os.Args[0] using the argv from Args.
package workertest

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

const envWant = "GO_WANT_HELPER_PROCESS"

// Modes understood by Main.
const (
	ModeSleep      = "sleep"       // run until signalled
	ModeExit       = "exit"        // exit with the code given as the next arg
	ModeIgnoreTerm = "ignore-term" // ignore SIGTERM, run until SIGKILL
	ModeEcho       = "echo"        // print the remaining args one per line, exit 0
)

// maxLifetime bounds a helper that nobody stops.
const maxLifetime = 60 * time.Second

// Env returns the environment entries that activate Main in a child.
func Env() []string {
	return []string{envWant + "=1"}
}

// Args returns the argv (after the executable) for a helper running mode.
func Args(mode string, extra ...string) []string {
	out := []string{"-test.run=^TestHelperProcess$", "--", mode}
	return append(out, extra...)
}

// Executable is the current test binary.
func Executable() string {
	return os.Args[0]
}

// Main runs the helper behavior when the process was started as a worker,
// and returns immediately otherwise.
func Main() {
	if os.Getenv(envWant) != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		os.Exit(2)
	}

	switch args[0] {
	case ModeSleep:
		time.Sleep(maxLifetime)
		os.Exit(0)
	case ModeExit:
		code := 0
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[1]); err == nil {
				code = n
			}
		}
		os.Exit(code)
	case ModeEcho:
		for _, a := range args[1:] {
			fmt.Fprintln(os.Stdout, a)
		}
		os.Exit(0)
	case ModeIgnoreTerm:
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(maxLifetime)
		os.Exit(0)
	default:
		os.Exit(2)
	}
}
