package main

import (
	"os"
	"path/filepath"
	"testing"
)

// getBinaryPath returns the path to the book_agent binary for testing
func getBinaryPath(t *testing.T) string {
	binaryName := "book_agent"
	if testing.Short() {
		t.Skip("Skipping CLI tests in short mode")
	}

	binaryPath := filepath.Join("..", "..", "bin", binaryName)
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skipf("Binary not found at %s, build it first with 'make build'", binaryPath)
	}

	return binaryPath
}

// withoutEnv returns the current environment minus the named variables.
func withoutEnv(names ...string) []string {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var env []string
	for _, e := range os.Environ() {
		keep := true
		for n := range drop {
			if len(e) > len(n) && e[:len(n)+1] == n+"=" {
				keep = false
				break
			}
		}
		if keep {
			env = append(env, e)
		}
	}
	return env
}
