package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Test Helpers --

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

// -- Tests --

func TestHandlePanic_WritesLog(t *testing.T) {
	t.Cleanup(resetMocks)
	var written []byte
	var path string
	osWriteFile = func(name string, data []byte, _ os.FileMode) error {
		path, written = name, data
		return nil
	}
	code := -1
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("layout exploded")
	}()

	assert.Equal(t, panicLogFile, path)
	assert.True(t, strings.HasPrefix(string(written), "panic: layout exploded"))
	assert.Contains(t, string(written), "goroutine")
	assert.Equal(t, 2, code)
}

func TestHandlePanic_WriteFailure(t *testing.T) {
	t.Cleanup(resetMocks)
	osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only") }
	code := -1
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("boom")
	}()
	assert.Equal(t, 2, code)
}

func TestHandlePanic_NoPanic(t *testing.T) {
	t.Cleanup(resetMocks)
	osExit = func(int) { t.Fatal("exit called without a panic") }
	func() { defer handlePanic() }()
}

func TestInteractive(t *testing.T) {
	in := strings.NewReader("\nversion-does-not-exist\neval -e 6*7\nquit\neval -e 1\n")
	var out bytes.Buffer
	require.NoError(t, interactive(t.Context(), in, &out))

	text := out.String()
	assert.Contains(t, text, "loupe > ")
	assert.Contains(t, text, "Error: unknown command")
	assert.Contains(t, text, "42\n")
	assert.NotContains(t, text, "\n1\n")
	assert.True(t, strings.HasSuffix(text, "bye\n"))
}
