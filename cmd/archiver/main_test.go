package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitRunsCleanupFirst(t *testing.T) {
	var calls []string
	old := osExit
	osExit = func(code int) { calls = append(calls, "exit") }
	t.Cleanup(func() { osExit = old })

	exit(func() { calls = append(calls, "cleanup") }, errors.New("boom"))
	assert.Equal(t, []string{"cleanup", "exit"}, calls)

	calls = nil
	exit(func() { calls = append(calls, "cleanup") }, nil)
	assert.Equal(t, []string{"cleanup", "exit"}, calls)
}
