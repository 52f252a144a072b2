package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalWithoutInitStillExits(t *testing.T) {
	old := globalLogger
	globalLogger = nil
	defer func() { globalLogger = old }()

	oldExit := exitFunc
	var exitCode int
	exited := false
	exitFunc = func(code int) {
		exitCode = code
		exited = true
	}
	defer func() { exitFunc = oldExit }()

	Fatal("boom", String("reason", "test"))

	assert.True(t, exited)
	assert.Equal(t, 1, exitCode)
}
