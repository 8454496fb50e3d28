package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
)

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	level.Info(logger).Log("msg", "quiet")
	level.Warn(logger).Log("msg", "loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "msg=loud")
	assert.Contains(t, out, "level=warn")
}

func TestComponentAndHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(&buf, "debug"), "verifier")

	Probe(logger, "https://a.example", "timeout", 0, 5*time.Second)
	Error(logger, "merge", errors.New("boom"), "link", "https://a.example")

	out := buf.String()
	assert.Contains(t, out, "component=verifier")
	assert.Contains(t, out, "reason=timeout")
	assert.Contains(t, out, "duration_ms=5000")
	assert.Contains(t, out, `msg="merge failed"`)
	assert.Contains(t, out, "err=boom")
}
