package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Listen, DefaultListen)
	assert.Equal(t, cfg.HandshakeTimeout, DefaultHandshakeTimeout)
	assert.Equal(t, cfg.Stream.Interval, 100*time.Millisecond)
	assert.Equal(t, cfg.Stream.WriteTimeout, DefaultWriteTimeout)
	assert.Equal(t, cfg.Admission.Enabled, false)
	assert.Equal(t, cfg.Status.Addr, "")
	assert.NilError(t, cfg.Validate())
}

func TestLoadFull(t *testing.T) {
	p := writeConfig(t, `listen: 0.0.0.0:9000
handshake_timeout: 2s
stream:
  interval: 50ms
  write_timeout: 3s
admission:
  enabled: true
  limit: 5
  window: 10s
  redis_url: redis://localhost:6379/0
status:
  addr: 127.0.0.1:9001
log:
  level: debug
  format: json
`)
	cfg, err := Load(p)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Listen, "0.0.0.0:9000")
	assert.Equal(t, cfg.HandshakeTimeout, 2*time.Second)
	assert.Equal(t, cfg.Stream.Interval, 50*time.Millisecond)
	assert.Equal(t, cfg.Stream.WriteTimeout, 3*time.Second)
	assert.DeepEqual(t, cfg.Admission, AdmissionConfig{
		Enabled:  true,
		Limit:    5,
		Window:   10 * time.Second,
		RedisURL: "redis://localhost:6379/0",
	})
	assert.Equal(t, cfg.Status.Addr, "127.0.0.1:9001")
	assert.Equal(t, cfg.Log.Format, "json")
}

func TestLoadPartialGetsDefaults(t *testing.T) {
	p := writeConfig(t, `stream:
  interval: 250ms
`)
	cfg, err := Load(p)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Listen, DefaultListen)
	assert.Equal(t, cfg.Stream.Interval, 250*time.Millisecond)
	assert.Equal(t, cfg.Stream.WriteTimeout, DefaultWriteTimeout)
	assert.Equal(t, cfg.Admission.Limit, uint64(DefaultAdmissionLimit))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read")

	_, err = Parse([]byte("listen: [oops"))
	assert.ErrorContains(t, err, "parse")

	_, err = Parse([]byte(`listen: localhost
stream:
  interval: -1s
status:
  addr: nope
log:
  level: loud
  format: xml
`))
	assert.ErrorContains(t, err, "listen:")
	assert.ErrorContains(t, err, "stream.interval")
	assert.ErrorContains(t, err, "status.addr")
	assert.ErrorContains(t, err, "log.level")
	assert.ErrorContains(t, err, "log.format")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	out := buf.String()
	assert.Assert(t, !strings.Contains(out, "hidden"))
	assert.Assert(t, strings.Contains(out, `"msg":"shown"`), out)

	buf.Reset()
	LogConfig{Level: "debug", Format: "text"}.NewLogger(&buf).Debug("dbg")
	assert.Assert(t, strings.Contains(buf.String(), "msg=dbg"), buf.String())
}
