package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lighthouse-agents/lighthouse/pkg/eventstore"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validYAML() string {
	return "auth_secret: " + testSecret + "\n"
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML()))
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, BackendSegmentedLog, cfg.StorageBackend)
	assert.Equal(t, "per_write", cfg.FsyncPolicy)
	assert.Equal(t, 1800, cfg.SessionTimeoutS)
	assert.Equal(t, 5, cfg.MaxConcurrentSessions)
	assert.Equal(t, 30, cfg.ExpertTimeoutS)
	assert.Equal(t, 1, cfg.ExpertConsensusDefault)
	require.NotNil(t, cfg.RateLimitEnabled)
	assert.True(t, *cfg.RateLimitEnabled)
	assert.NotEmpty(t, cfg.NodeID)
}

func TestAuthSecretMandatory(t *testing.T) {
	_, err := Parse([]byte("data_dir: /tmp/x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_secret")

	_, err = Parse([]byte("auth_secret: too-short\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_secret")
}

func TestStorageBackendEnum(t *testing.T) {
	cfg, err := Parse([]byte(validYAML() + "storage_backend: sqlite_wal\n"))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLiteWAL, cfg.StorageBackend)

	_, err = Parse([]byte(validYAML() + "storage_backend: leveldb\n"))
	assert.Error(t, err)
}

func TestParseFsyncPolicy(t *testing.T) {
	tests := []struct {
		in       string
		mode     eventstore.FsyncMode
		interval time.Duration
		wantErr  bool
	}{
		{"per_write", eventstore.FsyncPerWrite, 0, false},
		{"per_batch", eventstore.FsyncPerBatch, 0, false},
		{"", eventstore.FsyncPerWrite, 0, false},
		{"interval_ms:100", eventstore.FsyncInterval, 100 * time.Millisecond, false},
		{"interval_ms:0", "", 0, true},
		{"interval_ms:abc", "", 0, true},
		{"eventually", "", 0, true},
	}
	for _, tt := range tests {
		mode, interval, err := ParseFsyncPolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.mode, mode, tt.in)
		assert.Equal(t, tt.interval, interval, tt.in)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("LIGHTHOUSE_TEST_SECRET", testSecret)
	t.Setenv("LIGHTHOUSE_TEST_DATA", "/var/lib/lighthouse")

	cfg, err := Parse([]byte(
		"auth_secret: ${LIGHTHOUSE_TEST_SECRET}\n" +
			"data_dir: $LIGHTHOUSE_TEST_DATA\n" +
			"log_level: ${LIGHTHOUSE_TEST_UNSET:-debug}\n"))
	require.NoError(t, err)

	assert.Equal(t, testSecret, cfg.AuthSecret)
	assert.Equal(t, "/var/lib/lighthouse", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestRemoteCacheURL(t *testing.T) {
	cfg, err := Parse([]byte(validYAML() + "remote_cache_url: etcd://10.0.0.1:2379,10.0.0.2:2379\n"))
	require.NoError(t, err)
	rc, err := cfg.RemoteCacheConfig()
	require.NoError(t, err)
	assert.Equal(t, "etcd", rc.Backend)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, rc.Endpoints)

	cfg, err = Parse([]byte(validYAML() + "remote_cache_url: consul://10.0.0.1:8500\n"))
	require.NoError(t, err)
	rc, err = cfg.RemoteCacheConfig()
	require.NoError(t, err)
	assert.Equal(t, "consul", rc.Backend)

	_, err = Parse([]byte(validYAML() + "remote_cache_url: redis://10.0.0.1:6379\n"))
	assert.Error(t, err)

	cfg, err = Parse([]byte(validYAML()))
	require.NoError(t, err)
	rc, err = cfg.RemoteCacheConfig()
	require.NoError(t, err)
	assert.Nil(t, rc)
}

func TestAllowedBaseDirsMustBeAbsolute(t *testing.T) {
	_, err := Parse([]byte(validYAML() + "allowed_base_dirs: [relative/path]\n"))
	assert.Error(t, err)

	cfg, err := Parse([]byte(validYAML() + "allowed_base_dirs: [/srv/projects]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/projects"}, cfg.AllowedBaseDirs)
}

func TestDerivedConfigs(t *testing.T) {
	cfg, err := Parse([]byte(validYAML() +
		"data_dir: /var/lib/lighthouse\n" +
		"fsync_policy: interval_ms:50\n" +
		"session_timeout_s: 60\n" +
		"expert_timeout_s: 5\n" +
		"remote_cache_op_timeout_ms: 25\n"))
	require.NoError(t, err)

	seg := cfg.SegmentOptions()
	assert.Equal(t, "/var/lib/lighthouse/events", seg.Dir)
	assert.Equal(t, eventstore.FsyncInterval, seg.Fsync)
	assert.Equal(t, 50*time.Millisecond, seg.FsyncInterval)

	assert.Equal(t, time.Minute, cfg.AuthConfig().SessionTimeout)
	assert.Equal(t, 5*time.Second, cfg.ExpertConfig().DecisionTimeout)
	assert.Equal(t, 25*time.Millisecond, cfg.CacheConfig().RemoteTimeout)
	assert.Equal(t, "/var/lib/lighthouse/events.db", cfg.SQLitePath())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lighthouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML()+"port: 9000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lighthouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML()), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(c *Config) {
			select {
			case reloaded <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(validYAML()+"log_level: debug\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload not observed")
	}

	cancel()
	<-done
}
