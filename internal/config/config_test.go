package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, "sha1", cfg.Assets.HashAlgorithm)
	assert.Equal(t, 65536, cfg.Assets.StreamBufferSize)
	assert.Equal(t, 200, cfg.Assets.ThumbnailHeight)
	assert.Equal(t, 0, cfg.Assets.ThumbnailWidth)
	assert.True(t, cfg.Assets.GuardSharedPaths)
	assert.Equal(t, []string{".oam"}, cfg.Assets.PackageExtensions)
	assert.Equal(t, "adapt-tenant-master", cfg.Tenancy.MasterDatabase)
	require.Contains(t, cfg.Storage.Repositories, "localfs")
	assert.Equal(t, StorageDriverLocalFS, cfg.Storage.Repositories["localfs"].Driver)
	assert.Equal(t, filepath.Join("data", "master.db"), cfg.Records.MasterSQLitePath)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = ":9090"

[records]
driver = "memory"

[storage]
default_repository = "Shared"

[storage.repositories.shared]
root = "/srv/assets"
master_root = "/srv/master"

[assets]
hash_algorithm = "blake3"
operation_timeout = "5s"
guard_shared_paths = false
package_extensions = [".oam", ".zip"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, RecordsDriverMemory, cfg.Records.Driver)
	assert.Equal(t, "shared", cfg.Storage.DefaultRepository)
	assert.Equal(t, RepositoryConfig{Driver: "localfs", Root: "/srv/assets", MasterRoot: "/srv/master"}, cfg.Storage.Repositories["shared"])
	assert.Equal(t, "blake3", cfg.Assets.HashAlgorithm)
	assert.False(t, cfg.Assets.GuardSharedPaths)
	assert.Equal(t, 200, cfg.Assets.ThumbnailHeight, "unset fields keep defaults")

	timeout, err := cfg.Assets.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)
	assert.True(t, cfg.Assets.IsPackage("bundle.ZIP"))
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":7070\"\nassets:\n  thumbnail_height: 120\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 120, cfg.Assets.ThumbnailHeight)
	assert.Equal(t, "sha1", cfg.Assets.HashAlgorithm)
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[assets]\noperation_timeout = \"soon\"\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestAssetsTimeout(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "0", want: 0},
		{raw: "90s", want: 90 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "x", wantErr: true},
	}
	for _, tc := range cases {
		got, err := AssetsConfig{OperationTimeout: tc.raw}.Timeout()
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestIsPackage(t *testing.T) {
	c := Defaults().Assets
	assert.True(t, c.IsPackage("course.oam"))
	assert.True(t, c.IsPackage("COURSE.OAM"))
	assert.False(t, c.IsPackage("report.pdf"))
	assert.False(t, c.IsPackage("oam"))
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/etc/assetd.toml")
	assert.Equal(t, "/etc/assetd.toml", PathFromEnv())
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, DefaultConfigPath, PathFromEnv())
}
