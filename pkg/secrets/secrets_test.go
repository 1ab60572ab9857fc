package secrets

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvResolver_OmitsUnsatisfied(t *testing.T) {
	r := &EnvResolver{lookup: func(key string) (string, bool) {
		if key == "STRIPE_API_KEY" {
			return "sk_live_xxx", true
		}
		return "", false
	}}

	got, err := r.Resolve(context.Background(), []string{"STRIPE_API_KEY", "MISSING_SLOT"}, "t1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"STRIPE_API_KEY": "sk_live_xxx"}, got)
}

func TestEnvResolver_RealEnviron(t *testing.T) {
	require.NoError(t, os.Setenv("RIG_TEST_SLOT", "value123"))
	defer os.Unsetenv("RIG_TEST_SLOT")

	r := NewEnvResolver()
	got, err := r.Resolve(context.Background(), []string{"RIG_TEST_SLOT"}, "")
	require.NoError(t, err)
	assert.Equal(t, "value123", got["RIG_TEST_SLOT"])
}

func TestFileResolver_SealAndResolve(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/secrets.enc"
	master := []byte("correct horse battery staple")

	fr := NewFileResolver(path, master)
	require.NoError(t, fr.Seal(map[string]string{"GITHUB_TOKEN": "ghp_abc123"}))

	got, err := fr.Resolve(context.Background(), []string{"GITHUB_TOKEN", "UNKNOWN"}, "t1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"GITHUB_TOKEN": "ghp_abc123"}, got)
}

func TestFileResolver_MissingFileIsEmptyNotError(t *testing.T) {
	fr := NewFileResolver("/nonexistent/path/secrets.enc", []byte("key"))
	got, err := fr.Resolve(context.Background(), []string{"ANY_SLOT"}, "t1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
