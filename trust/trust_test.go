package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTrustForUnknownPath(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	d, err := s.TrustFor("/home/alice/project")
	require.NoError(t, err)
	assert.False(t, d.Trusted)
	assert.Empty(t, d.Source)
}

func TestTrustFolderCoversChildren(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.SetTrust("/home/alice/project", TrustFolder))

	for _, path := range []string{
		"/home/alice/project",
		"/home/alice/project/src",
		"/home/alice/project/src/deep/file",
	} {
		d, err := s.TrustFor(path)
		require.NoError(t, err)
		assert.True(t, d.Trusted, path)
		assert.Equal(t, "/home/alice/project", d.Source)
	}

	// Siblings are not covered.
	d, err := s.TrustFor("/home/alice/other")
	require.NoError(t, err)
	assert.False(t, d.Trusted)

	// Prefix overlap without a separator boundary is not containment.
	d, err = s.TrustFor("/home/alice/project2")
	require.NoError(t, err)
	assert.False(t, d.Trusted)
}

func TestTrustParentCoversSiblings(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.SetTrust("/home/alice/work/repo", TrustParent))

	for _, path := range []string{
		"/home/alice/work/repo",
		"/home/alice/work/sibling",
		"/home/alice/work",
	} {
		d, err := s.TrustFor(path)
		require.NoError(t, err)
		assert.True(t, d.Trusted, path)
		assert.Equal(t, TrustParent, d.Level)
	}

	d, err := s.TrustFor("/home/alice")
	require.NoError(t, err)
	assert.False(t, d.Trusted)
}

func TestDoNotTrustOverridesAncestor(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.SetTrust("/home/alice", TrustFolder))
	require.NoError(t, s.SetTrust("/home/alice/vendor", DoNotTrust))

	d, err := s.TrustFor("/home/alice/src")
	require.NoError(t, err)
	assert.True(t, d.Trusted)

	d, err = s.TrustFor("/home/alice/vendor/dep")
	require.NoError(t, err)
	assert.False(t, d.Trusted)
	assert.Equal(t, "/home/alice/vendor", d.Source)
}

func TestSetTrustReplacesPrior(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.SetTrust("/srv/app", TrustFolder))
	require.NoError(t, s.SetTrust("/srv/app", DoNotTrust))

	d, err := s.TrustFor("/srv/app")
	require.NoError(t, err)
	assert.False(t, d.Trusted)
}

func TestClearTrust(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.SetTrust("/srv/app", TrustFolder))
	require.NoError(t, s.ClearTrust("/srv/app"))
	require.NoError(t, s.ClearTrust("/never/stored"))

	d, err := s.TrustFor("/srv/app")
	require.NoError(t, err)
	assert.False(t, d.Trusted)
}

func TestSetTrustValidation(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.Error(t, s.SetTrust("relative/path", TrustFolder))
	assert.Error(t, s.SetTrust("/srv/app", Level("MAYBE")))

	_, err := s.TrustFor("relative/path")
	assert.Error(t, err)
}

func TestCredentialCache(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, ok, err := s.Credential("oauth")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCredential("oauth", "tok-1"))
	require.NoError(t, s.SetCredential("oauth", "tok-2"))

	v, ok, err := s.Credential("oauth")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-2", v)

	require.NoError(t, s.ClearCachedCredentials())
	_, ok, err = s.Credential("oauth")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearCredentialsKeepsTrust(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.SetTrust("/srv/app", TrustFolder))
	require.NoError(t, s.SetCredential("oauth", "tok"))
	require.NoError(t, s.ClearCachedCredentials())

	d, err := s.TrustFor("/srv/app")
	require.NoError(t, err)
	assert.True(t, d.Trusted)
}
