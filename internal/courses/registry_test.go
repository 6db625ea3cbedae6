package courses

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coursesYAML = `
courses:
  - name: "C#"
    title: "Top Topics in C# Programming"
    topic_limit: 3
  - name: Networking
    title: "Top Topics in Networking"
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	r, err := Load("/nonexistent/path/that/does/not/exist.yaml")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Empty(t, r.All())
	assert.Equal(t, 0, r.Len())
}

func TestLoadValidYAML(t *testing.T) {
	r, err := Load(writeFile(t, coursesYAML))
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "C#", all[0].Name)
	assert.Equal(t, "Networking", all[1].Name)

	c, ok := r.Get("C#")
	require.True(t, ok)
	assert.Equal(t, 3, c.TopicLimit)

	_, ok = r.Get("Databases")
	assert.False(t, ok)
}

func TestLoadInvalidYAML(t *testing.T) {
	r, err := Load(writeFile(t, ":\tinvalid:\tyaml:\t[unclosed"))
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestNewRegistrySkipsDuplicatesAndBlanks(t *testing.T) {
	r := NewRegistry([]Course{
		{Name: "Networking", Title: "first"},
		{Name: ""},
		{Name: "Networking", Title: "second"},
	})
	require.Equal(t, 1, r.Len())
	assert.Equal(t, "first", r.Title("Networking"))
}

func TestTitle(t *testing.T) {
	r, err := Load(writeFile(t, coursesYAML))
	require.NoError(t, err)

	assert.Equal(t, "Top Topics in C# Programming", r.Title("C#"))
	assert.Equal(t, "Top Topics in Databases", r.Title("Databases"))
	assert.Equal(t, "Top Topics in Networking", NewRegistry(nil).Title("Networking"))
}

func TestTopicLimit(t *testing.T) {
	r, err := Load(writeFile(t, coursesYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, r.TopicLimit("C#"))
	assert.Equal(t, 0, r.TopicLimit("Networking"))
	assert.Equal(t, 0, r.TopicLimit("Databases"))
}

func TestOrder(t *testing.T) {
	r, err := Load(writeFile(t, coursesYAML))
	require.NoError(t, err)

	got := r.Order([]string{"Operating Systems", "Networking", "Databases", "C#", "Networking"})
	assert.Equal(t, []string{"C#", "Networking", "Databases", "Operating Systems"}, got)

	assert.Empty(t, r.Order(nil))
}

func TestLiveReload(t *testing.T) {
	path := writeFile(t, coursesYAML)

	live, err := NewLive(path)
	require.NoError(t, err)
	assert.Equal(t, path, live.Path())
	assert.Equal(t, 2, live.Current().Len())

	require.NoError(t, os.WriteFile(path, []byte("courses:\n  - name: Databases\n"), 0600))
	require.NoError(t, live.Reload())
	assert.Equal(t, []string{"Databases"}, live.Current().Order([]string{"Databases"}))
	assert.Equal(t, 1, live.Current().Len())

	// A broken file keeps the previous registry
	require.NoError(t, os.WriteFile(path, []byte("courses: [unclosed"), 0600))
	assert.Error(t, live.Reload())
	assert.Equal(t, 1, live.Current().Len())
}
