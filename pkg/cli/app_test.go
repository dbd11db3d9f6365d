package cli

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afetlabs/afet/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.SetDefaultCLILogger("error")
	os.Exit(m.Run())
}

func TestNewApp(t *testing.T) {
	app := newApp()
	require.NotNil(t, app)
	assert.Equal(t, appName, app.Name)
	assert.NotNil(t, app.Before)
	assert.NotNil(t, app.After)

	names := make([]string, 0, len(app.Commands))
	for _, cmd := range app.Commands {
		require.NotNil(t, cmd.Action, cmd.Name)
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"import", "metrics", "intersect", "mitigate", "compare", "datasets"}, names)
}

func TestNewApp_GlobalFlags(t *testing.T) {
	app := newApp()

	names := make([]string, 0, len(app.Flags))
	for _, f := range app.Flags {
		names = append(names, f.Names()[0])
	}
	assert.Contains(t, names, debugFlag.Name)
	assert.Contains(t, names, dbFlag.Name)
	assert.Contains(t, names, formatFlag.Name)
}

func TestEncode(t *testing.T) {
	out := captureStdout(t, func() {
		require.NoError(t, encode(map[string]int{"records": 3}))
	})
	assert.Contains(t, out, `"records": 3`)

	outputFormat = formatYAML
	defer func() { outputFormat = formatJSON }()

	out = captureStdout(t, func() {
		require.NoError(t, encode(map[string]int{"records": 3}))
	})
	assert.Contains(t, out, "records: 3")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	require.NoError(t, w.Close())

	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	return string(buf[:n])
}
