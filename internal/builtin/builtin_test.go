package builtin

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
	"batchpipe/internal/registry"
)

func stepContext(obj objectstore.Object, args map[string]any) (operation.StepContext, *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	return operation.StepContext{Object: obj, Args: args, Stdout: stdout, Stderr: stderr}, stdout, stderr
}

func recording() objectstore.Object {
	return objectstore.NewRecord("rec01", objectstore.TypeRecording, map[string]any{"sfreq": 1000, "task": "rest"})
}

func TestRegister(t *testing.T) {
	l := registry.NewLoader(Catalog(), nil)
	require.NoError(t, Register(l))

	reg, err := l.Registry()
	require.NoError(t, err)

	assert.Equal(t, len(Catalog()), reg.Len(), "every catalog entry has a table row")

	spec, err := reg.Lookup("print_params")
	require.NoError(t, err)
	assert.Equal(t, objectstore.TypeRecording, spec.Target)
	assert.Equal(t, operation.Concurrent, spec.Affinity)
	assert.Equal(t, []string{"lowpass", "highpass"}, spec.Params)
	assert.Equal(t, 40, spec.Defaults["lowpass"])
	assert.Equal(t, 0.1, spec.Defaults["highpass"])

	shell, err := reg.Lookup("shell")
	require.NoError(t, err)
	assert.Equal(t, operation.Isolated, shell.Affinity)
	assert.Equal(t, "echo hello", shell.Defaults["command"])

	summary, err := reg.Lookup("summary")
	require.NoError(t, err)
	assert.Equal(t, objectstore.TypeNone, summary.Target)
	assert.Equal(t, operation.Inline, summary.Affinity)

	anatomy, err := reg.Lookup("describe_anatomy")
	require.NoError(t, err)
	assert.Equal(t, objectstore.TypeAnatomy, anatomy.Target)
}

func TestRegister_BuiltinsWinOverPackages(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "custom")
	require.NoError(t, os.MkdirAll(pkg, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "custom_functions.csv"),
		[]byte("name;target;params;affinity\nfail;group;;inline\n"), 0644))

	l := registry.NewLoader(Catalog(), nil)
	require.NoError(t, Register(l))
	require.NoError(t, l.AddPackageDir(dir))
	reg, err := l.Registry()
	require.NoError(t, err)

	spec, err := reg.Lookup("fail")
	require.NoError(t, err)
	assert.Equal(t, objectstore.TypeRecording, spec.Target)
}

func TestDescribe(t *testing.T) {
	sc, stdout, _ := stepContext(recording(), nil)

	require.NoError(t, Describe(context.Background(), sc))

	assert.Equal(t, "rec01 (Recording)\n  sfreq: 1000\n  task: rest\n", stdout.String())

	sc, _, _ = stepContext(nil, nil)
	assert.Error(t, Describe(context.Background(), sc))
}

func TestPrintParams_SkipsObjectArgs(t *testing.T) {
	obj := recording()
	sc, stdout, _ := stepContext(obj, map[string]any{"lowpass": 40, "highpass": 0.1, "recording": obj})

	require.NoError(t, PrintParams(context.Background(), sc))

	assert.Equal(t, "rec01:\n  highpass: 0.1\n  lowpass: 40\n", stdout.String())
}

func TestSummary(t *testing.T) {
	sc, stdout, _ := stepContext(nil, map[string]any{"message": "all good", "output_dir": "out"})

	require.NoError(t, Summary(context.Background(), sc))

	assert.Equal(t, "all good\nresults in out\n", stdout.String())
}

func TestWriteAttributes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	sc, stdout, _ := stepContext(recording(), map[string]any{"output_dir": dir})

	require.NoError(t, WriteAttributes(context.Background(), sc))

	path := filepath.Join(dir, "rec01.yaml")
	assert.Contains(t, stdout.String(), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Name       string         `yaml:"name"`
		Type       string         `yaml:"type"`
		Attributes map[string]any `yaml:"attributes"`
		Args       map[string]any `yaml:"args"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "rec01", doc.Name)
	assert.Equal(t, "recording", doc.Type)
	assert.Equal(t, "rest", doc.Attributes["task"])
	assert.Equal(t, dir, doc.Args["output_dir"])
}

func TestWriteAttributes_Errors(t *testing.T) {
	sc, _, _ := stepContext(recording(), map[string]any{})
	assert.ErrorContains(t, WriteAttributes(context.Background(), sc), "output_dir is empty")

	sc, _, _ = stepContext(nil, map[string]any{"output_dir": t.TempDir()})
	assert.ErrorContains(t, WriteAttributes(context.Background(), sc), "needs an object")
}

func TestShell(t *testing.T) {
	sc, stdout, stderr := stepContext(recording(), map[string]any{
		"command": `echo "$BATCHPIPE_OBJECT/$BATCHPIPE_OBJECT_TYPE"; echo oops >&2`,
	})

	require.NoError(t, Shell(context.Background(), sc))

	assert.Equal(t, "rec01/recording\n", stdout.String())
	assert.Equal(t, "oops\n", stderr.String())
}

func TestShell_Errors(t *testing.T) {
	sc, _, _ := stepContext(recording(), map[string]any{"command": "exit 3"})
	assert.ErrorContains(t, Shell(context.Background(), sc), "command failed")

	sc, _, _ = stepContext(recording(), map[string]any{})
	assert.ErrorContains(t, Shell(context.Background(), sc), "command is empty")
}

func TestSleep(t *testing.T) {
	sc, _, _ := stepContext(nil, map[string]any{"seconds": 0.01})
	assert.NoError(t, Sleep(context.Background(), sc))

	sc, _, _ = stepContext(nil, map[string]any{"seconds": -1})
	assert.ErrorContains(t, Sleep(context.Background(), sc), "negative")

	sc, _, _ = stepContext(nil, map[string]any{})
	assert.Error(t, Sleep(context.Background(), sc))
}

func TestSleep_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sc, _, _ := stepContext(nil, map[string]any{"seconds": 60})

	start := time.Now()
	err := Sleep(ctx, sc)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFail(t *testing.T) {
	sc, _, _ := stepContext(recording(), map[string]any{"reason": "bad channel"})
	assert.EqualError(t, Fail(context.Background(), sc), "bad channel")

	sc, _, _ = stepContext(recording(), nil)
	assert.EqualError(t, Fail(context.Background(), sc), "forced failure")
}
