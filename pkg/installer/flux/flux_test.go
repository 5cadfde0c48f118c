package flux

import (
	"context"
	"errors"
	"testing"

	"github.com/moolen/k3s-bootstrap/pkg/installer/config"
	"github.com/moolen/k3s-bootstrap/pkg/installer/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	utilsexec "k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"
)

var git = config.GitSettings{
	Owner:      "acme",
	Repository: "fleet",
	Branch:     "main",
	Path:       "clusters/edge-01",
	Token:      "ghp_x",
	Personal:   true,
}

func recordingExec(calls *[]*fakeexec.FakeCmd, results ...error) *fakeexec.FakeExec {
	fe := &fakeexec.FakeExec{}
	for _, res := range results {
		res := res
		fe.CommandScript = append(fe.CommandScript, func(cmd string, args ...string) utilsexec.Cmd {
			fc := &fakeexec.FakeCmd{
				CombinedOutputScript: []fakeexec.FakeAction{
					func() ([]byte, []byte, error) { return nil, nil, res },
				},
			}
			*calls = append(*calls, fc)
			return fakeexec.InitFakeCmd(fc, cmd, args...)
		})
	}
	return fe
}

func TestBootstrap(t *testing.T) {
	var calls []*fakeexec.FakeCmd
	fe := recordingExec(&calls, nil, nil)
	f := New(runner.NewWithExec(fe), "/etc/rancher/k3s/k3s.yaml").
		WithRegistry("mirror.local").
		WithExtraComponents("image-reflector-controller")

	require.NoError(t, f.Bootstrap(context.Background(), git))
	require.Len(t, calls, 2)

	assert.Equal(t, []string{"flux", "check", "--pre", "--kubeconfig", "/etc/rancher/k3s/k3s.yaml"}, calls[0].Argv)
	assert.Equal(t, []string{
		"flux", "bootstrap", "github",
		"--owner", "acme",
		"--repository", "fleet",
		"--branch", "main",
		"--path", "clusters/edge-01",
		"--kubeconfig", "/etc/rancher/k3s/k3s.yaml",
		"--token-auth",
		"--silent",
		"--personal",
		"--registry", "mirror.local/fluxcd",
		"--components-extra", "image-reflector-controller",
	}, calls[1].Argv)
	assert.Contains(t, calls[1].Env, "GITHUB_TOKEN=ghp_x")
}

func TestBootstrap_PreCheckFailureStops(t *testing.T) {
	var calls []*fakeexec.FakeCmd
	fe := recordingExec(&calls, errors.New("exit status 1"))
	f := New(runner.NewWithExec(fe), "/k3s.yaml")

	err := f.Bootstrap(context.Background(), git)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre-check")
	assert.Len(t, calls, 1)
}

func TestEnsureCLI(t *testing.T) {
	var calls []*fakeexec.FakeCmd
	fe := recordingExec(&calls, nil)
	fe.LookPathFunc = func(string) (string, error) { return "", utilsexec.ErrExecutableNotFound }

	require.NoError(t, New(runner.NewWithExec(fe), "").EnsureCLI(context.Background()))
	require.Len(t, calls, 1)
	assert.Equal(t, "sh", calls[0].Argv[0])
	assert.Contains(t, calls[0].Argv[2], installScriptURL)
}

func TestEnsureCLI_AlreadyInstalled(t *testing.T) {
	var calls []*fakeexec.FakeCmd
	fe := recordingExec(&calls)
	fe.LookPathFunc = func(string) (string, error) { return "/usr/local/bin/flux", nil }

	require.NoError(t, New(runner.NewWithExec(fe), "").EnsureCLI(context.Background()))
	assert.Empty(t, calls)
}

func TestBootstrapCommand_CAFile(t *testing.T) {
	cmd := New(nil, "/k").WithCAFile("/etc/ssl/git-ca.pem").bootstrapCommand(config.GitSettings{Branch: "main"})
	assert.Contains(t, cmd.Args, "--ca-file")
	assert.NotContains(t, cmd.Args, "--personal")
	assert.NotContains(t, cmd.Args, "--registry")
}
