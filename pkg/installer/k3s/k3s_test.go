package k3s

import (
	"context"
	"testing"

	"github.com/moolen/k3s-bootstrap/pkg/installer/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	utilsexec "k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"
)

func node(name string, ready corev1.ConditionStatus) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
			{Type: corev1.NodeMemoryPressure, Status: corev1.ConditionFalse},
			{Type: corev1.NodeReady, Status: ready},
		}},
	}
}

func TestInstall(t *testing.T) {
	fc := &fakeexec.FakeCmd{
		CombinedOutputScript: []fakeexec.FakeAction{
			func() ([]byte, []byte, error) { return []byte("[INFO] systemd: Starting k3s"), nil, nil },
		},
	}
	fe := &fakeexec.FakeExec{CommandScript: []fakeexec.FakeCommandAction{
		func(cmd string, args ...string) utilsexec.Cmd { return fakeexec.InitFakeCmd(fc, cmd, args...) },
	}}

	i := New(runner.NewWithExec(fe), Options{
		InstallURL: "https://get.k3s.io",
		Version:    "v1.31.4+k3s1",
		ExtraArgs:  []string{"--disable", "traefik"},
	})
	require.NoError(t, i.Install(context.Background()))

	assert.Equal(t, []string{
		"sh", "-c", installScript, "https://get.k3s.io",
		"--write-kubeconfig-mode", "644", "--disable", "traefik",
	}, fc.Argv)
	assert.Contains(t, fc.Env, "INSTALL_K3S_VERSION=v1.31.4+k3s1")
}

func TestCommand_ArgsAreNotInterpretedByShell(t *testing.T) {
	cmd := New(nil, Options{
		InstallURL: "https://get.k3s.io/?x=1;reboot",
		ExtraArgs:  []string{"--node-label=role=edge zone", "--tls-san=$(hostname)"},
	}).command()

	require.Len(t, cmd.Args, 7)
	assert.Equal(t, installScript, cmd.Args[1])
	assert.NotContains(t, cmd.Args[1], "reboot")
	assert.Equal(t, "https://get.k3s.io/?x=1;reboot", cmd.Args[2])
	assert.Equal(t, []string{"--node-label=role=edge zone", "--tls-san=$(hostname)"}, cmd.Args[5:])
}

func TestCommand_NoVersionPinsNothing(t *testing.T) {
	cmd := New(nil, Options{InstallURL: "https://get.k3s.io"}).command()
	assert.Empty(t, cmd.Env)
}

func TestNodesReady(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []*corev1.Node
		wantErr string
	}{
		{name: "no nodes", wantErr: "no nodes"},
		{name: "not ready", nodes: []*corev1.Node{node("edge-01", corev1.ConditionFalse)}, wantErr: "edge-01"},
		{name: "ready", nodes: []*corev1.Node{node("edge-01", corev1.ConditionTrue)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientset := fake.NewSimpleClientset()
			for _, n := range tt.nodes {
				_, err := clientset.CoreV1().Nodes().Create(context.Background(), n, metav1.CreateOptions{})
				require.NoError(t, err)
			}
			err := NodesReady(context.Background(), clientset)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
