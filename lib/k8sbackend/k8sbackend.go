/*
Copyright 2022 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package k8sbackend implements pod-exec over the Kubernetes streaming API.
package k8sbackend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/vyrti/redpill/lib/session"
	"github.com/vyrti/redpill/lib/transport"
)

// defaultShellCommand matches the original implementation's fallback: try
// bash, fall back to sh.
var defaultShellCommand = []string{"/bin/sh", "-c", "command -v bash >/dev/null && exec bash || exec sh"}

// kubeconfigPath resolves KUBECONFIG (first colon-separated entry) or falls
// back to ~/.kube/config.
func kubeconfigPath() (string, error) {
	if v := os.Getenv("KUBECONFIG"); v != "" {
		parts := strings.Split(v, string(os.PathListSeparator))
		return parts[0], nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", trace.Wrap(err, "resolving home directory")
	}
	return filepath.Join(home, ".kube", "config"), nil
}

func restConfigForContext(contextName string) (*rest.Config, error) {
	path, err := kubeconfigPath()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: path}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, trace.Wrap(err, "loading kubeconfig %s", path)
	}
	return cfg, nil
}

// sizeQueue adapts a channel of terminal sizes to remotecommand's
// TerminalSizeQueue interface, matching the resize-channel select-loop shape
// used to drive Kubernetes pod-exec streams.
type sizeQueue struct {
	ch chan remotecommand.TerminalSize
}

func newSizeQueue() *sizeQueue {
	return &sizeQueue{ch: make(chan remotecommand.TerminalSize, 4)}
}

func (q *sizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &size
}

func (q *sizeQueue) push(cols, rows int) {
	select {
	case q.ch <- remotecommand.TerminalSize{Width: uint16(cols), Height: uint16(rows)}:
	default:
	}
}

func (q *sizeQueue) close() { close(q.ch) }

// Backend is the Kubernetes pod-exec transport.
type Backend struct {
	mu sync.Mutex

	cfg   session.K8sSession
	state transport.State
	log   *logrus.Entry

	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	sizes   *sizeQueue
	done    chan struct{}
}

// New constructs a disconnected backend.
func New(cfg session.K8sSession) *Backend {
	return &Backend{
		cfg:   cfg,
		state: transport.StateDisconnected,
		log:   logrus.WithField("component", "k8s-backend").WithField("pod", cfg.Pod),
	}
}

// Connect resolves the kubeconfig context, verifies the pod exists, and
// starts an interactive exec stream with a TTY.
func (b *Backend) Connect(ctx context.Context) error {
	b.setState(transport.StateConnecting)

	restCfg, err := restConfigForContext(b.cfg.Context)
	if err != nil {
		b.setState(transport.StateFailed)
		return trace.Wrap(err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		b.setState(transport.StateFailed)
		return trace.Wrap(err, "building kubernetes client")
	}

	if _, err := clientset.CoreV1().Pods(b.cfg.Namespace).Get(ctx, b.cfg.Pod, metav1.GetOptions{}); err != nil {
		b.setState(transport.StateFailed)
		return trace.NotFound("pod %s/%s not found: %v", b.cfg.Namespace, b.cfg.Pod, err)
	}

	req := clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(b.cfg.Namespace).
		Name(b.cfg.Pod).
		SubResource("exec")

	execOpts := &corev1.PodExecOptions{
		Command:   defaultShellCommand,
		Stdin:     true,
		Stdout:    true,
		Stderr:    true,
		TTY:       true,
		Container: b.cfg.Container,
	}
	req.VersionedParams(execOpts, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(restCfg, "POST", req.URL())
	if err != nil {
		b.setState(transport.StateFailed)
		return trace.Wrap(err, "building exec executor")
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	sizes := newSizeQueue()
	done := make(chan struct{})

	b.mu.Lock()
	b.stdinW = stdinW
	b.stdoutR = stdoutR
	b.sizes = sizes
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		defer stdoutW.Close()
		streamErr := executor.StreamWithContext(ctx, remotecommand.StreamOptions{
			Stdin:             stdinR,
			Stdout:            stdoutW,
			Stderr:            stdoutW,
			Tty:               true,
			TerminalSizeQueue: sizes,
		})
		if streamErr != nil {
			b.log.WithError(streamErr).Warn("kubernetes exec stream ended")
		}
		b.setState(transport.StateDisconnected)
	}()

	b.setState(transport.StateConnected)
	b.log.Info("kubernetes exec session established")
	return nil
}

// Read pulls bytes from the exec stream's combined stdout/stderr.
func (b *Backend) Read(p []byte) (int, error) {
	b.mu.Lock()
	r := b.stdoutR
	b.mu.Unlock()
	if r == nil {
		return 0, trace.ConnectionProblem(nil, "not connected")
	}
	n, err := r.Read(p)
	if err == io.EOF {
		b.setState(transport.StateDisconnected)
		return n, nil
	}
	return n, err
}

// Write sends keystroke bytes to the pod's stdin.
func (b *Backend) Write(p []byte) (int, error) {
	b.mu.Lock()
	w := b.stdinW
	b.mu.Unlock()
	if w == nil {
		return 0, trace.ConnectionProblem(nil, "not connected")
	}
	return w.Write(p)
}

// Resize pushes a new size onto the resize queue the exec stream selects on.
func (b *Backend) Resize(cols, rows, _, _ int) error {
	b.mu.Lock()
	sizes := b.sizes
	b.mu.Unlock()
	if sizes == nil {
		return nil
	}
	sizes.push(cols, rows)
	return nil
}

// Close tears down the exec stream's pipes.
func (b *Backend) Close() error {
	b.mu.Lock()
	stdinW := b.stdinW
	stdoutR := b.stdoutR
	sizes := b.sizes
	b.stdinW, b.stdoutR, b.sizes = nil, nil, nil
	b.state = transport.StateDisconnecting
	b.mu.Unlock()

	if stdinW != nil {
		stdinW.Close()
	}
	if stdoutR != nil {
		stdoutR.Close()
	}
	if sizes != nil {
		sizes.close()
	}
	b.setState(transport.StateDisconnected)
	return nil
}

// IsAlive reports whether the exec stream is connected.
func (b *Backend) IsAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == transport.StateConnected
}

// State returns the current lifecycle state.
func (b *Backend) State() transport.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Description is a short label for logs/UI.
func (b *Backend) Description() string {
	container := b.cfg.Container
	if container == "" {
		container = "<default>"
	}
	return fmt.Sprintf("k8s:%s/%s/%s[%s]", b.cfg.Context, b.cfg.Namespace, b.cfg.Pod, container)
}

func (b *Backend) setState(s transport.State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

var _ transport.Backend = (*Backend)(nil)
