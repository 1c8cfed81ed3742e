package commands

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/qqhmm2-web/NexusAI/pkg/inference"
	"github.com/qqhmm2-web/NexusAI/pkg/kv"
)

// fakeClient answers every request from canned data.
type fakeClient struct {
	mu sync.Mutex

	chunks    []string
	citations []inference.Citation
	streamErr error

	image []byte
	audio *inference.Blob

	requests []*inference.Request
	speech   []*inference.SpeechRequest
}

func (f *fakeClient) GenerateOnce(_ context.Context, req *inference.Request) (*inference.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	resp := &inference.Response{}
	if f.image != nil {
		resp.Blobs = []*inference.Blob{{MIMEType: "image/png", Data: f.image}}
	}
	return resp, nil
}

func (f *fakeClient) GenerateStream(_ context.Context, req *inference.Request) iter.Seq2[*inference.Chunk, error] {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	chunks, cites, streamErr := f.chunks, f.citations, f.streamErr
	f.mu.Unlock()

	return func(yield func(*inference.Chunk, error) bool) {
		for i, text := range chunks {
			c := &inference.Chunk{Text: text}
			if i == len(chunks)-1 {
				c.Citations = cites
			}
			if !yield(c, nil) {
				return
			}
		}
		if streamErr != nil {
			yield(nil, streamErr)
		}
	}
}

func (f *fakeClient) SynthesizeSpeech(_ context.Context, req *inference.SpeechRequest) (*inference.Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speech = append(f.speech, req)
	return f.audio, nil
}

func (f *fakeClient) lastRequest(t *testing.T) *inference.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no request sent")
	}
	return f.requests[len(f.requests)-1]
}

// pcmBlob returns n samples of 24 kHz L16 audio.
func pcmBlob(n int) *inference.Blob {
	data := make([]byte, 2*n)
	for i := range n {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(i*100)))
	}
	return &inference.Blob{MIMEType: "audio/L16;codec=pcm;rate=24000", Data: data}
}

type testEnv struct {
	configPath string
	client     *fakeClient
	kv         *kv.Memory
}

// setupTestEnv isolates config and data in a temp dir and installs a shared
// memory KV and a fake inference client.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		client:     &fakeClient{},
		kv:         kv.NewMemory(),
	}
	testKVOverride = env.kv
	testClientOverride = env.client
	t.Setenv("HOME", dir)
	t.Cleanup(func() {
		testKVOverride = nil
		testClientOverride = nil
		globalConfig = nil
		configLoadErr = nil
	})
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	return runCmd(t, append([]string{"--config", e.configPath}, args...)...)
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	return runCmdWithInput(t, nil, args...)
}

func runCmdWithInput(t *testing.T, stdin io.Reader, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	// Drain concurrently so large outputs cannot fill the pipe.
	var outBuf, errBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); outBuf.ReadFrom(rOut) }()
	go func() { defer wg.Done(); errBuf.ReadFrom(rErr) }()

	verbose = false
	outputJSON = false
	globalConfig = nil
	configLoadErr = nil

	if stdin != nil {
		rootCmd.SetIn(stdin)
	}
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	rootCmd.SetIn(nil)

	wOut.Close()
	wErr.Close()
	wg.Wait()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		if stderr == "" {
			stderr = err.Error()
		}
	}

	resetFlags(rootCmd)
	return
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Changed = false
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
			return
		}
		f.Value.Set(f.DefValue)
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
