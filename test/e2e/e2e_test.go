package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

var (
	nodeBin  string
	projRoot string
	testEnv  *E2ETestEnvironment
)

func TestMain(m *testing.M) {
	var err error

	// Build the storage node binary once for all tests
	tmpBinDir, err := os.MkdirTemp("", "storagenode-bin")
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := os.RemoveAll(tmpBinDir); err != nil {
			panic(err)
		}
	}()

	nodeBin = filepath.Join(tmpBinDir, "storagenode")

	// Determine project root
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot determine current file path")
	}
	projRoot = filepath.Join(filepath.Dir(thisFile), "..", "..")

	cmd := exec.Command("go", "build", "-o", nodeBin, "./cmd")
	cmd.Dir = projRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		panic(string(out))
	}

	testEnv, err = NewE2ETestEnvironment(nodeBin)
	if err != nil {
		panic(err)
	}
	defer testEnv.Close()

	code := m.Run()
	os.Exit(code)
}

func TestE2EUploadAndDownload(t *testing.T) {
	node := testEnv.StartNode(t)
	defer node.Stop()

	files := []*TestFileSpec{
		NewTestFile("notes/hello.txt").WithTextContent("Hello, storage node!").Build(),
		NewTestFile("blobs/a/b/c/data.bin").WithBinaryContent(64 * 1024).Build(), // many chunks
	}

	for _, f := range files {
		resp := node.Do(t, http.MethodPut, "/file/"+f.path, bytes.NewReader(f.content))
		if resp.status != http.StatusOK {
			t.Fatalf("upload %s: expected 200, got %d: %s", f.path, resp.status, resp.body)
		}
	}

	for _, f := range files {
		resp := node.Do(t, http.MethodGet, "/file/"+f.path, nil)
		if resp.status != http.StatusOK {
			t.Fatalf("download %s: expected 200, got %d", f.path, resp.status)
		}
		if resp.header.Get("X-Item-Type") != "file" {
			t.Fatalf("download %s: expected X-Item-Type file, got %q", f.path, resp.header.Get("X-Item-Type"))
		}
		if !bytes.Equal(resp.body, f.content) {
			t.Fatalf("content mismatch for %s: expected %d bytes, got %d", f.path, len(f.content), len(resp.body))
		}

		// the bytes must be on disk under the root, not anywhere else
		onDisk, err := os.ReadFile(filepath.Join(node.RootDir, filepath.FromSlash(f.path)))
		if err != nil {
			t.Fatalf("file not stored under root: %v", err)
		}
		if !bytes.Equal(onDisk, f.content) {
			t.Fatalf("on-disk content mismatch for %s", f.path)
		}
	}
}

func TestE2EDirectoryListing(t *testing.T) {
	node := testEnv.StartNode(t, NewTestFile("docs/readme.md").WithTextContent("# docs").Build(),
		NewTestFile("docs/img/logo.png").WithBinaryContent(16).Build())
	defer node.Stop()

	resp := node.Do(t, http.MethodGet, "/file/docs", nil)
	if resp.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.status)
	}
	if resp.header.Get("X-Item-Type") != "directory" {
		t.Fatalf("expected X-Item-Type directory, got %q", resp.header.Get("X-Item-Type"))
	}

	var listing struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal(resp.body, &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if strings.Join(listing.Items, ",") != "img,readme.md" {
		t.Fatalf("unexpected listing: %v", listing.Items)
	}
}

func TestE2EPathEscape(t *testing.T) {
	node := testEnv.StartNode(t)
	defer node.Stop()

	secret := filepath.Join(filepath.Dir(node.RootDir), "secret.txt")
	if err := os.WriteFile(secret, []byte("top secret"), 0o644); err != nil {
		t.Fatalf("failed to write secret: %v", err)
	}
	if err := os.Symlink(filepath.Dir(node.RootDir), filepath.Join(node.RootDir, "parent")); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	targets := []string{
		"/file/..%2Fsecret.txt",
		"/file/%2E%2E/secret.txt",
		"/file/parent/secret.txt",
	}
	for _, target := range targets {
		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
			var body io.Reader
			if method == http.MethodPut {
				body = strings.NewReader("overwritten")
			}
			resp := node.Do(t, method, target, body)
			if resp.status != http.StatusForbidden {
				t.Fatalf("%s %s: expected 403, got %d: %s", method, target, resp.status, resp.body)
			}
			if bytes.Contains(resp.body, []byte("top secret")) {
				t.Fatalf("%s %s: secret content leaked", method, target)
			}
		}
	}

	data, err := os.ReadFile(secret)
	if err != nil || string(data) != "top secret" {
		t.Fatalf("file outside root was modified: %q %v", data, err)
	}
}

func TestE2EDeleteRules(t *testing.T) {
	node := testEnv.StartNode(t, NewTestFile("keep/inner.txt").WithTextContent("inner").Build())
	defer node.Stop()

	cases := []struct {
		target string
		want   int
	}{
		{"/file/", http.StatusForbidden},
		{"/file/missing", http.StatusConflict},
		{"/file/keep", http.StatusConflict},
		{"/file/keep/inner.txt", http.StatusOK},
		{"/file/keep", http.StatusOK},
		{"/file/keep", http.StatusConflict},
	}
	for _, c := range cases {
		resp := node.Do(t, http.MethodDelete, c.target, nil)
		if resp.status != c.want {
			t.Fatalf("DELETE %s: expected %d, got %d: %s", c.target, c.want, resp.status, resp.body)
		}
	}

	if _, err := os.Stat(node.RootDir); err != nil {
		t.Fatalf("storage root must survive: %v", err)
	}
}

func TestE2EWriteConflicts(t *testing.T) {
	node := testEnv.StartNode(t, NewTestFile("dir/file.txt").WithTextContent("original").Build())
	defer node.Stop()

	for _, target := range []string{"/file/dir", "/file/dir/file.txt/child"} {
		resp := node.Do(t, http.MethodPut, target, strings.NewReader("x"))
		if resp.status != http.StatusConflict {
			t.Fatalf("PUT %s: expected 409, got %d", target, resp.status)
		}
	}

	data, err := os.ReadFile(filepath.Join(node.RootDir, "dir", "file.txt"))
	if err != nil || string(data) != "original" {
		t.Fatalf("existing file was modified: %q %v", data, err)
	}
}

func TestE2EWebDAV(t *testing.T) {
	node := testEnv.StartNode(t, NewTestFile("shared/doc.txt").WithTextContent("dav").Build())
	defer node.Stop()

	resp := node.Do(t, "PROPFIND", "/dav/shared/", nil, "Depth", "1")
	if resp.status != http.StatusMultiStatus {
		t.Fatalf("PROPFIND: expected 207, got %d", resp.status)
	}
	if !bytes.Contains(resp.body, []byte("doc.txt")) {
		t.Fatalf("PROPFIND listing is missing doc.txt: %s", resp.body)
	}

	resp = node.Do(t, http.MethodPut, "/dav/shared/new.txt", strings.NewReader("from dav"))
	if resp.status != http.StatusCreated {
		t.Fatalf("DAV PUT: expected 201, got %d", resp.status)
	}
	resp = node.Do(t, http.MethodGet, "/file/shared/new.txt", nil)
	if string(resp.body) != "from dav" {
		t.Fatalf("file written over WebDAV not visible over REST: %q", resp.body)
	}
}

// E2ETestEnvironment manages shared resources for all e2e tests
type E2ETestEnvironment struct {
	NodeBin string
	BaseDir string
	client  *http.Client
}

// TestFileSpec defines a file seeded into a node's storage root
type TestFileSpec struct {
	path    string // slash separated, relative to the root
	content []byte
}

// TestFileBuilder provides a fluent API for creating test files
type TestFileBuilder struct {
	spec TestFileSpec
}

// NodeInstance represents a running storage node process for testing
type NodeInstance struct {
	cmd     *exec.Cmd
	RootDir string
	BaseURL string
	client  *http.Client
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	cleanup func()
}

type nodeResponse struct {
	status int
	header http.Header
	body   []byte
}

// NewTestFile creates a new test file builder with the given path
func NewTestFile(path string) *TestFileBuilder {
	return &TestFileBuilder{spec: TestFileSpec{path: path}}
}

// WithTextContent sets text content
func (b *TestFileBuilder) WithTextContent(content string) *TestFileBuilder {
	b.spec.content = []byte(content)
	return b
}

// WithBinaryContent generates binary content of the specified size
func (b *TestFileBuilder) WithBinaryContent(size int) *TestFileBuilder {
	b.spec.content = make([]byte, size)
	for i := range b.spec.content {
		b.spec.content[i] = byte(i % 251)
	}
	return b
}

// Build creates the final TestFileSpec
func (b *TestFileBuilder) Build() *TestFileSpec {
	return &b.spec
}

// NewE2ETestEnvironment creates a shared test environment
func NewE2ETestEnvironment(nodeBinary string) (*E2ETestEnvironment, error) {
	baseDir, err := os.MkdirTemp("", "storagenode-e2e-tests")
	if err != nil {
		return nil, err
	}
	// the resolver canonicalizes the root, so compare against the real path
	baseDir, err = filepath.EvalSymlinks(baseDir)
	if err != nil {
		return nil, err
	}

	return &E2ETestEnvironment{
		NodeBin: nodeBinary,
		BaseDir: baseDir,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Close cleans up the test environment
func (env *E2ETestEnvironment) Close() {
	if env.BaseDir != "" {
		_ = os.RemoveAll(env.BaseDir) // Best effort cleanup
	}
}

// StartNode starts a storage node over a fresh root seeded with files
func (env *E2ETestEnvironment) StartNode(t *testing.T, files ...*TestFileSpec) *NodeInstance {
	testID := strings.ReplaceAll(t.Name(), "/", "_")
	caseDir := filepath.Join(env.BaseDir, testID)
	rootDir := filepath.Join(caseDir, "root")
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		t.Fatalf("Failed to create root dir: %v", err)
	}

	for _, f := range files {
		p := filepath.Join(rootDir, filepath.FromSlash(f.path))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", f.path, err)
		}
		if err := os.WriteFile(p, f.content, 0o644); err != nil {
			t.Fatalf("Failed to seed %s: %v", f.path, err)
		}
	}

	addr, err := freeAddr()
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}

	// small chunks so every transfer spans several of them
	cmd := exec.Command(env.NodeBin, "--root", rootDir, "--addr", addr, "--chunk-size", "1024", "--webdav", "-v", "4")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start storage node: %v", err)
	}

	instance := &NodeInstance{
		cmd:     cmd,
		RootDir: rootDir,
		BaseURL: "http://" + addr,
		client:  env.client,
		stdout:  &stdout,
		stderr:  &stderr,
		cleanup: func() {
			_ = os.RemoveAll(caseDir) // Best effort cleanup
		},
	}

	if err := instance.WaitReady(15 * time.Second); err != nil {
		instance.Stop()
		out, errOut := instance.GetLogs()
		t.Fatalf("storage node did not start: %v\nstdout:\n%s\nstderr:\n%s", err, out, errOut)
	}

	return instance
}

// Do sends a request to the node; extra is a list of header key/value pairs
func (n *NodeInstance) Do(t *testing.T, method, target string, body io.Reader, extra ...string) nodeResponse {
	t.Helper()
	req, err := http.NewRequest(method, n.BaseURL+target, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	for i := 0; i+1 < len(extra); i += 2 {
		req.Header.Set(extra[i], extra[i+1])
	}

	resp, err := n.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return nodeResponse{status: resp.StatusCode, header: resp.Header, body: data}
}

// Stop gracefully stops the storage node
func (n *NodeInstance) Stop() {
	if n.cmd != nil && n.cmd.Process != nil {
		_ = n.cmd.Process.Signal(os.Interrupt) // Process may have already exited

		done := make(chan error, 1)
		go func() {
			done <- n.cmd.Wait()
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = n.cmd.Process.Kill() // Process may have already exited
			<-done
		}
	}

	if n.cleanup != nil {
		n.cleanup()
	}
}

// WaitReady polls /healthz until the node answers
func (n *NodeInstance) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := n.client.Get(n.BaseURL + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for storage node to be ready")
}

// GetLogs returns the stdout and stderr from the node process
func (n *NodeInstance) GetLogs() (stdout, stderr string) {
	return n.stdout.String(), n.stderr.String()
}

func freeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return l.Addr().String(), nil
}
