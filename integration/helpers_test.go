//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// --- Origin Container Setup ---

var (
	originOnce sync.Once
	originBase string
	originErr  error
)

// getOrigin returns the shared origin base URL, starting the container if
// needed. The container is shared across all tests for performance.
func getOrigin(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	originOnce.Do(func() {
		ctx := context.Background()
		originBase, originErr = startOriginContainer(ctx)
	})

	if originErr != nil {
		tb.Fatalf("start origin container: %v", originErr)
	}

	return originBase
}

// startOriginContainer starts an nginx container serving the test images and
// returns its base URL.
func startOriginContainer(ctx context.Context) (string, error) {
	files := make([]testcontainers.ContainerFile, 0, len(originImages))
	for name, content := range originImages {
		files = append(files, testcontainers.ContainerFile{
			Reader:            bytes.NewReader(content),
			ContainerFilePath: "/usr/share/nginx/html/" + name,
			FileMode:          0o644,
		})
	}

	req := testcontainers.ContainerRequest{
		Image:        "nginx:alpine",
		ExposedPorts: []string{"80/tcp"},
		Files:        files,
		WaitingFor:   wait.ForHTTP("/").WithPort("80/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start origin container: %w", err)
	}

	// Note: Container cleanup is handled by testcontainers Reaper.

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve origin host: %w", err)
	}

	port, err := container.MappedPort(ctx, "80/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve origin port: %w", err)
	}

	return fmt.Sprintf("http://%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Test Image Fixtures ---

// makeJPEG produces a payload carrying the JPEG magic bytes followed by
// filler, enough for format sniffing and size assertions.
func makeJPEG(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	for i := 4; i < size; i++ {
		data[i] = byte(i % 251)
	}
	return data
}

// makeWebP produces a payload carrying the RIFF/WEBP magic bytes.
func makeWebP(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte("RIFF\x00\x00\x00\x00WEBP"))
	for i := 12; i < size; i++ {
		data[i] = byte(i % 239)
	}
	return data
}

// originImages are the files served by the origin container.
var originImages = map[string][]byte{
	"hero.jpg":   makeJPEG(16 * 1024),
	"hero.webp":  makeWebP(12 * 1024),
	"thumb.jpg":  makeJPEG(2 * 1024),
	"banner.jpg": makeJPEG(48 * 1024),
}
