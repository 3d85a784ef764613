package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// maxSecretFileBytes caps what a file:// reference may read.
const maxSecretFileBytes = 64 << 10

// FileProvider resolves "file:///run/secrets/warden_pin" references, as
// mounted by container orchestrators. Trailing newlines are stripped.
type FileProvider struct{}

// NewFileProvider creates a file provider.
func NewFileProvider() *FileProvider { return &FileProvider{} }

func (p *FileProvider) Scheme() string { return "file" }

func (p *FileProvider) Resolve(_ context.Context, ref string) (*Secret, error) {
	const prefix = "file://"
	if !strings.HasPrefix(ref, prefix) {
		return nil, fmt.Errorf("%w: file provider only handles file:// references, got %q",
			ErrSecretNotFound, ref)
	}
	path := strings.TrimPrefix(ref, prefix)
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrSecretNotFound)
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: file %q does not exist", ErrSecretNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading secret file: %w", err)
	}
	if info.Size() > maxSecretFileBytes {
		return nil, fmt.Errorf("secret file %q is larger than %d bytes", path, maxSecretFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret file: %w", err)
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return nil, fmt.Errorf("%w: file %q is empty", ErrSecretNotFound, path)
	}
	return &Secret{
		Value:    value,
		Metadata: map[string]string{"source": "file", "path": path},
	}, nil
}
