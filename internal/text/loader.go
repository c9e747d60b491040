package text

import (
	"fmt"
	"os"

	fierrors "github.com/enata/fileindexer/internal/errors"
)

// TextLoader reads the text content of a file.
type TextLoader interface {
	LoadText(path string) (string, error)
}

// FileLoader loads files from the local file system.
type FileLoader struct {
	// MaxSize skips files larger than this many bytes. Zero disables the limit.
	MaxSize int64
}

var _ TextLoader = FileLoader{}

// LoadText returns the content of path. Failures are IOErrors carrying the path.
func (l FileLoader) LoadText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fierrors.IOError("cannot stat file", err).WithDetail("path", path)
	}
	if info.IsDir() {
		return "", fierrors.IOError("path is a directory", nil).WithDetail("path", path)
	}
	if l.MaxSize > 0 && info.Size() > l.MaxSize {
		return "", fierrors.IOError(fmt.Sprintf("file is larger than %d bytes", l.MaxSize), nil).
			WithDetail("path", path).
			WithSuggestion("raise index.max_file_size in the configuration")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fierrors.IOError("cannot read file", err).WithDetail("path", path)
	}
	return string(data), nil
}
