package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// maxTemplatedFileBytes bounds the body files that are loaded into memory so
// placeholders can be expanded per request. Larger files are streamed as-is.
const maxTemplatedFileBytes = 1 << 20

// BodySource produces a fresh request body for every call.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentLength() (int64, bool)
}

// templatedBody is implemented by sources whose content may contain placeholders.
type templatedBody interface {
	Template() string
}

// NewBodySource returns the body generator for an inline payload or a file.
func NewBodySource(body, bodyFile string) (BodySource, error) {
	bodyFile = strings.TrimSpace(bodyFile)
	if body != "" && bodyFile != "" {
		return nil, errors.New("body and body file cannot both be provided")
	}

	if body != "" {
		return &inlineBodySource{data: []byte(body)}, nil
	}

	if bodyFile != "" {
		info, err := os.Stat(bodyFile)
		if err != nil {
			return nil, fmt.Errorf("body file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("body file %q is a directory", bodyFile)
		}
		if info.Size() <= maxTemplatedFileBytes {
			data, err := os.ReadFile(bodyFile)
			if err != nil {
				return nil, fmt.Errorf("body file: %w", err)
			}
			return &inlineBodySource{data: data}, nil
		}
		return &fileBodySource{path: bodyFile, size: info.Size()}, nil
	}

	return emptyBodySource{}, nil
}

type inlineBodySource struct {
	data []byte
}

func (s *inlineBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *inlineBodySource) ContentLength() (int64, bool) {
	return int64(len(s.data)), true
}

func (s *inlineBodySource) Template() string {
	return string(s.data)
}

type fileBodySource struct {
	path string
	size int64
}

func (s *fileBodySource) NewReader() (io.ReadCloser, error) {
	return os.Open(s.path)
}

func (s *fileBodySource) ContentLength() (int64, bool) {
	return s.size, true
}

type emptyBodySource struct{}

func (emptyBodySource) NewReader() (io.ReadCloser, error) {
	return http.NoBody, nil
}

func (emptyBodySource) ContentLength() (int64, bool) {
	return 0, true
}
