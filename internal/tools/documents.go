package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// UnreadableMarker replaces the text of a file nothing could be extracted from.
const UnreadableMarker = "[No text could be extracted. The file might be image-based or corrupted.]"

const maxTextFileBytes = 4 << 20

// Documents is the local-document-extract output, keyed by file name.
type Documents struct {
	Directory string            `json:"directory"`
	Files     map[string]string `json:"files"`
}

// DocumentExtract is the local-document-extract tool. It reads PDF, plain
// text and markdown files from one directory (not recursively).
type DocumentExtract struct {
	// Workers bounds concurrent extractions; zero means 4.
	Workers int
}

func (t *DocumentExtract) Spec() Spec {
	return Spec{
		Name:        "local-document-extract",
		Description: "Extract text from the PDF, .txt and .md files in a local directory. Returns a map of file name to text. Use first when the request names a folder.",
		Params: []Param{
			{Name: "directory_path", Type: TypeString, Required: true, Description: "path to a local directory"},
		},
	}
}

func (t *DocumentExtract) Call(ctx context.Context, args Args) (any, error) {
	return ExtractDirectory(ctx, args.String("directory_path"), t.Workers)
}

// ExtractDirectory extracts text from every supported file in dir.
func ExtractDirectory(ctx context.Context, dir string, workers int) (*Documents, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory %q not found", dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 4
	}

	docs := &Documents{Directory: dir, Files: map[string]string{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var extract func(string) (string, error)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".pdf":
			extract = pdfText
		case ".txt", ".md":
			extract = plainText
		default:
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := extract(filepath.Join(dir, name))
			if err != nil || strings.TrimSpace(text) == "" {
				text = UnreadableMarker
			}
			mu.Lock()
			docs.Files[name] = text
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func pdfText(path string) (text string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("parsing %s: %v", filepath.Base(path), p)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func plainText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(f, maxTextFileBytes)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
