// Package fetcher downloads the official price feed over HTTP(S), FTP or from
// a local file, and wraps it in a CSV reader.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the source and returns its body. The caller closes it.
	Download(ctx context.Context, source string) (io.ReadCloser, error)
}

// Dispatcher routes a source to the fetcher for its scheme: http/https go to
// HTTP, ftp to FTP, and anything else is treated as a local path.
type Dispatcher struct {
	HTTP Fetcher
	FTP  Fetcher
	File Fetcher
}

// NewDispatcher builds a Dispatcher with default FTP and file fetchers.
func NewDispatcher(httpOpts HTTPOptions) *Dispatcher {
	return &Dispatcher{
		HTTP: NewHTTPFetcher(httpOpts),
		FTP:  NewFTPFetcher(FTPOptions{Timeout: httpOpts.Timeout}),
		File: FileFetcher{},
	}
}

// Download implements Fetcher.
func (d *Dispatcher) Download(ctx context.Context, source string) (io.ReadCloser, error) {
	if source == "" {
		return nil, eris.New("fetcher: empty source")
	}

	var f Fetcher
	switch scheme(source) {
	case "http", "https":
		f = d.HTTP
	case "ftp":
		f = d.FTP
	default:
		f = d.File
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: no fetcher configured for %q", source)
	}
	return f.Download(ctx, source)
}

func scheme(source string) string {
	if !strings.Contains(source, "://") {
		return ""
	}
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// FileFetcher opens local files.
type FileFetcher struct{}

// Download implements Fetcher.
func (FileFetcher) Download(_ context.Context, source string) (io.ReadCloser, error) {
	path := strings.TrimPrefix(source, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	return f, nil
}
