// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package downloader fetches a saved LCE-M state dict and its configuration
// from a huggingface.co repository.
package downloader

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the Hugging Face repository URL. Files are fetched
	// from "{base}/{repo_id}/resolve/{revision}/{filename}".
	DefaultBaseURL = "https://huggingface.co"
	// DefaultRevision is the branch files are fetched from.
	DefaultRevision = "main"
)

// DefaultFiles are the state dict and the YAML configuration of a model.
var DefaultFiles = []string{"pytorch_model.pt", "lcem.yaml"}

// Options of a download.
type Options struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Revision defaults to DefaultRevision.
	Revision string
	// Files defaults to DefaultFiles.
	Files []string
	// AccessToken is sent as a bearer token when not empty.
	AccessToken string
	// OverwriteIfExist forces the download of files already present.
	OverwriteIfExist bool
}

// Download copies the files of the repository repoID ("organization/name")
// into modelDir, creating it with permissions 0755 if needed.
//
// Existing files are kept unless OverwriteIfExist is set.
func Download(modelDir, repoID string, opts Options) error {
	if strings.Count(repoID, "/") != 1 {
		return fmt.Errorf("repository ID must have the form \"organization/name\", got %q", repoID)
	}
	d := downloader{
		modelDir: modelDir,
		repoID:   repoID,
		opts:     opts,
	}
	if d.opts.BaseURL == "" {
		d.opts.BaseURL = DefaultBaseURL
	}
	if d.opts.Revision == "" {
		d.opts.Revision = DefaultRevision
	}
	if d.opts.Files == nil {
		d.opts.Files = DefaultFiles
	}
	return d.download()
}

type downloader struct {
	modelDir string
	repoID   string
	opts     Options
}

func (d downloader) download() error {
	if err := os.MkdirAll(d.modelDir, 0755); err != nil {
		return fmt.Errorf("error creating model directory %q: %w", d.modelDir, err)
	}
	for _, name := range d.opts.Files {
		if err := d.downloadFile(name); err != nil {
			return err
		}
	}
	return nil
}

func (d downloader) downloadFile(name string) (err error) {
	fPath := filepath.Join(d.modelDir, name)
	if info, err := os.Stat(fPath); !d.opts.OverwriteIfExist && err == nil && !info.IsDir() {
		log.Debug().Str("file", fPath).Msg("file already exists, skipping download")
		return nil
	}

	url := d.fileURL(name)
	log.Debug().Str("url", url).Str("destination", fPath).Msg("downloading")

	resp, err := d.httpGet(url)
	if err != nil {
		return fmt.Errorf("error getting %q: %w", url, err)
	}
	defer func() {
		if e := resp.Body.Close(); e != nil && err == nil {
			err = fmt.Errorf("error closing %q response body: %w", url, e)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%q responded with %s", url, resp.Status)
	}

	// Write to a temporary file so that a failed download leaves no partial file.
	tmp, err := os.CreateTemp(d.modelDir, name+".*.part")
	if err != nil {
		return fmt.Errorf("error creating file for %q: %w", fPath, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if e := tmp.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return fmt.Errorf("error downloading %q to %q: %w", url, fPath, err)
	}
	if err = os.Rename(tmp.Name(), fPath); err != nil {
		return fmt.Errorf("error moving download to %q: %w", fPath, err)
	}
	log.Info().Str("file", fPath).Int64("bytes", n).Msg("downloaded")
	return nil
}

func (d downloader) httpGet(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if d.opts.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.opts.AccessToken)
	}
	return http.DefaultClient.Do(req)
}

func (d downloader) fileURL(name string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimSuffix(d.opts.BaseURL, "/"), d.repoID, d.opts.Revision, name)
}
