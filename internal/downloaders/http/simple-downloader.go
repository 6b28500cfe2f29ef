package imghttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/imgrab/internal/utils"
)

// ProgressFunc receives the bytes written so far and the expected total
// (-1 when the server sent no Content-Length).
type ProgressFunc func(downloaded, total int64)

type Downloader struct {
	client       utils.HTTPDoer
	maxRedirects int
}

// NewDownloader expects a client that hands redirect responses back
// instead of following them.
func NewDownloader(client utils.HTTPDoer, maxRedirects int) *Downloader {
	if maxRedirects <= 0 {
		maxRedirects = utils.DefaultMaxRedirects
	}
	return &Downloader{client: client, maxRedirects: maxRedirects}
}

// Download streams rawURL into outputPath, following up to maxRedirects
// 301/302/307 hops. On any error the output file is removed.
func (d *Downloader) Download(ctx context.Context, rawURL, outputPath string, progress ProgressFunc) (int64, error) {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("error creating output file: %w", err)
	}
	current := rawURL
	for hop := 0; ; hop++ {
		resp, err := d.get(ctx, current)
		if err != nil {
			return 0, discard(outFile, &utils.TransportError{URL: current, Err: err})
		}

		if utils.RedirectStatuses[resp.StatusCode] {
			location := resp.Header.Get("Location")
			drain(resp)
			if location == "" {
				return 0, discard(outFile, &utils.BadStatusError{URL: current, StatusCode: resp.StatusCode})
			}
			if hop >= d.maxRedirects {
				return 0, discard(outFile, fmt.Errorf("%w: gave up after %d hops at %s", utils.ErrTooManyRedirects, hop, current))
			}
			next, err := resolveLocation(current, location)
			if err != nil {
				return 0, discard(outFile, fmt.Errorf("invalid redirect location %q: %w", location, err))
			}
			log.Info().Str("op", "http/downloader").Int("status", resp.StatusCode).Msgf("Redirecting to: %s", next)
			// whatever the previous hop wrote is dropped with the reopen
			outFile.Close()
			outFile, err = os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				os.Remove(outputPath)
				return 0, fmt.Errorf("error reopening output file: %w", err)
			}
			current = next
			continue
		}

		if resp.StatusCode != http.StatusOK {
			drain(resp)
			return 0, discard(outFile, &utils.BadStatusError{URL: current, StatusCode: resp.StatusCode})
		}

		written, err := writeBody(outFile, resp, current, progress)
		resp.Body.Close()
		if err != nil {
			return written, discard(outFile, err)
		}
		if err := outFile.Close(); err != nil {
			os.Remove(outputPath)
			return written, fmt.Errorf("error closing output file: %w", err)
		}
		return written, nil
	}
}

func (d *Downloader) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating GET request: %w", err)
	}
	return d.client.Do(req)
}

func writeBody(outFile *os.File, resp *http.Response, rawURL string, progress ProgressFunc) (int64, error) {
	buffer := make([]byte, utils.DefaultBufferSize)
	var written int64
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return written, fmt.Errorf("error writing to output file: %w", writeErr)
			}
			written += int64(bytesRead)
			if progress != nil {
				progress(written, resp.ContentLength)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, &utils.TransportError{URL: rawURL, Err: readErr}
		}
	}
}

func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// discard closes and deletes a partially written file and returns cause.
func discard(outFile *os.File, cause error) error {
	outFile.Close()
	if err := os.Remove(outFile.Name()); err != nil && !os.IsNotExist(err) {
		log.Warn().Str("op", "http/downloader").Err(err).Msgf("Could not remove %s", outFile.Name())
	}
	return cause
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}
