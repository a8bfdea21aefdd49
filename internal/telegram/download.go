package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// fileResolver turns a Telegram file id into a direct download URL.
type fileResolver func(fileID string) (string, error)

// lazyDownload fetches a Telegram file on first Read, so requests rejected on
// their declared size never touch the network.
type lazyDownload struct {
	ctx     context.Context
	client  *http.Client
	resolve fileResolver
	fileID  string
	timeout time.Duration

	body   io.ReadCloser
	cancel context.CancelFunc
	err    error
}

func (d *lazyDownload) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.body == nil {
		if err := d.open(); err != nil {
			d.err = err
			return 0, err
		}
	}
	return d.body.Read(p)
}

func (d *lazyDownload) open() error {
	link, err := d.resolve(d.fileID)
	if err != nil {
		return fmt.Errorf("resolve file url: %w", redactURL(err))
	}
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		cancel()
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("download file: %w", redactURL(err))
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}
	d.body, d.cancel = resp.Body, cancel
	return nil
}

// Close releases the response body, if any.
func (d *lazyDownload) Close() error {
	var err error
	if d.body != nil {
		err = d.body.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}
	return err
}

// redactURL drops the request URL, which embeds the bot token, from
// transport errors.
func redactURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
