package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"
)

// ReadFile returns the contents of a remote file through SFTP. Files under
// /proc report a zero size, so the file is read to EOF and bounded by
// MaxFileSize instead of trusting Stat. A missing file yields an error
// matching os.ErrNotExist.
func (c *SSHClient) ReadFile(ctx context.Context, path string) ([]byte, error) {
	startTime := time.Now()

	client, err := c.sftpClient()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	remoteFile, err := client.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &TransportError{Op: "read", Err: fmt.Errorf("%s: %w", path, os.ErrNotExist)}
		}
		return nil, &TransportError{
			Op:          "read",
			Err:         fmt.Errorf("failed to open remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	// Reads ignore ctx; closing the file unblocks them.
	stop := context.AfterFunc(ctx, func() { _ = remoteFile.Close() })
	defer stop()

	var buf bytes.Buffer
	n, err := copyWithContext(ctx, &buf, io.LimitReader(remoteFile, c.config.MaxFileSize+1))
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &TransportError{
			Op:          "read",
			Err:         fmt.Errorf("failed to read %s: %w", path, err),
			IsTemporary: true,
		}
	}
	if n > c.config.MaxFileSize {
		return nil, &TransportError{
			Op:  "read",
			Err: fmt.Errorf("%s exceeds %d bytes", path, c.config.MaxFileSize),
		}
	}

	c.logger.Trace().
		Str("path", path).
		Int64("bytes", n).
		Dur("duration", time.Since(startTime)).
		Msg("File read")

	return buf.Bytes(), nil
}

// sftpClient returns the connection's SFTP client, starting the subsystem
// on first use.
func (c *SSHClient) sftpClient() (*sftp.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil, &TransportError{
			Op:  "sftp-init",
			Err: fmt.Errorf("not connected"),
		}
	}
	if c.sftp != nil {
		return c.sftp, nil
	}

	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	c.sftp = client
	return client, nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
