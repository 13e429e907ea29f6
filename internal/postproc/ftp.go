package postproc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"

	"github.com/cleverdata/ferry-agent/internal/models"
)

// ftpUploader relays files over FTP: passive mode, binary transfer,
// optional explicit TLS.
type ftpUploader struct {
	logger zerolog.Logger
}

func (u *ftpUploader) Upload(ctx context.Context, target models.RelayTarget, localPath, remoteName string) error {
	port := target.Port
	if port == 0 {
		port = 21
	}
	addr := net.JoinHostPort(target.Server, fmt.Sprintf("%d", port))

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(30 * time.Second),
	}
	if target.SecureMode {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: target.Server}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return fmt.Errorf("ftp dial %s: %w", addr, err)
	}
	defer conn.Quit()

	if err := conn.Login(target.Username, target.Password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}
	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		return fmt.Errorf("ftp binary mode: %w", err)
	}

	if target.RemoteDir != "" {
		if err := conn.ChangeDir(target.RemoteDir); err != nil {
			return fmt.Errorf("ftp chdir %s: %w", target.RemoteDir, err)
		}
	}

	// Existence probe: an earlier run may already have relayed this name.
	if _, err := conn.FileSize(remoteName); err == nil {
		u.logger.Info().Str("file", remoteName).Str("server", target.Server).
			Msg("relay target already has file, skipping upload")
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	if err := conn.Stor(remoteName, f); err != nil {
		return fmt.Errorf("ftp store %s: %w", path.Join(target.RemoteDir, remoteName), err)
	}

	// Verify the server reports the stored file before declaring success.
	if _, err := conn.FileSize(remoteName); err != nil {
		return errors.New("ftp transfer finished but file is missing on server")
	}

	u.logger.Info().Str("file", remoteName).Str("server", target.Server).Msg("relayed via ftp")
	return nil
}
