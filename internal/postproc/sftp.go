package postproc

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/cleverdata/ferry-agent/internal/models"
)

// sftpUploader relays files over SFTP with password authentication,
// creating the remote directory when missing.
type sftpUploader struct {
	logger zerolog.Logger
}

func (u *sftpUploader) Upload(ctx context.Context, target models.RelayTarget, localPath, remoteName string) error {
	port := target.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Server, fmt.Sprintf("%d", port))

	sshCfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // relay targets are operator-controlled LAN hosts
		Timeout:         30 * time.Second,
	}

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	dialChan := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", addr, sshCfg)
		dialChan <- dialResult{conn, err}
	}()

	var conn *ssh.Client
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-dialChan:
		if res.err != nil {
			return fmt.Errorf("ssh dial %s: %w", addr, res.err)
		}
		conn = res.conn
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("sftp session: %w", err)
	}
	defer client.Close()

	remotePath := remoteName
	if target.RemoteDir != "" {
		if err := client.MkdirAll(target.RemoteDir); err != nil {
			return fmt.Errorf("sftp mkdir %s: %w", target.RemoteDir, err)
		}
		remotePath = path.Join(target.RemoteDir, remoteName)
	}

	if _, err := client.Stat(remotePath); err == nil {
		u.logger.Info().Str("file", remoteName).Str("server", target.Server).
			Msg("relay target already has file, skipping upload")
		return nil
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("sftp create %s: %w", remotePath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("sftp transfer %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("sftp close %s: %w", remotePath, err)
	}

	u.logger.Info().Str("file", remoteName).Str("server", target.Server).Msg("relayed via sftp")
	return nil
}
