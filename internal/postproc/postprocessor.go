// Package postproc handles what happens to a file after the remote
// platform has accepted it: an optional relay copy to a secondary server,
// then archiving or discarding the original.
package postproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cleverdata/ferry-agent/internal/models"
)

// Uploader copies a local file to a relay target.
type Uploader interface {
	// Upload streams the file at localPath to the target under remoteName,
	// skipping the transfer if the name already exists remotely.
	Upload(ctx context.Context, target models.RelayTarget, localPath, remoteName string) error
}

// UploaderFactory selects an Uploader by relay scheme.
type UploaderFactory func(scheme string) (Uploader, error)

// DefaultUploaderFactory returns the production FTP/SFTP uploaders.
func DefaultUploaderFactory(logger zerolog.Logger) UploaderFactory {
	return func(scheme string) (Uploader, error) {
		switch scheme {
		case "ftp":
			return &ftpUploader{logger: logger}, nil
		case "sftp":
			return &sftpUploader{logger: logger}, nil
		default:
			return nil, fmt.Errorf("unsupported relay scheme %q", scheme)
		}
	}
}

// Processor runs the relay and archive steps.
type Processor struct {
	uploaders UploaderFactory
	logger    zerolog.Logger
}

// New creates a Processor with the production uploaders.
func New(logger zerolog.Logger) *Processor {
	return &Processor{
		uploaders: DefaultUploaderFactory(logger),
		logger:    logger,
	}
}

// NewWithUploaderFactory creates a Processor with a custom uploader
// factory (for tests).
func NewWithUploaderFactory(logger zerolog.Logger, factory UploaderFactory) *Processor {
	return &Processor{uploaders: factory, logger: logger}
}

// Process relays and archives sourcePath according to the folder
// definition. Must only be called after a successful remote submission.
// A relay failure is returned but never prevents the archive step; both
// failures are reported together so the caller can record them as issues.
// Repeated invocation for the same file is safe: an already-relayed name
// is skipped remotely and an already-archived name deletes the source.
func (p *Processor) Process(ctx context.Context, sourcePath string, folder models.WatchedFolder) error {
	var relayErr error
	if folder.Relay.Enabled {
		relayErr = p.relay(ctx, sourcePath, folder)
		if relayErr != nil {
			p.logger.Error().Err(relayErr).Str("path", sourcePath).
				Str("server", folder.Relay.Server).Msg("relay upload failed")
		}
	}

	if folder.EnableArchive {
		if err := p.archive(sourcePath, folder); err != nil {
			p.logger.Error().Err(err).Str("path", sourcePath).Msg("archive failed")
			if relayErr != nil {
				return fmt.Errorf("relay: %w; archive: %w", relayErr, err)
			}
			return err
		}
	}
	return relayErr
}

func (p *Processor) relay(ctx context.Context, sourcePath string, folder models.WatchedFolder) error {
	uploader, err := p.uploaders(folder.Relay.Scheme)
	if err != nil {
		return err
	}
	return uploader.Upload(ctx, folder.Relay, sourcePath, filepath.Base(sourcePath))
}

// archive moves the source into the archive folder, creating it if
// missing. A same-named file already present there marks the source as a
// duplicate of an earlier run: the source is deleted and the archived copy
// is left untouched.
func (p *Processor) archive(sourcePath string, folder models.WatchedFolder) error {
	if folder.ArchivePath == "" {
		return fmt.Errorf("archiving enabled but archive path is empty for folder %s", folder.Path)
	}
	if err := os.MkdirAll(folder.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	dest := filepath.Join(folder.ArchivePath, filepath.Base(sourcePath))
	if _, err := os.Stat(dest); err == nil {
		p.logger.Info().Str("path", sourcePath).Str("dest", dest).
			Msg("archive copy already exists, deleting duplicate source")
		if err := os.Remove(sourcePath); err != nil {
			return fmt.Errorf("removing duplicate source: %w", err)
		}
		return nil
	}

	if err := os.Rename(sourcePath, dest); err != nil {
		return fmt.Errorf("moving file to archive: %w", err)
	}
	p.logger.Info().Str("path", sourcePath).Str("dest", dest).Msg("file archived")
	return nil
}
