// Package watchcfg fetches the authoritative watched-folder list from the
// configuration endpoint and detects changes between refreshes.
package watchcfg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/cleverdata/ferry-agent/internal/models"
)

// Source periodically supplies watch definitions.
type Source struct {
	http      *resty.Client
	endpoint  string
	configIDs []string
	logger    zerolog.Logger
}

// New creates a configuration source. configIDs is the opaque identifier
// set the endpoint resolves into folder definitions.
func New(baseURL string, configIDs []string, key string, logger zerolog.Logger) *Source {
	http := resty.New().
		SetTimeout(30 * time.Second)
	if key != "" {
		http.SetAuthToken(key)
	}
	return &Source{
		http:      http,
		endpoint:  baseURL + "/DataReceiver/WatchedFolders",
		configIDs: configIDs,
		logger:    logger,
	}
}

// Fetch retrieves and validates the current folder list. Any transport
// failure, non-success status, malformed payload or invalid folder yields
// an error; the caller keeps the previously active set in force.
func (s *Source) Fetch(ctx context.Context) ([]models.WatchedFolder, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(s.configIDs).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching watch config: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("watch config endpoint returned status %d", resp.StatusCode())
	}

	var folders []models.WatchedFolder
	if err := json.Unmarshal(resp.Body(), &folders); err != nil {
		return nil, fmt.Errorf("decoding watch config: %w", err)
	}

	if err := Validate(folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// Validate applies the folder-level configuration invariants. A relay
// without a server name is a configuration error, not a pipeline fault.
func Validate(folders []models.WatchedFolder) error {
	for _, f := range folders {
		if f.Path == "" {
			return fmt.Errorf("folder %q: path is required", f.Name)
		}
		if f.ClientCode == "" {
			return fmt.Errorf("folder %q: client_code is required", f.Path)
		}
		if f.Relay.Enabled {
			if f.Relay.Server == "" {
				return fmt.Errorf("folder %q: relay is enabled but relay server is empty", f.Path)
			}
			switch f.Relay.Scheme {
			case "ftp", "sftp":
			default:
				return fmt.Errorf("folder %q: relay scheme must be ftp or sftp, got %q", f.Path, f.Relay.Scheme)
			}
		}
	}
	return nil
}

// Changed reports whether the new folder list differs from the active one.
// Comparison is order-independent and field-wise over every folder and
// relay field, so a single changed value (one relay password, one flag)
// triggers a full watch rebuild while a reordered but identical list does
// not.
func Changed(old, next []models.WatchedFolder) bool {
	if len(old) != len(next) {
		return true
	}
	counts := make(map[models.WatchedFolder]int, len(old))
	for _, f := range old {
		counts[f]++
	}
	for _, f := range next {
		counts[f]--
		if counts[f] < 0 {
			return true
		}
	}
	return false
}
