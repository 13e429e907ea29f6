// Package api wraps the remote ingestion endpoints. Every operation is a
// single request/response; retry policy belongs to the caller.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/cleverdata/ferry-agent/internal/models"
)

const (
	submitPathFmt    = "%s/DataReceiver/ReceivesStationData/%s/%s/%s"  // base, clientCode, transMode, host
	fileLogPathFmt   = "%s/DataReceiver/ReceivesFileLogs/%s/%s"       // base, clientCode, host
	duplicatePathFmt = "%s/DataReceiver/CheckFileProcessed/%s/%s"     // base, clientCode, fileName
)

// Client talks to the ingestion platform.
type Client struct {
	http          *resty.Client
	baseURL       string
	transportMode string
	hostname      string
	logger        zerolog.Logger
}

// New creates an ingestion client. The hostname is embedded in submission
// URLs so the platform can attribute uploads to an agent host.
func New(baseURL, transportMode, hostname, key string, logger zerolog.Logger) *Client {
	http := resty.New().
		SetTimeout(30 * time.Second)
	if key != "" {
		http.SetAuthToken(key)
	}
	return &Client{
		http:          http,
		baseURL:       baseURL,
		transportMode: transportMode,
		hostname:      hostname,
		logger:        logger,
	}
}

// CheckAlreadyProcessed reports whether the remote platform has already
// accepted a file with this name for the given client. A failed or
// malformed call is treated as "not found" so a remote outage never
// freezes ingestion; it is logged as a warning instead.
func (c *Client) CheckAlreadyProcessed(ctx context.Context, clientCode, fileName string) bool {
	url := fmt.Sprintf(duplicatePathFmt, c.baseURL, clientCode, fileName)

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", fileName).Msg("duplicate check failed, treating as not found")
		return false
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode()).Str("file", fileName).
			Msg("duplicate check rejected, treating as not found")
		return false
	}

	var result models.APIResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		c.logger.Warn().Err(err).Str("file", fileName).Msg("duplicate check response unreadable, treating as not found")
		return false
	}

	processed, ok := result.Result.(bool)
	return result.IsSuccess && ok && processed
}

// SubmitFileContent posts raw file content to the ingestion endpoint and
// returns the structured result. Any transport, status or decode failure
// yields an explicit failure result rather than an error.
func (c *Client) SubmitFileContent(ctx context.Context, clientCode string, content []byte) models.APIResult {
	url := fmt.Sprintf(submitPathFmt, c.baseURL, clientCode, c.transportMode, c.hostname)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(content).
		Post(url)
	if err != nil {
		return models.APIResult{Message: err.Error()}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("submission rejected")
		return models.APIResult{StatusCode: resp.StatusCode(), Message: resp.String()}
	}

	var result models.APIResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		c.logger.Warn().Err(err).Msg("submission response unreadable")
		return models.APIResult{StatusCode: resp.StatusCode(), Message: "unreadable response body"}
	}
	return result
}

// SubmitFileLog posts the observed file names as processing metadata.
// Best-effort: a failure is reported to the caller but must never block
// the main submission path.
func (c *Client) SubmitFileLog(ctx context.Context, clientCode string, fileNames []string) bool {
	url := fmt.Sprintf(fileLogPathFmt, c.baseURL, clientCode, c.hostname)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(fileNames).
		Post(url)
	if err != nil {
		c.logger.Warn().Err(err).Msg("file log submission failed")
		return false
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("file log submission rejected")
		return false
	}

	var result models.APIResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		c.logger.Warn().Err(err).Msg("file log response unreadable")
		return false
	}
	if !result.IsSuccess || result.StatusCode != 200 {
		c.logger.Warn().Int("status", result.StatusCode).Str("message", result.Message).
			Msg("file log response was not successful")
		return false
	}
	return true
}

// Ping verifies the ingestion endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode())
	}
	return nil
}
