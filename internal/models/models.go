// Package models defines the shared value types exchanged between the
// agent's subsystems.
package models

import "time"

// RelayTarget describes a secondary server a processed file is copied to.
type RelayTarget struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Scheme     string `json:"scheme" mapstructure:"scheme"` // "ftp" or "sftp"
	Server     string `json:"server" mapstructure:"server"`
	Port       int    `json:"port" mapstructure:"port"`
	Username   string `json:"username" mapstructure:"username"`
	Password   string `json:"password" mapstructure:"password"`
	RemoteDir  string `json:"remoteDir" mapstructure:"remote_dir"`
	SecureMode bool   `json:"secureMode" mapstructure:"secure_mode"`
}

// WatchedFolder is one watch definition as served by the configuration
// source. Replaced wholesale on every refresh, never mutated in place.
type WatchedFolder struct {
	Name          string      `json:"name" mapstructure:"name"`
	Path          string      `json:"path" mapstructure:"path"`
	ArchivePath   string      `json:"archivePath" mapstructure:"archive_path"`
	ClientCode    string      `json:"clientCode" mapstructure:"client_code"`
	Recurse       bool        `json:"recurse" mapstructure:"recurse"`
	EnableArchive bool        `json:"enableArchive" mapstructure:"enable_archive"`
	Relay         RelayTarget `json:"relay" mapstructure:"relay"`
}

// FileEvent is a single observed filesystem change.
type FileEvent struct {
	Path       string
	Name       string
	Kind       string // "created" or "changed"
	ObservedAt time.Time
}

// APIResult is the structured response shape of the ingestion endpoints.
type APIResult struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Result     any    `json:"result"`
	IsSuccess  bool   `json:"isSuccess"`
}

// IssueRecord is one per-file processing problem kept in the daily log.
type IssueRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	FolderName string    `json:"folderName"`
	FolderPath string    `json:"folderPath"`
	FileName   string    `json:"fileName"`
	Details    string    `json:"details"`
}

// RolloverSummary is the snapshot handed to the notifier when the day
// boundary is crossed with a non-empty issue log.
type RolloverSummary struct {
	Day            time.Time     `json:"day"`
	TotalProcessed int           `json:"totalProcessed"`
	FilesWithIssue int           `json:"filesWithIssues"`
	Issues         []IssueRecord `json:"issues"`
}
