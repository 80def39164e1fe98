// Copyright 2025-2026 The livecap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "github.com/spf13/viper"

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// Coordination Related Config

// CoordinationConfig defines the cross-replica coordination channel parameters
type CoordinationConfig struct {
	// VideoChannel is the pub/sub topic carrying video session coordination messages
	VideoChannel string `mapstructure:"video_channel" json:"video_channel" validate:"required"`
	// CommentChannel is the pub/sub topic carrying comment session coordination messages
	CommentChannel string `mapstructure:"comment_channel" json:"comment_channel" validate:"required"`
	// ReplyWait is the max duration to wait for a cross-replica reply in seconds
	ReplyWait int `mapstructure:"reply_wait_sec" json:"reply_wait_sec" validate:"gte=1"`
	// ResubscribeDelay is the fixed delay between resubscribe attempts in seconds
	ResubscribeDelay int `mapstructure:"resubscribe_delay_sec" json:"resubscribe_delay_sec" validate:"gte=1"`
}

// ===============================================================================
// Platform Related Config

// PlatformConfig defines parameters for reaching the live platform API
type PlatformConfig struct {
	// APIBaseURL is the base URL of the platform resolver API
	APIBaseURL string `mapstructure:"api_base_url" json:"api_base_url" validate:"required,uri"`
	// RequestTimeout is the per-call timeout in seconds
	RequestTimeout int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"gte=1"`
	// ResolveAttempts is the number of room resolution attempts before giving up
	ResolveAttempts int `mapstructure:"resolve_attempts" json:"resolve_attempts" validate:"gte=1"`
	// ResolveRetryDelay is the fixed delay between resolution attempts in seconds
	ResolveRetryDelay int `mapstructure:"resolve_retry_delay_sec" json:"resolve_retry_delay_sec" validate:"gte=0"`
	// ChatServer optionally overrides the IRC chat server address
	ChatServer string `mapstructure:"chat_server,omitempty" json:"chat_server,omitempty"`
	// ChatUsername is the IRC login for comment capture. Anonymous when empty.
	ChatUsername string `mapstructure:"chat_username,omitempty" json:"chat_username,omitempty"`
	// ChatOAuthToken is the IRC OAuth token matching ChatUsername
	ChatOAuthToken string `mapstructure:"chat_oauth_token,omitempty" json:"-"`
}

// ===============================================================================
// Capture Related Config

// CaptureConfig defines capture loop parameters
type CaptureConfig struct {
	// WorkDir is the directory holding in-flight segment files
	WorkDir string `mapstructure:"work_dir" json:"work_dir" validate:"required"`
	// DefaultSaveInterval is the segment cut interval in seconds when the
	// caller does not supply one
	DefaultSaveInterval int `mapstructure:"default_save_interval_sec" json:"default_save_interval_sec" validate:"gte=1"`
	// EventQueueSize is the comment event queue capacity
	EventQueueSize int `mapstructure:"event_queue_size" json:"event_queue_size" validate:"gte=1"`
	// EventPullWait is the bounded wait on each comment queue pull in seconds
	EventPullWait int `mapstructure:"event_pull_wait_sec" json:"event_pull_wait_sec" validate:"gte=1"`
	// DisconnectTimeout bounds the chat client disconnect on session end in seconds
	DisconnectTimeout int `mapstructure:"disconnect_timeout_sec" json:"disconnect_timeout_sec" validate:"gte=1"`
	// ReconnectDelay is the wait before the one capture restart in seconds
	ReconnectDelay int `mapstructure:"reconnect_delay_sec" json:"reconnect_delay_sec" validate:"gte=1"`
	// FFmpegPath is the ffmpeg binary used for copy-codec repackaging
	FFmpegPath string `mapstructure:"ffmpeg_path" json:"ffmpeg_path" validate:"required"`
}

// ===============================================================================
// Object Store Related Config

// ObjectStoreConfig defines artifact upload parameters
type ObjectStoreConfig struct {
	// CredentialsFile is the Google service account credentials JSON path.
	// Uploads are skipped when empty.
	CredentialsFile string `mapstructure:"credentials_file,omitempty" json:"credentials_file,omitempty"`
	// FolderID is the Drive folder receiving assembled artifacts
	FolderID string `mapstructure:"folder_id,omitempty" json:"folder_id,omitempty"`
	// UploadTimeout is the max duration of one artifact upload in seconds
	UploadTimeout int `mapstructure:"upload_timeout_sec" json:"upload_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout. Streaming endpoints need zero.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// RecorderEndpointConfig defines recorder API endpoint config
type RecorderEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the recorder APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete recorder replica config
type SystemConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Coordination are the cross-replica coordination parameters
	Coordination CoordinationConfig `mapstructure:"coordination" json:"coordination" validate:"required,dive"`
	// Platform are the live platform API parameters
	Platform PlatformConfig `mapstructure:"platform" json:"platform" validate:"required,dive"`
	// Capture are the capture loop parameters
	Capture CaptureConfig `mapstructure:"capture" json:"capture" validate:"required,dive"`
	// ObjectStore are the artifact upload parameters
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" json:"object_store" validate:"required,dive"`
	// HTTPSetting is the HTTP API / server parameters
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters
	Endpoints RecorderEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default coordination settings
	viper.SetDefault("coordination.video_channel", "video-channel")
	viper.SetDefault("coordination.comment_channel", "comment-channel")
	viper.SetDefault("coordination.reply_wait_sec", 15)
	viper.SetDefault("coordination.resubscribe_delay_sec", 2)

	// Default platform settings
	viper.SetDefault("platform.api_base_url", "http://127.0.0.1:8600")
	viper.SetDefault("platform.request_timeout_sec", 10)
	viper.SetDefault("platform.resolve_attempts", 3)
	viper.SetDefault("platform.resolve_retry_delay_sec", 1)

	// Default capture settings
	viper.SetDefault("capture.work_dir", "/tmp/livecap")
	viper.SetDefault("capture.default_save_interval_sec", 30)
	viper.SetDefault("capture.event_queue_size", 256)
	viper.SetDefault("capture.event_pull_wait_sec", 5)
	viper.SetDefault("capture.disconnect_timeout_sec", 10)
	viper.SetDefault("capture.reconnect_delay_sec", 5)
	viper.SetDefault("capture.ffmpeg_path", "ffmpeg")

	// Default object store settings
	viper.SetDefault("object_store.upload_timeout_sec", 300)

	// Default server settings
	viper.SetDefault("endpoint_config.path_prefix", "/")
	viper.SetDefault("api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api_server.server_config.listen_port", 3000)
	viper.SetDefault("api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api_server.server_config.write_timeout_sec", 0)
	viper.SetDefault("api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault("api_server.logging_config.request_id_header", "Livecap-Request-ID")
	viper.SetDefault(
		"api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
