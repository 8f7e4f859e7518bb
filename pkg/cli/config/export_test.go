package config

import "time"

// NewLoggerForTest creates a Logger config for testing purposes
func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{level: level, format: format, output: output}
}

// NewAuthForTest creates an Auth config for testing purposes
func NewAuthForTest(signingKey string, ttl time.Duration) *Auth {
	return &Auth{signingKey: signingKey, tokenTTL: ttl}
}

// NewSlackForTest creates a Slack config for testing purposes
func NewSlackForTest(botToken, channelID, baseURL string) *Slack {
	return &Slack{botToken: botToken, channelID: channelID, baseURL: baseURL}
}

// NewSyncForTest creates a Sync config for testing purposes
func NewSyncForTest(serverURL string, disabled bool) *Sync {
	return &Sync{serverURL: serverURL, interval: time.Hour, maxElapsedTime: time.Second, disabled: disabled}
}

// NewRepositoryForTest creates a Repository config for testing purposes
func NewRepositoryForTest(backend, sqlitePath string) *Repository {
	return &Repository{backend: backend, sqlitePath: sqlitePath}
}

// NewDeviceRepositoryForTest creates a device Repository config for testing purposes
func NewDeviceRepositoryForTest(backend, sqlitePath string) *Repository {
	return &Repository{backend: backend, sqlitePath: sqlitePath, device: true}
}

// NewBrokerForTest creates a Broker config for testing purposes
func NewBrokerForTest(redisURL string) *Broker {
	return &Broker{redisURL: redisURL}
}
