package config

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for configuration validation
var (
	ErrConfigNotFound      = goerr.New("configuration file not found")
	ErrInvalidConfig       = goerr.New("invalid configuration")
	ErrDuplicateUserID     = goerr.New("duplicate user ID")
	ErrInvalidRole         = goerr.New("invalid role")
	ErrInvalidTransition   = goerr.New("invalid transition rule")
	ErrMissingSigningKey   = goerr.New("token signing key is required")
	ErrWeakSigningKey      = goerr.New("token signing key is too short")
	ErrMissingServerURL    = goerr.New("server URL is required")
	ErrMissingPasswordHash = goerr.New("password hash is required")
)

// Context keys for error values
const (
	ConfigPathKey = "config_path"
	UserIDKey     = "user_id"
	UserIndexKey  = "user_index"
	RuleIndexKey  = "rule_index"
	RoleKey       = "role"
	BackendKey    = "backend"
)
