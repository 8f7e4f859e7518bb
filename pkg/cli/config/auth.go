package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/usecase"
	"github.com/urfave/cli/v3"
)

const minSigningKeyBytes = 32

// Auth holds the token signing settings of the server
type Auth struct {
	signingKey string
	tokenTTL   time.Duration
}

func (x *Auth) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "token-signing-key",
			Usage:       "HMAC key used to sign bearer tokens (at least 32 bytes)",
			Category:    "Authentication",
			Sources:     cli.EnvVars("CHANGEGATE_TOKEN_SIGNING_KEY"),
			Destination: &x.signingKey,
		},
		&cli.DurationFlag{
			Name:        "token-ttl",
			Usage:       "Lifetime of issued bearer tokens",
			Value:       usecase.DefaultTokenTTL,
			Category:    "Authentication",
			Sources:     cli.EnvVars("CHANGEGATE_TOKEN_TTL"),
			Destination: &x.tokenTTL,
		},
	}
}

func (x Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("signing_key.len", len(x.signingKey)),
		slog.Duration("token_ttl", x.tokenTTL),
	)
}

// Configure builds the token issuing use case for users
func (x *Auth) Configure(users *model.UserDirectory) (*usecase.AuthUseCase, error) {
	if x.signingKey == "" {
		return nil, goerr.Wrap(ErrMissingSigningKey, "set --token-signing-key")
	}
	if len(x.signingKey) < minSigningKeyBytes {
		return nil, goerr.Wrap(ErrWeakSigningKey, "signing key too short",
			goerr.V("length", len(x.signingKey)), goerr.V("min", minSigningKeyBytes))
	}

	var opts []usecase.AuthOption
	if x.tokenTTL > 0 {
		opts = append(opts, usecase.WithTokenTTL(x.tokenTTL))
	}
	return usecase.NewAuthUseCase(users, []byte(x.signingKey), opts...), nil
}
