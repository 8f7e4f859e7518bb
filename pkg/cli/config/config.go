package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/urfave/cli/v3"
)

// AppConfig represents the application configuration file
type AppConfig struct {
	Users       []User       `toml:"user"`
	Transitions []Transition `toml:"transition"`
}

// User is a [[user]] entry of the directory
type User struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Email        string `toml:"email"`
	Role         string `toml:"role"`
	PasswordHash string `toml:"password_hash" masq:"secret"`
}

// Validate checks if the User is valid
func (u *User) Validate() error {
	if err := types.UserID(u.ID).Validate(); err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid user ID", goerr.V(UserIDKey, u.ID))
	}
	if _, err := types.ParseRole(u.Role); err != nil {
		return goerr.Wrap(ErrInvalidRole, "unknown role", goerr.V(UserIDKey, u.ID), goerr.V(RoleKey, u.Role))
	}
	if u.PasswordHash == "" {
		return goerr.Wrap(ErrMissingPasswordHash, "user has no password hash", goerr.V(UserIDKey, u.ID))
	}
	return nil
}

// Transition is a [[transition]] entry. When the file has none, the built-in
// workflow is used.
type Transition struct {
	From                   string   `toml:"from"`
	To                     string   `toml:"to"`
	Roles                  []string `toml:"roles"`
	Notify                 bool     `toml:"notify"`
	RequiresRiskAssessment bool     `toml:"requires_risk_assessment"`
}

func (t *Transition) toRule() (model.Rule, error) {
	from, err := types.ParseChangeStatus(t.From)
	if err != nil {
		return model.Rule{}, goerr.Wrap(ErrInvalidTransition, "invalid from status", goerr.V("from", t.From))
	}
	to, err := types.ParseChangeStatus(t.To)
	if err != nil {
		return model.Rule{}, goerr.Wrap(ErrInvalidTransition, "invalid to status", goerr.V("to", t.To))
	}

	roles := make([]types.Role, 0, len(t.Roles))
	for _, r := range t.Roles {
		role, err := types.ParseRole(r)
		if err != nil {
			return model.Rule{}, goerr.Wrap(ErrInvalidRole, "unknown role in transition", goerr.V(RoleKey, r))
		}
		roles = append(roles, role)
	}

	return model.Rule{
		From:                   from,
		To:                     to,
		Roles:                  roles,
		Notify:                 t.Notify,
		RequiresRiskAssessment: t.RequiresRiskAssessment,
	}, nil
}

// Validate checks if the AppConfig is valid
func (a *AppConfig) Validate() error {
	userIDs := make(map[string]bool)
	for i, u := range a.Users {
		if err := u.Validate(); err != nil {
			return goerr.Wrap(err, "invalid user", goerr.V(UserIndexKey, i))
		}
		if userIDs[u.ID] {
			return goerr.Wrap(ErrDuplicateUserID, "user listed twice", goerr.V(UserIDKey, u.ID))
		}
		userIDs[u.ID] = true
	}

	if _, err := a.Workflow(); err != nil {
		return err
	}
	return nil
}

// UserDirectory builds the directory of configured users
func (a *AppConfig) UserDirectory() *model.UserDirectory {
	users := make([]*model.User, 0, len(a.Users))
	for _, u := range a.Users {
		users = append(users, &model.User{
			ID:           types.UserID(u.ID),
			Name:         u.Name,
			Email:        u.Email,
			Role:         types.Role(u.Role),
			PasswordHash: u.PasswordHash,
		})
	}
	return model.NewUserDirectory(users...)
}

// Workflow builds the transition table from [[transition]] entries, or
// returns the built-in one when none are configured
func (a *AppConfig) Workflow() (*model.Workflow, error) {
	if len(a.Transitions) == 0 {
		return model.DefaultWorkflow(), nil
	}

	rules := make([]model.Rule, 0, len(a.Transitions))
	for i, t := range a.Transitions {
		rule, err := t.toRule()
		if err != nil {
			return nil, goerr.Wrap(err, "invalid transition", goerr.V(RuleIndexKey, i))
		}
		rules = append(rules, rule)
	}

	w, err := model.NewWorkflow(rules)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidTransition, err.Error())
	}
	return w, nil
}

// LoadAppConfiguration loads the application configuration from a TOML file
func LoadAppConfiguration(path string) (*AppConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "config file does not exist", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	var config AppConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config",
			goerr.V(ConfigPathKey, path), goerr.V("error", err.Error()))
	}

	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return &config, nil
}

// App holds the --config flag
type App struct {
	path string
}

func (x *App) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the TOML configuration file ([[user]] and [[transition]] sections)",
			Sources:     cli.EnvVars("CHANGEGATE_CONFIG"),
			Destination: &x.path,
		},
	}
}

// Path returns the configured file path
func (x *App) Path() string {
	return x.path
}

// Configure loads the configuration file. Without --config an empty
// configuration with the built-in workflow is returned.
func (x *App) Configure() (*AppConfig, error) {
	if x.path == "" {
		return &AppConfig{}, nil
	}
	return LoadAppConfiguration(x.path)
}
