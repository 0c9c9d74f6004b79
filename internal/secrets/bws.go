package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hochfrequenz/auto-claude/internal/runner"
)

// BWS fetches secrets with the Bitwarden Secrets Manager CLI. A key such as
// SLACK_TOKEN is mapped to a secret name or ID by the BWS_SECRET_SLACK_TOKEN
// entry of the env file; the access token comes from BWS_ACCESS_TOKEN.
type BWS struct {
	Binary string
	Config *EnvFile
	Runner runner.Runner
}

type bwsSecret struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetSecret implements Provider
func (b *BWS) GetSecret(ctx context.Context, key string) (string, error) {
	if b.Config == nil {
		return "", &Error{Key: key, Reason: ReasonNotConfigured}
	}
	ref, ok := b.Config.Lookup("BWS_SECRET_" + key)
	if !ok {
		return "", &Error{Key: key, Reason: ReasonNotFound}
	}
	token, ok := b.accessToken()
	if !ok {
		return "", &Error{Key: key, Reason: ReasonNotConfigured, Err: fmt.Errorf("BWS_ACCESS_TOKEN not set")}
	}
	env := []string{"BWS_ACCESS_TOKEN=" + token}

	id := ref
	if _, err := uuid.Parse(ref); err != nil {
		resolved, err := b.resolveID(ctx, ref, env)
		if err != nil {
			return "", &Error{Key: key, Reason: ReasonBackendFailed, Err: err}
		}
		if resolved == "" {
			return "", &Error{Key: key, Reason: ReasonNotFound, Err: fmt.Errorf("no bws secret named %q", ref)}
		}
		id = resolved
	}

	out, err := b.Runner.Run(ctx, runner.Command{Name: b.binary(), Args: []string{"secret", "get", id, "-o", "json"}, Env: env})
	if err != nil {
		return "", &Error{Key: key, Reason: ReasonBackendFailed, Err: err}
	}
	var s bwsSecret
	if err := json.Unmarshal(out, &s); err != nil {
		return "", &Error{Key: key, Reason: ReasonBackendFailed, Err: fmt.Errorf("parse bws output: %w", err)}
	}
	if s.Value == "" {
		return "", &Error{Key: key, Reason: ReasonNotFound}
	}
	return s.Value, nil
}

// resolveID maps a secret name to its ID using list metadata
func (b *BWS) resolveID(ctx context.Context, name string, env []string) (string, error) {
	out, err := b.Runner.Run(ctx, runner.Command{Name: b.binary(), Args: []string{"secret", "list", "-o", "json"}, Env: env})
	if err != nil {
		return "", err
	}
	var list []bwsSecret
	if err := json.Unmarshal(out, &list); err != nil {
		return "", fmt.Errorf("parse bws output: %w", err)
	}
	for _, s := range list {
		if s.Key == name {
			return s.ID, nil
		}
	}
	return "", nil
}

func (b *BWS) accessToken() (string, bool) {
	if v, err := (Env{}).GetSecret(context.Background(), "BWS_ACCESS_TOKEN"); err == nil {
		return v, true
	}
	return b.Config.Lookup("BWS_ACCESS_TOKEN")
}

func (b *BWS) binary() string {
	if b.Binary == "" {
		return "bws"
	}
	return b.Binary
}
