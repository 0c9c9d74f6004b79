package secrets

import (
	"context"
	"errors"
	"runtime"
	"strings"

	"github.com/hochfrequenz/auto-claude/internal/runner"
)

// Keychain reads generic passwords from the macOS keychain, using the key as
// the service name and BWS_KEYCHAIN_ACCOUNT from the env file as the account.
type Keychain struct {
	Config *EnvFile
	Runner runner.Runner
}

// GetSecret implements Provider
func (k *Keychain) GetSecret(ctx context.Context, key string) (string, error) {
	if runtime.GOOS != "darwin" {
		return "", &Error{Key: key, Reason: ReasonNotConfigured}
	}

	args := []string{"find-generic-password", "-s", key}
	if k.Config != nil {
		if account, ok := k.Config.Lookup("BWS_KEYCHAIN_ACCOUNT"); ok {
			args = append(args, "-a", account)
		}
	}
	args = append(args, "-w")

	out, err := k.Runner.Run(ctx, runner.Command{Name: "security", Args: args})
	if err != nil {
		// security exits 44 when the item does not exist
		var rerr *runner.Error
		if errors.As(err, &rerr) && rerr.ExitCode == 44 {
			return "", &Error{Key: key, Reason: ReasonNotFound}
		}
		return "", &Error{Key: key, Reason: ReasonBackendFailed, Err: err}
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return "", &Error{Key: key, Reason: ReasonNotFound}
	}
	return v, nil
}
