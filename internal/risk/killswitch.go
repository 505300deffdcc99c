package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"openbook-mm/internal/config"
)

// SharedState is the shared keyspace backend: a key whose non-empty,
// non-{"0","false"} value means the switch is set. The bot's key/value table
// serves as the keyspace, so an operator (or a second process) can flip the
// flag from outside the trading loop.
type SharedState interface {
	GetState(key string) (string, bool, error)
	SetState(key, value string) error
}

// KillSwitch is the side-channel flag that forces cancel-all, no-new-orders.
// Backed by either a file whose presence means set, or a shared key.
type KillSwitch struct {
	mode     string
	filePath string
	stateKey string
	state    SharedState
}

// NewKillSwitch builds the switch from configuration. An unknown mode falls
// back to the file backend.
func NewKillSwitch(cfg config.KillSwitchConfig, state SharedState) *KillSwitch {
	mode := cfg.Mode
	if mode != "shared" {
		mode = "file"
	}
	filePath := cfg.FilePath
	if filePath == "" {
		filePath = "killswitch"
	}
	stateKey := cfg.StateKey
	if stateKey == "" {
		stateKey = "kill_switch"
	}
	return &KillSwitch{mode: mode, filePath: filePath, stateKey: stateKey, state: state}
}

// IsSet reports whether the switch is engaged.
func (k *KillSwitch) IsSet() (bool, error) {
	switch k.mode {
	case "shared":
		value, ok, err := k.state.GetState(k.stateKey)
		if err != nil {
			return false, fmt.Errorf("read kill-switch key: %w", err)
		}
		if !ok {
			return false, nil
		}
		normalized := strings.ToLower(strings.TrimSpace(value))
		return normalized != "" && normalized != "0" && normalized != "false", nil
	default:
		_, err := os.Stat(k.filePath)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat kill-switch file: %w", err)
	}
}

// Trigger engages the switch, recording the trigger time and reason.
func (k *KillSwitch) Trigger(reason string) error {
	payload := fmt.Sprintf("triggered_at=%d\nreason=%s\n", time.Now().Unix(), reason)

	switch k.mode {
	case "shared":
		if err := k.state.SetState(k.stateKey, payload); err != nil {
			return fmt.Errorf("set kill-switch key: %w", err)
		}
		return nil
	default:
		if dir := filepath.Dir(k.filePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create kill-switch dir: %w", err)
			}
		}
		if err := os.WriteFile(k.filePath, []byte(payload), 0o644); err != nil {
			return fmt.Errorf("write kill-switch file: %w", err)
		}
		return nil
	}
}

// Clear disengages the switch.
func (k *KillSwitch) Clear() error {
	switch k.mode {
	case "shared":
		return k.state.SetState(k.stateKey, "")
	default:
		err := os.Remove(k.filePath)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove kill-switch file: %w", err)
		}
		return nil
	}
}
