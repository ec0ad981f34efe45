package safety

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

// ModeController holds the process-wide safety mode. Reads go through an
// atomic value so every evaluation path stays lock-free; Set is serialized
// and persists the new state before publishing it.
type ModeController struct {
	current atomic.Value // domain.SafetyModeState

	setMu     sync.Mutex
	statePath string
}

// NewModeController loads persisted state from statePath when present,
// otherwise starts in the given initial mode. An empty statePath keeps the
// mode in memory only.
func NewModeController(statePath string, initial domain.SafetyMode) (*ModeController, error) {
	if initial == "" {
		initial = domain.ModeRestricted
	}
	if domain.NormalizeSafetyMode(string(initial)) == "" {
		return nil, fmt.Errorf("initial safety mode %q is unknown", initial)
	}

	c := &ModeController{statePath: strings.TrimSpace(statePath)}
	state := domain.SafetyModeState{Mode: initial, SetBy: "startup", SetAt: time.Now().UTC()}

	if c.statePath != "" {
		loaded, err := loadModeState(c.statePath)
		switch {
		case err == nil:
			state = loaded
		case errors.Is(err, fs.ErrNotExist):
			// First boot, keep the initial mode.
		default:
			return nil, err
		}
	}

	c.current.Store(state)
	return c, nil
}

// State returns the current mode state without locking.
func (c *ModeController) State() domain.SafetyModeState {
	return c.current.Load().(domain.SafetyModeState)
}

// Mode returns just the current mode.
func (c *ModeController) Mode() domain.SafetyMode {
	return c.State().Mode
}

// Set switches the global mode. Persistence happens before the new state
// becomes visible so a crash between the two never resurrects a looser mode.
func (c *ModeController) Set(mode domain.SafetyMode, setBy string) (domain.SafetyModeState, error) {
	normalized := domain.NormalizeSafetyMode(string(mode))
	if normalized == "" {
		return domain.SafetyModeState{}, fmt.Errorf("safety mode %q is unknown", mode)
	}

	state := domain.SafetyModeState{
		Mode:  normalized,
		SetBy: strings.TrimSpace(setBy),
		SetAt: time.Now().UTC(),
	}
	if err := state.Validate(); err != nil {
		return domain.SafetyModeState{}, err
	}

	c.setMu.Lock()
	defer c.setMu.Unlock()

	if c.statePath != "" {
		if err := saveModeState(c.statePath, state); err != nil {
			return domain.SafetyModeState{}, err
		}
	}
	c.current.Store(state)
	return state, nil
}

func loadModeState(path string) (domain.SafetyModeState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.SafetyModeState{}, err
	}
	var state domain.SafetyModeState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.SafetyModeState{}, fmt.Errorf("decode safety mode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return domain.SafetyModeState{}, fmt.Errorf("persisted safety mode state: %w", err)
	}
	return state, nil
}

func saveModeState(path string, state domain.SafetyModeState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal safety mode state: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create safety state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".mode-*")
	if err != nil {
		return fmt.Errorf("create temp mode state: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write mode state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close mode state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish mode state: %w", err)
	}
	return nil
}
