package effector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	logs "github.com/danmuck/healthmon/internal/logging"
	"github.com/danmuck/healthmon/internal/protocol/message"
)

var (
	ErrUnsupportedSetting = errors.New("effector: unsupported settings type")
	ErrInvalidSetting     = errors.New("effector: invalid settings value")
)

// YAMLSettings keeps remotely written settings in a flat YAML document.
type YAMLSettings struct {
	Path string

	mu sync.Mutex
}

func NewYAMLSettings(path string) *YAMLSettings {
	return &YAMLSettings{Path: path}
}

// Apply converts s.Value to the declared type and stores it under s.Key.
func (y *YAMLSettings) Apply(s message.Settings) error {
	key := strings.TrimSpace(s.Key)
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidSetting)
	}
	v, err := typedValue(s)
	if err != nil {
		return err
	}

	y.mu.Lock()
	defer y.mu.Unlock()
	doc, err := y.load()
	if err != nil {
		return err
	}
	doc[key] = v
	if err := y.store(doc); err != nil {
		return err
	}
	logs.Infof("effector.YAMLSettings.Apply key=%q type=%s", key, s.Type)
	return nil
}

// Get returns the stored value for key.
func (y *YAMLSettings) Get(key string) (any, bool, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	doc, err := y.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func typedValue(s message.Settings) (any, error) {
	raw := strings.TrimSpace(s.Value)
	var (
		v   any
		err error
	)
	switch s.Type {
	case message.SettingsBoolean:
		v, err = strconv.ParseBool(raw)
	case message.SettingsString:
		return s.Value, nil
	case message.SettingsFloat:
		var f float64
		f, err = strconv.ParseFloat(raw, 32)
		v = float32(f)
	case message.SettingsDouble:
		v, err = strconv.ParseFloat(raw, 64)
	case message.SettingsInteger:
		var n int64
		n, err = strconv.ParseInt(raw, 10, 32)
		v = int32(n)
	case message.SettingsLong:
		v, err = strconv.ParseInt(raw, 10, 64)
	default:
		return nil, fmt.Errorf("%w: %s key=%q", ErrUnsupportedSetting, s.Type, s.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s key=%q value=%q", ErrInvalidSetting, s.Type, s.Key, s.Value)
	}
	return v, nil
}

func (y *YAMLSettings) load() (map[string]any, error) {
	doc := make(map[string]any)
	b, err := os.ReadFile(y.Path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("effector: read settings %s: %w", y.Path, err)
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("effector: parse settings %s: %w", y.Path, err)
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return doc, nil
}

func (y *YAMLSettings) store(doc map[string]any) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("effector: encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(y.Path), 0o755); err != nil {
		return fmt.Errorf("effector: settings dir: %w", err)
	}
	tmp := y.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("effector: write settings: %w", err)
	}
	if err := os.Rename(tmp, y.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("effector: write settings: %w", err)
	}
	return nil
}
