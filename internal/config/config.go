package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dominion/internal/domain"
	"dominion/internal/engine"
)

// DefaultUndoTTL bounds how long an undo request waits for approvals.
const DefaultUndoTTL = 2 * time.Minute

// Config models dominion.yml.
type Config struct {
	Game struct {
		Players []string          `yaml:"players" json:"players"`
		Preset  string            `yaml:"preset,omitempty" json:"preset,omitempty"`
		Kingdom []domain.CardName `yaml:"kingdom,omitempty" json:"kingdom,omitempty"`
		// Seed 0 lets the caller pick one when the game is created.
		Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty"`
	} `yaml:"game" json:"game"`
	Rules domain.Rules `yaml:"rules" json:"rules"`
	Undo  struct {
		// RequestTTL of 0 keeps requests open until answered.
		RequestTTL time.Duration `yaml:"request_ttl" json:"request_ttl"`
	} `yaml:"undo" json:"undo"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Presets are the recommended kingdoms of the base set.
var Presets = map[string][]domain.CardName{
	"first_game": domain.FirstGame,

	"size_distortion": {domain.Artisan, domain.Bandit, domain.Bureaucrat, domain.Chapel, domain.Festival,
		domain.Gardens, domain.Sentry, domain.ThroneRoom, domain.Witch, domain.Workshop},
	"deck_top": {domain.Artisan, domain.Bureaucrat, domain.CouncilRoom, domain.Festival, domain.Harbinger,
		domain.Laboratory, domain.Moneylender, domain.Sentry, domain.Vassal, domain.Village},
	"sleight_of_hand": {domain.Cellar, domain.CouncilRoom, domain.Festival, domain.Gardens, domain.Library,
		domain.Harbinger, domain.Militia, domain.Poacher, domain.Smithy, domain.ThroneRoom},
	"improvements": {domain.Artisan, domain.Cellar, domain.Market, domain.Merchant, domain.Mine,
		domain.Moat, domain.Moneylender, domain.Poacher, domain.Remodel, domain.Witch},
	"silver_and_gold": {domain.Bandit, domain.Bureaucrat, domain.Chapel, domain.Harbinger, domain.Laboratory,
		domain.Merchant, domain.Mine, domain.Moneylender, domain.ThroneRoom, domain.Vassal},
}

// PresetNames lists the preset keys in order.
func PresetNames() []string {
	out := make([]string, 0, len(Presets))
	for k := range Presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dom config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config describes a game that can start.
func (c *Config) Validate() error {
	n := len(c.Game.Players)
	if n < 1 || n > 4 {
		return fmt.Errorf("config.game.players must list 1 to 4 players, got %d", n)
	}
	seen := map[string]bool{}
	for _, p := range c.Game.Players {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("config.game.players contains an empty id")
		}
		if seen[p] {
			return fmt.Errorf("config.game.players lists %s twice", p)
		}
		seen[p] = true
	}
	if _, err := c.Kingdom(); err != nil {
		return err
	}
	if c.Undo.RequestTTL < 0 {
		return fmt.Errorf("config.undo.request_ttl must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Kingdom resolves the explicit kingdom list, or the preset when none is
// given. With neither set the first game kingdom is used.
func (c *Config) Kingdom() ([]domain.CardName, error) {
	if len(c.Game.Kingdom) == 0 {
		name := c.Game.Preset
		if name == "" {
			name = "first_game"
		}
		preset, ok := Presets[name]
		if !ok {
			return nil, fmt.Errorf("unknown kingdom preset %q (known: %s)", name, strings.Join(PresetNames(), ", "))
		}
		return append([]domain.CardName(nil), preset...), nil
	}
	if c.Game.Preset != "" {
		return nil, fmt.Errorf("config.game sets both preset and kingdom")
	}
	seen := map[domain.CardName]bool{}
	for _, name := range c.Game.Kingdom {
		if _, ok := domain.Lookup(name); !ok {
			return nil, fmt.Errorf("config.game.kingdom: unknown card %q", name)
		}
		if slices.Contains(domain.BasicCards(), name) {
			return nil, fmt.Errorf("config.game.kingdom: %s is a basic card", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("config.game.kingdom lists %s twice", name)
		}
		seen[name] = true
	}
	return append([]domain.CardName(nil), c.Game.Kingdom...), nil
}

// Setup turns the config into an engine setup. seed replaces a zero Game.Seed.
func (c *Config) Setup(seed int64) (engine.Setup, error) {
	kingdom, err := c.Kingdom()
	if err != nil {
		return engine.Setup{}, err
	}
	if c.Game.Seed != 0 {
		seed = c.Game.Seed
	}
	return engine.Setup{
		Players: append([]string(nil), c.Game.Players...),
		Kingdom: kingdom,
		Seed:    seed,
		Rules:   c.Rules,
	}, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dominion.yml")
}

// GenerateDefault returns default config YAML for the given players.
func GenerateDefault(players []string) string {
	return fmt.Sprintf(defaultTemplate, strings.Join(players, ", "))
}

// Default returns the default config for a two-player first game.
func Default() *Config {
	var cfg Config
	cfg.Game.Players = []string{"p1", "p2"}
	cfg.Undo.RequestTTL = DefaultUndoTTL
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `game:
  players: [%s]
  preset: first_game

rules:
  sentry_per_card: false

undo:
  request_ttl: 2m
`
