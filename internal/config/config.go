package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cp "github.com/otiai10/copy"
	"gopkg.in/yaml.v3"
)

var (
	cfgMux  sync.RWMutex
	Warok   *WarokCfg
	Targets map[string]*TargetCfg
	Version = "dev"
)

type WarokCfg struct {
	Debug struct {
		Log         bool `yaml:"log" json:"log"`
		Screenshots bool `yaml:"screenshots" json:"screenshots"`
	} `yaml:"debug" json:"debug"`
	FirstRun         bool   `yaml:"firstRun" json:"firstRun"`
	LogSaveDirectory string `yaml:"logSaveDirectory" json:"logSaveDirectory"`
	ServerPort       int    `yaml:"serverPort" json:"serverPort"`
	Discord          struct {
		Enabled                 bool     `yaml:"enabled" json:"enabled"`
		EnableRecoveryMessages  bool     `yaml:"enableRecoveryMessages" json:"enableRecoveryMessages"`
		EnableErrorMessages     bool     `yaml:"enableErrorMessages" json:"enableErrorMessages"`
		DisableStateScreenshots bool     `yaml:"disableStateScreenshots" json:"disableStateScreenshots"`
		BotAdmins               []string `yaml:"botAdmins" json:"botAdmins"`
		ChannelID               string   `yaml:"channelId" json:"channelId"`
		Token                   string   `yaml:"token" json:"token"`
		UseWebhook              bool     `yaml:"useWebhook" json:"useWebhook"`
		WebhookURL              string   `yaml:"webhookUrl" json:"webhookUrl"`
	} `yaml:"discord" json:"discord"`
	Telegram struct {
		Enabled bool   `yaml:"enabled" json:"enabled"`
		ChatID  int64  `yaml:"chatId" json:"chatId"`
		Token   string `yaml:"token" json:"token"`
	} `yaml:"telegram" json:"telegram"`
	Ngrok struct {
		Enabled       bool   `yaml:"enabled" json:"enabled"`
		SendURL       bool   `yaml:"sendUrl" json:"sendUrl"`
		Authtoken     string `yaml:"authtoken" json:"authtoken"`
		Region        string `yaml:"region" json:"region"`
		Domain        string `yaml:"domain" json:"domain"`
		BasicAuthUser string `yaml:"basicAuthUser" json:"basicAuthUser"`
		BasicAuthPass string `yaml:"basicAuthPass" json:"basicAuthPass"`
	} `yaml:"ngrok" json:"ngrok"`
	AutoStart struct {
		Enabled      bool `yaml:"enabled" json:"enabled"`
		DelaySeconds int  `yaml:"delaySeconds" json:"delaySeconds"`
	} `yaml:"autoStart" json:"autoStart"`
}

// TargetCfg configures one supervised game instance: where its emulator
// lives, which app to keep alive and how patient recovery should be.
type TargetCfg struct {
	Device struct {
		ADBAddress string `yaml:"adbAddress" json:"adbAddress"`
		Display    string `yaml:"display" json:"display"`
	} `yaml:"device" json:"device"`
	App struct {
		Package  string `yaml:"package" json:"package"`
		Activity string `yaml:"activity" json:"activity"`
	} `yaml:"app" json:"app"`
	Recovery struct {
		MaxCycles          int `yaml:"maxCycles" json:"maxCycles"`
		WaitTimeoutSeconds int `yaml:"waitTimeoutSeconds" json:"waitTimeoutSeconds"`
		ShortWaitSeconds   int `yaml:"shortWaitSeconds" json:"shortWaitSeconds"`
		PollIntervalMS     int `yaml:"pollIntervalMs" json:"pollIntervalMs"`
		HealthIntervalSec  int `yaml:"healthIntervalSeconds" json:"healthIntervalSeconds"`
		MaxTransportErrors int `yaml:"maxTransportErrors" json:"maxTransportErrors"`
	} `yaml:"recovery" json:"recovery"`
	UIConfigPath string `yaml:"uiConfigPath" json:"uiConfigPath"`

	ConfigFolderName string `yaml:"-" json:"-"`
}

func (c *TargetCfg) WaitTimeout() time.Duration {
	return time.Duration(c.Recovery.WaitTimeoutSeconds) * time.Second
}

func (c *TargetCfg) ShortWait() time.Duration {
	return time.Duration(c.Recovery.ShortWaitSeconds) * time.Second
}

func (c *TargetCfg) PollInterval() time.Duration {
	return time.Duration(c.Recovery.PollIntervalMS) * time.Millisecond
}

func (c *TargetCfg) HealthInterval() time.Duration {
	return time.Duration(c.Recovery.HealthIntervalSec) * time.Second
}

func GetTarget(name string) (*TargetCfg, bool) {
	cfgMux.RLock()
	defer cfgMux.RUnlock()
	cfg, found := Targets[name]
	return cfg, found
}

func GetTargets() map[string]*TargetCfg {
	cfgMux.RLock()
	defer cfgMux.RUnlock()

	targets := make(map[string]*TargetCfg, len(Targets))
	for name, cfg := range Targets {
		targets[name] = cfg
	}
	return targets
}

// Load reads config/warok.yaml plus every target directory under config/.
// Safe to call again at runtime, the web UI does after saving.
func Load() error {
	cfgMux.Lock()
	defer cfgMux.Unlock()
	Targets = make(map[string]*TargetCfg)

	warokPath := getAbsPath("config/warok.yaml")
	r, err := os.Open(warokPath)
	if err != nil {
		return fmt.Errorf("error loading warok.yaml: %w", err)
	}
	defer r.Close()

	d := yaml.NewDecoder(r)
	if err = d.Decode(&Warok); err != nil {
		return fmt.Errorf("error reading config %s: %w", warokPath, err)
	}
	if Warok.ServerPort == 0 {
		Warok.ServerPort = 8087
	}

	configDir := getAbsPath("config")
	entries, err := os.ReadDir(configDir)
	if err != nil {
		return fmt.Errorf("error reading config directory %s: %w", configDir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "template" {
			continue
		}

		targetCfg := TargetCfg{}

		targetConfigPath := getAbsPath(filepath.Join("config", entry.Name(), "config.yaml"))
		r, err = os.Open(targetConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config.yaml: %w", err)
		}

		d := yaml.NewDecoder(r)
		if err = d.Decode(&targetCfg); err != nil {
			_ = r.Close()
			return fmt.Errorf("error reading %s target config: %w", targetConfigPath, err)
		}
		_ = r.Close()

		targetCfg.ConfigFolderName = entry.Name()
		if targetCfg.UIConfigPath == "" {
			targetCfg.UIConfigPath = getAbsPath(filepath.Join("config", entry.Name(), "ui.json"))
		}
		targetCfg.Validate()

		Targets[entry.Name()] = &targetCfg
	}

	return nil
}

// CreateFromTemplate provisions a new target directory from config/template.
func CreateFromTemplate(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}

	if _, err := os.Stat("config/" + name); !os.IsNotExist(err) {
		return errors.New("configuration with that name already exists")
	}

	err := cp.Copy("config/template", "config/"+name)
	if err != nil {
		return fmt.Errorf("error copying template: %w", err)
	}

	return Load()
}

func ValidateAndSaveConfig(config WarokCfg) error {
	if config.Discord.Enabled && !config.Discord.UseWebhook && config.Discord.Token == "" {
		return errors.New("discord is enabled but no token or webhook is set")
	}
	if config.Telegram.Enabled && config.Telegram.Token == "" {
		return errors.New("telegram is enabled but no token is set")
	}
	if config.Ngrok.BasicAuthUser != "" && config.Ngrok.BasicAuthPass == "" {
		return errors.New("ngrok basic auth password is required when a username is set")
	}
	if config.Ngrok.BasicAuthPass != "" && config.Ngrok.BasicAuthUser == "" {
		return errors.New("ngrok basic auth username is required when a password is set")
	}

	text, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("error parsing warok config: %w", err)
	}

	err = os.WriteFile("config/warok.yaml", text, 0644)
	if err != nil {
		return fmt.Errorf("error writing warok config: %w", err)
	}

	return Load()
}

func SaveTargetConfig(targetName string, config *TargetCfg) error {
	filePath := filepath.Join("config", targetName, "config.yaml")
	config.Validate()
	d, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	err = os.WriteFile(filePath, d, 0644)
	if err != nil {
		return fmt.Errorf("error writing target config: %w", err)
	}

	return Load()
}

// Validate backfills the timing knobs with workable defaults.
func (c *TargetCfg) Validate() {
	if c.Device.ADBAddress == "" {
		c.Device.ADBAddress = "192.168.240.112:5555"
	}
	if c.Device.Display == "" {
		c.Device.Display = ":10.0"
	}
	if c.Recovery.MaxCycles <= 0 {
		c.Recovery.MaxCycles = 10
	}
	if c.Recovery.WaitTimeoutSeconds <= 0 {
		c.Recovery.WaitTimeoutSeconds = 90
	}
	if c.Recovery.ShortWaitSeconds <= 0 {
		c.Recovery.ShortWaitSeconds = 10
	}
	if c.Recovery.PollIntervalMS <= 0 {
		c.Recovery.PollIntervalMS = 2000
	}
	if c.Recovery.HealthIntervalSec <= 0 {
		c.Recovery.HealthIntervalSec = 60
	}
	if c.Recovery.MaxTransportErrors <= 0 {
		c.Recovery.MaxTransportErrors = 3
	}
}

func getAbsPath(relPath string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return relPath
	}
	return filepath.Join(cwd, relPath)
}
