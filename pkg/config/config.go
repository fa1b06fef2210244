// Package config loads and validates the daemon's config.json:
// audio device selection, per-operator FT8/FT4 settings, radio transport
// selection, and the last-used frequency/volume the UI asked to persist.
// Shaped as a flat struct of embedded structs with
// LoadConfig/Validate/defaulting, carried over from the YAML
// station/radio/audio layout this daemon's config grew out of.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// AudioConfig selects capture/playback devices and the platform sample rate.
type AudioConfig struct {
	InputDeviceName  string `json:"inputDeviceName,omitempty"`
	OutputDeviceName string `json:"outputDeviceName,omitempty"`
	SampleRate       int    `json:"sampleRate"`
	BufferSize       int    `json:"bufferSize"`
}

// FT8Config carries the default per-station settings new operators inherit;
// each OperatorConfig in Operators can still override its own behavior.
type FT8Config struct {
	MyCallsign             string `json:"myCallsign"`
	MyGrid                 string `json:"myGrid"`
	Frequency              int64  `json:"frequency"`
	TransmitPower          int    `json:"transmitPower"`
	AutoReply              bool   `json:"autoReply"`
	MaxQSOTimeout          int    `json:"maxQSOTimeout"`
	DecodeWhileTransmitting bool  `json:"decodeWhileTransmitting"`
	SpectrumWhileTransmitting bool `json:"spectrumWhileTransmitting"`
}

// LastSelectedFrequency is the UI's most recently chosen band/frequency,
// persisted so a restart resumes where the operator left off.
type LastSelectedFrequency struct {
	Frequency   int64  `json:"frequency"`
	Mode        string `json:"mode"`
	RadioMode   string `json:"radioMode,omitempty"`
	Band        string `json:"band"`
	Description string `json:"description,omitempty"`
}

// LastVolumeGain is the UI's most recently set output gain.
type LastVolumeGain struct {
	Gain   float64 `json:"gain"`
	GainDb float64 `json:"gainDb"`
}

// ServerConfig is the external HTTP/WebSocket adapter's bind address.
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// NetworkRadioConfig addresses a network-CAT transport (rigctld and similar).
type NetworkRadioConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// IcomWLANConfig addresses an Icom WLAN (e.g. IC-705) transport.
type IcomWLANConfig struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	UserName string `json:"userName,omitempty"`
	Password string `json:"password,omitempty"`
	DataMode string `json:"dataMode"`
}

// SerialRadioConfig addresses a serial-CAT transport.
type SerialRadioConfig struct {
	Path         string `json:"path"`
	RigModel     string `json:"rigModel"`
	SerialConfig string `json:"serialConfig,omitempty"`
}

// RadioConfig selects and parameterizes the radio transport (pkg/radio).
type RadioConfig struct {
	Type                 string              `json:"type"` // none|serial|network|icom-wlan
	TransmitCompensationMs int               `json:"transmitCompensationMs,omitempty"`
	Network              *NetworkRadioConfig `json:"network,omitempty"`
	IcomWLAN             *IcomWLANConfig     `json:"icomWlan,omitempty"`
	Serial               *SerialRadioConfig  `json:"serial,omitempty"`

	// Legacy flat fields. Never populated by a fresh config; only read by
	// MigrateLegacyRadioFields to rewrite an old file into the nested shape
	// above. Left exported so the migration's before/after is inspectable
	// in tests without reaching into unexported state.
	LegacyHost     string `json:"host,omitempty"`
	LegacyPort     int    `json:"port,omitempty"`
	LegacyIP       string `json:"ip,omitempty"`
	LegacyWLANPort int    `json:"wlanPort,omitempty"`
	LegacyPath     string `json:"path,omitempty"`
	LegacyRigModel string `json:"rigModel,omitempty"`
}

// WavelogConfig is the optional external logbook integration.
type WavelogConfig struct {
	URL       string `json:"url,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	StationID string `json:"stationId,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// OperatorConfig is one entry in Config.Operators, matching model.OperatorConfig
// but as the on-disk JSON shape (duration fields as plain cycle counts, not
// time.Duration, to keep config.json human-editable).
type OperatorConfig struct {
	ID                       string `json:"id"`
	MyCallsign               string `json:"myCallsign"`
	MyGrid                   string `json:"myGrid"`
	AudioFreqHz              int    `json:"audioFreqHz"`
	Mode                     string `json:"mode"`
	TransmitCycles           []int  `json:"transmitCycles"`
	MaxQSOTimeoutCycles      int    `json:"maxQSOTimeoutCycles"`
	MaxCallAttempts          int    `json:"maxCallAttempts"`
	AutoReplyToCQ            bool   `json:"autoReplyToCQ"`
	AutoResumeCQAfterFail    bool   `json:"autoResumeCQAfterFail"`
	AutoResumeCQAfterSuccess bool   `json:"autoResumeCQAfterSuccess"`
	ReplyToWorkedStations    bool   `json:"replyToWorkedStations"`
	PrioritizeNewCalls       bool   `json:"prioritizeNewCalls"`
}

// MQTTBridgeConfig is the optional spot-network mirror: completed QSOs and
// decoded frames are republished to an MQTT broker when enabled.
type MQTTBridgeConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"brokerUrl,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	TopicRoot string `json:"topicRoot,omitempty"`
}

// Config is the full contents of config.json.
type Config struct {
	Audio                  AudioConfig             `json:"audio"`
	FT8                    FT8Config               `json:"ft8"`
	LastSelectedFrequency  *LastSelectedFrequency  `json:"lastSelectedFrequency"`
	LastVolumeGain         *LastVolumeGain         `json:"lastVolumeGain"`
	Server                 ServerConfig            `json:"server"`
	Radio                  RadioConfig             `json:"radio"`
	Operators              []OperatorConfig        `json:"operators"`
	Wavelog                WavelogConfig           `json:"wavelog"`
	MQTT                   *MQTTBridgeConfig       `json:"mqtt,omitempty"`
}

// Default returns a Config with every field the daemon needs to start
// already populated (sampleRate=48000, bufferSize=768,
// decodeWhileTransmitting=false, spectrumWhileTransmitting=true).
func Default() *Config {
	return &Config{
		Audio: AudioConfig{SampleRate: 48000, BufferSize: 768},
		FT8: FT8Config{
			MaxQSOTimeout:             6,
			DecodeWhileTransmitting:   false,
			SpectrumWhileTransmitting: true,
		},
		Server: ServerConfig{Port: 2442, Host: "0.0.0.0"},
		Radio:  RadioConfig{Type: "none"},
	}
}

// LoadConfig reads and parses path, applying defaults for anything the file
// leaves zero-valued and migrating any legacy flat radio fields it finds.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	if migrated, changed, err := MigrateLegacyRadioFields(data); err != nil {
		return nil, fmt.Errorf("config: migrate %s: %w", path, err)
	} else if changed {
		if err := os.WriteFile(path+".backup", data, 0644); err != nil {
			return nil, fmt.Errorf("config: backup %s: %w", path, err)
		}
		data = migrated
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("config: write migrated %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 48000
	}
	if cfg.Audio.BufferSize == 0 {
		cfg.Audio.BufferSize = 768
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 2442
	}
	if cfg.Radio.Type == "" {
		cfg.Radio.Type = "none"
	}
}

// MigrateLegacyRadioFields detects the flat legacy radio fields
// (host/port/ip/wlanPort/path/rigModel) some older config.json files carry
// at the top of the radio section and rewrites them into the nested
// serial{}/network{}/icomWlan{} shape. It never mutates the file itself;
// callers are responsible for backing up the original bytes before writing
// the result, matching the original daemon's "never overwrite without a .backup"
// caution. Returns changed=false, data unchanged, on a file that is already
// nested (or has no radio section at all); the migration is idempotent.
func MigrateLegacyRadioFields(data []byte) (migrated []byte, changed bool, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("parse for migration: %w", err)
	}
	radioRaw, ok := raw["radio"]
	if !ok {
		return data, false, nil
	}

	var legacy struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		IP       string `json:"ip"`
		WLANPort int    `json:"wlanPort"`
		Path     string `json:"path"`
		RigModel string `json:"rigModel"`
	}
	if err := json.Unmarshal(radioRaw, &legacy); err != nil {
		return nil, false, fmt.Errorf("parse radio section for migration: %w", err)
	}
	if legacy.Host == "" && legacy.IP == "" && legacy.Path == "" && legacy.RigModel == "" {
		return data, false, nil
	}

	var radio RadioConfig
	if err := json.Unmarshal(radioRaw, &radio); err != nil {
		return nil, false, fmt.Errorf("parse radio config for migration: %w", err)
	}
	if legacy.Host != "" && radio.Network == nil {
		radio.Network = &NetworkRadioConfig{Host: legacy.Host, Port: legacy.Port}
		radio.Type = "network"
	}
	if legacy.IP != "" && radio.IcomWLAN == nil {
		radio.IcomWLAN = &IcomWLANConfig{IP: legacy.IP, Port: legacy.WLANPort, DataMode: "digital"}
		radio.Type = "icom-wlan"
	}
	if legacy.Path != "" && radio.Serial == nil {
		radio.Serial = &SerialRadioConfig{Path: legacy.Path, RigModel: legacy.RigModel}
		radio.Type = "serial"
	}
	radio.LegacyHost, radio.LegacyPort, radio.LegacyIP = "", 0, ""
	radio.LegacyWLANPort, radio.LegacyPath, radio.LegacyRigModel = 0, "", ""

	radioJSON, err := json.Marshal(radio)
	if err != nil {
		return nil, false, fmt.Errorf("marshal migrated radio config: %w", err)
	}
	raw["radio"] = radioJSON

	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("marshal migrated config: %w", err)
	}
	return out, true, nil
}

// Validate checks the configuration is internally consistent enough to
// start the engine: a usable radio section for the selected transport type,
// and no two operators sharing an ID.
func (c *Config) Validate() error {
	switch c.Radio.Type {
	case "none", "":
	case "serial":
		if c.Radio.Serial == nil || c.Radio.Serial.Path == "" {
			return fmt.Errorf("config: radio.type=serial requires radio.serial.path")
		}
	case "network":
		if c.Radio.Network == nil || c.Radio.Network.Host == "" {
			return fmt.Errorf("config: radio.type=network requires radio.network.host")
		}
	case "icom-wlan":
		if c.Radio.IcomWLAN == nil || c.Radio.IcomWLAN.IP == "" {
			return fmt.Errorf("config: radio.type=icom-wlan requires radio.icomWlan.ip")
		}
	default:
		return fmt.Errorf("config: unknown radio.type %q", c.Radio.Type)
	}

	seen := make(map[string]bool, len(c.Operators))
	for _, op := range c.Operators {
		if op.ID == "" {
			return fmt.Errorf("config: operator with empty id")
		}
		if seen[op.ID] {
			return fmt.Errorf("config: duplicate operator id %q", op.ID)
		}
		seen[op.ID] = true
		if _, ok := modeExists(op.Mode); !ok {
			return fmt.Errorf("config: operator %s: unknown mode %q", op.ID, op.Mode)
		}
	}
	return nil
}

func modeExists(name string) (string, bool) {
	switch name {
	case "FT8", "FT4":
		return name, true
	default:
		return "", false
	}
}

// Save writes cfg to path as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// EncodeLeadTime returns how long before a slot's transmit point the engine
// must start encoding to make the deadline, for callers that don't want to
// import pkg/model just for this. It returns a fixed 2 s for every mode; the
// per-mode lead in pkg/model is not consulted.
func (c *Config) EncodeLeadTime() time.Duration {
	return 2 * time.Second
}
