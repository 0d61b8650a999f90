package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DiscoveryPrefix is Home Assistant's default discovery prefix.
const DiscoveryPrefix = "homeassistant"

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

type discoveryConfig struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	StateTopic          string          `json:"state_topic,omitempty"`
	CommandTopic        string          `json:"command_topic,omitempty"`
	AvailabilityTopic   string          `json:"availability_topic,omitempty"`
	JSONAttributesTopic string          `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string          `json:"value_template,omitempty"`
	PayloadOn           string          `json:"payload_on,omitempty"`
	PayloadOff          string          `json:"payload_off,omitempty"`
	Icon                string          `json:"icon,omitempty"`
	Min                 int             `json:"min,omitempty"`
	Max                 int             `json:"max,omitempty"`
	Unit                string          `json:"unit_of_measurement,omitempty"`
	Device              discoveryDevice `json:"device"`
}

type discoveryEntity struct {
	component string
	object    string
	cfg       discoveryConfig
}

// DiscoveryMessage is one retained Home Assistant discovery document.
type DiscoveryMessage struct {
	Topic   string
	Payload []byte
}

// nodeID turns the base topic into an identifier Home Assistant accepts.
func (t Topics) nodeID() string {
	return strings.NewReplacer("/", "_", " ", "_", "+", "_", "#", "_").Replace(t.Base)
}

// Discovery builds the discovery documents for a switch per channel, a
// status sensor and the remote duration number.
func (t Topics) Discovery(channels, minDuration, maxDuration int) ([]DiscoveryMessage, error) {
	node := t.nodeID()
	device := discoveryDevice{
		Identifiers:  []string{node},
		Name:         "Irrigation Controller",
		Model:        fmt.Sprintf("%d-channel", channels),
		Manufacturer: "multichannel-irrigation",
	}

	var entities []discoveryEntity
	add := func(component, object string, cfg discoveryConfig) {
		cfg.UniqueID = node + "_" + object
		cfg.AvailabilityTopic = t.Availability()
		cfg.Device = device
		entities = append(entities, discoveryEntity{component: component, object: object, cfg: cfg})
	}

	for ch := 1; ch <= channels; ch++ {
		add("switch", fmt.Sprintf("channel_%d", ch), discoveryConfig{
			Name:         fmt.Sprintf("Irrigation channel %d", ch),
			StateTopic:   t.ChannelState(ch),
			CommandTopic: t.ChannelCommand(ch),
			PayloadOn:    "ON",
			PayloadOff:   "OFF",
			Icon:         "mdi:sprinkler",
		})
	}
	add("sensor", "status", discoveryConfig{
		Name:                "Irrigation status",
		StateTopic:          t.Status(),
		JSONAttributesTopic: t.Status(),
		ValueTemplate:       "{{ 'irrigating' if value_json.irrigating else 'idle' }}",
		Icon:                "mdi:water",
	})
	add("number", "duration", discoveryConfig{
		Name:         "Irrigation duration",
		StateTopic:   t.Duration(),
		CommandTopic: t.DurationSet(),
		Min:          minDuration,
		Max:          maxDuration,
		Unit:         "min",
		Icon:         "mdi:timer",
	})

	out := make([]DiscoveryMessage, 0, len(entities))
	for _, c := range entities {
		payload, err := json.Marshal(c.cfg)
		if err != nil {
			return nil, fmt.Errorf("encode discovery for %s: %w", c.object, err)
		}
		out = append(out, DiscoveryMessage{
			Topic:   fmt.Sprintf("%s/%s/%s/%s/config", DiscoveryPrefix, c.component, node, c.object),
			Payload: payload,
		})
	}
	return out, nil
}
