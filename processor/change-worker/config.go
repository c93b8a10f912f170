package changeworker

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// changeWorkerSchema defines the configuration schema.
var changeWorkerSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the change-worker component.
type Config struct {
	// StreamName is the JetStream stream carrying change events.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream for change events,category:basic,default:KB_CHANGE"`

	// ConsumerPrefix names the durable consumers; one per partition,
	// suffixed with the partition number.
	ConsumerPrefix string `json:"consumer_prefix" schema:"type:string,description:Durable consumer name prefix,category:basic,default:change-worker"`

	// Partitions is the number of change partitions to consume.
	// Must match the partition count the API publishes with.
	Partitions int `json:"partitions" schema:"type:int,description:Change partition count,category:basic,default:4"`

	// MaxHops bounds how far a change cascades through the reference graph.
	MaxHops int `json:"max_hops" schema:"type:int,description:Propagation hop bound,category:basic,default:5"`

	// RulesPath points to a YAML field-sensitivity rules file.
	// Empty uses the built-in defaults.
	RulesPath string `json:"rules_path" schema:"type:string,description:Staleness rules file,category:basic,default:"`

	// WatchRules reloads the rules file when it changes on disk.
	WatchRules bool `json:"watch_rules" schema:"type:bool,description:Reload rules file on change,category:advanced,default:false"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:     "KB_CHANGE",
		ConsumerPrefix: "change-worker",
		Partitions:     4,
		MaxHops:        5,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerPrefix == "" {
		return fmt.Errorf("consumer_prefix is required")
	}
	if c.Partitions < 1 {
		return fmt.Errorf("partitions must be at least 1")
	}
	if c.MaxHops < 1 {
		return fmt.Errorf("max_hops must be at least 1")
	}
	if c.WatchRules && c.RulesPath == "" {
		return fmt.Errorf("watch_rules requires rules_path")
	}
	return nil
}
