package kbapi

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// kbAPISchema holds the configuration schema generated from Config.
var kbAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the kb-api component.
type Config struct {
	// MaxHops bounds how far a change cascades through the reference graph.
	MaxHops int `json:"max_hops" schema:"type:int,description:Propagation hop bound,category:basic,default:5"`

	// Partitions is the number of change partitions events are keyed onto.
	Partitions int `json:"partitions" schema:"type:int,description:Change partition count,category:basic,default:4"`

	// RulesPath points to a YAML field-sensitivity rules file.
	// Empty uses the built-in defaults.
	RulesPath string `json:"rules_path" schema:"type:string,description:Staleness rules file,category:basic,default:"`

	// PublishGraph mirrors committed records into the semantic graph.
	PublishGraph bool `json:"publish_graph" schema:"type:bool,description:Publish records to the graph ingest stream,category:basic,default:true"`

	// Ports declares optional HTTP port configuration.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Port configuration,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxHops:      5,
		Partitions:   4,
		PublishGraph: true,
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.MaxHops < 0 {
		return fmt.Errorf("max_hops cannot be negative")
	}
	if c.Partitions < 0 {
		return fmt.Errorf("partitions cannot be negative")
	}
	return nil
}
