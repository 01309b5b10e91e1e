package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Domain describes one retrievable knowledge domain and the keywords that
// route queries toward it.
type Domain struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Policy is the curated pattern set behind triage and routing. It is data,
// not code: deployments ship their own pack per fleet/equipment.
type Policy struct {
	Domains []Domain `yaml:"domains"`

	// Emergency terms: the user may be in physical danger. Always refused
	// with a redirect to human emergency procedures.
	Emergency []string `yaml:"emergency"`

	// Safety-bypass terms: requests to defeat protective equipment.
	SafetyBypass []string `yaml:"safety_bypass"`

	// Out-of-scope topic cues.
	OutOfScope []string `yaml:"out_of_scope"`

	// Injection patterns (regular expressions, case-insensitive). Matched
	// spans are stripped to recover the core question; matching alone is
	// never a refusal.
	Injection []string `yaml:"injection"`
}

// DefaultPolicy is the built-in vehicle-maintenance pack. It doubles as the
// reference shape for deployment-specific packs.
func DefaultPolicy() Policy {
	return Policy{
		Domains: []Domain{
			{Name: "engine", Keywords: []string{
				"engine", "crank", "cranks", "ignition", "spark", "cylinder",
				"misfire", "fuel", "injector", "starter", "battery", "alternator",
				"oil", "coolant", "overheat", "timing",
			}},
			{Name: "brakes", Keywords: []string{
				"brake", "brakes", "braking", "abs", "pad", "pads", "rotor",
				"caliper", "pedal", "master cylinder", "brake fluid",
			}},
			{Name: "tires", Keywords: []string{
				"tire", "tires", "tyre", "pressure", "psi", "tread", "rotation",
				"wheel", "alignment", "balancing", "flat",
			}},
			{Name: "electrical", Keywords: []string{
				"fuse", "relay", "wiring", "harness", "headlight", "taillight",
				"dashboard", "warning light", "sensor", "voltage", "ecu",
			}},
			{Name: "transmission", Keywords: []string{
				"transmission", "gearbox", "clutch", "shift", "shifting", "gear",
				"differential", "driveshaft", "cv joint",
			}},
		},
		Emergency: []string{
			"fire", "smoke", "burning smell", "unconscious", "not breathing",
			"bleeding", "fuel leak", "gas leak", "sparks flying", "electric shock",
		},
		SafetyBypass: []string{
			"disable abs", "disable the abs", "bypass interlock", "bypass the interlock",
			"remove safety", "remove the safety", "disable airbag", "disable the airbag",
			"defeat seatbelt", "disable seatbelt", "override governor",
			"disable traction control permanently", "bypass emissions", "delete catalytic",
			"disable safety", "ignore all safety", "disable the speed limiter",
		},
		OutOfScope: []string{
			"capital of", "weather", "recipe", "stock price", "stocks",
			"movie", "lyrics", "who won", "celebrity", "football", "basketball",
			"poem", "joke", "horoscope", "dating", "president of",
		},
		Injection: []string{
			`(?i)\bsystem\s*:\s*[^?]*`,
			`(?i)\boverride\s+(safety\s+)?protocols?\b[.!]?`,
			`(?i)\bignore\s+(all\s+|any\s+)?(previous|prior|above)\s+(instructions|prompts|rules)\b[,.!]?(\s*and)?`,
			`(?i)\bignore\s+(all\s+|any\s+)?safety\s+(checks|rules|instructions)\b[,.!]?(\s*and)?`,
			`(?i)\bdisregard\s+(all\s+|any\s+)?(previous|prior)\s+(instructions|context)\b[,.!]?(\s*and)?`,
			`(?i)^\s*translate\s+(this\s+|it\s+)?(in)?to\s+\w+\s*:\s*`,
			`(?i)^\s*(you\s+are|act\s+as|pretend\s+(to\s+be|you\s+are))\s+[^,.:;]*[,.:;]?`,
			`(?i)\b(assistant|user|developer)\s*:\s*`,
			`(?i)\bnew\s+instructions?\s*:\s*`,
			`(?i)\brepeat\s+after\s+me\s*:\s*`,
		},
	}
}

// LoadPolicy reads a YAML policy pack. Lists the pack omits fall back to the
// built-in pack so a partial pack cannot silently disable a triage gate.
func LoadPolicy(path string) (Policy, error) {
	base := DefaultPolicy()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read policy pack: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return base, fmt.Errorf("parse policy pack: %w", err)
	}
	if len(p.Domains) == 0 {
		p.Domains = base.Domains
	}
	if len(p.Emergency) == 0 {
		p.Emergency = base.Emergency
	}
	if len(p.SafetyBypass) == 0 {
		p.SafetyBypass = base.SafetyBypass
	}
	if len(p.OutOfScope) == 0 {
		p.OutOfScope = base.OutOfScope
	}
	if len(p.Injection) == 0 {
		p.Injection = base.Injection
	}
	return p, nil
}
