package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Policy holds the pattern lists used by the fingerprint validator.
type Policy struct {
	BotUserAgentPatterns   []string `yaml:"bot_user_agent_patterns"`
	SuspiciousNamePatterns []string `yaml:"suspicious_name_patterns"`
	AttackToolNames        []string `yaml:"attack_tool_names"`
}

// DefaultPolicy returns the built-in pattern lists. Generic HTTP client
// libraries such as okhttp are left out because device apps ship with them;
// add them through the policy file where that traffic is unexpected.
func DefaultPolicy() Policy {
	return Policy{
		BotUserAgentPatterns: []string{
			`(?i)bot\b`, `(?i)crawler`, `(?i)spider`, `(?i)scrapy`,
			`(?i)^curl/`, `(?i)^wget/`, `(?i)python-requests`, `(?i)python-urllib`,
			`(?i)go-http-client`, `(?i)^java/`, `(?i)libwww-perl`, `(?i)headlesschrome`,
			`(?i)phantomjs`,
		},
		SuspiciousNamePatterns: []string{
			// long runs of mixed letters and digits with no separators
			`^[A-Za-z0-9]{20,}$`,
			// consonant runs that do not occur in real names
			`(?i)[bcdfghjklmnpqrstvwxz]{7,}`,
			`(?i)^(test|tmp|temp|asdf|qwerty|aaaa+|xxxx+)[-_]?\d*$`,
			`[<>'";\\]`,
		},
		AttackToolNames: []string{
			"sqlmap", "nikto", "nmap", "metasploit", "burp", "hydra",
			"masscan", "zgrab", "dirbuster", "gobuster", "wpscan", "acunetix",
		},
	}
}

// LoadPolicy reads a YAML policy file. Lists left empty in the file fall back
// to the defaults.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}

	def := DefaultPolicy()
	if len(p.BotUserAgentPatterns) == 0 {
		p.BotUserAgentPatterns = def.BotUserAgentPatterns
	}
	if len(p.SuspiciousNamePatterns) == 0 {
		p.SuspiciousNamePatterns = def.SuspiciousNamePatterns
	}
	if len(p.AttackToolNames) == 0 {
		p.AttackToolNames = def.AttackToolNames
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that every pattern compiles.
func (p Policy) Validate() error {
	for _, list := range [][]string{p.BotUserAgentPatterns, p.SuspiciousNamePatterns} {
		for _, pattern := range list {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid policy pattern %q: %w", pattern, err)
			}
		}
	}
	return nil
}
