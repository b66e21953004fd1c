package config

import (
	"cmp"
	"reflect"
	"slices"

	"github.com/MrWong99/phonoxa/internal/agent"
	"github.com/MrWong99/phonoxa/pkg/provider/tts"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they take effect
// on the next call.
type ConfigDiff struct {
	AgentsChanged       bool        // true if any agent was added, removed or edited
	AgentChanges        []AgentDiff // per-agent diffs, sorted by ID
	DefaultAgentChanged bool
	CallTuningChanged   bool
	LogLevelChanged     bool
	NewLogLevel         LogLevel

	// RestartRequired lists changed sections that only apply after a restart.
	RestartRequired []string
}

// AgentDiff describes what changed for a single agent between two configs.
type AgentDiff struct {
	ID            string
	PromptChanged bool // system prompt or greetings
	VoiceChanged  bool
	NumberChanged bool
	OtherChanged  bool
	Added         bool
	Removed       bool
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.AgentsChanged || d.DefaultAgentChanged || d.CallTuningChanged ||
		d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Call, new.Call) {
		d.CallTuningChanged = true
	}
	if old.DefaultAgent != new.DefaultAgent {
		d.DefaultAgentChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	for _, s := range []struct {
		name    string
		changed bool
	}{
		{"server", !reflect.DeepEqual(oldServer, newServer)},
		{"telephony", old.Telephony != new.Telephony},
		{"providers", !reflect.DeepEqual(old.Providers, new.Providers)},
		{"database", old.Database != new.Database},
		{"observability", old.Observability != new.Observability},
	} {
		if s.changed {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	// Build agent lookup maps keyed by ID.
	oldAgents := make(map[string]int, len(old.Agents))
	for i := range old.Agents {
		oldAgents[old.Agents[i].ID] = i
	}
	newAgents := make(map[string]int, len(new.Agents))
	for i := range new.Agents {
		newAgents[new.Agents[i].ID] = i
	}

	// Detect modified and removed agents.
	for id, oi := range oldAgents {
		ni, exists := newAgents[id]
		if !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{ID: id, Removed: true})
			continue
		}
		ad := diffAgent(id, old.Agents[oi], new.Agents[ni])
		if ad.PromptChanged || ad.VoiceChanged || ad.NumberChanged || ad.OtherChanged {
			d.AgentChanges = append(d.AgentChanges, ad)
		}
	}

	// Detect added agents.
	for id := range newAgents {
		if _, exists := oldAgents[id]; !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{ID: id, Added: true})
		}
	}

	slices.SortFunc(d.AgentChanges, func(a, b AgentDiff) int { return cmp.Compare(a.ID, b.ID) })
	d.AgentsChanged = len(d.AgentChanges) > 0
	return d
}

// diffAgent compares two agent configs with the same ID.
func diffAgent(id string, old, new agent.Config) AgentDiff {
	ad := AgentDiff{ID: id}

	if old.SystemPrompt != new.SystemPrompt || old.Greeting != new.Greeting || old.OutboundGreeting != new.OutboundGreeting {
		ad.PromptChanged = true
	}
	if old.Voice != new.Voice {
		ad.VoiceChanged = true
	}
	if old.PhoneNumber != new.PhoneNumber {
		ad.NumberChanged = true
	}

	// Compare the remainder with the tracked fields blanked out.
	for _, c := range []*agent.Config{&old, &new} {
		c.SystemPrompt, c.Greeting, c.OutboundGreeting, c.PhoneNumber = "", "", "", ""
		c.Voice = tts.VoiceProfile{}
	}
	if !reflect.DeepEqual(old, new) {
		ad.OtherChanged = true
	}
	return ad
}
