package channelpool

import "encoding/json"

// Command is one of the three affinity actions a method's config can
// declare.
type Command int

const (
	// CommandNone means the method has no affinity config — calls run in
	// simple mode.
	CommandNone Command = iota
	// CommandBind creates the binding from the call's response.
	CommandBind
	// CommandUnbind routes by the call's request key and releases the
	// binding after the call terminates.
	CommandUnbind
	// CommandBound routes by the call's request key and preserves the
	// binding.
	CommandBound
)

func (c Command) String() string {
	switch c {
	case CommandBind:
		return "BIND"
	case CommandUnbind:
		return "UNBIND"
	case CommandBound:
		return "BOUND"
	default:
		return "NONE"
	}
}

// MarshalJSON renders a Command as its config-document string enum spelling.
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// ParseCommand maps the config document's string enum onto a Command. An
// unrecognized or empty string yields CommandNone, so a method entry whose
// affinity is unset is simply ignored rather than rejected.
func ParseCommand(s string) Command {
	switch s {
	case "BIND":
		return CommandBind
	case "UNBIND":
		return CommandUnbind
	case "BOUND":
		return CommandBound
	default:
		return CommandNone
	}
}

// AffinityConfig is the per-method affinity declaration.
type AffinityConfig struct {
	// KeyPath is the dotted field path KeyExtractor walks, e.g.
	// "transaction.session".
	KeyPath string  `json:"affinityKey"`
	Command Command `json:"command"`
}

// MethodAffinityTable is the static mapping from fully-qualified method name
// to AffinityConfig. It is built once by the config loader
// and read concurrently by many calls; nothing in the pool ever mutates it
// in place — config reload (ambient, see config.go) swaps the whole table
// atomically instead.
type MethodAffinityTable map[string]AffinityConfig

// Lookup returns the config for method, and whether one is configured.
func (t MethodAffinityTable) Lookup(method string) (AffinityConfig, bool) {
	cfg, ok := t[method]
	return cfg, ok
}
