package channelpool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandStringAndParseRoundTrip(t *testing.T) {
	for _, cmd := range []Command{CommandNone, CommandBind, CommandUnbind, CommandBound} {
		assert.Equal(t, cmd, ParseCommand(cmd.String()))
	}
}

func TestParseCommandUnrecognizedIsNone(t *testing.T) {
	assert.Equal(t, CommandNone, ParseCommand("garbage"))
	assert.Equal(t, CommandNone, ParseCommand(""))
}

func TestCommandMarshalJSONUsesStringSpelling(t *testing.T) {
	b, err := json.Marshal(CommandBind)
	assert.NoError(t, err)
	assert.Equal(t, `"BIND"`, string(b))
}

func TestMethodAffinityTableLookup(t *testing.T) {
	table := MethodAffinityTable{
		"/svc/Method": {KeyPath: "transaction.session", Command: CommandBound},
	}
	cfg, ok := table.Lookup("/svc/Method")
	assert.True(t, ok)
	assert.Equal(t, "transaction.session", cfg.KeyPath)

	_, ok = table.Lookup("/svc/Other")
	assert.False(t, ok)
}
