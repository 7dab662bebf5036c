package gen

import (
	"testing"

	"looks-ledger/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestNewSnowflakeNode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Snowflake.Node = 7

	node, err := NewSnowflakeNode(cfg)
	require.NoError(t, err)

	id := node.Generate()
	require.Equal(t, int64(7), id.Node())
	require.NotEqual(t, id, node.Generate())

	cfg.Snowflake.Node = 5000
	_, err = NewSnowflakeNode(cfg)
	require.Error(t, err)
}
