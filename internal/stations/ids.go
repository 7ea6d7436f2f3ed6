package stations

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDPrefix starts every generated station id.
const IDPrefix = "station-"

// IDSource hands out candidate station ids. Candidates are checked against
// the full record set, so a source may repeat itself.
type IDSource interface {
	NextID() string
}

// SnowflakeIDs generates time ordered ids that are unique per node.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates a generator for node (0-1023).
func NewSnowflakeIDs(node int64) (*SnowflakeIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}
	return &SnowflakeIDs{node: n}, nil
}

// NextID returns station-<snowflake>.
func (g *SnowflakeIDs) NextID() string {
	return IDPrefix + g.node.Generate().String()
}
