package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexbrahh/amm-arb/events"
)

type capture struct {
	kinds []events.Kind
	ids   []string
}

func (c *capture) PublishOpportunity(_ context.Context, opp events.Opportunity) error {
	c.kinds = append(c.kinds, events.KindOpportunity)
	c.ids = append(c.ids, opp.MsgID())
	return nil
}

func (c *capture) PublishExecution(_ context.Context, exec events.Execution) error {
	c.kinds = append(c.kinds, events.KindExecution)
	c.ids = append(c.ids, exec.MsgID())
	return nil
}

func (c *capture) PublishPoolSnapshot(_ context.Context, snap events.PoolSnapshot) error {
	c.kinds = append(c.kinds, events.KindPoolSnapshot)
	c.ids = append(c.ids, snap.MsgID())
	return nil
}

func TestReplaySampleFixture(t *testing.T) {
	entries, err := loadFixture("testdata/sample.json")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	pub := &capture{}
	for _, entry := range entries {
		require.NoError(t, publishEntry(context.Background(), pub, entry))
	}
	assert.Equal(t, []events.Kind{events.KindPoolSnapshot, events.KindOpportunity, events.KindExecution}, pub.kinds)
	assert.Equal(t, "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2:312000100", pub.ids[0])
	assert.Equal(t, "8c8f5f4e-9a0e-4a47-9a52-1f0d7c1f6a11", pub.ids[2])
}

func TestPublishEntryRejectsUnknownKind(t *testing.T) {
	err := publishEntry(context.Background(), &capture{}, fixtureEntry{Kind: "candle", Record: json.RawMessage(`{}`)})
	require.ErrorContains(t, err, "unsupported record kind")
}
