package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "workflow-completed", map[string]string{"workflow_id": "wf-1"})
	require.NoError(t, err)
	require.Equal(t, "mem-1", id)

	id, err = pub.Publish(context.Background(), "workflow-completed", map[string]string{"workflow_id": "wf-2"})
	require.NoError(t, err)
	require.Equal(t, "mem-2", id)

	events := pub.Events()
	require.Len(t, events, 2)
	require.Equal(t, "workflow-completed", events[0].Topic)

	events[0].Topic = "mutated"
	require.Equal(t, "workflow-completed", pub.Events()[0].Topic, "Events must return a copy")
}
