package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishAssignsSequentialIDs(t *testing.T) {
	t.Parallel()

	p := New()

	id, err := p.Publish(context.Background(), "pages", map[string]string{"url": "https://docs.test/a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	id, err = p.Publish(context.Background(), "pages", map[string]string{"url": "https://docs.test/b"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "pages", msgs[0].Topic)
}

func TestMessagesReturnsCopy(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "pages", "payload")
	require.NoError(t, err)

	msgs := p.Messages()
	msgs[0].Topic = "mutated"
	require.Equal(t, "pages", p.Messages()[0].Topic)
}
