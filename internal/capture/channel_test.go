package capture

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/model"
)

func textDraft(s string) *Draft {
	return NewDraft(clip.Source{App: "test"}, time.Now(), []model.Payload{{
		Code: model.CodeUnicodeText, Name: model.FormatUnicodeText, Storage: model.StorageText, Data: []byte(s),
	}})
}

func TestChannelOverloadKeepsNewest(t *testing.T) {
	const capacity = 10
	c := NewChannel(capacity)

	var evicted []string
	for i := range capacity + 5 {
		old, err := c.Publish(textDraft(fmt.Sprintf("item %d", i)))
		require.NoError(t, err)
		if old != nil {
			evicted = append(evicted, old.Title)
		}
	}

	assert.Equal(t, capacity, c.Len())
	assert.Equal(t, uint64(5), c.Dropped())
	assert.Equal(t, []string{"item 0", "item 1", "item 2", "item 3", "item 4"}, evicted)

	ctx := context.Background()
	for i := 5; i < capacity+5; i++ {
		d, err := c.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("item %d", i), d.Title)
	}
}

func TestChannelCompleteDrainsBacklog(t *testing.T) {
	c := NewChannel(4)
	_, err := c.Publish(textDraft("a"))
	require.NoError(t, err)
	_, err = c.Publish(textDraft("b"))
	require.NoError(t, err)

	c.Complete()
	c.Complete()

	_, err = c.Publish(textDraft("c"))
	assert.ErrorIs(t, err, ErrClosed)

	ctx := context.Background()
	d, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", d.Title)
	d, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", d.Title)

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, ErrDrained)
}

func TestChannelNextWaitsForPublish(t *testing.T) {
	c := NewChannel(2)
	got := make(chan *Draft, 1)
	go func() {
		d, err := c.Next(context.Background())
		if err == nil {
			got <- d
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := c.Publish(textDraft("late"))
	require.NoError(t, err)

	select {
	case d := <-got:
		assert.Equal(t, "late", d.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestChannelNextHonoursContext(t *testing.T) {
	c := NewChannel(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelCompleteWakesWaiter(t *testing.T) {
	c := NewChannel(2)
	errc := make(chan error, 1)
	go func() {
		_, err := c.Next(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Complete()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrDrained)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not observe completion")
	}
}

func TestNewChannelDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewChannel(0).Cap())
}
