package fedmsg

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiln.build/core/fedmsg/cursor"
)

func TestMessageUnmarshal(t *testing.T) {
	raw := []byte(`{
		"topic": "org.fedoraproject.prod.compose.rawhide.complete",
		"body": {"arch": "x86_64", "branch": "f40", "log": "done", "release": "39", "repo": "updates"}
	}`)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "org.fedoraproject.prod.compose.rawhide.complete", msg.Topic)

	var body Body
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, "x86_64", body.Arch)
	assert.Equal(t, "f40", body.Branch)
	assert.Equal(t, "done", body.Log)
	assert.Equal(t, "39", body.Release)
	assert.Equal(t, "updates", body.Repo)
}

func TestBusSourceUrl(t *testing.T) {
	src := NewBusSource("hub.fedoraproject.org:443")

	u, err := src.Url(0, false)
	require.NoError(t, err)
	assert.Equal(t, "wss://hub.fedoraproject.org:443/raw", u.String())

	u, err = src.Url(1234, false)
	require.NoError(t, err)
	assert.Equal(t, "wss://hub.fedoraproject.org:443/raw?since=1234", u.String())

	u, err = src.Url(0, true)
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
}

func TestBusSourceKey(t *testing.T) {
	assert.Equal(t, "hub.fedoraproject.org:443", NewBusSource("hub.fedoraproject.org:443").Key())
}

func TestWorkerStoresCursorInMicroseconds(t *testing.T) {
	store := &cursor.MemoryStore{}
	processed := make(chan struct{})

	cfg := NewConsumerConfig()
	cfg.CursorStore = store
	cfg.ProcessFunc = func(ctx context.Context, source Source, message Message) error {
		close(processed)
		return nil
	}
	c := NewConsumer(*cfg)

	ctx, cancel := context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.worker(ctx)

	src := NewBusSource("hub.fedoraproject.org:443")
	c.jobQueue <- job{source: src, message: []byte(`{"topic": "t", "body": {}}`)}

	select {
	case <-processed:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the job")
	}
	cancel()
	c.wg.Wait()

	// the stored cursor feeds the bus's ?since= parameter, which is
	// in microseconds
	got := store.Get(src.Key())
	now := time.Now()
	require.NotZero(t, got)
	assert.LessOrEqual(t, got, now.UnixMicro())
	assert.Greater(t, got, now.Add(-time.Minute).UnixMicro())
}

func TestConsumerConfigDefaults(t *testing.T) {
	c := NewConsumer(*NewConsumerConfig())

	assert.Equal(t, 5, c.cfg.WorkerCount)
	assert.Equal(t, 100, c.cfg.QueueSize)
	assert.NotNil(t, c.cfg.CursorStore)
	assert.NotNil(t, c.cfg.Logger)
}
