package natsobj

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// runServer starts an embedded JetStream server on a random port.
func runServer(t *testing.T) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func profileFor(t *testing.T, ns *server.Server) *types.Profile {
	t.Helper()

	u, err := url.Parse(ns.ClientURL())
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return &types.Profile{
		Name: "local",
		Identity: types.ConnectionIdentity{
			Protocol: types.ProtocolNATS,
			Host:     u.Hostname(),
			Port:     port,
		},
		Share:   "files",
		Options: map[string]string{"create_bucket": "true", "storage": "memory"},
	}
}

func openShare(t *testing.T) (*Connector, types.Share, nats.ObjectStore) {
	t.Helper()
	ns := runServer(t)
	c := NewConnector(5*time.Second, nil, nil)
	ctx := context.Background()

	session, err := c.Dial(ctx, profileFor(t, ns))
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	share, err := c.OpenShare(ctx, session, "files")
	require.NoError(t, err)
	return c, share, share.(*Bucket).store
}

func put(t *testing.T, store nats.ObjectStore, name string, data []byte) {
	t.Helper()
	_, err := store.PutBytes(name, data)
	require.NoError(t, err)
}

func get(t *testing.T, store nats.ObjectStore, name string) []byte {
	t.Helper()
	data, err := store.GetBytes(name)
	require.NoError(t, err)
	return data
}

func TestConnector_DialUnreachable(t *testing.T) {
	c := NewConnector(500*time.Millisecond, nil, nil)
	_, err := c.Dial(context.Background(), &types.Profile{
		Identity: types.ConnectionIdentity{Protocol: types.ProtocolNATS, Host: "127.0.0.1", Port: 1},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownHost), "got %v", err)
}

func TestConnector_DialBadOptions(t *testing.T) {
	c := NewConnector(time.Second, nil, nil)
	_, err := c.Dial(context.Background(), &types.Profile{
		Identity: types.ConnectionIdentity{Protocol: types.ProtocolNATS, Host: "127.0.0.1"},
		Options:  map[string]string{"storage": "tape"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestConnector_OpenShareMissing(t *testing.T) {
	ns := runServer(t)
	c := NewConnector(5*time.Second, nil, nil)
	p := profileFor(t, ns)
	p.Options = nil

	session, err := c.Dial(context.Background(), p)
	require.NoError(t, err)
	defer session.Close()

	_, err = c.OpenShare(context.Background(), session, "absent")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), "got %v", err)
}

func TestConnector_Resolve(t *testing.T) {
	c, share, store := openShare(t)
	ctx := context.Background()
	put(t, store, "docs/readme.txt", []byte(gofakeit.Email()+" "+gofakeit.Name()))

	h, err := c.Resolve(ctx, share, "/docs/readme.txt", types.ModeRead)
	require.NoError(t, err)
	assert.True(t, h.Info().Exists)
	assert.Positive(t, h.Info().Size)
	assert.NotEmpty(t, h.Info().ETag)

	_, err = c.Resolve(ctx, share, "nope", types.ModeRead)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	h, err = c.Resolve(ctx, share, "nope", types.ModeReadWrite)
	require.NoError(t, err)
	assert.False(t, h.Info().Exists)
}

func TestObjectReader_ContiguousAndBackwards(t *testing.T) {
	c, share, store := openShare(t)
	ctx := context.Background()

	faker := gofakeit.New(42)
	data := make([]byte, 300_000)
	for i := range data {
		data[i] = faker.Uint8()
	}
	put(t, store, "blob", data)

	h, err := c.Resolve(ctx, share, "blob", types.ModeRead)
	require.NoError(t, err)
	acc, err := c.OpenAccessor(ctx, share, h, types.ModeRead)
	require.NoError(t, err)
	defer acc.Close()
	r := acc.(*objectReader)

	buf := make([]byte, 64<<10)
	var got bytes.Buffer
	for off := int64(0); ; {
		n, err := acc.ReadAt(ctx, off, buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got.Write(buf[:n])
		off += int64(n)
	}
	assert.Equal(t, data, got.Bytes())
	assert.Equal(t, 1, r.reopens)

	n, err := acc.ReadAt(ctx, 1000, buf[:10])
	require.NoError(t, err)
	assert.Equal(t, data[1000:1010], buf[:n])
	assert.Equal(t, 2, r.reopens)

	// Forward jumps skip within the open result.
	n, err = acc.ReadAt(ctx, 200_000, buf[:10])
	require.NoError(t, err)
	assert.Equal(t, data[200_000:200_010], buf[:n])
	assert.Equal(t, 2, r.reopens)
}

func TestObjectWriter(t *testing.T) {
	c, share, store := openShare(t)
	ctx := context.Background()

	write := func(name string, chunks ...struct {
		pos  int64
		data string
	}) {
		h, err := c.Resolve(ctx, share, name, types.ModeWrite)
		require.NoError(t, err)
		acc, err := c.OpenAccessor(ctx, share, h, types.ModeWrite)
		require.NoError(t, err)
		for _, ch := range chunks {
			_, err := acc.WriteAt(ctx, ch.pos, []byte(ch.data))
			require.NoError(t, err)
		}
		require.NoError(t, acc.Close())
		assert.True(t, h.Info().Exists)
	}
	type chunk = struct {
		pos  int64
		data string
	}

	write("new.txt", chunk{0, "hello "}, chunk{6, "world"})
	assert.Equal(t, "hello world", string(get(t, store, "new.txt")))

	write("new.txt", chunk{11, "!"})
	assert.Equal(t, "hello world!", string(get(t, store, "new.txt")))

	write("new.txt", chunk{0, "HELLO"})
	assert.Equal(t, "HELLO world!", string(get(t, store, "new.txt")))

	h, err := c.Resolve(ctx, share, "new.txt", types.ModeWrite)
	require.NoError(t, err)
	acc, err := c.OpenAccessor(ctx, share, h, types.ModeWrite)
	require.NoError(t, err)
	_, err = acc.WriteAt(ctx, 12, []byte("?"))
	require.NoError(t, err)
	require.NoError(t, acc.Close())
	assert.Equal(t, int64(13), h.Info().Size)

	write("empty.txt")
	assert.Empty(t, get(t, store, "empty.txt"))
}

func TestObjectWriter_NonSequential(t *testing.T) {
	c, share, _ := openShare(t)
	ctx := context.Background()

	h, err := c.Resolve(ctx, share, "f", types.ModeWrite)
	require.NoError(t, err)
	acc, err := c.OpenAccessor(ctx, share, h, types.ModeWrite)
	require.NoError(t, err)
	defer acc.Close()

	_, err = acc.WriteAt(ctx, 5, []byte("x"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeIO))

	_, err = acc.ReadAt(ctx, 0, make([]byte, 1))
	assert.True(t, errors.IsCode(err, errors.ErrCodePermissionDenied))
}
