package rsocketdemo

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	id     string
	closed atomic.Int32
	err    error
	onDone func()
}

func (p *fakePeer) ID() string         { return p.id }
func (p *fakePeer) Transport() string  { return "fake" }
func (p *fakePeer) RemoteAddr() string { return "127.0.0.1:1" }
func (p *fakePeer) Close() error {
	p.closed.Add(1)
	if p.onDone != nil {
		p.onDone()
	}
	return p.err
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	p := &fakePeer{id: "a"}
	r.Add(p)
	require.Equal(t, 1, r.Len())

	got, err := r.Get("a")
	require.NoError(t, err)
	require.Same(t, p, got)

	_, err = r.Get("missing")
	require.True(t, errors.Is(err, ErrClientNotFound))

	require.True(t, r.Remove("a"))
	require.False(t, r.Remove("a"))
	require.Equal(t, 0, r.Len())
}

func TestRegistryRemovePeerIgnoresReplacement(t *testing.T) {
	r := NewRegistry()
	old := &fakePeer{id: "a"}
	r.Add(old)
	replacement := &fakePeer{id: "a"}
	r.Add(replacement)

	require.False(t, r.RemovePeer(old))
	require.Equal(t, 1, r.Len())
	require.True(t, r.RemovePeer(replacement))
	require.Equal(t, 0, r.Len())
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Add(&fakePeer{id: "a"})
	r.Add(&fakePeer{id: "b"})

	infos := r.List()
	require.Len(t, infos, 2)
	for _, info := range infos {
		require.Equal(t, "fake", info.Transport)
		require.Equal(t, "127.0.0.1:1", info.Remote)
		require.False(t, info.ConnectedAt.IsZero())
	}
}

func TestRegistryDisposeAllClosesEveryPeer(t *testing.T) {
	r := NewRegistry()
	var peers []*fakePeer
	for i := 0; i < 5; i++ {
		p := &fakePeer{id: fmt.Sprintf("peer-%d", i)}
		// 关闭回调回到注册表，不能死锁
		p.onDone = func() { r.Remove(p.id) }
		peers = append(peers, p)
		r.Add(p)
	}
	failing := &fakePeer{id: "failing", err: errors.New("boom")}
	r.Add(failing)

	err := r.DisposeAll()
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, 0, r.Len())
	for _, p := range peers {
		require.Equal(t, int32(1), p.closed.Load())
	}
	require.NoError(t, r.DisposeAll())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("peer-%d", i)
			r.Add(&fakePeer{id: id})
			_ = r.List()
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 25, r.Len())
}

func TestRegistryAddIfAbsentAdmitsOnePeerPerID(t *testing.T) {
	r := NewRegistry()
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.AddIfAbsent(&fakePeer{id: "same"}) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), admitted.Load())
	require.Equal(t, 1, r.Len())

	require.True(t, r.Remove("same"))
	require.True(t, r.AddIfAbsent(&fakePeer{id: "same"}))
}
