package transport

import (
	"sync"
	"sync/atomic"
	"testing"
)

// fakeHandle records whether Close was called.
type fakeHandle struct {
	closed atomic.Bool
}

func (f *fakeHandle) Close() error {
	f.closed.Store(true)
	return nil
}

func TestRegistry_BindAndActive(t *testing.T) {
	reg := NewRegistry()
	h := &fakeHandle{}

	reg.Bind("s1", KindStream, h)

	if got := reg.Active("s1", KindStream); got != h {
		t.Errorf("Active() = %v, want bound handle", got)
	}
	if got := reg.Active("s1", KindPipe); got != nil {
		t.Errorf("Active() for unbound kind = %v, want nil", got)
	}
	if got := reg.Active("s2", KindStream); got != nil {
		t.Errorf("Active() for unbound session = %v, want nil", got)
	}
}

func TestRegistry_BindEvictsPrior(t *testing.T) {
	reg := NewRegistry()
	first := &fakeHandle{}
	second := &fakeHandle{}

	reg.Bind("s1", KindStream, first)
	reg.Bind("s1", KindStream, second)

	if !first.closed.Load() {
		t.Error("prior handle not closed on eviction")
	}
	if second.closed.Load() {
		t.Error("new handle closed during eviction")
	}
	if got := reg.Active("s1", KindStream); got != second {
		t.Errorf("Active() = %v, want second handle", got)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestRegistry_SameSessionDifferentKindsCoexist(t *testing.T) {
	reg := NewRegistry()
	stream := &fakeHandle{}
	pipe := &fakeHandle{}

	reg.Bind("s1", KindStream, stream)
	reg.Bind("s1", KindPipe, pipe)

	if stream.closed.Load() || pipe.closed.Load() {
		t.Error("bindings for different kinds must coexist")
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestRegistry_UnbindIdempotent(t *testing.T) {
	reg := NewRegistry()
	h := &fakeHandle{}

	reg.Bind("s1", KindStream, h)
	reg.Unbind("s1", KindStream)
	reg.Unbind("s1", KindStream) // already unbound, must not panic

	if !h.closed.Load() {
		t.Error("Unbind() did not close handle")
	}
	if got := reg.Active("s1", KindStream); got != nil {
		t.Errorf("Active() after Unbind() = %v, want nil", got)
	}
}

func TestRegistry_UnbindHandleSkipsSuccessor(t *testing.T) {
	reg := NewRegistry()
	first := &fakeHandle{}
	second := &fakeHandle{}

	reg.Bind("s1", KindStream, first)
	reg.Bind("s1", KindStream, second) // evicts first

	// The evicted handle's deferred unbind must not touch the successor.
	reg.UnbindHandle("s1", KindStream, first)

	if second.closed.Load() {
		t.Error("UnbindHandle() closed the successor binding")
	}
	if got := reg.Active("s1", KindStream); got != second {
		t.Errorf("Active() = %v, want successor handle", got)
	}

	reg.UnbindHandle("s1", KindStream, second)
	if !second.closed.Load() {
		t.Error("UnbindHandle() did not close the bound handle")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestRegistry_CloseSession(t *testing.T) {
	reg := NewRegistry()
	stream := &fakeHandle{}
	pipe := &fakeHandle{}
	other := &fakeHandle{}

	reg.Bind("s1", KindStream, stream)
	reg.Bind("s1", KindPipe, pipe)
	reg.Bind("s2", KindStream, other)

	reg.CloseSession("s1")

	if !stream.closed.Load() || !pipe.closed.Load() {
		t.Error("CloseSession() left handles open")
	}
	if other.closed.Load() {
		t.Error("CloseSession() closed another session's handle")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := NewRegistry()
	handles := []*fakeHandle{{}, {}, {}}
	reg.Bind("s1", KindStream, handles[0])
	reg.Bind("s2", KindStream, handles[1])
	reg.Bind("s3", KindPipe, handles[2])

	reg.CloseAll()

	for i, h := range handles {
		if !h.closed.Load() {
			t.Errorf("handle %d not closed by CloseAll()", i)
		}
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestRegistry_ChangeHookTracksGauge(t *testing.T) {
	var streams atomic.Int64
	reg := NewRegistry(WithChangeHook(func(kind Kind, delta int) {
		if kind == KindStream {
			streams.Add(int64(delta))
		}
	}))

	reg.Bind("s1", KindStream, &fakeHandle{})
	reg.Bind("s1", KindStream, &fakeHandle{}) // eviction: count unchanged
	reg.Bind("s2", KindStream, &fakeHandle{})
	reg.Unbind("s1", KindStream)

	if got := streams.Load(); got != 1 {
		t.Errorf("stream gauge = %d, want 1", got)
	}
}

func TestRegistry_ConcurrentBindUnbind(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Bind("shared", KindStream, &fakeHandle{})
				reg.Unbind("shared", KindStream)
			}
		}()
	}
	wg.Wait()

	if got := reg.Active("shared", KindStream); got != nil {
		reg.Unbind("shared", KindStream)
	}
}
