package remote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-remote/api"
)

// startTCPServer runs an accept loop installing r on every session.
func startTCPServer(t *testing.T, r api.Receiver, opts ...Option) (*TCPListener, func()) {
	t.Helper()
	l, err := Listen("127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			s, err := l.Accept()
			if err != nil {
				return
			}
			s.SetReceiver(r)
			s.Start()
		}
	}()
	return l, func() {
		_ = l.Close()
		wg.Wait()
	}
}

func TestBasicRPC(t *testing.T) {
	lut := testLUT()
	td := NewTransducer(0)
	opts := []Option{WithLUT(lut), WithTransducer(td)}
	drv := startDrain(td)
	defer drv.Close()

	l, stop := startTCPServer(t, &replyReceiver{result: &login2GateResult{IsSuccess: true}}, opts...)
	defer stop()

	c, err := Dial(l.Addr().String(), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Disconnect()

	fut := c.RPCSend(&login2Gate{Acct: "u", Pwd: "p"}, &login2GateResult{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := fut.Await(ctx)
	if err != nil {
		t.Fatalf("rpc failed: %v", err)
	}
	res, ok := v.(*login2GateResult)
	if !ok || !res.IsSuccess {
		t.Fatalf("result = %#v", v)
	}
	if c.PendingRPCs() != 0 {
		t.Fatalf("pending rpcs = %d, want 0", c.PendingRPCs())
	}
	if c.LastRecvTime().IsZero() {
		t.Fatal("lastRecvTime not updated")
	}
}

func TestRPCTimeout(t *testing.T) {
	lut := testLUT()
	td := NewTransducer(0)
	opts := []Option{WithLUT(lut), WithTransducer(td)}
	drv := startDrain(td)
	defer drv.Close()

	l, stop := startTCPServer(t, silentReceiver{}, opts...)
	defer stop()

	c, err := Dial(l.Addr().String(), append(opts, WithRPCTimeout(50*time.Millisecond))...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Disconnect()

	start := time.Now()
	fut := c.RPCSend(&login2Gate{Acct: "u"}, &login2GateResult{})
	_, err = fut.Result()
	if !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if d := time.Since(start); d < 40*time.Millisecond || d > 500*time.Millisecond {
		t.Fatalf("timeout fired after %v", d)
	}
	if c.PendingRPCs() != 0 {
		t.Fatalf("pending rpcs = %d, want 0", c.PendingRPCs())
	}
}

func TestRPCTypeMismatch(t *testing.T) {
	lut := testLUT()
	td := NewTransducer(0)
	opts := []Option{WithLUT(lut), WithTransducer(td)}
	drv := startDrain(td)
	defer drv.Close()

	wrongReply := api.ReceiverFunc(func(_ api.Session, msg any) (any, error) {
		if _, ok := msg.(*login2Gate); ok {
			return &chatNotify{Text: "unexpected"}, nil
		}
		return nil, nil
	})
	l, stop := startTCPServer(t, wrongReply, opts...)
	defer stop()

	c, err := Dial(l.Addr().String(), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Disconnect()

	fut := c.RPCSend(&login2Gate{Acct: "u"}, &login2GateResult{})
	if _, err := fut.Result(); !errors.Is(err, api.ErrTypeMismatch) {
		t.Fatalf("err = %v, want ErrTypeMismatch", err)
	}
}

func TestDisconnectDrainsRPCs(t *testing.T) {
	lut := testLUT()
	td := NewTransducer(0)
	opts := []Option{WithLUT(lut), WithTransducer(td)}
	drv := startDrain(td)
	defer drv.Close()

	l, stop := startTCPServer(t, silentReceiver{}, opts...)
	defer stop()

	c, err := Dial(l.Addr().String(), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	var disconnectFired atomic.Bool
	c.OnDisconnect(func(error) { disconnectFired.Store(true) })

	futs := []*Future{
		c.RPCSend(&login2Gate{Acct: "a"}, &login2GateResult{}),
		c.RPCSend(&login2Gate{Acct: "b"}, &login2GateResult{}),
		c.RPCSend(&login2Gate{Acct: "c"}, &login2GateResult{}),
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	for i, fut := range futs {
		if _, err := fut.Result(); !errors.Is(err, api.ErrDisconnected) {
			t.Fatalf("future %d err = %v, want ErrDisconnected", i, err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if disconnectFired.Load() {
		t.Fatal("onDisconnect fired on user-initiated disconnect")
	}
	if c.Valid() {
		t.Fatal("session still valid after disconnect")
	}
}

func TestSendOrderingPerSession(t *testing.T) {
	lut := testLUT()
	td := NewTransducer(8) // tiny ring exercises overflow under load
	opts := []Option{WithLUT(lut), WithTransducer(td)}
	drv := startDrain(td)
	defer drv.Close()

	col := &orderCollector{}
	l, stop := startTCPServer(t, col, opts...)
	defer stop()

	c, err := Dial(l.Addr().String(), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Disconnect()

	const total = 200
	for i := 0; i < total; i++ {
		if err := c.Send(&chatNotify{Seq: i}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		col.mu.Lock()
		got := len(col.seqs)
		col.mu.Unlock()
		if got == total {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d/%d messages", got, total)
		}
		time.Sleep(time.Millisecond)
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	for i, seq := range col.seqs {
		if seq != i {
			t.Fatalf("order broken at %d: got seq %d", i, seq)
		}
	}
}

func TestLazyRPCSendSuccessAndFailure(t *testing.T) {
	lut := testLUT()
	td := NewTransducer(0)
	opts := []Option{WithLUT(lut), WithTransducer(td)}
	drv := startDrain(td)
	defer drv.Close()

	l, stop := startTCPServer(t, &replyReceiver{result: &login2GateResult{IsSuccess: true}}, opts...)
	defer stop()

	c, err := Dial(l.Addr().String(), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	got := make(chan any, 1)
	c.LazyRPCSend(&login2Gate{Acct: "u"}, &login2GateResult{},
		func(v any) { got <- v },
		func(e error) { t.Errorf("unexpected onErr: %v", e) })
	select {
	case v := <-got:
		if res, ok := v.(*login2GateResult); !ok || !res.IsSuccess {
			t.Fatalf("lazy result = %#v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lazy rpc did not complete")
	}

	// After disconnect the continuation must not run; onErr must.
	_ = c.Disconnect()
	errCh := make(chan error, 1)
	c.LazyRPCSend(&login2Gate{Acct: "u"}, &login2GateResult{},
		func(any) { t.Error("continuation ran after disconnect") },
		func(e error) { errCh <- e })
	select {
	case e := <-errCh:
		if !errors.Is(e, api.ErrDisconnected) {
			t.Fatalf("onErr got %v, want ErrDisconnected", e)
		}
	case <-time.After(time.Second):
		t.Fatal("onErr not invoked")
	}
}

func TestSendUnknownType(t *testing.T) {
	lut := testLUT()
	td := NewTransducer(0)
	opts := []Option{WithLUT(lut), WithTransducer(td)}

	l, stop := startTCPServer(t, silentReceiver{}, opts...)
	defer stop()

	c, err := Dial(l.Addr().String(), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Disconnect()

	type unregistered struct{ X int }
	if err := c.Send(&unregistered{X: 1}); !errors.Is(err, api.ErrUnknownMessageType) {
		t.Fatalf("err = %v, want ErrUnknownMessageType", err)
	}
}

func TestSessionIdentityUnique(t *testing.T) {
	o := DefaultOptions()
	a := newSession(o)
	b := newSession(o)
	if a.ID() == b.ID() {
		t.Fatalf("duplicate session ids: %d", a.ID())
	}
}
