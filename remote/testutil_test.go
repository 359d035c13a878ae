package remote

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/momentics/hioload-remote/api"
	"github.com/momentics/hioload-remote/protocol"
)

// Test message catalog, mirroring a minimal login exchange.

type login2Gate struct {
	Acct string `json:"acct"`
	Pwd  string `json:"pwd"`
}

type login2GateResult struct {
	IsSuccess bool `json:"isSuccess"`
}

type chatNotify struct {
	Text string `json:"text"`
	Seq  int    `json:"seq"`
}

func encJSON[T any](msg *T, dst []byte) (int, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	return copy(dst, b), nil
}

func decJSON[T any](body []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func testLUT() *protocol.LUT {
	lut := protocol.NewLUT()
	must(protocol.RegisterMessage(lut, 101, encJSON[login2Gate], decJSON[login2Gate]))
	must(protocol.RegisterMessage(lut, 102, encJSON[login2GateResult], decJSON[login2GateResult]))
	must(protocol.RegisterMessage(lut, 999, encJSON[chatNotify], decJSON[chatNotify]))
	return lut
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// drainDriver pumps a transducer from a background goroutine, standing
// in for the host application's tick loop.
type drainDriver struct {
	td   *Transducer
	stop chan struct{}
	wg   sync.WaitGroup
}

func startDrain(td *Transducer) *drainDriver {
	d := &drainDriver{td: td, stop: make(chan struct{})}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				d.td.Drain(256)
			case <-d.stop:
				d.td.Drain(0)
				return
			}
		}
	}()
	return d
}

func (d *drainDriver) Close() {
	close(d.stop)
	d.wg.Wait()
}

// replyReceiver answers every login request with the given result.
type replyReceiver struct {
	result *login2GateResult
}

func (r *replyReceiver) DealMessage(_ api.Session, msg any) (any, error) {
	if _, ok := msg.(*login2Gate); ok && r.result != nil {
		res := *r.result
		return &res, nil
	}
	return nil, nil
}

// silentReceiver never replies.
type silentReceiver struct{}

func (silentReceiver) DealMessage(api.Session, any) (any, error) { return nil, nil }
