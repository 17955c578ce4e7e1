package shmuring

import (
	"context"
	"runtime"
	"time"

	"github.com/shmuring/shmuring/internal/addrspan"
	"github.com/shmuring/shmuring/internal/driver"
	"github.com/shmuring/shmuring/internal/logging"
	"github.com/shmuring/shmuring/internal/pbox"
	"github.com/shmuring/shmuring/internal/token"
)

// Client is the submitter side of a Region: it stages a request payload
// in the arena, registers a waiter in the op-cache, and pushes a
// correlation-tagged token into the submission ring. A single goroutine
// (started by NewClient) drains the completion ring and resolves
// whichever op each completion's correlation id names.
type Client struct {
	region   *Region
	ops      *driver.Pool[[]byte]
	stop     chan struct{}
	observer Observer
}

// NewClient wires a Client to an already-open Region and starts its
// completion-drain loop. Submit events are reported to the Region's
// Metrics (via MetricsObserver) until SetObserver replaces it.
func NewClient(region *Region, opCacheCapacity uint32) *Client {
	if opCacheCapacity == 0 {
		opCacheCapacity = DefaultRegistryCapacity
	}
	c := &Client{
		region:   region,
		ops:      driver.NewPool[[]byte](opCacheCapacity),
		stop:     make(chan struct{}),
		observer: MetricsObserver{M: region.Metrics()},
	}
	go c.completerLoop()
	return c
}

// SetObserver wires an Observer to receive submit/queue-depth events.
func (c *Client) SetObserver(o Observer) {
	if o == nil {
		o = NoOpObserver{}
	}
	c.observer = o
}

// Close stops the completer loop. It does not close the underlying
// Region; callers own that separately.
func (c *Client) Close() {
	close(c.stop)
}

// Submit allocates req from the arena, registers a waiter, tags a token
// with the waiter's correlation id, and pushes it into the submission
// ring. It blocks (via ctx) until a matching response arrives on the
// completion ring.
func (c *Client) Submit(ctx context.Context, req []byte) ([]byte, error) {
	start := time.Now()
	alloc := allocatorFor(c.region)

	boxed, err := pbox.CopyFromSlice[byte](alloc, req)
	if err != nil {
		c.observer.ObserveSubmit(uint64(len(req)), 0, 0, false)
		return nil, WrapError("Submit", err)
	}

	driverID, ok := c.ops.Register()
	if !ok {
		boxed.Release()
		c.region.metrics.RecordOpCacheExhausted()
		c.observer.ObserveSubmit(uint64(len(req)), 0, 0, false)
		return nil, NewError("Submit", CodeFull, "op-cache exhausted")
	}

	tok, _ := pbox.IntoToken[byte](boxed)
	packed := wireMsg{Header: encodeCorrelation(driverID), Body: tok}

	if err := c.region.sq.Push(packed); err != nil {
		c.ops.Cancel(driverID)
		c.observer.ObserveSubmit(uint64(len(req)), 0, 0, false)
		return nil, WrapError("Submit", err)
	}

	resp, err := c.ops.Wait(driverID).Wait(ctx)
	if err != nil {
		c.observer.ObserveSubmit(uint64(len(req)), 0, 0, false)
		return nil, WrapError("Submit", err)
	}
	c.observer.ObserveSubmit(uint64(len(req)), uint64(len(resp)), uint64(time.Since(start)), true)
	return resp, nil
}

func encodeCorrelation(id driver.Id) token.Id {
	return token.Id{Value: uint64(id.Idx)<<32 | uint64(id.Generation)}
}

func decodeCorrelation(id token.Id) driver.Id {
	return driver.Id{Idx: uint32(id.Value >> 32), Generation: uint32(id.Value)}
}

func (c *Client) completerLoop() {
	logger := logging.Default()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		msg, ok, err := c.region.cq.TryPop()
		if err != nil {
			logger.Debug("client completer loop exiting", "reason", err)
			return
		}
		if !ok {
			runtime.Gosched()
			continue
		}

		alloc := allocatorFor(c.region)
		box := pbox.FromToken[byte](msg.Body, alloc)
		data := append([]byte(nil), boxBytes(box, alloc)...)
		box.Release()

		c.ops.Complete(decodeCorrelation(msg.Header), data, nil)
	}
}

// boxBytes resolves a byte PBox's underlying span to a local slice via
// the allocator it was reconstructed from, without exposing pbox's
// internal pointer machinery.
func boxBytes(b pbox.PBox[byte], alloc pbox.Allocator) []byte {
	tok, _ := pbox.IntoToken[byte](b)
	span := tok.Span()
	return alloc.Bytes(addrspan.Span{StartOffset: span.StartOffset, Size: span.Size})
}
