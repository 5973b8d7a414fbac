// Package stream implements the multi-consumer, late-joining buffered
// async stream used to deliver events and query results to subscribers
// without loss (spec §4.8).
package stream

import (
	"errors"
	"sync"
	"time"
)

// ErrTimeout and ErrEnd are the rejection reasons for Next (spec §7
// "Timeout / End").
var (
	ErrTimeout = errors.New("stream: timeout")
	ErrEnd     = errors.New("stream: end")
)

// Source is implemented by anything a BufferedAsyncStream can consume:
// a retained buffer plus new-item/end subscription (spec §4.8 "source").
type Source interface {
	Current() []any
	SubscribeNewItem(func(any)) (unsubscribe func())
	SubscribeEnd(func()) (unsubscribe func())
}

// BufferingAsyncStreamSource retains up to maxBufferSize items (FIFO,
// drop oldest) and fans them out to subscribers as they're ingested
// (spec §4.8 "source").
type BufferingAsyncStreamSource struct {
	mu            sync.Mutex
	maxBufferSize int
	buffer        []any
	ended         bool

	itemSinks map[int]func(any)
	endSinks  map[int]func()
	nextID    int
}

// NewBufferingAsyncStreamSource returns an empty source retaining at
// most maxBufferSize items.
func NewBufferingAsyncStreamSource(maxBufferSize int) *BufferingAsyncStreamSource {
	return &BufferingAsyncStreamSource{
		maxBufferSize: maxBufferSize,
		itemSinks:     make(map[int]func(any)),
		endSinks:      make(map[int]func()),
	}
}

// Ingest appends item to the buffer (dropping the oldest if full) and
// notifies every current subscriber.
func (s *BufferingAsyncStreamSource) Ingest(item any) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.buffer = append(s.buffer, item)
	if s.maxBufferSize > 0 && len(s.buffer) > s.maxBufferSize {
		s.buffer = s.buffer[len(s.buffer)-s.maxBufferSize:]
	}
	sinks := make([]func(any), 0, len(s.itemSinks))
	for _, fn := range s.itemSinks {
		sinks = append(sinks, fn)
	}
	s.mu.Unlock()

	for _, fn := range sinks {
		fn(item)
	}
}

// End marks the source as finished; no further items may be ingested
// and every subscriber is notified once.
func (s *BufferingAsyncStreamSource) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	sinks := make([]func(), 0, len(s.endSinks))
	for _, fn := range s.endSinks {
		sinks = append(sinks, fn)
	}
	s.mu.Unlock()

	for _, fn := range sinks {
		fn()
	}
}

// Current returns a snapshot of the retained buffer, oldest first.
func (s *BufferingAsyncStreamSource) Current() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any{}, s.buffer...)
}

// SubscribeNewItem registers fn for every item ingested after the call.
func (s *BufferingAsyncStreamSource) SubscribeNewItem(fn func(any)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.itemSinks[id] = fn
	alreadyEnded := s.ended
	s.mu.Unlock()
	if alreadyEnded {
		return func() {}
	}
	return func() {
		s.mu.Lock()
		delete(s.itemSinks, id)
		s.mu.Unlock()
	}
}

// SubscribeEnd registers fn to fire once, when End is called.
func (s *BufferingAsyncStreamSource) SubscribeEnd(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.ended {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	s.endSinks[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.endSinks, id)
		s.mu.Unlock()
	}
}

// FilteredAsyncStreamSource wraps an upstream Source and forwards only
// items matching predicate, subscribing upstream only while it has its
// own downstream subscribers (spec §4.8 "A filtered source").
type FilteredAsyncStreamSource struct {
	mu        sync.Mutex
	upstream  Source
	predicate func(any) bool

	upstreamUnsub    func()
	upstreamEndUnsub func()
	subscriberCount  int

	itemSinks map[int]func(any)
	endSinks  map[int]func()
	nextID    int
	ended     bool
}

// NewFilteredAsyncStreamSource wraps upstream, forwarding only items
// for which predicate returns true.
func NewFilteredAsyncStreamSource(upstream Source, predicate func(any) bool) *FilteredAsyncStreamSource {
	return &FilteredAsyncStreamSource{
		upstream:  upstream,
		predicate: predicate,
		itemSinks: make(map[int]func(any)),
		endSinks:  make(map[int]func()),
	}
}

func (f *FilteredAsyncStreamSource) Current() []any {
	var out []any
	for _, item := range f.upstream.Current() {
		if f.predicate(item) {
			out = append(out, item)
		}
	}
	return out
}

func (f *FilteredAsyncStreamSource) SubscribeNewItem(fn func(any)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.itemSinks[id] = fn
	f.subscriberCount++
	if f.subscriberCount == 1 {
		f.upstreamUnsub = f.upstream.SubscribeNewItem(f.onUpstreamItem)
	}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.itemSinks[id]; !ok {
			return
		}
		delete(f.itemSinks, id)
		f.subscriberCount--
		if f.subscriberCount == 0 && f.upstreamUnsub != nil {
			f.upstreamUnsub()
			f.upstreamUnsub = nil
		}
	}
}

func (f *FilteredAsyncStreamSource) onUpstreamItem(item any) {
	if !f.predicate(item) {
		return
	}
	f.mu.Lock()
	sinks := make([]func(any), 0, len(f.itemSinks))
	for _, fn := range f.itemSinks {
		sinks = append(sinks, fn)
	}
	f.mu.Unlock()
	for _, fn := range sinks {
		fn(item)
	}
}

func (f *FilteredAsyncStreamSource) SubscribeEnd(fn func()) func() {
	f.mu.Lock()
	if f.ended {
		f.mu.Unlock()
		fn()
		return func() {}
	}
	id := f.nextID
	f.nextID++
	f.endSinks[id] = fn
	if f.upstreamEndUnsub == nil {
		f.upstreamEndUnsub = f.upstream.SubscribeEnd(f.onUpstreamEnd)
	}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.endSinks, id)
		f.mu.Unlock()
	}
}

func (f *FilteredAsyncStreamSource) onUpstreamEnd() {
	f.mu.Lock()
	f.ended = true
	sinks := make([]func(), 0, len(f.endSinks))
	for _, fn := range f.endSinks {
		sinks = append(sinks, fn)
	}
	f.mu.Unlock()
	for _, fn := range sinks {
		fn()
	}
}

// BufferedAsyncStream is a single consumer attached to a Source: it
// snapshots the source's buffer at construction, then delivers every
// subsequently ingested item with no loss (spec §4.8, §8 invariant 9).
type BufferedAsyncStream struct {
	mu     sync.Mutex
	queue  []any
	waitCh chan struct{}
	ended  bool

	unsubItem func()
	unsubEnd  func()
}

// NewBufferedAsyncStream snapshots source's current buffer and
// subscribes to further items.
func NewBufferedAsyncStream(source Source) *BufferedAsyncStream {
	c := &BufferedAsyncStream{
		queue:  append([]any{}, source.Current()...),
		waitCh: make(chan struct{}),
	}
	c.unsubItem = source.SubscribeNewItem(c.push)
	c.unsubEnd = source.SubscribeEnd(c.markEnd)
	return c
}

func (c *BufferedAsyncStream) push(item any) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, item)
	ch := c.waitCh
	c.waitCh = make(chan struct{})
	c.mu.Unlock()
	close(ch)
}

func (c *BufferedAsyncStream) markEnd() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	ch := c.waitCh
	c.mu.Unlock()
	close(ch)
}

// Next resolves with the next element, or rejects with ErrTimeout (if
// timeout > 0 elapses first) or ErrEnd (if the source ended with
// nothing left to deliver). timeout <= 0 means wait indefinitely.
func (c *BufferedAsyncStream) Next(timeout time.Duration) (any, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			item := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return item, nil
		}
		if c.ended {
			c.mu.Unlock()
			return nil, ErrEnd
		}
		ch := c.waitCh
		c.mu.Unlock()

		if timeout <= 0 {
			<-ch
			continue
		}
		timer := time.NewTimer(timeout)
		select {
		case <-ch:
			timer.Stop()
			continue
		case <-timer.C:
			return nil, ErrTimeout
		}
	}
}

// NextIfAvailable is a synchronous, non-blocking take: it returns
// (item, true) if one is queued, else (nil, false).
func (c *BufferedAsyncStream) NextIfAvailable() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	item := c.queue[0]
	c.queue = c.queue[1:]
	return item, true
}

// CountAvailableItems returns the number of items currently queued.
func (c *BufferedAsyncStream) CountAvailableItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// AtEnd reports whether the source has ended and every queued item has
// already been consumed.
func (c *BufferedAsyncStream) AtEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended && len(c.queue) == 0
}

// Close detaches the consumer from its source; queued items already
// consumed are unaffected, but no further items will be delivered.
func (c *BufferedAsyncStream) Close() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	ch := c.waitCh
	c.mu.Unlock()
	if c.unsubItem != nil {
		c.unsubItem()
	}
	if c.unsubEnd != nil {
		c.unsubEnd()
	}
	close(ch)
}
