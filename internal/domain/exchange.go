package domain

import (
	"sync/atomic"
	"time"
)

// AttachmentKey identifies a typed value attached to an Exchange.
// Keys are compared by identity, so two handlers can only share an
// attachment by sharing the key value itself.
type AttachmentKey struct {
	name string
}

// NewAttachmentKey creates a new attachment key with a diagnostic name
func NewAttachmentKey(name string) *AttachmentKey {
	return &AttachmentKey{name: name}
}

// String returns the diagnostic name of the key
func (k *AttachmentKey) String() string {
	return k.name
}

// Well-known attachment keys used by the core handlers.
var (
	// RequestKey holds the transport's request view.
	RequestKey = NewAttachmentKey("ingate.request")
	// ResponseKey holds the transport's response view.
	ResponseKey = NewAttachmentKey("ingate.response")
	// AsyncSupportedKey is set to false before invoking a unit that
	// does not support asynchronous continuation.
	AsyncSupportedKey = NewAttachmentKey("ingate.async_supported")
)

// NextListener is the continuation capability handed to a completion
// listener. A listener that does not call Proceed short-circuits the
// remaining listeners.
type NextListener interface {
	Proceed()
}

// CompletionListener is notified exactly once when an exchange
// completes. Listeners run in registration order; each must call
// next.Proceed() to pass control to the following listener.
type CompletionListener interface {
	OnComplete(exchange *Exchange, next NextListener)
}

// CompletionListenerFunc adapts a function to the CompletionListener
// interface
type CompletionListenerFunc func(exchange *Exchange, next NextListener)

// OnComplete implements CompletionListener
func (f CompletionListenerFunc) OnComplete(exchange *Exchange, next NextListener) {
	f(exchange, next)
}

// Exchange is the mutable record of one request/response cycle. It is
// owned exclusively by the goroutine currently processing it; during a
// queued hand-off ownership transfers wholesale to the Dispatcher, so
// none of the plain fields need locking. Only the completion flag is
// atomic, because completion may be signalled from a different
// goroutine than the one that parked the exchange.
type Exchange struct {
	attachments     map[*AttachmentKey]interface{}
	responseCode    int
	responseStarted bool
	listeners       []CompletionListener
	completed       atomic.Bool
	startTime       time.Time
}

// NewExchange creates an exchange for a newly arrived request
func NewExchange() *Exchange {
	return &Exchange{
		attachments:  make(map[*AttachmentKey]interface{}),
		responseCode: 200,
		startTime:    time.Now(),
	}
}

// PutAttachment stores a value under the given key, replacing any
// previous value
func (e *Exchange) PutAttachment(key *AttachmentKey, value interface{}) {
	e.attachments[key] = value
}

// Attachment returns the value stored under the given key, or nil
func (e *Exchange) Attachment(key *AttachmentKey) interface{} {
	return e.attachments[key]
}

// SetResponseCode sets the response status. It has no effect once the
// response has started.
func (e *Exchange) SetResponseCode(code int) {
	if e.responseStarted {
		return
	}
	e.responseCode = code
}

// ResponseCode returns the current response status
func (e *Exchange) ResponseCode() int {
	return e.responseCode
}

// StartResponse marks the response as started. Irreversible; the
// response code is frozen from this point on.
func (e *Exchange) StartResponse() {
	e.responseStarted = true
}

// ResponseStarted reports whether output has begun
func (e *Exchange) ResponseStarted() bool {
	return e.responseStarted
}

// StartTime returns the time the exchange was created
func (e *Exchange) StartTime() time.Time {
	return e.startTime
}

// AddCompletionListener registers a listener to be notified when the
// exchange completes. Listeners registered after completion are never
// invoked.
func (e *Exchange) AddCompletionListener(listener CompletionListener) {
	e.listeners = append(e.listeners, listener)
}

// Complete marks the exchange complete and runs the completion-listener
// chain. Only the first call has any effect; listeners run in
// registration order and each must explicitly proceed to the next.
func (e *Exchange) Complete() {
	if !e.completed.CompareAndSwap(false, true) {
		return
	}
	e.invokeListener(0)
}

// Completed reports whether the exchange has completed
func (e *Exchange) Completed() bool {
	return e.completed.Load()
}

func (e *Exchange) invokeListener(index int) {
	if index >= len(e.listeners) {
		return
	}
	e.listeners[index].OnComplete(e, &nextListener{exchange: e, index: index + 1})
}

// nextListener is the cursor-bound continuation passed to listener i,
// pointing at listener i+1
type nextListener struct {
	exchange *Exchange
	index    int
	done     atomic.Bool
}

// Proceed invokes the next completion listener. Calling it more than
// once is a no-op.
func (n *nextListener) Proceed() {
	if !n.done.CompareAndSwap(false, true) {
		return
	}
	n.exchange.invokeListener(n.index)
}
