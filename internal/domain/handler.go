package domain

// Handler is a composable unit of request processing. A handler either
// completes the exchange, forwards it to a downstream handler, or parks
// it for later resumption on another goroutine. Process is invoked
// synchronously by whatever currently owns the exchange; it must never
// re-enter itself transitively for the same exchange without an
// intervening async boundary.
//
// Errors returned from Process are invocation failures that this core
// does not classify; they propagate to the transport layer.
type Handler interface {
	Process(exchange *Exchange) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(exchange *Exchange) error

// Process implements Handler
func (f HandlerFunc) Process(exchange *Exchange) error {
	return f(exchange)
}

// Dispatcher schedules a queued exchange's resumed processing onto a
// worker execution context. Submit must not run the task inline on the
// calling goroutine, or draining a deep wait queue would grow the call
// stack without bound.
type Dispatcher interface {
	Submit(task func())
}

// ResponseCodeHandler is a terminal responder that sets a fixed status
// and completes the exchange
type ResponseCodeHandler struct {
	code int
}

// NewResponseCodeHandler creates a terminal responder for the given
// status code
func NewResponseCodeHandler(code int) *ResponseCodeHandler {
	return &ResponseCodeHandler{code: code}
}

// Process implements Handler
func (h *ResponseCodeHandler) Process(exchange *Exchange) error {
	exchange.SetResponseCode(h.code)
	exchange.Complete()
	return nil
}

// NotFoundHandler is the default terminal responder
var NotFoundHandler = NewResponseCodeHandler(404)
