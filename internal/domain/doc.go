/*
Package domain contains the core entities of the request-processing
chain.

An Exchange is the mutable record of one request/response cycle. It
carries typed attachments, the response status, and an ordered chain of
completion listeners. Handlers compose into a singly-linked forward
chain; each handler either completes the exchange, forwards it, or
parks it for later resumption.

	exchange := domain.NewExchange()
	exchange.PutAttachment(domain.RequestKey, req)
	exchange.AddCompletionListener(domain.CompletionListenerFunc(
		func(ex *domain.Exchange, next domain.NextListener) {
			// bookkeeping, then opt in to the next listener
			next.Proceed()
		}))

Completion listeners run exactly once per exchange, in registration
order, and each must explicitly proceed to the next. A listener that
does not proceed vetoes the rest of the chain.

The Dispatcher interface is the execution context used to resume parked
exchanges on worker goroutines; it is supplied by the runtime, not this
package.
*/
package domain
