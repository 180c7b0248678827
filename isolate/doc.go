// Package isolate owns the process-wide engine instance and the calling
// convention for crossing into it.
//
// Init creates the single engine instance for the process and Shutdown
// tears it down; every boundary call in between goes through Call, the
// one choke point that implements the full protocol:
//
//	attach (unless ctx already carries a token)
//	  sync host log level to the engine
//	  allocate + clear the error signal slot
//	  invoke entry(token, args..., errPtr)
//	  read the error signal, copy + free the message if set
//	  fold in pending host-callback errors (host error wins)
//	  free the slot
//	detach (only if this call attached)
//
// Attachment is carried in the context: the outermost Call on a context
// attaches the goroutine and detaches on the way out, while nested calls
// made with the derived context borrow the token. This makes host
// callbacks that re-enter the boundary safe without thread-local state.
//
// Handle and Buffer are the two ownership carriers for engine-side
// resources. Handle reference-counts an opaque engine object and
// destroys it on the last release; Buffer tags an engine-allocated
// result with its layout kind so exactly the matching release entry
// point frees it, exactly once.
package isolate
