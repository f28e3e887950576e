// Package retry provides exponential backoff retry logic for transient failures.
//
// Do and DoWithResult run a function until it succeeds, the attempts run out
// or the context ends. DoTransient additionally stops at the first error that
// is not classified as transient by the errors package, which is how the
// engine retries source reads.
//
// Loops that retry forever, such as task instance restarts, use a Backoff
// directly:
//
//	b, _ := retry.NewBackoff(retry.Quick())
//	for {
//	    if err := restart(); err == nil {
//	        b.Reset()
//	        break
//	    }
//	    if err := retry.Sleep(ctx, b.Next()); err != nil {
//	        return err
//	    }
//	}
//
// Presets: DefaultConfig (3 attempts, 100ms-5s), Quick (10 attempts,
// 50ms-1s) and Persistent (30 attempts, 200ms-10s).
package retry
