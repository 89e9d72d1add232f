// Package errors provides the structured error taxonomy for broker and
// agent-runtime failures.
//
// Every failure that crosses a component boundary carries an ErrorCode and a
// Category. The category drives retry decisions: transient errors (a broker
// that cannot be reached) may be retried with backoff, permanent errors (an
// unknown task type, a handler failure) surface as failed results, and fatal
// errors (initialization failure) terminate the agent instance.
//
// # Basic Usage
//
//	err := errors.BrokerUnavailable("dial redis", errors.WithCause(dialErr))
//	if errors.IsRetryable(err) {
//	    // back off and retry the poll
//	}
//
//	var fe *errors.Error
//	if errors.As(err, &fe) && fe.Code() == errors.CodeHandlerNotFound {
//	    // surface as a failed result, do not retry
//	}
//
// Errors serialize to JSON so failure detail can travel inside results.
package errors
