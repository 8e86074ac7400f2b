package corelink

import "errors"

// Domain errors for the controller link package.
var (
	// ErrCertificateSetup is returned from NewConnection when the embedded
	// trust certificates cannot be parsed. Construction-time and fatal;
	// trust setup is never retried.
	ErrCertificateSetup = errors.New("corelink: certificate setup failed")

	// ErrConnect is returned when a connect attempt fails at the transport
	// level, or when the controller refuses the public slot's session.
	ErrConnect = errors.New("corelink: connect failed")

	// ErrAuthentication is returned when the controller refuses the
	// profile slot's credentials.
	ErrAuthentication = errors.New("corelink: authentication refused")

	// ErrConnectTimeout is returned when the connect handshake does not
	// complete within the bounded wait.
	ErrConnectTimeout = errors.New("corelink: connect timed out")

	// ErrConnectAborted is returned when a bounded wait is interrupted by
	// context cancellation before the handshake resolves.
	ErrConnectAborted = errors.New("corelink: connect aborted")

	// ErrEndpointNotSet is returned when a profile start is attempted
	// before any public start has recorded the controller endpoint.
	ErrEndpointNotSet = errors.New("corelink: controller endpoint not set")

	// ErrNoSession is returned when a publish targets a slot with no
	// active session.
	ErrNoSession = errors.New("corelink: no active session")

	// ErrWaitTimeout is returned by Future.Await when the result does not
	// resolve within the given timeout.
	ErrWaitTimeout = errors.New("corelink: wait timed out")
)
