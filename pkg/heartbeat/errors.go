package heartbeat

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrPeerUnreachable marks transport failures that mean the other side is gone.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrShuttingDown is returned by the alive handler once the receiver left Running.
	ErrShuttingDown = errors.New("receiver shutting down")

	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrShutdownTimeout means in-flight calls did not drain within the grace period.
	ErrShutdownTimeout = errors.New("shutdown grace period exceeded")
	// ErrAlreadyRunning is returned by a second Receiver.Run.
	ErrAlreadyRunning = errors.New("receiver already running")
)

// IsPeerUnreachable reports whether err is a connection-class failure:
// refused, reset, aborted, closed by the peer, any net.OpError, or an
// expired call deadline.
func IsPeerUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPeerUnreachable) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
