package errchain

import (
	"context"
	"io"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"syscall"
)

// Resolver maps one foreign error link to a kind.
// It must inspect only the link it is given, never its causes.
type Resolver func(err error) (Kind, bool)

var (
	resolvers   []Resolver
	resolversMu sync.RWMutex
)

// RegisterResolver adds a resolver consulted before the built-in table.
// Resolvers run in registration order; the first match wins.
func RegisterResolver(r Resolver) {
	if r == nil {
		return
	}
	resolversMu.Lock()
	defer resolversMu.Unlock()
	resolvers = append(resolvers, r)
}

// KindOf returns the kind of a single link. Errors that carry their own
// tag report it; stdlib errors are mapped through a fixed table; anything
// else is KindUnknown. KindOf returns "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	if tagged, ok := err.(interface{ Kind() Kind }); ok {
		return tagged.Kind()
	}

	resolversMu.RLock()
	custom := resolvers
	resolversMu.RUnlock()
	for _, r := range custom {
		if k, ok := r(err); ok {
			return k
		}
	}

	return builtinKind(err)
}

func builtinKind(err error) Kind {
	switch err {
	case io.EOF, io.ErrUnexpectedEOF, io.ErrClosedPipe, io.ErrShortWrite, os.ErrClosed, net.ErrClosed:
		return KindIO
	case context.Canceled:
		return KindInterrupted
	case context.DeadlineExceeded:
		return KindTimeout
	}

	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return KindTimeout
	}

	switch e := err.(type) {
	case syscall.Errno:
		switch e {
		case syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE:
			return KindConnectionReset
		case syscall.EINTR:
			return KindInterrupted
		}
	case runtime.Error:
		msg := e.Error()
		if strings.Contains(msg, "nil pointer dereference") || strings.Contains(msg, "nil map") {
			return KindNullReference
		}
	case *os.PathError, *os.LinkError, *os.SyscallError, *net.OpError:
		return KindIO
	}

	return KindUnknown
}
