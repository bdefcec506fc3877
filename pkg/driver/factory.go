package driver

import "fmt"

// Factory creates an unstarted driver for a session.
type Factory interface {
	New(sessionID string, opts Options) (Driver, error)
}

type FactoryFunc func(sessionID string, opts Options) (Driver, error)

func (f FactoryFunc) New(sessionID string, opts Options) (Driver, error) {
	return f(sessionID, opts)
}

var inProcessKinds = map[string]bool{"chrome": true, "chromium": true, "edge": true}

// KindFactory picks the driver family from the requested browser kind.
// Kinds listed as sidecar kinds always go out of process, so a deployment
// can route chrome to a remote grid too. Unknown kinds fail as a driver
// start failure that also matches ErrUnsupportedBrowser.
type KindFactory struct {
	InProcess    Factory
	OutOfProcess Factory
	sidecarKinds map[string]bool
}

func NewKindFactory(inProcess, outOfProcess Factory, sidecarKinds []string) *KindFactory {
	kinds := make(map[string]bool, len(sidecarKinds))
	for _, k := range sidecarKinds {
		kinds[normalizeKind(k)] = true
	}
	return &KindFactory{InProcess: inProcess, OutOfProcess: outOfProcess, sidecarKinds: kinds}
}

func (f *KindFactory) New(sessionID string, opts Options) (Driver, error) {
	kind := normalizeKind(opts.Kind)
	opts.Kind = kind
	switch {
	case f.sidecarKinds[kind]:
		if f.OutOfProcess == nil {
			return nil, newError("create", ErrSidecarUnavailable, fmt.Errorf("no sidecar configured for %q", kind))
		}
		return f.OutOfProcess.New(sessionID, opts)
	case inProcessKinds[kind]:
		if f.InProcess == nil {
			return nil, newError("create", ErrDriverStart, fmt.Errorf("%w: in-process drivers disabled for %q", ErrUnsupportedBrowser, kind))
		}
		return f.InProcess.New(sessionID, opts)
	default:
		return nil, newError("create", ErrDriverStart, fmt.Errorf("%w: %q", ErrUnsupportedBrowser, kind))
	}
}
