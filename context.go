package greenrt

import "context"

// fiberBinding attaches a fiber's runtime and slot to a context.Context, so
// that blocking API calls (ReadFile, ListenTCP, WaitProgram, ...) can find
// their own continuation without threading a *fiberSlot through every
// signature. Every fiber routine receives such a context as its first
// argument; calling a blocking API with any other context returns
// ErrNotAFiber.
type fiberCtxKey struct{}

type fiberBinding struct {
	rt   *Runtime
	slot *fiberSlot
}

func withFiber(parent context.Context, rt *Runtime, slot *fiberSlot) context.Context {
	return context.WithValue(parent, fiberCtxKey{}, &fiberBinding{rt: rt, slot: slot})
}

func fiberFromContext(ctx context.Context) (*Runtime, *fiberSlot, bool) {
	b, ok := ctx.Value(fiberCtxKey{}).(*fiberBinding)
	if !ok || b == nil {
		return nil, nil, false
	}
	return b.rt, b.slot, true
}
