//go:build linux

package greenrt

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is a netPoller backed by epoll(7), grounded on FastPoller in
// the eventloop package: direct EpollCreate1/EpollCtl/EpollWait calls behind
// a mutex guarding the registered-fd bookkeeping, rather than a generic
// reactor abstraction.
type epollPoller struct {
	epfd int

	mu  sync.Mutex
	fds map[int]pollEvents

	eventBuf []unix.EpollEvent
}

func newNetPoller() (netPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd:     epfd,
		fds:      make(map[int]pollEvents),
		eventBuf: make([]unix.EpollEvent, 256),
	}, nil
}

func (p *epollPoller) register(fd int, events pollEvents) error {
	p.mu.Lock()
	p.fds[fd] = events
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) modify(fd int, events pollEvents) error {
	p.mu.Lock()
	p.fds[fd] = events
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) unregister(fd int) error {
	p.mu.Lock()
	delete(p.fds, fd)
	p.mu.Unlock()

	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeout time.Duration) ([]readyFD, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	ready := make([]readyFD, 0, n)
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		ready = append(ready, readyFD{fd: int(ev.Fd), events: fromEpollEvents(ev.Events)})
	}
	return ready, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func toEpollEvents(events pollEvents) uint32 {
	var e uint32
	if events&pollRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&pollWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(e uint32) pollEvents {
	var events pollEvents
	if e&unix.EPOLLIN != 0 {
		events |= pollRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= pollWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= pollError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= pollHangup
	}
	return events
}
