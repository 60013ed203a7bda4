//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package greenrt

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable netPoller for BSD-family platforms without
// epoll, using poll(2) directly via golang.org/x/sys/unix. Linux gets the
// faster epollPoller in poller_linux.go; this is the fallback gaio itself
// reaches for on the same set of platforms (see its build tags).
type pollPoller struct {
	mu  sync.Mutex
	fds map[int]pollEvents
}

func newNetPoller() (netPoller, error) {
	return &pollPoller{fds: make(map[int]pollEvents)}, nil
}

func (p *pollPoller) register(fd int, events pollEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = events
	return nil
}

func (p *pollPoller) modify(fd int, events pollEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = events
	return nil
}

func (p *pollPoller) unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func (p *pollPoller) wait(timeout time.Duration) ([]readyFD, error) {
	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.fds))
	order := make([]int, 0, len(p.fds))
	for fd, events := range p.fds {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(events)})
		order = append(order, fd)
	}
	p.mu.Unlock()

	if len(fds) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}

	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]readyFD, 0, n)
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		ready = append(ready, readyFD{fd: order[i], events: fromPollEvents(pfd.Revents)})
	}
	return ready, nil
}

func (p *pollPoller) Close() error { return nil }

func toPollEvents(events pollEvents) int16 {
	var e int16
	if events&pollRead != 0 {
		e |= unix.POLLIN
	}
	if events&pollWrite != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func fromPollEvents(e int16) pollEvents {
	var events pollEvents
	if e&unix.POLLIN != 0 {
		events |= pollRead
	}
	if e&unix.POLLOUT != 0 {
		events |= pollWrite
	}
	if e&unix.POLLERR != 0 {
		events |= pollError
	}
	if e&unix.POLLHUP != 0 {
		events |= pollHangup
	}
	return events
}
