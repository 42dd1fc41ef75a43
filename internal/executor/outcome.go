package executor

import (
	"fmt"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type Kind int

const (
	Exited   Kind = iota // target returned from main or called exit
	Signaled             // target was terminated by an uncaught signal
	TimedOut             // target exceeded the budget and was killed
)

func (k Kind) String() string {
	switch k {
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome is the result of one execution of the target.
type Outcome struct {
	Kind     Kind
	ExitCode int            // valid when Kind == Exited
	Signal   syscall.Signal // valid when Kind == Signaled
	Duration time.Duration  // wall time from spawn to reap
}

func (o Outcome) String() string {
	switch o.Kind {
	case Exited:
		return fmt.Sprintf("exited(%d)", o.ExitCode)
	case Signaled:
		return fmt.Sprintf("signaled(%s)", SignalName(o.Signal))
	default:
		return o.Kind.String()
	}
}

// SignalPolicy decides which terminating signals count as crashes.
type SignalPolicy struct {
	signals map[syscall.Signal]struct{}
}

// NewSignalPolicy returns a policy treating sigs as crashes, or only SIGSEGV
// when sigs is empty.
func NewSignalPolicy(sigs ...syscall.Signal) *SignalPolicy {
	if len(sigs) == 0 {
		sigs = []syscall.Signal{syscall.SIGSEGV}
	}
	p := &SignalPolicy{make(map[syscall.Signal]struct{}, len(sigs))}
	for _, sig := range sigs {
		p.signals[sig] = struct{}{}
	}
	return p
}

// IsCrash reports whether o is a signal death the policy cares about. Normal
// exits and timeouts are never crashes.
func (p *SignalPolicy) IsCrash(o Outcome) bool {
	if o.Kind != Signaled {
		return false
	}
	_, ok := p.signals[o.Signal]
	return ok
}

func (p *SignalPolicy) Signals() []syscall.Signal {
	sigs := make([]syscall.Signal, 0, len(p.signals))
	for sig := range p.signals {
		sigs = append(sigs, sig)
	}
	slices.Sort(sigs)
	return sigs
}

// SignalName renders sig as "SIGSEGV", falling back to its number.
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}
