// Package loop runs a repeatable unit of work on its own goroutine.
//
// Each iteration runs the body, drains actions queued with DoNext in FIFO
// order, then sleeps for the duration the body returned. A negative duration
// stops the loop after that iteration. Every channel's receive-dispatch cycle
// is a Loop.
package loop

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/rs/zerolog"
)

var ErrRunning = errors.New("loop: already running")

// Body runs one iteration and returns the sleep before the next.
type Body func() (time.Duration, error)

// ErrorHook recovers from a body error by returning the next sleep, or
// returns an error to hand it to the previously registered hook.
type ErrorHook func(err error) (time.Duration, error)

type Loop struct {
	name string
	body Body
	log  zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	onClose []func()
	onError []ErrorHook
	running bool
	stop    chan struct{}
	done    chan struct{}
	lastErr error
}

func New(name string, body Body) *Loop {
	return &Loop{
		name: name,
		body: body,
		log:  logging.Component("loop").With().Str("loop", name).Logger(),
	}
}

// Every builds a loop whose body always requests the same sleep.
func Every(name string, interval time.Duration, fn func() error) *Loop {
	return New(name, func() (time.Duration, error) {
		return interval, fn()
	})
}

func (l *Loop) Name() string { return l.name }

// Start launches the loop goroutine. A stopped loop may be started again.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("%w: %s", ErrRunning, l.name)
	}
	l.running = true
	l.lastErr = nil
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stop, l.done)
	l.log.Debug().Msgf("loop.Loop.Start name=%q", l.name)
	return nil
}

// Shutdown requests a stop before the next iteration. It does not wait.
func (l *Loop) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running || l.stop == nil {
		return
	}
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// Wait blocks until the loop goroutine and its close callbacks finish.
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Err returns the error that terminated the last run, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// DoNext queues fn to run after the current or next body invocation.
func (l *Loop) DoNext(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
}

// OnClose registers fn to run after the loop stops. Callbacks run in
// registration order.
func (l *Loop) OnClose(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.onClose = append(l.onClose, fn)
	l.mu.Unlock()
}

// OnError registers a recovery hook. The newest hook sees errors first.
func (l *Loop) OnError(hook ErrorHook) {
	if hook == nil {
		return
	}
	l.mu.Lock()
	l.onError = append(l.onError, hook)
	l.mu.Unlock()
}

func (l *Loop) run(stop, done chan struct{}) {
	var fatal error
	defer func() {
		l.mu.Lock()
		l.running = false
		l.lastErr = fatal
		callbacks := append([]func(){}, l.onClose...)
		l.mu.Unlock()
		for _, fn := range callbacks {
			l.safe("close", fn)
		}
		l.log.Debug().Err(fatal).Msgf("loop.Loop.run stopped name=%q", l.name)
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		sleep, err := l.invoke()
		if err != nil {
			sleep, err = l.handle(err)
			if err != nil {
				fatal = err
				l.drain()
				l.log.Error().Err(err).Msgf("loop.Loop.run unrecovered name=%q", l.name)
				return
			}
		}
		l.drain()

		if sleep < 0 {
			return
		}
		if sleep == 0 {
			continue
		}
		timer := time.NewTimer(sleep)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *Loop) invoke() (sleep time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop %s: panic: %v", l.name, r)
		}
	}()
	return l.body()
}

func (l *Loop) handle(err error) (time.Duration, error) {
	l.mu.Lock()
	hooks := append([]ErrorHook{}, l.onError...)
	l.mu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		sleep, herr := callHook(hooks[i], err)
		if herr == nil {
			return sleep, nil
		}
		err = herr
	}
	return 0, err
}

func callHook(hook ErrorHook, in error) (sleep time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("error hook panic: %v: %w", r, in)
		}
	}()
	return hook(in)
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		next := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, fn := range next {
			l.safe("deferred", fn)
		}
	}
}

func (l *Loop) safe(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Msgf("loop.Loop.%s panic name=%q err=%v", kind, l.name, r)
		}
	}()
	fn()
}
