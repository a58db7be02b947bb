package exchange

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"exchangesync/backend"
	"exchangesync/internal/utils"
)

const (
	modifiedEvent = "ModifiedEvent"

	defaultReconnectBackoff = time.Second
	maxReconnectBackoff     = 5 * time.Minute
	unsubscribeTimeout      = 10 * time.Second
	errorBuffer             = 16
)

// Reconnect reasons recorded in metrics
const (
	reconnectClosed      = "closed"
	reconnectError       = "error"
	reconnectResubscribe = "resubscribe"
)

// ErrAlreadySubscribed is returned when Subscribe is called twice on a backend
var ErrAlreadySubscribed = errors.New("streaming subscription already running")

// eventsHandler fans task changes out to the registered observers
type eventsHandler struct {
	mu        sync.RWMutex
	observers []backend.TaskObserver
}

func (h *eventsHandler) add(o backend.TaskObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

func (h *eventsHandler) notify(task backend.TaskDto) {
	h.mu.RLock()
	observers := make([]backend.TaskObserver, len(h.observers))
	copy(observers, h.observers)
	h.mu.RUnlock()

	for _, o := range observers {
		h.notifyOne(o, task)
	}
}

// notifyOne keeps a panicking observer from taking down the stream
func (h *eventsHandler) notifyOne(o backend.TaskObserver, task backend.TaskDto) {
	defer func() {
		if r := recover(); r != nil {
			utils.WithField("item", task.ExchangeID).Errorf("Task observer panicked: %v", r)
		}
	}()
	o.TaskChanged(task)
}

// Subscription is a running streaming subscription on all folders.
// Errors that do not stop it are delivered on Errors.
type Subscription struct {
	backend *ExchangeBackend

	mu sync.Mutex
	id string

	cancel    context.CancelFunc
	done      chan struct{}
	errs      chan error
	closeOnce sync.Once
	bo        *backoff.ExponentialBackOff
}

// Subscribe opens a streaming subscription for Modified events on every
// folder and starts delivering flagged e-mail changes to the observers
// registered with AddTaskEventListener. The subscription stops when ctx is
// cancelled or Close is called; Close also unsubscribes on the server.
func (b *ExchangeBackend) Subscribe(ctx context.Context) (*Subscription, error) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.subscription != nil {
		return nil, ErrAlreadySubscribed
	}

	id, err := b.subscribe(ctx)
	if err != nil {
		return nil, err
	}
	utils.Infof("Subscribed to Exchange streaming notifications")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.reconnectBackoff
	bo.MaxInterval = maxReconnectBackoff

	runCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		backend: b,
		id:      id,
		cancel:  cancel,
		done:    make(chan struct{}),
		errs:    make(chan error, errorBuffer),
		bo:      bo,
	}
	b.subscription = s
	go s.run(runCtx)
	return s, nil
}

func (b *ExchangeBackend) subscribe(ctx context.Context) (string, error) {
	req := subscribeRequest{}
	req.Streaming.SubscribeToAllFolders = true
	req.Streaming.EventTypes.EventTypes = []string{modifiedEvent}

	msgs, err := b.client.call(ctx, "Subscribe", req)
	if err != nil {
		return "", err
	}
	msg, err := single("Subscribe", msgs)
	if err != nil {
		return "", err
	}
	if msg.SubscriptionID == "" {
		return "", backend.NewBackendError("Subscribe", 0, "response contains no subscription id")
	}
	return msg.SubscriptionID, nil
}

// ID returns the current subscription id; it changes after a resubscribe
func (s *Subscription) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Errors delivers connection and dispatch errors. It is closed when the
// subscription stops.
func (s *Subscription) Errors() <-chan error {
	return s.errs
}

// Done is closed when the subscription stops
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the connection goroutine and unsubscribes on a best-effort basis
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done

		b := s.backend
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()

		req := unsubscribeRequest{SubscriptionID: s.ID()}
		msgs, err := b.client.call(ctx, "Unsubscribe", req)
		if err == nil {
			_, err = single("Unsubscribe", msgs)
		}
		if err != nil {
			utils.Debugf("Unsubscribe failed: %v", err)
		}
	})
	return nil
}

func (s *Subscription) report(err error) {
	select {
	case s.errs <- err:
	default:
		utils.Debugf("Dropping subscription error, channel full: %v", err)
	}
}

// release frees the backend's subscription slot once run has stopped
func (s *Subscription) release() {
	b := s.backend
	b.subMu.Lock()
	if b.subscription == s {
		b.subscription = nil
	}
	b.subMu.Unlock()
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.errs)
	defer s.release()

	metrics := s.backend.metrics
	resubscribed := false

	for {
		received, err := s.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if received {
			resubscribed = false
		}

		if err == nil {
			utils.Infof("Reconnected to Exchange streaming service.")
			metrics.ObserveReconnect(reconnectClosed)
			continue
		}

		utils.WithError(err).Warn("Streaming connection failed")
		s.report(err)

		var be *backend.BackendError
		switch {
		case errors.As(err, &be) && be.IsUnauthorized():
			utils.Errorf("Stopping subscription: %v", err)
			return

		case errors.As(err, &be) && be.ResponseCode != "":
			if resubscribed {
				utils.Errorf("Stopping subscription after repeated server errors: %v", err)
				return
			}
			resubscribed = true
			id, err := s.backend.subscribe(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.report(fmt.Errorf("resubscribe: %w", err))
					utils.Errorf("Stopping subscription, resubscribe failed: %v", err)
				}
				return
			}
			s.mu.Lock()
			s.id = id
			s.mu.Unlock()
			metrics.ObserveReconnect(reconnectResubscribe)
			utils.Infof("Resubscribed to Exchange streaming notifications")

		default:
			wait := s.bo.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			utils.Debugf("Reopening streaming connection in %s", wait)
			metrics.ObserveReconnect(reconnectError)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// listen holds one GetStreamingEvents connection open until the server
// closes it. A nil error means the connection window ended normally.
func (s *Subscription) listen(ctx context.Context) (received bool, err error) {
	b := s.backend

	req := getStreamingEventsRequest{ConnectionTimeout: b.subscriptionTimeout}
	req.SubscriptionIDs.SubscriptionIDs = []string{s.ID()}

	resp, err := b.client.stream(ctx, "GetStreamingEvents", req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	s.bo.Reset()

	// the body is a sequence of envelopes, one per chunk
	dec := xml.NewDecoder(resp.Body)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return received, nil
		}
		if err != nil {
			return received, backend.NewBackendError("GetStreamingEvents", 0, "stream interrupted").WithError(err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Envelope" {
			continue
		}

		var env responseEnvelope
		if err := dec.DecodeElement(&env, &start); err != nil {
			return received, backend.NewBackendError("GetStreamingEvents", 0, "failed to decode notification").WithError(err)
		}
		msgs, err := env.messages("GetStreamingEvents", resp.StatusCode)
		if err != nil {
			return received, err
		}
		for _, m := range msgs {
			if err := m.err("GetStreamingEvents"); err != nil {
				return received, err
			}
			received = true
			for _, n := range m.Notifications {
				s.dispatch(ctx, n)
			}
			if m.ConnectionStatus == connectionStatusClosed {
				return received, nil
			}
		}
	}
}

// dispatch loads every changed item of a notification and notifies the
// observers. One failing item does not stop the rest of the batch.
func (s *Subscription) dispatch(ctx context.Context, n notification) {
	b := s.backend
	for _, ev := range n.Events {
		if ev.ItemID == nil || ev.ItemID.ID == "" {
			continue
		}
		id := ev.ItemID.ID

		task, err := b.GetTask(ctx, id)
		switch {
		case errors.Is(err, ErrNotATask), errors.Is(err, ErrMissingFollowUpFlag):
			utils.WithField("item", id).Debug("Ignoring change of unflagged item")
			b.metrics.ObserveNotification(nil)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			utils.WithError(err).WithField("item", id).Warn("Failed to load changed item")
			b.metrics.ObserveNotification(err)
			s.report(err)
			continue
		}

		utils.WithField("item", id).Debugf("Task changed: %s", task.Name)
		b.metrics.ObserveNotification(nil)
		b.events.notify(task)
	}
}
