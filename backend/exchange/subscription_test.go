package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"exchangesync/backend"
	"exchangesync/internal/metrics"
)

const waitFor = 5 * time.Second

// verifyNoLeaks registers a cleanup that runs after the fake server and
// the backend have been closed.
func verifyNoLeaks(t *testing.T) {
	opts := []goleak.Option{
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	}
	t.Cleanup(func() { goleak.VerifyNone(t, opts...) })
}

func withSubscribe(f *fakeEWS) *atomic.Int32 {
	var count atomic.Int32
	f.handle("Subscribe", func(w http.ResponseWriter, r *http.Request) {
		n := count.Add(1)
		writeEnvelope(w, response("Subscribe", success("Subscribe",
			fmt.Sprintf(`<m:SubscriptionId>sub-%d</m:SubscriptionId><m:Watermark>wm</m:Watermark>`, n))))
	})
	f.respond("Unsubscribe", response("Unsubscribe", success("Unsubscribe", "")))
	return &count
}

// streamChunks writes each SOAP body as its own flushed envelope
func streamChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	flusher, _ := w.(http.Flusher)
	for _, c := range chunks {
		_, _ = io.WriteString(w, `<Envelope xmlns="http://schemas.xmlsoap.org/soap/envelope/"><Body>`+c+`</Body></Envelope>`)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// blockStream holds the connection open until the client goes away
func blockStream(w http.ResponseWriter, r *http.Request) {
	streamChunks(w, response("GetStreamingEvents", success("GetStreamingEvents", `<m:ConnectionStatus>OK</m:ConnectionStatus>`)))
	<-r.Context().Done()
}

func streamingMessage(content string) string {
	return response("GetStreamingEvents", success("GetStreamingEvents", content))
}

func notificationXML(subscriptionID string, events ...string) string {
	return `<m:Notifications><m:Notification><t:SubscriptionId>` + subscriptionID + `</t:SubscriptionId>` +
		strings.Join(events, "") + `</m:Notification></m:Notifications>`
}

func modifiedItem(id string) string {
	return `<t:ModifiedEvent><t:TimeStamp>2024-03-15T12:00:00Z</t:TimeStamp><t:ItemId Id="` + id +
		`" ChangeKey="ck"/><t:ParentFolderId Id="inbox"/></t:ModifiedEvent>`
}

func modifiedFolder(id string) string {
	return `<t:ModifiedEvent><t:TimeStamp>2024-03-15T12:00:00Z</t:TimeStamp><t:FolderId Id="` + id +
		`"/><t:ParentFolderId Id="root"/></t:ModifiedEvent>`
}

func TestSubscription_DeliversChangedTasks(t *testing.T) {
	verifyNoLeaks(t)

	f := newFakeEWS(t)
	withSubscribe(f)

	f.handle("GetItem", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ids := requestedIDs(t, string(body))
		switch ids[0] {
		case "AAMk1":
			writeEnvelope(w, response("GetItem", success("GetItem", itemsOf(flaggedMessage("AAMk1", "Reply to Bob", 2, "")))))
		case "CAL1":
			writeEnvelope(w, response("GetItem", success("GetItem", itemsOf(calendarItemXML("CAL1", "Standup")))))
		default:
			writeEnvelope(w, response("GetItem", failure("GetItem", "ErrorItemNotFound", "The specified object was not found in the store.")))
		}
	})

	var streams atomic.Int32
	f.handle("GetStreamingEvents", func(w http.ResponseWriter, r *http.Request) {
		if streams.Add(1) > 1 {
			blockStream(w, r)
			return
		}
		streamChunks(w,
			streamingMessage(`<m:ConnectionStatus>OK</m:ConnectionStatus>`),
			streamingMessage(notificationXML("sub-1",
				modifiedFolder("inbox"),
				modifiedItem("CAL1"),
				modifiedItem("GONE"),
				modifiedItem("AAMk1"),
			)+`<m:ConnectionStatus>OK</m:ConnectionStatus>`),
			streamingMessage(`<m:ConnectionStatus>Closed</m:ConnectionStatus>`),
		)
	})

	m := metrics.New()
	b := newTestBackend(t, f, WithMetrics(m))

	changed := make(chan backend.TaskDto, 4)
	b.AddTaskEventListener(backend.TaskObserverFunc(func(task backend.TaskDto) {
		changed <- task
	}))

	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID())

	select {
	case task := <-changed:
		assert.Equal(t, "AAMk1", task.ExchangeID)
		assert.Equal(t, "Reply to Bob", task.Name)
		assert.False(t, task.Completed)
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for task change")
	}

	select {
	case err := <-sub.Errors():
		var be *backend.BackendError
		require.ErrorAs(t, err, &be)
		assert.True(t, be.IsNotFound())
		assert.Equal(t, "GONE", be.ItemID)
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for dispatch error")
	}

	require.Eventually(t, func() bool { return streams.Load() >= 2 }, waitFor, 10*time.Millisecond)

	bodies := f.bodies("GetStreamingEvents")
	assert.Contains(t, bodies[0], "<t:SubscriptionId>sub-1</t:SubscriptionId>")
	assert.Contains(t, bodies[0], "<m:ConnectionTimeout>30</m:ConnectionTimeout>")
	assert.Contains(t, f.bodies("Subscribe")[0], `SubscribeToAllFolders="true"`)
	assert.Contains(t, f.bodies("Subscribe")[0], "<t:EventType>ModifiedEvent</t:EventType>")

	assert.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(`
# HELP exchangesync_subscription_reconnects_total Streaming subscription reconnects by reason.
# TYPE exchangesync_subscription_reconnects_total counter
exchangesync_subscription_reconnects_total{reason="closed"} 1
# HELP exchangesync_notifications_total Item change notifications by outcome.
# TYPE exchangesync_notifications_total counter
exchangesync_notifications_total{outcome="error"} 1
exchangesync_notifications_total{outcome="success"} 2
`), "exchangesync_subscription_reconnects_total", "exchangesync_notifications_total"))

	require.NoError(t, sub.Close())
	assertStopped(t, sub)
	assert.Equal(t, 1, f.calls("Unsubscribe"))
	assert.Contains(t, f.bodies("Unsubscribe")[0], "<m:SubscriptionId>sub-1</m:SubscriptionId>")
}

// assertStopped waits for the subscription goroutine and drains Errors
func assertStopped(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(waitFor):
		t.Fatal("subscription did not stop")
	}
	for range sub.Errors() {
	}
}

func TestSubscription_ResubscribesOnServerError(t *testing.T) {
	verifyNoLeaks(t)

	f := newFakeEWS(t)
	subscribes := withSubscribe(f)

	var streams atomic.Int32
	f.handle("GetStreamingEvents", func(w http.ResponseWriter, r *http.Request) {
		if streams.Add(1) == 1 {
			streamChunks(w, response("GetStreamingEvents",
				failure("GetStreamingEvents", "ErrorSubscriptionNotFound", "The specified subscription was not found.")))
			return
		}
		blockStream(w, r)
	})

	b := newTestBackend(t, f)
	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	select {
	case err := <-sub.Errors():
		var be *backend.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "ErrorSubscriptionNotFound", be.ResponseCode)
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for server error")
	}

	require.Eventually(t, func() bool { return sub.ID() == "sub-2" }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return streams.Load() >= 2 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, int32(2), subscribes.Load())
	assert.Contains(t, f.bodies("GetStreamingEvents")[1], "<t:SubscriptionId>sub-2</t:SubscriptionId>")

	require.NoError(t, b.Close())
	assertStopped(t, sub)
}

func TestSubscription_GivesUpAfterRepeatedServerErrors(t *testing.T) {
	verifyNoLeaks(t)

	f := newFakeEWS(t)
	subscribes := withSubscribe(f)
	f.handle("GetStreamingEvents", func(w http.ResponseWriter, r *http.Request) {
		streamChunks(w, response("GetStreamingEvents",
			failure("GetStreamingEvents", "ErrorSubscriptionNotFound", "The specified subscription was not found.")))
	})

	b := newTestBackend(t, f)
	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(waitFor):
		t.Fatal("subscription did not give up")
	}

	var errs []error
	for err := range sub.Errors() {
		errs = append(errs, err)
	}
	assert.Len(t, errs, 2)
	assert.Equal(t, int32(2), subscribes.Load())

	require.NoError(t, sub.Close())
}

func TestSubscription_StopsWhenUnauthorized(t *testing.T) {
	verifyNoLeaks(t)

	f := newFakeEWS(t)
	withSubscribe(f)
	f.handle("GetStreamingEvents", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	b := newTestBackend(t, f)
	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	select {
	case err, ok := <-sub.Errors():
		require.True(t, ok)
		var be *backend.BackendError
		require.ErrorAs(t, err, &be)
		assert.True(t, be.IsUnauthorized())
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for auth error")
	}
	assertStopped(t, sub)
	assert.Equal(t, 1, f.calls("GetStreamingEvents"))

	require.NoError(t, sub.Close())
}

func TestSubscription_BacksOffOnTransportError(t *testing.T) {
	verifyNoLeaks(t)

	f := newFakeEWS(t)
	withSubscribe(f)

	var streams atomic.Int32
	f.handle("GetStreamingEvents", func(w http.ResponseWriter, r *http.Request) {
		if streams.Add(1) == 1 {
			http.Error(w, "backend busy", http.StatusServiceUnavailable)
			return
		}
		blockStream(w, r)
	})

	m := metrics.New()
	b := newTestBackend(t, f, WithMetrics(m), WithReconnectBackoff(10*time.Millisecond))
	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	select {
	case err := <-sub.Errors():
		var be *backend.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, http.StatusServiceUnavailable, be.StatusCode)
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for transport error")
	}

	require.Eventually(t, func() bool { return streams.Load() >= 2 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "sub-1", sub.ID())
	series, err := testutil.GatherAndCount(m.Registry, "exchangesync_subscription_reconnects_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)

	require.NoError(t, b.Close())
	assertStopped(t, sub)
}

func TestSubscribe_Twice(t *testing.T) {
	verifyNoLeaks(t)

	f := newFakeEWS(t)
	withSubscribe(f)
	f.handle("GetStreamingEvents", blockStream)

	b := newTestBackend(t, f)
	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	_, err = b.Subscribe(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadySubscribed))

	require.NoError(t, sub.Close())
	assertStopped(t, sub)

	// closed subscriptions release the slot
	again, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sub-2", again.ID())
}

func TestSubscription_StopsWhenContextCancelled(t *testing.T) {
	verifyNoLeaks(t)

	f := newFakeEWS(t)
	withSubscribe(f)
	f.handle("GetStreamingEvents", blockStream)

	b := newTestBackend(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.calls("GetStreamingEvents") >= 1 }, waitFor, 10*time.Millisecond)

	cancel()
	assertStopped(t, sub)

	// the slot is free again without an explicit Close
	again, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sub-2", again.ID())

	require.NoError(t, sub.Close())
	require.NoError(t, again.Close())
	assertStopped(t, again)
}

func TestSubscribe_AfterSubscriptionStoppedItself(t *testing.T) {
	verifyNoLeaks(t)

	f := newFakeEWS(t)
	withSubscribe(f)
	var streams atomic.Int32
	f.handle("GetStreamingEvents", func(w http.ResponseWriter, r *http.Request) {
		if streams.Add(1) == 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		blockStream(w, r)
	})

	b := newTestBackend(t, f)
	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	assertStopped(t, sub)

	again, err := b.Subscribe(context.Background())
	require.NoError(t, err, "a stopped subscription must not hold the slot")
	assert.Equal(t, "sub-2", again.ID())

	require.NoError(t, again.Close())
	assertStopped(t, again)
	require.NoError(t, sub.Close())
}

func TestSubscribe_Fails(t *testing.T) {
	f := newFakeEWS(t)
	f.respond("Subscribe", response("Subscribe", failure("Subscribe", "ErrorInvalidSubscription", "Subscription is invalid.")))

	b := newTestBackend(t, f)
	_, err := b.Subscribe(context.Background())

	var be *backend.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "ErrorInvalidSubscription", be.ResponseCode)
}

func TestEventsHandlerSurvivesPanickingObserver(t *testing.T) {
	h := &eventsHandler{}
	var got []string
	h.add(backend.TaskObserverFunc(func(task backend.TaskDto) {
		panic("observer bug")
	}))
	h.add(backend.TaskObserverFunc(func(task backend.TaskDto) {
		got = append(got, task.ExchangeID)
	}))

	require.NotPanics(t, func() {
		h.notify(backend.TaskDto{ExchangeID: "AAMk1"})
	})
	assert.Equal(t, []string{"AAMk1"}, got)
}
