// Package exchange implements the Exchange Web Services connector.
//
// Tasks are flagged e-mails found through the hidden AllItems search folder;
// appointments come from the default calendar. Only reads, due-date and
// completion updates are supported; everything else fails with
// backend.ErrUnsupported.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"exchangesync/backend"
	"exchangesync/internal/credentials"
	"exchangesync/internal/metrics"
	"exchangesync/internal/utils"
)

const (
	// DefaultMaxResults bounds every FindFolder/FindItem view
	DefaultMaxResults = 1000
	// DefaultSubscriptionTimeout is the streaming connection window in minutes
	DefaultSubscriptionTimeout = 30
	// DefaultCalendarWindowMonths is the range on each side of now
	DefaultCalendarWindowMonths = 6

	getItemBatchSize = 100
)

// ErrNotATask is returned by GetTask for items that are not e-mails
var ErrNotATask = errors.New("item is not an e-mail message")

func init() {
	backend.RegisterType("exchange", newExchangeBackendWrapper)
}

// newExchangeBackendWrapper wraps NewExchangeBackend to match BackendConfigConstructor signature
func newExchangeBackendWrapper(config backend.BackendConfig) (backend.Backend, error) {
	return NewExchangeBackend(config)
}

// ExchangeBackend implements backend.TaskSource, backend.CalendarSource and
// backend.EventSource on top of EWS
type ExchangeBackend struct {
	config              backend.BackendConfig
	client              *client
	times               timeCorrector
	metrics             *metrics.Metrics
	maxResults          int
	windowMonths        int
	subscriptionTimeout int
	reconnectBackoff    time.Duration
	now                 func() time.Time

	folderMu         sync.Mutex
	allItemsFolderID string
	folderCache      FolderCache

	events *eventsHandler

	subMu        sync.Mutex
	subscription *Subscription
}

// Option customizes an ExchangeBackend
type Option func(*ExchangeBackend)

// WithMetrics records requests on m instead of the process-wide collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *ExchangeBackend) {
		b.metrics = m
	}
}

// WithClock replaces time.Now, used for completion and calendar window timestamps
func WithClock(now func() time.Time) Option {
	return func(b *ExchangeBackend) {
		b.now = now
	}
}

// WithFolderCache keeps the discovered AllItems folder id across runs
func WithFolderCache(c FolderCache) Option {
	return func(b *ExchangeBackend) {
		b.folderCache = c
	}
}

// WithReconnectBackoff sets the first wait before reopening a failed stream
func WithReconnectBackoff(d time.Duration) Option {
	return func(b *ExchangeBackend) {
		b.reconnectBackoff = d
	}
}

// NewExchangeBackend creates a connector for the configured mailbox.
// Credentials are resolved keyring > environment > config.
func NewExchangeBackend(config backend.BackendConfig, opts ...Option) (*ExchangeBackend, error) {
	loc, err := config.Location()
	if err != nil {
		return nil, err
	}

	b := &ExchangeBackend{
		config:              config,
		times:               timeCorrector{loc: loc, compensate: config.CompensateUTCOffset},
		metrics:             metrics.Default(),
		maxResults:          orDefault(config.MaxResults, DefaultMaxResults),
		windowMonths:        orDefault(config.CalendarWindowMonths, DefaultCalendarWindowMonths),
		subscriptionTimeout: orDefault(config.SubscriptionTimeoutMinutes, DefaultSubscriptionTimeout),
		reconnectBackoff:    defaultReconnectBackoff,
		now:                 time.Now,
		events:              &eventsHandler{},
	}
	for _, opt := range opts {
		opt(b)
	}

	cc, err := b.resolveClientConfig()
	if err != nil {
		return nil, err
	}
	b.client = newClient(cc)

	utils.Infof("Connecting to Exchange (%s) as %s...", cc.Endpoint, cc.Username)
	return b, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (b *ExchangeBackend) resolveClientConfig() (clientConfig, error) {
	cfg := b.config
	resolver := credentials.NewResolver()
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}

	cc := clientConfig{
		ServerVersion:      cfg.ServerVersion,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Timeout:            cfg.Timeout,
		Metrics:            b.metrics,
	}

	host := cfg.Host
	if cfg.Auth == "oauth2" {
		if cfg.OAuth2 == nil || cfg.OAuth2.ClientID == "" {
			return cc, fmt.Errorf("backend %q: oauth2 auth requires oauth2.client_id", name)
		}
		secret, source, err := resolver.ResolveClientSecret(name, cfg.OAuth2.ClientID, cfg.OAuth2.ClientSecret)
		if err != nil {
			return cc, err
		}
		utils.Debugf("Using OAuth2 client secret from %s", source)
		cc.OAuth2 = oauth2Config(*cfg.OAuth2, secret)
		cc.Username = cfg.Username
		if cc.Username == "" {
			cc.Username = credentials.GetUsername(name)
		}
		if host == "" {
			host = credentials.GetHost(name)
		}
	} else {
		creds, err := resolver.Resolve(name, credentials.ConfigValues{
			Username: cfg.Username,
			Password: cfg.Password,
			Host:     cfg.Host,
		})
		if err != nil {
			return cc, utils.ErrCredentialsNotFound(name, cfg.Username)
		}
		utils.Debugf("Using credentials from %s", creds.Source)
		cc.Username = creds.Username
		cc.Password = creds.Password
		host = creds.Host
	}

	if cfg.URL == "" && host == "" && cfg.Auth == "oauth2" {
		host = "outlook.office365.com"
	}
	endpoint, err := endpointURL(host, cfg.URL)
	if err != nil {
		return cc, fmt.Errorf("backend %q: %w", name, err)
	}
	cc.Endpoint = endpoint
	return cc, nil
}

// Type returns the registry type name
func (b *ExchangeBackend) Type() string {
	return "exchange"
}

// AddTask is not supported: tasks are flagged e-mails
func (b *ExchangeBackend) AddTask(ctx context.Context, task backend.TaskDto) error {
	return backend.NewUnsupportedError("AddTask", "Unable to add new tasks to Exchange")
}

// GetAllTasks returns every flagged or flag-completed e-mail in the mailbox
func (b *ExchangeBackend) GetAllTasks(ctx context.Context) ([]backend.TaskDto, error) {
	folderID, err := b.allItemsFolder(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := b.findFlagged(ctx, folderID)
	var be *backend.BackendError
	if errors.As(err, &be) && be.ResponseCode == "ErrorFolderNotFound" {
		// a cached folder id may outlive the search folder
		b.forgetAllItemsFolder()
		if folderID, err = b.allItemsFolder(ctx); err != nil {
			return nil, err
		}
		msg, err = b.findFlagged(ctx, folderID)
	}
	if err != nil {
		return nil, err
	}
	if msg.RootFolder == nil {
		return nil, nil
	}
	if !msg.RootFolder.IncludesLastItemInRange {
		utils.Warnf("Only the first %d of %d flagged items were returned", b.maxResults, msg.RootFolder.TotalItemsInView)
	}

	tasks := make([]backend.TaskDto, 0, len(msg.RootFolder.Items.Messages))
	for _, m := range msg.RootFolder.Items.Messages {
		task, err := b.times.convertToTaskDto(m)
		if err != nil {
			utils.WithError(err).WithField("item", m.ItemID.ID).Warn("Skipping flagged item")
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (b *ExchangeBackend) findFlagged(ctx context.Context, folderID string) (responseMessage, error) {
	req := findItemRequest{
		Traversal:   "Shallow",
		ItemShape:   emailPropertySet.shape(),
		IndexedView: &indexedPageView{MaxEntriesReturned: b.maxResults, BasePoint: "Beginning"},
		Restriction: restrict(or(
			propertyEquals(PrFlagStatus, FlagStatusComplete),
			propertyEquals(PrFlagStatus, FlagStatusFlagged),
		)),
		ParentFolderIDs: parentFolderIDs{FolderID: &itemID{ID: folderID}},
	}

	msgs, err := b.client.call(ctx, "FindItem", req)
	if err != nil {
		return responseMessage{}, err
	}
	return single("FindItem", msgs)
}

// GetTask loads a single flagged e-mail by id
func (b *ExchangeBackend) GetTask(ctx context.Context, id string) (backend.TaskDto, error) {
	items, err := b.getItems(ctx, emailPropertySet, []string{id})
	if err != nil {
		return backend.TaskDto{}, err
	}
	if len(items.Messages) == 0 {
		return backend.TaskDto{}, fmt.Errorf("%w: %s", ErrNotATask, id)
	}
	return b.times.convertToTaskDto(items.Messages[0])
}

// UpdateDueDate sets or clears the task due date of a flagged e-mail
func (b *ExchangeBackend) UpdateDueDate(ctx context.Context, task backend.TaskDto) error {
	return utils.LogOperationf("UpdateDueDate %s", func() error {
		id, err := b.bind(ctx, task.ExchangeID)
		if err != nil {
			return err
		}
		var change fieldChange
		if task.DueDate == nil {
			change = deleteField(PrTaskDueDate)
		} else {
			change = setField(PrTaskDueDate, formatSystemTime(*task.DueDate))
		}
		return b.updateItem(ctx, id, []fieldChange{change})
	}, task.ExchangeID)
}

// UpdateCompletedFlag rewrites the follow-up flag properties so Outlook
// shows the e-mail as completed or flagged again
func (b *ExchangeBackend) UpdateCompletedFlag(ctx context.Context, task backend.TaskDto) error {
	return utils.LogOperationf("UpdateCompletedFlag %s", func() error {
		id, err := b.bind(ctx, task.ExchangeID)
		if err != nil {
			return err
		}
		return b.updateItem(ctx, id, completedFlagChanges(task, b.now()))
	}, task.ExchangeID)
}

func completedFlagChanges(task backend.TaskDto, now time.Time) []fieldChange {
	changes := []fieldChange{
		setField(PrTodoTitle, task.Name),
		setField(PrTaskMode, "0"), // not assigned
	}
	if task.Completed {
		return append(changes,
			deleteField(PrFlagRequest),
			setField(PrTaskComplete, "true"),
			setField(PrPercentComplete, formatDouble(1)),
			setField(PrTaskDateCompleted, formatSystemTime(now)),
			setField(PrTaskStatus, strconv.Itoa(TaskStatusComplete)),
			setField(PrFlagStatus, strconv.Itoa(FlagStatusComplete)),
		)
	}
	return append(changes,
		setField(PrTaskStartDate, formatSystemTime(now)),
		setField(PrFlagRequest, followUpRequest),
		setField(PrTodoOrdinalDate, formatSystemTime(now)),
		setField(PrTodoSubOrdinal, todoSubOrdinal),
		setField(PrTaskComplete, "false"),
		setField(PrPercentComplete, formatDouble(0)),
		deleteField(PrTaskDateCompleted),
		setField(PrTaskStatus, strconv.Itoa(TaskStatusNotStarted)),
		setField(PrFlagStatus, strconv.Itoa(FlagStatusFlagged)),
	)
}

func formatDouble(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// GetAllAppointments returns calendar items within the configured window around now
func (b *ExchangeBackend) GetAllAppointments(ctx context.Context) ([]backend.AppointmentDto, error) {
	now := b.now()
	req := findItemRequest{
		Traversal: "Shallow",
		ItemShape: idOnlyPropertySet.shape(),
		CalendarView: &calendarView{
			MaxEntriesReturned: b.maxResults,
			StartDate:          formatSystemTime(now.AddDate(0, -b.windowMonths, 0)),
			EndDate:            formatSystemTime(now.AddDate(0, b.windowMonths, 0)),
		},
		ParentFolderIDs: parentFolderIDs{DistinguishedFolderID: &distinguishedFolderID{ID: "calendar"}},
	}

	msgs, err := b.client.call(ctx, "FindItem", req)
	if err != nil {
		return nil, err
	}
	msg, err := single("FindItem", msgs)
	if err != nil {
		return nil, err
	}
	if msg.RootFolder == nil {
		return nil, nil
	}

	ids := msg.RootFolder.Items.ids()
	if len(ids) == 0 {
		return nil, nil
	}

	appointments := make([]backend.AppointmentDto, 0, len(ids))
	for start := 0; start < len(ids); start += getItemBatchSize {
		end := min(start+getItemBatchSize, len(ids))
		items, err := b.getItems(ctx, calendarPropertySet, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, item := range items.CalendarItems {
			appointments = append(appointments, b.times.convertToAppointmentDto(item))
		}
		for _, item := range items.MeetingRequests {
			appointments = append(appointments, b.times.convertToAppointmentDto(item))
		}
	}
	return appointments, nil
}

// AddAppointment is not supported
func (b *ExchangeBackend) AddAppointment(ctx context.Context, appointment backend.AppointmentDto) error {
	return backend.NewUnsupportedError("AddAppointment", "Unable to add new appointments to Exchange")
}

// UpdateAppointment is not supported
func (b *ExchangeBackend) UpdateAppointment(ctx context.Context, appointment backend.AppointmentDto) error {
	return backend.NewUnsupportedError("UpdateAppointment", "Unable to update appointments in Exchange")
}

// DeleteAppointment is not supported
func (b *ExchangeBackend) DeleteAppointment(ctx context.Context, appointment backend.AppointmentDto) error {
	return backend.NewUnsupportedError("DeleteAppointment", "Unable to delete appointments in Exchange")
}

// AddTaskEventListener registers an observer for tasks changed on the server.
// Notifications only flow while a subscription is running.
func (b *ExchangeBackend) AddTaskEventListener(observer backend.TaskObserver) {
	b.events.add(observer)
}

// Close stops the streaming subscription, if any
func (b *ExchangeBackend) Close() error {
	b.subMu.Lock()
	sub := b.subscription
	b.subscription = nil
	b.subMu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
	}
	b.client.closeIdleConnections()
	return err
}

// getItems loads items by id with the given property set. Per-item errors
// fail the whole call.
func (b *ExchangeBackend) getItems(ctx context.Context, ps propertySet, ids []string) (itemList, error) {
	req := getItemRequest{ItemShape: ps.shape()}
	for _, id := range ids {
		req.ItemIDs.ItemIDs = append(req.ItemIDs.ItemIDs, itemID{ID: id})
	}

	msgs, err := b.client.call(ctx, "GetItem", req)
	if err != nil {
		return itemList{}, err
	}
	if len(msgs) == 0 {
		return itemList{}, backend.NewBackendError("GetItem", 0, "response contains no messages")
	}

	var all itemList
	for i, m := range msgs {
		if err := m.err("GetItem"); err != nil {
			var be *backend.BackendError
			if errors.As(err, &be) && i < len(ids) {
				be.WithItemID(ids[i])
			}
			return itemList{}, err
		}
		all.append(m.Items)
	}
	return all, nil
}

// bind fetches the current id and change key of an item
func (b *ExchangeBackend) bind(ctx context.Context, id string) (itemID, error) {
	items, err := b.getItems(ctx, idOnlyPropertySet, []string{id})
	if err != nil {
		return itemID{}, err
	}
	bound := items.itemIDs()
	if len(bound) == 0 {
		return itemID{}, backend.NewBackendError("GetItem", 0, "item not found").
			WithResponseCode("ErrorItemNotFound").WithItemID(id)
	}
	return bound[0], nil
}

func (b *ExchangeBackend) updateItem(ctx context.Context, id itemID, changes []fieldChange) error {
	req := updateItemRequest{
		ConflictResolution: "AlwaysOverwrite",
		MessageDisposition: "SaveOnly",
	}
	req.ItemChanges.ItemChange.ItemID = id
	req.ItemChanges.ItemChange.Updates.Changes = changes

	msgs, err := b.client.call(ctx, "UpdateItem", req)
	if err != nil {
		return err
	}
	if _, err := single("UpdateItem", msgs); err != nil {
		var be *backend.BackendError
		if errors.As(err, &be) {
			be.WithItemID(id.ID)
		}
		return err
	}
	return nil
}

func setField(p ExtendedProperty, value string) fieldChange {
	c := fieldChange{ExtendedFieldURI: p.fieldURI(), Message: &changedMessage{}}
	c.XMLName.Local = "t:SetItemField"
	c.Message.ExtendedProperty.ExtendedFieldURI = p.fieldURI()
	c.Message.ExtendedProperty.Value = value
	return c
}

func deleteField(p ExtendedProperty) fieldChange {
	c := fieldChange{ExtendedFieldURI: p.fieldURI()}
	c.XMLName.Local = "t:DeleteItemField"
	return c
}

func (l *itemList) append(other itemList) {
	l.Messages = append(l.Messages, other.Messages...)
	l.CalendarItems = append(l.CalendarItems, other.CalendarItems...)
	l.MeetingRequests = append(l.MeetingRequests, other.MeetingRequests...)
	l.Items = append(l.Items, other.Items...)
}

func (l itemList) itemIDs() []itemID {
	var ids []itemID
	for _, m := range l.Messages {
		ids = append(ids, m.ItemID)
	}
	for _, c := range l.CalendarItems {
		ids = append(ids, c.ItemID)
	}
	for _, c := range l.MeetingRequests {
		ids = append(ids, c.ItemID)
	}
	for _, i := range l.Items {
		ids = append(ids, i.ItemID)
	}
	return ids
}

func (l itemList) ids() []string {
	bound := l.itemIDs()
	ids := make([]string, 0, len(bound))
	for _, id := range bound {
		ids = append(ids, id.ID)
	}
	return ids
}
