// Package domain defines events for the event-driven architecture.
// Events are how the core reports state to a host application.
package domain

import (
	"time"
)

// Event is the base interface for all events in the system.
// All events must implement this interface to be published via the event bus.
type Event interface {
	// Type returns the event type identifier
	Type() EventType

	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// EventType is a string identifier for different event types.
type EventType string

// Event type constants define all possible events in the system.
const (
	// Session events
	EventStateChanged     EventType = "session.state_changed"
	EventItemLoading      EventType = "session.item_loading"
	EventItemStarted      EventType = "session.item_started"
	EventPlaybackProgress EventType = "session.progress"
	EventItemEnded        EventType = "session.item_ended"
	EventPlaybackError    EventType = "session.error"
	EventQueueExhausted   EventType = "session.queue_exhausted"

	// Queue events
	EventQueueChanged     EventType = "queue.changed"
	EventShuffleToggled   EventType = "queue.shuffle_toggled"
	EventDirectionChanged EventType = "queue.direction_changed"

	// Download events
	EventDownloadStarted   EventType = "download.started"
	EventDownloadProgress  EventType = "download.progress"
	EventDownloadRetry     EventType = "download.retry"
	EventDownloadCompleted EventType = "download.completed"
	EventDownloadFailed    EventType = "download.failed"
)

// EventHandler is a function that handles events.
type EventHandler func(event Event)

// SubscriptionID uniquely identifies an event subscription.
type SubscriptionID string

// baseEvent provides common event functionality.
// All concrete events should embed this struct.
type baseEvent struct {
	timestamp time.Time
}

// Timestamp returns when the event occurred.
func (e baseEvent) Timestamp() time.Time {
	return e.timestamp
}

func newBaseEvent() baseEvent {
	return baseEvent{timestamp: time.Now()}
}

// StateChangedEvent is published on every transport transition.
type StateChangedEvent struct {
	baseEvent
	Previous Transport
	Current  Transport
	ItemID   string
	Reason   string
}

// Type returns the event type.
func (e StateChangedEvent) Type() EventType {
	return EventStateChanged
}

// NewStateChangedEvent creates a new StateChangedEvent.
func NewStateChangedEvent(previous, current Transport, itemID, reason string) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: newBaseEvent(),
		Previous:  previous,
		Current:   current,
		ItemID:    itemID,
		Reason:    reason,
	}
}

// ItemLoadingEvent is published when an item starts resolving or loading.
type ItemLoadingEvent struct {
	baseEvent
	ItemID string
	Title  string
	Index  int
}

// Type returns the event type.
func (e ItemLoadingEvent) Type() EventType {
	return EventItemLoading
}

// NewItemLoadingEvent creates a new ItemLoadingEvent.
func NewItemLoadingEvent(item *MediaItem, index int) ItemLoadingEvent {
	return ItemLoadingEvent{
		baseEvent: newBaseEvent(),
		ItemID:    item.ID(),
		Title:     item.Title(),
		Index:     index,
	}
}

// ItemStartedEvent is published when the backend starts playing an item.
type ItemStartedEvent struct {
	baseEvent
	ItemID string
	Title  string
	Index  int
	Paths  []string
}

// Type returns the event type.
func (e ItemStartedEvent) Type() EventType {
	return EventItemStarted
}

// NewItemStartedEvent creates a new ItemStartedEvent.
func NewItemStartedEvent(item *MediaItem, index int, paths []string) ItemStartedEvent {
	return ItemStartedEvent{
		baseEvent: newBaseEvent(),
		ItemID:    item.ID(),
		Title:     item.Title(),
		Index:     index,
		Paths:     paths,
	}
}

// PlaybackProgressEvent carries the backend's position reports.
type PlaybackProgressEvent struct {
	baseEvent
	ItemID   string
	Position float64
	Duration time.Duration
}

// Type returns the event type.
func (e PlaybackProgressEvent) Type() EventType {
	return EventPlaybackProgress
}

// NewPlaybackProgressEvent creates a new PlaybackProgressEvent.
func NewPlaybackProgressEvent(itemID string, position float64, duration time.Duration) PlaybackProgressEvent {
	return PlaybackProgressEvent{
		baseEvent: newBaseEvent(),
		ItemID:    itemID,
		Position:  position,
		Duration:  duration,
	}
}

// ItemEndedEvent is published when the backend reports end of media.
type ItemEndedEvent struct {
	baseEvent
	ItemID string
}

// Type returns the event type.
func (e ItemEndedEvent) Type() EventType {
	return EventItemEnded
}

// NewItemEndedEvent creates a new ItemEndedEvent.
func NewItemEndedEvent(itemID string) ItemEndedEvent {
	return ItemEndedEvent{
		baseEvent: newBaseEvent(),
		ItemID:    itemID,
	}
}

// PlaybackErrorEvent is the single user-visible notification for a failure.
type PlaybackErrorEvent struct {
	baseEvent
	ItemID string
	Kind   FailureKind
	Reason string
	Err    error
}

// Type returns the event type.
func (e PlaybackErrorEvent) Type() EventType {
	return EventPlaybackError
}

// NewPlaybackErrorEvent creates a new PlaybackErrorEvent.
func NewPlaybackErrorEvent(itemID string, err error) PlaybackErrorEvent {
	return PlaybackErrorEvent{
		baseEvent: newBaseEvent(),
		ItemID:    itemID,
		Kind:      KindOf(err),
		Reason:    Reason(err),
		Err:       err,
	}
}

// QueueExhaustedEvent is published when traversal stops at an end of the queue.
type QueueExhaustedEvent struct {
	baseEvent
	Direction Direction
}

// Type returns the event type.
func (e QueueExhaustedEvent) Type() EventType {
	return EventQueueExhausted
}

// NewQueueExhaustedEvent creates a new QueueExhaustedEvent.
func NewQueueExhaustedEvent(direction Direction) QueueExhaustedEvent {
	return QueueExhaustedEvent{
		baseEvent: newBaseEvent(),
		Direction: direction,
	}
}

// QueueChangedEvent is published after any queue mutation.
type QueueChangedEvent struct {
	baseEvent
	Length int
	Cursor int
}

// Type returns the event type.
func (e QueueChangedEvent) Type() EventType {
	return EventQueueChanged
}

// NewQueueChangedEvent creates a new QueueChangedEvent.
func NewQueueChangedEvent(length, cursor int) QueueChangedEvent {
	return QueueChangedEvent{
		baseEvent: newBaseEvent(),
		Length:    length,
		Cursor:    cursor,
	}
}

// ShuffleToggledEvent is published when shuffle is turned on or off.
type ShuffleToggledEvent struct {
	baseEvent
	Enabled bool
}

// Type returns the event type.
func (e ShuffleToggledEvent) Type() EventType {
	return EventShuffleToggled
}

// NewShuffleToggledEvent creates a new ShuffleToggledEvent.
func NewShuffleToggledEvent(enabled bool) ShuffleToggledEvent {
	return ShuffleToggledEvent{
		baseEvent: newBaseEvent(),
		Enabled:   enabled,
	}
}

// DirectionChangedEvent is published when traversal direction flips.
type DirectionChangedEvent struct {
	baseEvent
	Direction Direction
}

// Type returns the event type.
func (e DirectionChangedEvent) Type() EventType {
	return EventDirectionChanged
}

// NewDirectionChangedEvent creates a new DirectionChangedEvent.
func NewDirectionChangedEvent(direction Direction) DirectionChangedEvent {
	return DirectionChangedEvent{
		baseEvent: newBaseEvent(),
		Direction: direction,
	}
}

// DownloadStartedEvent is published when a download job is accepted.
type DownloadStartedEvent struct {
	baseEvent
	JobID  string
	ItemID string
	URL    string
}

// Type returns the event type.
func (e DownloadStartedEvent) Type() EventType {
	return EventDownloadStarted
}

// NewDownloadStartedEvent creates a new DownloadStartedEvent.
func NewDownloadStartedEvent(jobID, itemID, url string) DownloadStartedEvent {
	return DownloadStartedEvent{
		baseEvent: newBaseEvent(),
		JobID:     jobID,
		ItemID:    itemID,
		URL:       url,
	}
}

// DownloadProgressEvent carries byte progress of a fetch.
type DownloadProgressEvent struct {
	baseEvent
	Progress DownloadProgress
}

// Type returns the event type.
func (e DownloadProgressEvent) Type() EventType {
	return EventDownloadProgress
}

// NewDownloadProgressEvent creates a new DownloadProgressEvent.
func NewDownloadProgressEvent(progress DownloadProgress) DownloadProgressEvent {
	return DownloadProgressEvent{
		baseEvent: newBaseEvent(),
		Progress:  progress,
	}
}

// DownloadRetryEvent is published before a transient failure is retried.
type DownloadRetryEvent struct {
	baseEvent
	JobID   string
	ItemID  string
	Attempt int
	Delay   time.Duration
	Err     error
}

// Type returns the event type.
func (e DownloadRetryEvent) Type() EventType {
	return EventDownloadRetry
}

// NewDownloadRetryEvent creates a new DownloadRetryEvent.
func NewDownloadRetryEvent(jobID, itemID string, attempt int, delay time.Duration, err error) DownloadRetryEvent {
	return DownloadRetryEvent{
		baseEvent: newBaseEvent(),
		JobID:     jobID,
		ItemID:    itemID,
		Attempt:   attempt,
		Delay:     delay,
		Err:       err,
	}
}

// DownloadCompletedEvent is published when a job produced files.
type DownloadCompletedEvent struct {
	baseEvent
	JobID   string
	ItemID  string
	Outcome DownloadOutcome
}

// Type returns the event type.
func (e DownloadCompletedEvent) Type() EventType {
	return EventDownloadCompleted
}

// NewDownloadCompletedEvent creates a new DownloadCompletedEvent.
func NewDownloadCompletedEvent(jobID, itemID string, outcome DownloadOutcome) DownloadCompletedEvent {
	return DownloadCompletedEvent{
		baseEvent: newBaseEvent(),
		JobID:     jobID,
		ItemID:    itemID,
		Outcome:   outcome,
	}
}

// DownloadFailedEvent is published once per job that ends Failed.
type DownloadFailedEvent struct {
	baseEvent
	JobID  string
	ItemID string
	Kind   FailureKind
	Err    error
}

// Type returns the event type.
func (e DownloadFailedEvent) Type() EventType {
	return EventDownloadFailed
}

// NewDownloadFailedEvent creates a new DownloadFailedEvent.
func NewDownloadFailedEvent(jobID, itemID string, err error) DownloadFailedEvent {
	return DownloadFailedEvent{
		baseEvent: newBaseEvent(),
		JobID:     jobID,
		ItemID:    itemID,
		Kind:      KindOf(err),
		Err:       err,
	}
}
