package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tglogger/pkg/chatlog"
)

func TestDriverStartPublishesDecodedEvents(t *testing.T) {
	t.Parallel()

	updates := make(chan Update, 2)
	updates <- Update{
		ID:         "tg:message:42:1:1700000000",
		Type:       UpdateTypeMessage,
		OccurredAt: time.Unix(1_700_000_000, 0),
		Chat:       ChatRef{ID: 42, Type: chatlog.ChatTypePrivate},
		Message:    &MessagePayload{ID: 1, Text: "hi"},
	}
	updates <- Update{
		ID:         "tg:delete:0:1:1700000001",
		Type:       UpdateTypeDelete,
		OccurredAt: time.Unix(1_700_000_001, 0),
		Delete:     &DeletePayload{MessageID: 1},
	}
	close(updates)

	driver, err := NewDriver(queuedSource{updates: updates}, NewDefaultDecoder(), WithName("telegram-main"))
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}
	if driver.Name() != "telegram-main" {
		t.Fatalf("name = %q, want telegram-main", driver.Name())
	}

	dispatcher := &recordingDispatcher{}
	if err := driver.Start(context.Background(), dispatcher); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := dispatcher.snapshot()
	if len(events) != 2 {
		t.Fatalf("published = %d, want 2", len(events))
	}
	if events[0].Kind != chatlog.EventKindMessageCreated || events[1].Kind != chatlog.EventKindMessageDeleted {
		t.Fatalf("kinds = %s, %s; want created then deleted", events[0].Kind, events[1].Kind)
	}
	for _, event := range events {
		if event.Source != "telegram-main" {
			t.Fatalf("source = %q, want telegram-main", event.Source)
		}
	}
}

func TestDriverStartSkipsBadUpdates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		update       Update
		decoder      Decoder
		publishErr   error
		wantErrorSub string
	}{
		{
			name:         "undecodable update",
			update:       Update{ID: "x", Type: UpdateTypeMessage},
			decoder:      NewDefaultDecoder(),
			wantErrorSub: "missing message payload",
		},
		{
			name:         "decoder panic",
			update:       Update{ID: "x", Type: UpdateTypeMessage},
			decoder:      panicDecoder{},
			wantErrorSub: "panic",
		},
		{
			name: "publish rejected",
			update: Update{
				ID:         "tg:delete:0:1",
				Type:       UpdateTypeDelete,
				OccurredAt: time.Unix(1_700_000_000, 0),
				Delete:     &DeletePayload{MessageID: 1},
			},
			decoder:      NewDefaultDecoder(),
			publishErr:   chatlog.ErrEventDropped,
			wantErrorSub: "publish",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			updates := make(chan Update, 1)
			updates <- testCase.update
			close(updates)

			var (
				mu       sync.Mutex
				reported []error
			)
			driver, err := NewDriver(
				queuedSource{updates: updates},
				testCase.decoder,
				WithErrorHandler(func(_ context.Context, err error) {
					mu.Lock()
					defer mu.Unlock()
					reported = append(reported, err)
				}),
			)
			if err != nil {
				t.Fatalf("new driver failed: %v", err)
			}

			if err := driver.Start(context.Background(), &recordingDispatcher{err: testCase.publishErr}); err != nil {
				t.Fatalf("start = %v, want bad update skipped", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(reported) != 1 || !strings.Contains(reported[0].Error(), testCase.wantErrorSub) {
				t.Fatalf("reported = %v, want one error containing %q", reported, testCase.wantErrorSub)
			}
		})
	}
}

func TestDriverStartStopsOnCancellation(t *testing.T) {
	t.Parallel()

	driver, err := NewDriver(idleSource{}, NewDefaultDecoder())
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- driver.Start(ctx, &recordingDispatcher{})
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start = %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop after cancellation")
	}
}

func TestDriverShutdownRunsHook(t *testing.T) {
	t.Parallel()

	called := false
	driver, err := NewDriver(idleSource{}, NewDefaultDecoder(), WithShutdownHook(func(context.Context) error {
		called = true
		return errors.New("sync failed")
	}))
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	if err := driver.Shutdown(context.Background()); err == nil || !strings.Contains(err.Error(), "sync failed") {
		t.Fatalf("shutdown = %v, want hook error", err)
	}
	if !called {
		t.Fatal("shutdown hook not called")
	}
}

func TestNewDriverRejectsNilDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewDriver(nil, NewDefaultDecoder()); err == nil {
		t.Fatal("expected nil source error")
	}
	if _, err := NewDriver(idleSource{}, nil); err == nil {
		t.Fatal("expected nil decoder error")
	}
	driver, err := NewDriver(idleSource{}, NewDefaultDecoder())
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}
	if err := driver.Start(context.Background(), nil); err == nil {
		t.Fatal("expected nil sink error")
	}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []*chatlog.Event
	err    error
}

func (d *recordingDispatcher) Publish(_ context.Context, event *chatlog.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)

	return nil
}

func (d *recordingDispatcher) snapshot() []*chatlog.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*chatlog.Event(nil), d.events...)
}

// queuedSource replays updates until the channel is closed.
type queuedSource struct {
	updates <-chan Update
}

func (s queuedSource) Consume(ctx context.Context, handler UpdateHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-s.updates:
			if !ok {
				return nil
			}
			if err := handler(ctx, update); err != nil {
				return err
			}
		}
	}
}

// idleSource produces nothing and returns on cancellation.
type idleSource struct{}

func (idleSource) Consume(ctx context.Context, _ UpdateHandler) error {
	<-ctx.Done()

	return nil
}

type panicDecoder struct{}

func (panicDecoder) Decode(context.Context, Update) (*chatlog.Event, error) {
	panic("decoder exploded")
}
