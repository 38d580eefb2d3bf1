package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cabinbook/internal/apperr"
	"cabinbook/internal/events"
	"cabinbook/internal/model"
)

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

type mockDirectory struct{ mock.Mock }

func (m *mockDirectory) GetRequester(ctx context.Context, id int64) (*model.Requester, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*model.Requester), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCatalog struct{ mock.Mock }

func (m *mockCatalog) GetCabin(ctx context.Context, id int64) (*model.Cabin, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*model.Cabin), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCatalog) ListCabins(ctx context.Context) ([]*model.Cabin, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.Cabin), args.Error(1)
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func testConfig() TelegramConfig {
	return TelegramConfig{Rate: 1000, Burst: 10, MaxRetries: 2, RetryDelay: time.Millisecond, SendTimeout: time.Second}
}

func TestBusNotifier_PublishesNotifications(t *testing.T) {
	bus := events.NewEventBus(nil)
	var got []events.Event
	bus.Subscribe(events.NotifyReassignment, func(ev events.Event) error { got = append(got, ev); return nil })
	bus.Subscribe(events.NotifyRejection, func(ev events.Event) error { got = append(got, ev); return nil })

	n := NewBusNotifier(bus, zerolog.Nop())
	n.NotifyReassignment(context.Background(), 7, 1, 2, "moved")
	n.NotifyRejection(context.Background(), 7, "full")

	require.Len(t, got, 2)
	var p events.NotificationPayload
	require.NoError(t, got[0].Decode(&p))
	assert.Equal(t, events.NotificationPayload{RequesterID: 7, OldCabinID: 1, NewCabinID: 2, Reason: "moved"}, p)
	assert.Equal(t, events.NotifyRejection, got[1].Type)
}

func TestTelegramSink_Reassignment(t *testing.T) {
	sender := &mockSender{}
	dir := &mockDirectory{}
	cat := &mockCatalog{}

	dir.On("GetRequester", mock.Anything, int64(7)).Return(&model.Requester{ID: 7, ChatID: 555}, nil)
	cat.On("GetCabin", mock.Anything, int64(1)).Return(&model.Cabin{ID: 1, Name: "Blue"}, nil)
	cat.On("GetCabin", mock.Anything, int64(2)).Return(&model.Cabin{ID: 2, Name: "Green"}, nil)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 555 && strings.Contains(msg.Text, "from Blue to Green")
	})).Return(nil).Once()

	bus := events.NewEventBus(nil)
	sink := NewTelegramSink(sender, dir, cat, testConfig(), zerolog.Nop())
	sink.Attach(bus)
	NewBusNotifier(bus, zerolog.Nop()).NotifyReassignment(context.Background(), 7, 1, 2, "override")

	sender.AssertExpectations(t)
	dir.AssertExpectations(t)
}

func TestTelegramSink_Reminder(t *testing.T) {
	sender := &mockSender{}
	dir := &mockDirectory{}
	cat := &mockCatalog{}

	dir.On("GetRequester", mock.Anything, int64(7)).Return(&model.Requester{ID: 7, ChatID: 555}, nil)
	cat.On("GetCabin", mock.Anything, int64(2)).Return(&model.Cabin{ID: 2, Name: "Green"}, nil)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && strings.Contains(msg.Text, "Green is booked for you on 2026-04-06 at 10:00-11:00")
	})).Return(nil).Once()

	bus := events.NewEventBus(nil)
	NewTelegramSink(sender, dir, cat, testConfig(), zerolog.Nop()).Attach(bus)
	require.NoError(t, bus.PublishJSON(events.NotifyReminder, events.NotificationPayload{
		RequesterID: 7, NewCabinID: 2, Date: "2026-04-06", Interval: "10:00-11:00",
	}))

	sender.AssertExpectations(t)
}

func TestTelegramSink_SkipsWithoutChat(t *testing.T) {
	sender := &mockSender{}
	dir := &mockDirectory{}
	dir.On("GetRequester", mock.Anything, int64(7)).Return(&model.Requester{ID: 7}, nil)

	sink := NewTelegramSink(sender, dir, nil, testConfig(), zerolog.Nop())
	payload, _ := json.Marshal(events.NotificationPayload{RequesterID: 7, Reason: "full"})
	require.NoError(t, sink.Handle(events.Event{Type: events.NotifyRejection, Payload: payload}))

	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestTelegramSink_Retries(t *testing.T) {
	sender := &mockSender{}
	dir := &mockDirectory{}
	dir.On("GetRequester", mock.Anything, int64(7)).Return(&model.Requester{ID: 7, ChatID: 1}, nil)
	sender.On("Send", mock.Anything).Return(errors.New("network")).Once()
	sender.On("Send", mock.Anything).Return(nil).Once()

	sink := NewTelegramSink(sender, dir, nil, testConfig(), zerolog.Nop())
	payload, _ := json.Marshal(events.NotificationPayload{RequesterID: 7, Reason: "full"})
	require.NoError(t, sink.Handle(events.Event{Type: events.NotifyRejection, Payload: payload}))
	sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestTelegramSink_ForbiddenIsFinal(t *testing.T) {
	sender := &mockSender{}
	dir := &mockDirectory{}
	dir.On("GetRequester", mock.Anything, int64(7)).Return(&model.Requester{ID: 7, ChatID: 1}, nil)
	sender.On("Send", mock.Anything).Return(&tgbotapi.Error{Code: 403, Message: "blocked"}).Once()

	sink := NewTelegramSink(sender, dir, nil, testConfig(), zerolog.Nop())
	payload, _ := json.Marshal(events.NotificationPayload{RequesterID: 7, Reason: "full"})
	assert.Error(t, sink.Handle(events.Event{Type: events.NotifyRejection, Payload: payload}))
	sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestTelegramSink_UnknownRequester(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("GetRequester", mock.Anything, int64(9)).Return(nil, apperr.NotFound("requester %d not found", 9))

	sink := NewTelegramSink(&mockSender{}, dir, nil, testConfig(), zerolog.Nop())
	payload, _ := json.Marshal(events.NotificationPayload{RequesterID: 9})
	err := sink.Handle(events.Event{Type: events.NotifyRejection, Payload: payload})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAMQPSink(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewAMQPSink(ch, "cabinbook.events", zerolog.Nop())

	bus := events.NewEventBus(nil)
	bus.SubscribeAll(sink.Handle)
	require.NoError(t, bus.PublishJSON(events.ReservationCreated, events.ReservationPayload{ReservationID: "r1", CabinID: 3}))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "cabinbook.events", ch.keys[0])
	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Body, &env))
	assert.Equal(t, events.ReservationCreated, env.Type)
	assert.Equal(t, int64(1), env.ID)
	assert.JSONEq(t, `{"reservation_id":"r1","requester_id":0,"cabin_id":3,"date":"","interval":"","status":"","priority":""}`, string(env.Payload))
	assert.NoError(t, sink.Close())
}

func TestAMQPSink_Error(t *testing.T) {
	var failures int
	bus := events.NewEventBus(func(events.Event, error) { failures++ })
	bus.Subscribe(events.ReservationApproved, NewAMQPSink(&fakeChannel{err: errors.New("closed")}, "q", zerolog.Nop()).Handle)
	require.NoError(t, bus.PublishJSON(events.ReservationApproved, events.ReservationPayload{}))
	assert.Equal(t, 1, failures)
}
