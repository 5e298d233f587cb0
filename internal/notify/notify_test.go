package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	kafkax "github.com/ariefcatur/pos-ticketing/internal/kafka"
	"github.com/ariefcatur/pos-ticketing/internal/redisx"
	"github.com/go-redis/redismock/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type capturePublisher struct {
	accept   bool
	key      []byte
	value    []byte
	headers  []kafkago.Header
	attempts int
}

func (p *capturePublisher) TryPublish(key, value []byte, headers ...kafkago.Header) bool {
	p.attempts++
	if !p.accept {
		return false
	}
	p.key, p.value, p.headers = key, value, headers
	return true
}

type MockSender struct{ mock.Mock }

func (m *MockSender) Send(ctx context.Context, n Notice) error {
	return m.Called(ctx, n).Error(0)
}

type MockMarker struct{ mock.Mock }

func (m *MockMarker) MarkDelivered(ctx context.Context, orderID string) (int, error) {
	args := m.Called(ctx, orderID)
	return args.Int(0), args.Error(1)
}

func sampleNotice(kind Kind) Notice {
	return Notice{
		Kind: kind,
		Order: OrderSnapshot{
			ID:         "o-1",
			Status:     "PAID",
			UserEmail:  "buyer@example.com",
			TotalPrice: decimal.RequireFromString("150.00"),
		},
		Tickets: []TicketSnapshot{{ID: "t-1", SecureToken: "tok", QRCodeURL: "http://x/tickets/tok/qr.png"}},
	}
}

func TestKafkaDispatcher_Notify_PublishesEnvelope(t *testing.T) {
	pub := &capturePublisher{accept: true}
	d := NewKafkaDispatcher(quietLogger(), pub, "pos-api")

	d.Notify(WithTraceID(context.Background(), "req-9"), sampleNotice(KindTicketsReady))

	require.Equal(t, 1, pub.attempts)
	assert.Equal(t, []byte("o-1"), pub.key)

	var env kafkax.Envelope
	require.NoError(t, kafkax.UnmarshalEnvelope(pub.value, &env))
	assert.Equal(t, string(KindTicketsReady), env.EventType)
	assert.Equal(t, "req-9", env.TraceID)
	assert.Equal(t, "o-1", env.CorrelationID)
	assert.Equal(t, "pos-api", env.Producer)

	n, err := kafkax.UnwrapPayload[Notice](env.Payload)
	require.NoError(t, err)
	assert.Len(t, n.Tickets, 1)
	assert.True(t, n.Order.TotalPrice.Equal(decimal.RequireFromString("150")))
}

func TestKafkaDispatcher_Notify_FullInboxDoesNotFail(t *testing.T) {
	pub := &capturePublisher{accept: false}
	d := NewKafkaDispatcher(quietLogger(), pub, "pos-api")

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), sampleNotice(KindOrderReceived))
	})
	assert.Equal(t, 1, pub.attempts)
}

func message(t *testing.T, eventID string, n Notice) kafkago.Message {
	t.Helper()
	env := kafkax.Envelope{EventID: eventID, EventType: string(n.Kind), Payload: kafkax.MustMarshal(n)}
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestWorker_Handle_TicketsReadyMarksDelivered(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	sender := &MockSender{}
	marker := &MockMarker{}
	w := &Worker{Logger: quietLogger(), Redis: db, Sender: sender, Tickets: marker, Service: "notifier"}

	rmock.ExpectSetNX(fmt.Sprintf(redisx.KeyDedup, "notifier", "e-1"), "1", redisx.TTLDedup).SetVal(true)
	sender.On("Send", mock.Anything, mock.MatchedBy(func(n Notice) bool { return n.Order.ID == "o-1" })).Return(nil)
	marker.On("MarkDelivered", mock.Anything, "o-1").Return(1, nil)

	err := w.Handle(context.Background(), message(t, "e-1", sampleNotice(KindTicketsReady)))

	require.NoError(t, err)
	sender.AssertExpectations(t)
	marker.AssertExpectations(t)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestWorker_Handle_DuplicateSkipped(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	sender := &MockSender{}
	w := &Worker{Logger: quietLogger(), Redis: db, Sender: sender, Service: "notifier"}

	rmock.ExpectSetNX(fmt.Sprintf(redisx.KeyDedup, "notifier", "e-1"), "1", redisx.TTLDedup).SetVal(false)

	err := w.Handle(context.Background(), message(t, "e-1", sampleNotice(KindOrderReceived)))

	require.NoError(t, err)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestWorker_Handle_SendFailureReleasesClaim(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	sender := &MockSender{}
	marker := &MockMarker{}
	w := &Worker{Logger: quietLogger(), Redis: db, Sender: sender, Tickets: marker, Service: "notifier"}

	key := fmt.Sprintf(redisx.KeyDedup, "notifier", "e-2")
	rmock.ExpectSetNX(key, "1", redisx.TTLDedup).SetVal(true)
	rmock.ExpectDel(key).SetVal(1)
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	err := w.Handle(context.Background(), message(t, "e-2", sampleNotice(KindTicketsReady)))

	assert.Error(t, err)
	marker.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestWorker_Handle_IgnoresForeignEvents(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	w := &Worker{Logger: quietLogger(), Redis: db, Sender: &MockSender{}, Service: "notifier"}

	env := kafkax.Envelope{EventID: "e-3", EventType: "OrderCreated"}
	require.NoError(t, w.Handle(context.Background(), kafkago.Message{Value: kafkax.MustMarshal(env)}))
	require.NoError(t, w.Handle(context.Background(), kafkago.Message{Value: []byte("not json")}))
	assert.NoError(t, rmock.ExpectationsWereMet())
}
