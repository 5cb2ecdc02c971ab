package queue

import (
    "context"
    "encoding/json"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/IBM/sarama"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

var sampleEvent = BookingConfirmedEvent{
    BookingID:   12,
    Reference:   "7f9c",
    BusID:       "bus-1",
    Operator:    "Green Line",
    BusNumber:   "GL-12",
    UserID:      "42",
    HolderID:    "sess-a",
    Seats:       []int{3, 4},
    TotalPrice:  1050,
    ConfirmedAt: "2026-03-01T10:00:00Z",
}

func readLog(t *testing.T, dir string) []string {
    t.Helper()
    b, err := os.ReadFile(filepath.Join(dir, "booking.log"))
    require.NoError(t, err)
    return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestBookingLog_Handle(t *testing.T) {
    dir := t.TempDir()
    bl := NewBookingLog(dir)
    body, err := json.Marshal(sampleEvent)
    require.NoError(t, err)

    require.NoError(t, bl.Handle(body))
    require.NoError(t, bl.Handle(body))

    lines := readLog(t, dir)
    require.Len(t, lines, 2)
    assert.Equal(t,
        `[2026-03-01T10:00:00Z] Booking confirmed | ref=7f9c | booking_id=12 | user_id=42 | bus_id=bus-1 | operator="Green Line" | bus="GL-12" | total=1050 | seats=[3,4]`,
        lines[0])
}

func TestBookingLog_RejectsBadBodies(t *testing.T) {
    bl := NewBookingLog(t.TempDir())
    assert.Error(t, bl.Handle([]byte("{")))
    assert.Error(t, bl.Handle([]byte(`{"reference":"x","bus_id":"b"}`)))
}

type recordingAck struct{ acked, nacked int }

func (r *recordingAck) Ack(bool) error        { r.acked++; return nil }
func (r *recordingAck) Nack(bool, bool) error { r.nacked++; return nil }

func TestSettle(t *testing.T) {
    bl := NewBookingLog(t.TempDir())
    body, _ := json.Marshal(sampleEvent)

    a := &recordingAck{}
    settle(bl, body, a)
    settle(bl, []byte("nope"), a)
    assert.Equal(t, 1, a.acked)
    assert.Equal(t, 1, a.nacked)
}

type fakeSession struct {
    sarama.ConsumerGroupSession
    ctx    context.Context
    marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
    s.marked = append(s.marked, m.Offset)
}

type fakeClaim struct {
    sarama.ConsumerGroupClaim
    msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestBookingClaimHandler(t *testing.T) {
    dir := t.TempDir()
    h := &bookingClaimHandler{log: NewBookingLog(dir)}
    body, _ := json.Marshal(sampleEvent)

    claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 2)}
    claim.msgs <- &sarama.ConsumerMessage{Offset: 1, Value: body}
    claim.msgs <- &sarama.ConsumerMessage{Offset: 2, Value: []byte("garbage")}
    close(claim.msgs)
    sess := &fakeSession{ctx: context.Background()}

    require.NoError(t, h.ConsumeClaim(sess, claim))
    assert.Equal(t, []int64{1, 2}, sess.marked)
    assert.Len(t, readLog(t, dir), 1)
}
