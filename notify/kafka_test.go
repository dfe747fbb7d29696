package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/gptmessenger/notify"
	notify_mock "github.com/mqy/gptmessenger/notify/mock"
)

func TestKafkaNotifierPublish(t *testing.T) {
	defer notify.SetRetryMinInterval(10 * time.Millisecond)()

	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	writer := notify_mock.NewMockIKafkaWriter(mockCtrl)
	n := notify.NewKafkaNotifier(writer, 4)

	written := make(chan kafka.Message, 1)
	reply := int64(1)
	e := &notify.Event{Type: notify.TypeDmNew, Thread: "alice|bob", Id: 2, From: "bob", To: []string{"alice", "bob"}, Text: "hi", ReplyTo: &reply}

	gomock.InOrder(
		writer.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Return(errors.New("broker down")),
		writer.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msgs ...kafka.Message) error {
			written <- msgs[0]
			return nil
		}),
	)
	writer.EXPECT().Close().Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopDoneC := make(chan struct{}, 1)
	go n.Run(ctx, stopDoneC)

	n.Publish(e)

	select {
	case km := <-written:
		assert.Equal(t, "alice|bob", string(km.Key))
		var got notify.Event
		require.NoError(t, json.Unmarshal(km.Value, &got))
		assert.Equal(t, *e, got)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not written")
	}

	cancel()
	select {
	case <-stopDoneC:
	case <-time.After(5 * time.Second):
		t.Fatal("notifier did not stop")
	}
}

func TestKafkaNotifierDropsWhenFull(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	n := notify.NewKafkaNotifier(notify_mock.NewMockIKafkaWriter(mockCtrl), 1)
	n.Publish(&notify.Event{Type: notify.TypeGroupNew, Thread: "team", Id: 1})
	n.Publish(&notify.Event{Type: notify.TypeGroupNew, Thread: "team", Id: 2})
	assert.EqualValues(t, 1, n.Dropped())
}
