package notify

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaWriteTimeout = 10 * time.Second
	writeTimeout      = 3 * time.Second
)

var (
	retryMinInterval = 100 * time.Millisecond
	retryMaxInterval = 30 * time.Second
)

func NewKafkaWriter(brokers []string, topic string) IKafkaWriter {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   kafkaWriteTimeout,
			DualStack: true,
		},
	})
}

// KafkaNotifier queues events and writes them to kafka from its own goroutine, keyed by thread
// so one thread's events stay in one partition.
type KafkaNotifier struct {
	writer  IKafkaWriter
	events  chan *Event
	dropped uint64
}

func NewKafkaNotifier(writer IKafkaWriter, queueSize int) *KafkaNotifier {
	return &KafkaNotifier{
		writer: writer,
		events: make(chan *Event, queueSize),
	}
}

// Publish implements INotifier. Events are dropped while the queue is full.
func (n *KafkaNotifier) Publish(e *Event) {
	select {
	case n.events <- e:
	default:
		atomic.AddUint64(&n.dropped, 1)
		glog.Errorf("notify: queue full, dropped event %s %s#%d", e.Type, e.Thread, e.Id)
	}
}

// Dropped returns the number of events lost to a full queue.
func (n *KafkaNotifier) Dropped() uint64 {
	return atomic.LoadUint64(&n.dropped)
}

// Run writes queued events until ctx is done.
func (n *KafkaNotifier) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	glog.Info("notify: run loop enter")
	defer func() {
		if err := n.writer.Close(); err != nil {
			glog.Errorf("notify: close kafka writer error: %v", err)
		}
		glog.Info("notify: run loop exit")
		stopDoneNotifyC <- struct{}{}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.events:
			n.write(ctx, e)
		}
	}
}

func (n *KafkaNotifier) write(ctx context.Context, e *Event) {
	value, err := json.Marshal(e)
	if err != nil {
		glog.Errorf("notify: marshal event %+v error: %v", e, err)
		return
	}
	km := kafka.Message{
		Key:   []byte(e.Thread),
		Value: value,
	}

	var sleep time.Duration
	for {
		ctx2, cancel := context.WithTimeout(ctx, writeTimeout)
		err := n.writer.WriteMessages(ctx2, km)
		cancel()
		if err == nil {
			glog.V(5).Infof("notify: published %s", value)
			return
		}
		glog.Errorf("notify: write to kafka error: %v", err)
		if ctx.Err() != nil {
			return
		}
		backoff(&sleep)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return
		}
	}
}

func backoff(d *time.Duration) {
	if *d == 0 {
		*d = retryMinInterval
	} else {
		*d = time.Duration(float64(*d) * 1.5)
		if *d > retryMaxInterval {
			*d = retryMaxInterval
		}
	}
}
