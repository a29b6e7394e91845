package executor

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/signalbridge/signal-bridge/internal/config"
	"github.com/signalbridge/signal-bridge/internal/constant"
	"github.com/signalbridge/signal-bridge/internal/entity"
	"github.com/signalbridge/signal-bridge/internal/util"
)

// AsyncIntake buffers webhook signals through JetStream so bursts from
// the alerting source survive worker restarts. The gateway publishes,
// the worker consumes.
type AsyncIntake struct {
	js  nats.JetStreamContext
	svc *Service
}

var _ entity.Publisher = (*AsyncIntake)(nil)
var _ entity.Subscriber = (*AsyncIntake)(nil)

func NewAsyncIntake(js nats.JetStreamContext, svc *Service) *AsyncIntake {
	return &AsyncIntake{
		js:  js,
		svc: svc,
	}
}

func (a *AsyncIntake) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.SignalStreamName,
		Subjects:  []string{constant.SignalStreamSubjectAll},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	}

	stream, err := a.js.StreamInfo(constant.SignalStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.SignalStreamName)
		_, err = a.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.SignalStreamName)
	_, err = a.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

// Publish enqueues a raw webhook payload for asynchronous processing.
// The payload re-runs validation on the consumer side.
func (a *AsyncIntake) Publish(ctx context.Context, rawPayload []byte) error {
	event := &entity.SignalEvent{
		Payload: rawPayload,
	}

	return util.PublishEvent(a.js, constant.SignalStreamSubjectProcess, event)
}

func (a *AsyncIntake) JetstreamEventSubscribe(ctx context.Context) error {
	err := a.JetstreamEventInit(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}

	_, err = a.js.QueueSubscribe(
		constant.SignalStreamSubjectProcess,
		constant.SignalQueueName,
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(config.Env.NatsJetstream.TimeoutHandler["process_signal"], msg, a.handleSignalEvent)
			if err != nil {
				logrus.Errorf("error processing message: %v", err)
				return
			}

			err = msg.Ack()
			if err != nil {
				logrus.Errorf("failed to acknowledge message: %v", err)
				return
			}
		},
		nats.ManualAck(),
		nats.Durable(constant.SignalQueueGroup),
	)
	util.ContinueOrFatal(err)

	return nil
}

func (a *AsyncIntake) handleSignalEvent(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithFields(logrus.Fields{
		"req": string(msg.Data),
	})

	var event *entity.SignalEvent
	err = json.Unmarshal(msg.Data, &event)
	if err != nil {
		logger.Error(err)
		return err
	}

	defer func() {
		if err != nil {
			logger.Error(err)
			event.RetryCount++
			if event.RetryCount >= config.Env.NatsJetstream.MaxRetries {
				return
			}

			err := util.PublishEvent(a.js, constant.SignalStreamSubjectProcess, event)
			if err != nil {
				logger.Error(err)
				return
			}
		}
	}()

	var signal entity.Signal
	if unmarshalErr := json.Unmarshal(event.Payload, &signal); unmarshalErr != nil {
		// Malformed payloads never become valid, skip the retry loop.
		event.RetryCount = config.Env.NatsJetstream.MaxRetries
		err = unmarshalErr
		return err
	}

	signal.ApplyDefaults()
	if validateErr := signal.Validate(); validateErr != nil {
		event.RetryCount = config.Env.NatsJetstream.MaxRetries
		err = validateErr
		return err
	}

	_, err = a.svc.ProcessSignal(ctx, &signal, event.Payload)
	if errors.Is(err, ErrDuplicateSignal) {
		err = nil
	}

	return err
}
