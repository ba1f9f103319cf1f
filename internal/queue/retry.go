package queue

import (
	"errors"

	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	"github.com/rabbitmq/amqp091-go"
)

// MaxRetries is the number of redeliveries before a message is
// dead-lettered.
const MaxRetries = 10

const retriesHeader = "x-retries"

// permanent reports whether a retry can never succeed.
func permanent(err error) bool {
	var malformed *ontology.MalformedDocumentError
	var unsupported *ontology.UnsupportedConstructError
	var cycle *ontology.CycleDetectedError
	return errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, graph.ErrNoOntology) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.As(err, &malformed) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &cycle)
}

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// nextRoute picks the queue a failed message goes to and the headers it
// carries there.
func nextRoute(msg amqp091.Delivery, queueName string, err error) (string, amqp091.Table) {
	retries := retryCount(msg.Headers)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if retries >= MaxRetries || permanent(err) {
		return queueName + "_dlq", headers
	}
	headers[retriesHeader] = int32(retries + 1)
	return queueName + "_retry", headers
}

// HandleProcessingError moves a failed message to the retry queue, or to
// the dead-letter queue once retries are exhausted or the failure is
// permanent. The original delivery is acked after the republish and
// requeued if the republish fails.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string, err error) {
	target, headers := nextRoute(msg, queueName, err)
	logger.Info("[Queue] Rerouting failed message", "queue", queueName, "target", target, "retries", retryCount(headers))

	pubErr := ch.Publish(
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to republish message", "target", target, "err", pubErr)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
