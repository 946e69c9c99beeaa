package queue

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// DispatchJob asks the dispatcher to run one campaign. The job lock that
// prevents two concurrent runs per campaign lives outside this service.
type DispatchJob struct {
	CampaignID int `json:"campaign_id"`
}

// RabbitPublisher publishes dispatch jobs onto a durable queue.
type RabbitPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewRabbitPublisher(url, queueName string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", queueName, err)
	}
	return &RabbitPublisher{conn: conn, ch: ch, queue: queueName}, nil
}

func (p *RabbitPublisher) PublishDispatch(job DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *RabbitPublisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// ConsumeDispatch runs the handler for every dispatch job on the queue.
// Manual ack; a failed job is requeued once (the redelivered flag breaks
// the loop) and then dropped.
func ConsumeDispatch(url, queueName string, log zerolog.Logger, handle func(DispatchJob) error) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", queueName, err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("registering consumer: %w", err)
	}

	log.Info().Str("queue", queueName).Msg("dispatcher waiting for jobs")

	for d := range msgs {
		var job DispatchJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			log.Warn().Err(err).Msg("invalid dispatch job, dropping")
			d.Ack(false)
			continue
		}

		if err := handle(job); err != nil {
			log.Error().Err(err).Int("campaign_id", job.CampaignID).Msg("dispatch failed")
			if !d.Redelivered {
				d.Nack(false, true)
				continue
			}
		}
		d.Ack(false)
	}
	return nil
}
