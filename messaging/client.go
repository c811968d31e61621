package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"

	"github.com/ichao15/slwl/config"
	"github.com/ichao15/slwl/protocol"
)

// Handler processes one inbound message. A non-nil error asks for
// redelivery unless protocol.Permanent reports it cannot help.
type Handler func(ctx context.Context, payload []byte) error

// Publisher is the outbound half of Client.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

const (
	publishTimeout      = 10 * time.Second
	maxDeliveryAttempts = 5
)

// Client is the unified messaging client (Kafka or MQTT).
type Client struct {
	mu       sync.RWMutex
	cfg      *config.MessagingConfig
	backend  string
	mqttConn mqtt.Client
	kafka    *kafkaState

	// newBackOff paces redelivery of a failing message.
	newBackOff func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type kafkaState struct {
	readers map[string]*kafka.Reader
	writer  *kafka.Writer
}

func NewClient(cfg *config.MessagingConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		backend: cfg.Backend,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect establishes the messaging connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.backend {
	case "kafka":
		return c.connectKafka()
	case "mqtt":
		return c.connectMQTT()
	default:
		return fmt.Errorf("unknown messaging backend: %q", c.backend)
	}
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	// Verify at least one broker is reachable
	var conn *kafka.Conn
	var connErr error
	for _, broker := range c.cfg.Kafka.Brokers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, connErr = kafka.DialContext(ctx, "tcp", broker)
		cancel()
		if connErr == nil {
			log.Printf("messaging: kafka connected to %s", broker)
			break
		}
	}
	if connErr != nil {
		return fmt.Errorf("kafka connect: %w", connErr)
	}

	c.ensureTopics(conn, c.cfg.InboundTopic, c.cfg.EventsTopic)
	conn.Close()

	c.kafka = &kafkaState{
		readers: make(map[string]*kafka.Reader),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(c.cfg.Kafka.Brokers...),
			Balancer:     &kafka.Hash{}, // keyed by corridor, keeps per-corridor order
			RequiredAcks: kafka.RequireOne,
		},
	}
	return nil
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.cfg.MQTT.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	log.Printf("messaging: mqtt connected to %s", broker)
	c.mqttConn = client
	return nil
}

// ensureTopics creates Kafka topics if they don't already exist. Errors are
// logged but not fatal since the broker may auto-create topics anyway.
func (c *Client) ensureTopics(conn *kafka.Conn, topics ...string) {
	if len(topics) == 0 {
		return
	}

	controller, err := conn.Controller()
	if err != nil {
		log.Printf("messaging: cannot find controller for topic creation: %v", err)
		return
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafka.Dial("tcp", controllerAddr)
	if err != nil {
		log.Printf("messaging: cannot connect to controller: %v", err)
		return
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, t := range topics {
		configs[i] = kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		log.Printf("messaging: topic auto-create: %v", err)
	} else {
		log.Printf("messaging: ensured topics exist: %v", topics)
	}
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishKeyed(topic, nil, payload)
}

// PublishKeyed sends payload with a partition key (Kafka only; MQTT ignores it).
func (c *Client) PublishKeyed(topic string, key, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.backend {
	case "kafka":
		if c.kafka == nil || c.kafka.writer == nil {
			return fmt.Errorf("kafka not connected")
		}
		ctx, cancel := context.WithTimeout(c.ctx, publishTimeout)
		defer cancel()
		return c.kafka.writer.WriteMessages(ctx, kafka.Message{
			Topic: topic,
			Key:   key,
			Value: payload,
		})
	case "mqtt":
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("mqtt publish to %s: timeout", topic)
		}
		return token.Error()
	default:
		return fmt.Errorf("unknown backend: %s", c.backend)
	}
}

// PublishEnvelope encodes and publishes a protocol envelope to the given topic.
func (c *Client) PublishEnvelope(topic string, env interface{ Encode() ([]byte, error) }) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Publish(topic, data)
}

// Subscribe registers handler for topic. Kafka offsets are committed only
// after the handler succeeds, gives up, or reports a permanent error.
// MQTT QoS 1 messages are acknowledged when the callback returns.
func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.backend {
	case "kafka":
		if c.kafka == nil {
			return fmt.Errorf("kafka not connected")
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: c.cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: c.cfg.Kafka.GroupID,
		})
		c.kafka.readers[topic] = reader
		c.wg.Add(1)
		go c.readKafka(reader, topic, handler)
		return nil
	case "mqtt":
		if c.mqttConn == nil {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			c.deliver(c.ctx, topic, msg.Payload(), handler)
		})
		token.Wait()
		return token.Error()
	default:
		return fmt.Errorf("unknown backend: %s", c.backend)
	}
}

func (c *Client) readKafka(reader *kafka.Reader, topic string, handler Handler) {
	defer c.wg.Done()
	for {
		msg, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				log.Printf("messaging: kafka fetch %s: %v", topic, err)
			}
			return
		}
		c.deliver(c.ctx, topic, msg.Value, handler)
		if c.ctx.Err() != nil {
			return // uncommitted, redelivered after restart
		}
		if err := reader.CommitMessages(c.ctx, msg); err != nil {
			log.Printf("messaging: kafka commit %s@%d: %v", topic, msg.Offset, err)
		}
	}
}

// deliver runs handler until it succeeds, the error is permanent, or the
// attempts run out. Messages that still fail are logged and dropped so one
// poison message cannot stall the partition.
func (c *Client) deliver(ctx context.Context, topic string, payload []byte, handler Handler) {
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxDeliveryAttempts-1), ctx)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := handler(ctx, payload)
		if err != nil && protocol.Permanent(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Printf("messaging: %s handler attempt %d: %v", topic, attempt, err)
		}
		return err
	}, b)
	if err != nil {
		log.Printf("messaging: dropping message on %s after %d attempt(s): %v", topic, attempt, err)
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.backend {
	case "kafka":
		return c.kafka != nil
	case "mqtt":
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	default:
		return false
	}
}

// Close stops the readers and waits for in-flight handlers.
func (c *Client) Close() {
	c.cancel()

	c.mu.Lock()
	if c.kafka != nil {
		for _, r := range c.kafka.readers {
			r.Close()
		}
		if c.kafka.writer != nil {
			c.kafka.writer.Close()
		}
		c.kafka = nil
	}
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
}
