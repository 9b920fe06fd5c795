package fmatrix

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient manages the MQTT connection and the subscriptions to the
// correspondence topics of every configured source
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	messageHandler MessageHandler
	isConnected    bool
	mu             sync.RWMutex
}

// MessageHandler is called when a correspondence message is received.
// Parameters: sourceID, rawPayload, parsed file, parse error
type MessageHandler func(sourceID string, rawPayload []byte, file *MatchFile, err error)

// brokerSettings resolves broker settings, environment first then config
type brokerSettings struct {
	broker   string
	clientID string
	username string
	password string
}

func resolveBrokerSettings(config *Config) brokerSettings {
	s := brokerSettings{
		broker:   os.Getenv("MQTT_BROKER"),
		clientID: os.Getenv("MQTT_CLIENT_ID"),
		username: os.Getenv("MQTT_USERNAME"),
		password: os.Getenv("MQTT_PASSWORD"),
	}
	if config != nil {
		if s.broker == "" {
			s.broker = config.MQTT.Broker
		}
		if s.clientID == "" {
			s.clientID = config.MQTT.ClientID
		}
		if s.username == "" {
			s.username = config.MQTT.Username
		}
		if s.password == "" {
			s.password = config.MQTT.Password
		}
	}
	if s.clientID == "" {
		s.clientID = "lmedsq"
	}
	return s
}

// InitMQTT creates the MQTT client and connects in the background.
// If no broker is configured (MQTT_BROKER or mqtt.broker), MQTT is disabled
// and this returns nil, nil.
func InitMQTT(config *Config, handler MessageHandler) (*MQTTClient, error) {
	settings := resolveBrokerSettings(config)
	if settings.broker == "" {
		log.Println("[MQTT] disabled: no broker configured")
		return nil, nil
	}

	if config == nil || len(config.Sources) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no sources configured")
	}

	client := &MQTTClient{
		config:         config,
		messageHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.broker)
	opts.SetClientID(settings.clientID)
	if settings.username != "" {
		opts.SetUsername(settings.username)
		opts.SetPassword(settings.password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // Preserve subscriptions on reconnect
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to every source topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	c.subscribeAll(client)
}

func (c *MQTTClient) subscribeAll(client mqtt.Client) {
	for _, src := range c.config.Sources {
		if src.Topic == "" {
			log.Printf("[MQTT] warning: source %s has no topic configured", src.ID)
			continue
		}

		token := client.Subscribe(src.Topic, 0, c.createMessageHandler(src.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", src.Topic, token.Error())
		} else {
			log.Printf("[MQTT] subscribed to %s for source %s", src.Topic, src.ID)
		}
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// createMessageHandler creates a handler function for a specific source's topic
func (c *MQTTClient) createMessageHandler(sourceID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] received correspondences for %s (topic: %s, size: %d bytes)",
			sourceID, msg.Topic(), len(payload))

		file, err := ParseCorrespondences(payload)
		if err != nil {
			log.Printf("[MQTT] error parsing correspondences for %s: %v", sourceID, err)
		}
		if c.messageHandler != nil {
			c.messageHandler(sourceID, payload, file, err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetSourceByTopic returns the source ID subscribed to topic
func (c *MQTTClient) GetSourceByTopic(topic string) (string, bool) {
	for _, src := range c.config.Sources {
		if src.Topic == topic {
			return src.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// NewMQTTClientWithClient wraps an existing mqtt.Client, such as MockClient.
// No connection is attempted; call Subscribe once the client is connected.
func NewMQTTClientWithClient(client mqtt.Client, config *Config, handler MessageHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		config:         config,
		messageHandler: handler,
		isConnected:    client != nil && client.IsConnected(),
	}
}

// Subscribe subscribes to every source topic on the wrapped client
func (c *MQTTClient) Subscribe() {
	c.subscribeAll(c.client)
}
