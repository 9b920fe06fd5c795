package fmatrix

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ResultMessage is the payload published for one estimate
type ResultMessage struct {
	Source      string  `json:"source"`
	RunID       string  `json:"runId"`
	Matrix      Matrix3 `json:"matrix"`
	Cost        float64 `json:"cost"`
	Threshold   float64 `json:"threshold"`
	InlierCount int     `json:"inlierCount"`
	Total       int     `json:"total"`
	Inliers     []int   `json:"inliers"`
	Samples     int     `json:"samples"`
	Timestamp   int64   `json:"timestamp"`
}

// NewResultMessage builds the published form of result
func NewResultMessage(source string, result *Result) *ResultMessage {
	return &ResultMessage{
		Source:      source,
		RunID:       result.RunID,
		Matrix:      result.Matrix,
		Cost:        result.Cost,
		Threshold:   result.Threshold,
		InlierCount: result.InlierCount,
		Total:       len(result.Inliers),
		Inliers:     result.InlierIndices(),
		Samples:     result.Samples,
		Timestamp:   time.Now().Unix(),
	}
}

// Publisher publishes estimation results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	latest        map[string]*ResultMessage
	mu            sync.RWMutex
}

// NewPublisher creates a new result publisher.
// The topic prefix comes from MQTT_PUBLISH_PREFIX, then prefix, then "lmedsq".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "lmedsq"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true, // Retain for the latest result
		latest:        make(map[string]*ResultMessage),
	}
}

// PublishResult publishes an estimate to {prefix}/{source} and the combined
// {prefix}/results topic
func (p *Publisher) PublishResult(source string, result *Result) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if result == nil {
		return fmt.Errorf("publish %s: nil result", source)
	}

	msg := NewResultMessage(source, result)

	p.mu.Lock()
	p.latest[source] = msg
	p.mu.Unlock()

	if err := p.publishIndividual(msg); err != nil {
		log.Printf("[MQTT] error publishing result for %s: %v", source, err)
		return err
	}
	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] error publishing combined results: %v", err)
		return err
	}
	return nil
}

func (p *Publisher) publishIndividual(msg *ResultMessage) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, msg.Source)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("[MQTT] published result for %s: inliers %d/%d cost=%.4g",
		msg.Source, msg.InlierCount, msg.Total, msg.Cost)
	return nil
}

// publishCombined publishes the latest result of every source, sorted by source
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	results := make([]*ResultMessage, 0, len(p.latest))
	for _, msg := range p.latest {
		results = append(results, msg)
	}
	p.mu.RUnlock()

	if len(results) == 0 {
		return nil
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })

	topic := fmt.Sprintf("%s/results", p.publishPrefix)
	message := map[string]interface{}{
		"results":   results,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined results: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetResult returns the last published result for a source
func (p *Publisher) GetResult(source string) (*ResultMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msg, ok := p.latest[source]
	return msg, ok
}

// ClearResult forgets the last published result of a source
func (p *Publisher) ClearResult(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.latest, source)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
