// Package bridge forwards station bus traffic to an MQTT broker.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"stackshield-go/bus"
	"stackshield-go/logger"
	"stackshield-go/services/config"
)

// -----------------------------------------------------------------------------
// Broker side
// -----------------------------------------------------------------------------

// Publisher is the part of an MQTT client the bridge uses.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

type pahoPublisher struct {
	opts   *mqtt.ClientOptions
	client mqtt.Client
	log    *logger.Log
}

// NewPaho builds a paho-backed Publisher. The broker sees a retained
// "down" state on <prefix>/bridge/state if the session drops.
func NewPaho(cfg config.MQTTConf, log *logger.Log) Publisher {
	p := &pahoPublisher{log: logger.OrDiscard(log).With(logger.Fields{"module": "mqtt"})}
	p.opts = mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.User).
		SetPassword(cfg.Password).
		SetOnConnectHandler(p.connectHandler).
		SetConnectionLostHandler(p.connectLostHandler).
		SetWill(remoteTopic(cfg.Prefix, bus.T("bridge", "state")), `{"level":"down"}`, cfg.QoS, true).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	return p
}

func (p *pahoPublisher) Connect(ctx context.Context) error {
	p.client = mqtt.NewClient(p.opts)
	token := p.client.Connect()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

func (p *pahoPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(500)
	}
}

func (p *pahoPublisher) connectHandler(_ mqtt.Client) {
	p.log.Info("client connected to server")
}

func (p *pahoPublisher) connectLostHandler(_ mqtt.Client, err error) {
	p.log.Errorf("server connect lost: %v", err)
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	pub        Publisher
	prefix     string
	qos        byte
	log        *logger.Log
	stateTopic bus.Topic
	tss, cfg   *bus.Subscription

	retryMin, retryMax time.Duration
}

// New subscribes to tss/# and config/# immediately; events published before
// Run are queued.
func New(conn *bus.Connection, pub Publisher, cfg config.MQTTConf, log *logger.Log) *Service {
	return &Service{
		tss:        conn.Subscribe(bus.T("tss", bus.MultiWild)),
		cfg:        conn.Subscribe(bus.T("config", bus.MultiWild)),
		conn:       conn,
		pub:        pub,
		prefix:     cfg.Prefix,
		qos:        cfg.QoS,
		log:        logger.OrDiscard(log).With(logger.Fields{"module": "bridge"}),
		stateTopic: bus.T("bridge", "state"),
		retryMin:   250 * time.Millisecond,
		retryMax:   5 * time.Second,
	}
}

// Run connects (retrying with backoff) and forwards tss/# and config/#
// until ctx ends. Messages already queued when ctx ends are still sent.
// A Service runs once.
func (s *Service) Run(ctx context.Context) error {
	tss, cfg := s.tss, s.cfg
	defer s.conn.Unsubscribe(tss)
	defer s.conn.Unsubscribe(cfg)

	s.publishState("idle", "connecting", nil)
	backoff := backoffSeq(s.retryMin, s.retryMax)
	for {
		err := s.pub.Connect(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := backoff()
		s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		s.log.WithError(err).Warnf("broker unreachable, retry in %s", delay)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
	defer s.pub.Close()
	s.publishState("up", "link_established", nil)

	for {
		select {
		case <-ctx.Done():
			s.drain(tss, cfg)
			return nil
		case m := <-tss.Channel():
			s.forward(m)
		case m := <-cfg.Channel():
			s.forward(m)
		}
	}
}

// drain forwards whatever is still queued without blocking.
func (s *Service) drain(subs ...*bus.Subscription) {
	for _, sub := range subs {
	queued:
		for {
			select {
			case m, ok := <-sub.Channel():
				if !ok {
					break queued
				}
				s.forward(m)
			default:
				break queued
			}
		}
	}
}

func (s *Service) forward(m *bus.Message) {
	if m == nil {
		return
	}
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		s.log.WithError(err).Warnf("cannot encode %v", m.Topic)
		return
	}
	topic := remoteTopic(s.prefix, m.Topic)
	if err := s.pub.Publish(topic, s.qos, m.Retained, payload); err != nil {
		s.log.WithError(err).Warnf("publish %s failed", topic)
		return
	}
	s.log.Debugf("forwarded %s", topic)
}

// remoteTopic joins tokens with '/', under prefix when set.
func remoteTopic(prefix string, t bus.Topic) string {
	parts := make([]string, 0, len(t)+1)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	for _, tok := range t {
		parts = append(parts, fmt.Sprint(tok))
	}
	return strings.Join(parts, "/")
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "idle"
		"status": status, // short machine string
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	msg := s.conn.NewMessage(s.stateTopic, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
