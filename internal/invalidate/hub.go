package invalidate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MQTT 3.1.1 control packet types handled by the hub.
const (
	packetConnect     = 1
	packetPublish     = 3
	packetSubscribe   = 8
	packetUnsubscribe = 10
	packetPingReq     = 12
	packetDisconnect  = 14
)

const (
	// maxConnectPacket bounds the first packet of a session, read before the
	// client has identified itself.
	maxConnectPacket = 64 << 10
	// maxControlPacket bounds SUBSCRIBE and UNSUBSCRIBE once connected.
	maxControlPacket = 16 << 10
	connectTimeout   = 10 * time.Second
)

type subscriber struct {
	conn     net.Conn
	reader   *bufio.Reader
	writeMu  sync.Mutex
	clientID string
	closed   atomic.Bool

	filtersMu sync.RWMutex
	filters   map[string]struct{}
}

func newSubscriber(conn net.Conn) *subscriber {
	return &subscriber{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		filters: make(map[string]struct{}),
	}
}

func (s *subscriber) matches(topic string) bool {
	s.filtersMu.RLock()
	defer s.filtersMu.RUnlock()
	for f := range s.filters {
		if topicMatches(f, topic) {
			return true
		}
	}
	return false
}

func (s *subscriber) subscribe(filter string) {
	s.filtersMu.Lock()
	s.filters[filter] = struct{}{}
	s.filtersMu.Unlock()
}

func (s *subscriber) unsubscribe(filter string) {
	s.filtersMu.Lock()
	delete(s.filters, filter)
	s.filtersMu.Unlock()
}

func (s *subscriber) writePacket(packet []byte) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := s.conn.Write(packet)
	return err
}

// Hub is an embedded MQTT 3.1.1 endpoint for cache nodes that want to hear
// about invalidations without running a separate broker. Clients may only
// subscribe; messages originate from the server through Publish, and a client
// PUBLISH ends its session. Delivery is QoS 0.
type Hub struct {
	logger       *slog.Logger
	mu           sync.Mutex
	listener     net.Listener
	wg           sync.WaitGroup
	shuttingDown atomic.Bool

	clientsMu sync.RWMutex
	clients   map[*subscriber]struct{}
}

// NewHub constructs a hub with the supplied logger.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, clients: make(map[*subscriber]struct{})}
}

// Start listens for subscribers on bind. The returned channel is closed once
// the accept loop terminates; fatal errors are sent on it first.
func (h *Hub) Start(bind string) (<-chan error, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("hub listen: %w", err)
	}

	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	errCh := make(chan error, 1)
	h.logger.Info("invalidation hub listening", "addr", ln.Addr().String())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if h.shuttingDown.Load() {
					close(errCh)
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					h.logger.Warn("temporary accept error", "error", err)
					time.Sleep(50 * time.Millisecond)
					continue
				}
				errCh <- fmt.Errorf("hub accept: %w", err)
				close(errCh)
				return
			}

			sub := newSubscriber(conn)
			h.addClient(sub)

			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.serve(sub)
			}()
		}
	}()

	return errCh, nil
}

// Addr returns the listening address, or nil before Start.
func (h *Hub) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop closes the listener and every subscriber connection.
func (h *Hub) Stop() error {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	h.mu.Lock()
	ln := h.listener
	h.listener = nil
	h.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	h.clientsMu.Lock()
	for sub := range h.clients {
		sub.closed.Store(true)
		_ = sub.conn.Close()
	}
	h.clients = make(map[*subscriber]struct{})
	h.clientsMu.Unlock()

	h.wg.Wait()
	return nil
}

// Publish delivers payload to every subscriber whose filter matches topic and
// returns how many received it.
func (h *Hub) Publish(topic string, payload []byte) (int, error) {
	packet, err := buildPublishPacket(topic, payload)
	if err != nil {
		return 0, err
	}

	h.clientsMu.RLock()
	targets := make([]*subscriber, 0, len(h.clients))
	for sub := range h.clients {
		if sub.matches(topic) {
			targets = append(targets, sub)
		}
	}
	h.clientsMu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.writePacket(packet); err != nil {
			h.logger.Warn("invalidation delivery failed", "client", sub.clientID, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(sub *subscriber) {
	h.clientsMu.Lock()
	h.clients[sub] = struct{}{}
	h.clientsMu.Unlock()
}

func (h *Hub) removeClient(sub *subscriber) {
	h.clientsMu.Lock()
	delete(h.clients, sub)
	h.clientsMu.Unlock()
}

func (h *Hub) serve(sub *subscriber) {
	defer func() {
		sub.closed.Store(true)
		h.removeClient(sub)
		_ = sub.conn.Close()
	}()

	var keepAlive time.Duration
	connected := false
	_ = sub.conn.SetReadDeadline(time.Now().Add(connectTimeout))

	for {
		if keepAlive > 0 {
			_ = sub.conn.SetReadDeadline(time.Now().Add(keepAlive * 3 / 2))
		}

		header, err := sub.reader.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.logger.Debug("read header error", "client", sub.clientID, "error", err)
			}
			return
		}

		remaining, err := readVarInt(sub.reader)
		if err != nil {
			h.logger.Debug("read remaining length error", "error", err)
			return
		}

		packetType := header >> 4
		if !connected && packetType != packetConnect {
			h.logger.Debug("packet before connect", "type", packetType)
			return
		}
		limit := maxControlPacket
		if !connected {
			limit = maxConnectPacket
		}
		if remaining > limit {
			h.logger.Warn("packet too large, closing", "client", sub.clientID, "type", packetType, "length", remaining, "limit", limit)
			return
		}

		payload := make([]byte, remaining)
		if _, err := io.ReadFull(sub.reader, payload); err != nil {
			h.logger.Debug("read packet payload error", "error", err)
			return
		}

		switch packetType {
		case packetConnect:
			if connected {
				return
			}
			ka, err := h.handleConnect(sub, payload)
			if err != nil {
				h.logger.Debug("handle connect error", "error", err)
				return
			}
			keepAlive = ka
			connected = true
			if keepAlive == 0 {
				_ = sub.conn.SetReadDeadline(time.Time{})
			}
		case packetPublish:
			h.logger.Warn("subscriber attempted to publish, closing", "client", sub.clientID)
			return
		case packetSubscribe:
			if err := h.handleSubscribe(sub, payload); err != nil {
				h.logger.Debug("handle subscribe error", "error", err)
				return
			}
		case packetUnsubscribe:
			if err := h.handleUnsubscribe(sub, payload); err != nil {
				h.logger.Debug("handle unsubscribe error", "error", err)
				return
			}
		case packetPingReq:
			if err := sub.writePacket([]byte{0xD0, 0x00}); err != nil {
				h.logger.Debug("write pingresp error", "error", err)
				return
			}
		case packetDisconnect:
			return
		default:
			h.logger.Debug("unsupported packet", "type", packetType)
			return
		}
	}
}

func (h *Hub) handleConnect(sub *subscriber, payload []byte) (time.Duration, error) {
	rd := bytesReader(payload)

	protoName, err := rd.readString()
	if err != nil {
		return 0, fmt.Errorf("read protocol name: %w", err)
	}
	if protoName != "MQTT" {
		return 0, fmt.Errorf("unsupported protocol %q", protoName)
	}

	level, err := rd.readByte()
	if err != nil {
		return 0, fmt.Errorf("read protocol level: %w", err)
	}
	if level != 4 {
		// 0x01: unacceptable protocol version
		_ = sub.writePacket([]byte{0x20, 0x02, 0x00, 0x01})
		return 0, fmt.Errorf("unsupported protocol level %d", level)
	}

	flags, err := rd.readByte()
	if err != nil {
		return 0, fmt.Errorf("read connect flags: %w", err)
	}

	keepAlive, err := rd.readUint16()
	if err != nil {
		return 0, fmt.Errorf("read keepalive: %w", err)
	}

	clientID, err := rd.readString()
	if err != nil {
		return 0, fmt.Errorf("read client id: %w", err)
	}
	if clientID == "" {
		clientID = fmt.Sprintf("anon-%d", time.Now().UnixNano())
	}
	sub.clientID = clientID

	// Will, username and password are accepted and ignored.
	if flags&0x04 != 0 {
		if _, err := rd.readString(); err != nil {
			return 0, fmt.Errorf("read will topic: %w", err)
		}
		if _, err := rd.readString(); err != nil {
			return 0, fmt.Errorf("read will message: %w", err)
		}
	}
	if flags&0x80 != 0 {
		if _, err := rd.readString(); err != nil {
			return 0, fmt.Errorf("read username: %w", err)
		}
	}
	if flags&0x40 != 0 {
		if _, err := rd.readString(); err != nil {
			return 0, fmt.Errorf("read password: %w", err)
		}
	}

	if err := sub.writePacket([]byte{0x20, 0x02, 0x00, 0x00}); err != nil {
		return 0, fmt.Errorf("write connack: %w", err)
	}
	h.logger.Debug("subscriber connected", "client", clientID)
	return time.Duration(keepAlive) * time.Second, nil
}

func (h *Hub) handleSubscribe(sub *subscriber, payload []byte) error {
	rd := bytesReader(payload)

	packetID, err := rd.readUint16()
	if err != nil {
		return fmt.Errorf("read packet id: %w", err)
	}

	var granted []byte
	for rd.remaining() > 0 {
		filter, err := rd.readString()
		if err != nil {
			return fmt.Errorf("read topic filter: %w", err)
		}
		if _, err := rd.readByte(); err != nil {
			return fmt.Errorf("read qos: %w", err)
		}
		if !validFilter(filter) {
			granted = append(granted, 0x80)
			continue
		}
		sub.subscribe(filter)
		// every subscription is downgraded to QoS 0
		granted = append(granted, 0x00)
	}
	if len(granted) == 0 {
		return errors.New("subscribe without topics")
	}

	packet := []byte{0x90}
	packet = append(packet, encodeRemainingLength(2+len(granted))...)
	packet = append(packet, byte(packetID>>8), byte(packetID&0xFF))
	packet = append(packet, granted...)
	return sub.writePacket(packet)
}

func (h *Hub) handleUnsubscribe(sub *subscriber, payload []byte) error {
	rd := bytesReader(payload)
	packetID, err := rd.readUint16()
	if err != nil {
		return fmt.Errorf("read packet id: %w", err)
	}
	for rd.remaining() > 0 {
		filter, err := rd.readString()
		if err != nil {
			return fmt.Errorf("read topic filter: %w", err)
		}
		sub.unsubscribe(filter)
	}
	return sub.writePacket([]byte{0xB0, 0x02, byte(packetID >> 8), byte(packetID & 0xFF)})
}

// topicMatches applies MQTT filter semantics: "+" matches one level and a
// trailing "#" matches the rest.
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

func validFilter(filter string) bool {
	if filter == "" {
		return false
	}
	parts := strings.Split(filter, "/")
	for i, p := range parts {
		if strings.Contains(p, "#") && (p != "#" || i != len(parts)-1) {
			return false
		}
		if strings.Contains(p, "+") && p != "+" {
			return false
		}
	}
	return true
}

func buildPublishPacket(topic string, payload []byte) ([]byte, error) {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return nil, fmt.Errorf("invalid publish topic %q", topic)
	}
	topicLen := len(topic)
	if topicLen > 65535 {
		return nil, fmt.Errorf("topic too long")
	}

	remaining := 2 + topicLen + len(payload)
	remainingBytes := encodeRemainingLength(remaining)

	packet := make([]byte, 0, 1+len(remainingBytes)+remaining)
	packet = append(packet, 0x30)
	packet = append(packet, remainingBytes...)
	packet = append(packet, byte(topicLen>>8), byte(topicLen&0xFF))
	packet = append(packet, topic...)
	packet = append(packet, payload...)
	return packet, nil
}

type bytesReader []byte

func (b *bytesReader) readByte() (byte, error) {
	if len(*b) == 0 {
		return 0, io.EOF
	}
	v := (*b)[0]
	*b = (*b)[1:]
	return v, nil
}

func (b *bytesReader) readUint16() (uint16, error) {
	if len(*b) < 2 {
		return 0, io.EOF
	}
	v := uint16((*b)[0])<<8 | uint16((*b)[1])
	*b = (*b)[2:]
	return v, nil
}

func (b *bytesReader) readString() (string, error) {
	l, err := b.readUint16()
	if err != nil {
		return "", err
	}
	if len(*b) < int(l) {
		return "", io.ErrUnexpectedEOF
	}
	s := string((*b)[:l])
	*b = (*b)[l:]
	return s, nil
}

func (b *bytesReader) remaining() int {
	return len(*b)
}

func readVarInt(r *bufio.Reader) (int, error) {
	multiplier := 1
	value := 0
	for i := 0; i < 4; i++ {
		digit, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value += int(digit&127) * multiplier
		if digit&128 == 0 {
			return value, nil
		}
		multiplier *= 128
	}
	return 0, fmt.Errorf("malformed remaining length")
}

func encodeRemainingLength(length int) []byte {
	if length < 0 {
		length = 0
	}

	var encoded []byte
	for {
		digit := byte(length % 128)
		length /= 128
		if length > 0 {
			digit |= 0x80
		}
		encoded = append(encoded, digit)
		if length == 0 {
			break
		}
	}
	return encoded
}
