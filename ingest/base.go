package ingest

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxTCPConnections is the default maximum number of concurrent TCP connections
	DefaultMaxTCPConnections = 1000
	// DefaultMaxConnectionsPerIP caps connections from a single IP so one
	// sender cannot exhaust the pool
	DefaultMaxConnectionsPerIP = 10
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	tcpReadDeadline = 5 * time.Minute
)

// parseFunc turns one raw log record into a normalized Event. Parsers never
// fail; a nil return means the record was deliberately discarded (e.g. a
// replayed duplicate).
type parseFunc func(string) *core.Event

func validatePort(port int) error {
	if port < 0 || port > MaxPort {
		return fmt.Errorf("invalid port number: %d (must be between 0 and %d)", port, MaxPort)
	}
	return nil
}

// BaseListener provides common functionality for the syslog, auth-log and
// Windows event listeners: rate limiting, UDP datagram handling and a
// bounded TCP connection pool.
type BaseListener struct {
	host                string
	port                int
	source              string
	limiter             *rate.Limiter
	eventCh             chan<- *core.Event
	stopCh              chan struct{}
	wg                  sync.WaitGroup
	logger              *zap.SugaredLogger
	udpConn             net.PacketConn
	tcpListener         net.Listener
	connSemaphore       chan struct{}
	maxConnections      int
	ipConnections       map[string]int
	ipConnectionsMutex  sync.RWMutex
	maxConnectionsPerIP int
}

// NewBaseListener creates a new base listener. source labels the listener's
// metrics and is set on every event it emits. A rateLimit of 0 disables rate
// limiting.
func NewBaseListener(host string, port int, source string, rateLimit int, eventCh chan<- *core.Event, logger *zap.SugaredLogger) *BaseListener {
	if err := validatePort(port); err != nil {
		logger.Fatalf("Invalid port in NewBaseListener: %v", err)
	}
	limit := rate.Limit(rateLimit)
	if rateLimit <= 0 {
		limit = rate.Inf
	}
	return &BaseListener{
		host:                host,
		port:                port,
		source:              source,
		limiter:             rate.NewLimiter(limit, rateLimit),
		eventCh:             eventCh,
		stopCh:              make(chan struct{}),
		logger:              logger,
		maxConnections:      DefaultMaxTCPConnections,
		connSemaphore:       make(chan struct{}, DefaultMaxTCPConnections),
		ipConnections:       make(map[string]int),
		maxConnectionsPerIP: DefaultMaxConnectionsPerIP,
	}
}

// processEvent parses one raw record and forwards it to the event channel.
// A full channel drops the event rather than blocking the network path.
func (b *BaseListener) processEvent(raw string, sourceIP string, parse parseFunc, name string) {
	if !b.limiter.Allow() {
		b.logger.Warnf("Rate limit exceeded for %s", name)
		metrics.EventsDropped.WithLabelValues(b.source, "rate_limited").Inc()
		return
	}

	event := parse(raw)
	if event == nil {
		metrics.EventsDropped.WithLabelValues(b.source, "duplicate").Inc()
		return
	}
	if event.IPAddress == "" {
		if host, _, err := net.SplitHostPort(sourceIP); err == nil {
			event.IPAddress = host
		} else {
			event.IPAddress = sourceIP
		}
	}

	select {
	case b.eventCh <- event:
		metrics.EventsIngested.WithLabelValues(b.source).Inc()
	default:
		b.logger.Warnf("Event channel full, dropping %s event", name)
		metrics.EventsDropped.WithLabelValues(b.source, "channel_full").Inc()
	}
}

// StartUDP starts a UDP listener with the given parse function
func (b *BaseListener) StartUDP(parse parseFunc, name string) {
	addr := fmt.Sprintf("%s:%d", b.host, b.port)
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		b.logger.Errorf("Failed to start %s UDP listener: %v", name, err)
		return
	}
	b.udpConn = conn
	b.logger.Infof("%s UDP listener started on %s", name, addr)
	b.wg.Add(1)
	defer b.wg.Done()

	buffer := make([]byte, 65536)
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remote, err := conn.ReadFrom(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			b.logger.Errorf("%s UDP read error: %v", name, err)
			continue
		}
		raw := strings.TrimSpace(string(buffer[:n]))
		if raw == "" {
			continue
		}
		b.processEvent(raw, remote.String(), parse, name+" UDP")
	}
}

// StartTCP starts a TCP listener with the given parse function. Connections
// beyond the pool size or the per-IP limit are rejected at accept time.
func (b *BaseListener) StartTCP(parse parseFunc, name string) {
	addr := fmt.Sprintf("%s:%d", b.host, b.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		b.logger.Errorf("Failed to start %s TCP listener: %v", name, err)
		return
	}
	b.tcpListener = listener
	b.logger.Infof("%s TCP listener started on %s (max connections: %d)", name, addr, b.maxConnections)
	b.wg.Add(1)
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		conn, err := listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			b.logger.Errorf("%s TCP accept error: %v", name, err)
			continue
		}

		remoteAddr := conn.RemoteAddr().String()
		ip, _, err := net.SplitHostPort(remoteAddr)
		if err != nil {
			ip = remoteAddr
		}

		b.ipConnectionsMutex.RLock()
		ipConnCount := b.ipConnections[ip]
		b.ipConnectionsMutex.RUnlock()

		if ipConnCount >= b.maxConnectionsPerIP {
			b.logger.Warnf("%s per-IP connection limit exceeded for %s (%d/%d), rejecting connection",
				name, ip, ipConnCount, b.maxConnectionsPerIP)
			metrics.TCPConnectionsRejected.WithLabelValues(b.source).Inc()
			conn.Close()
			continue
		}

		select {
		case b.connSemaphore <- struct{}{}:
			b.ipConnectionsMutex.Lock()
			b.ipConnections[ip]++
			b.ipConnectionsMutex.Unlock()

			metrics.TCPConnectionsActive.WithLabelValues(b.source).Inc()
			b.wg.Add(1)
			go b.handleTCPConnection(conn, parse, name, ip)
		default:
			b.logger.Warnf("%s TCP connection pool full (%d/%d), rejecting connection from %s",
				name, b.maxConnections, b.maxConnections, remoteAddr)
			metrics.TCPConnectionsRejected.WithLabelValues(b.source).Inc()
			conn.Close()
		}
	}
}

func (b *BaseListener) handleTCPConnection(conn net.Conn, parse parseFunc, name, ip string) {
	defer conn.Close()
	defer b.wg.Done()
	defer func() {
		<-b.connSemaphore
		metrics.TCPConnectionsActive.WithLabelValues(b.source).Dec()
	}()
	defer func() {
		b.ipConnectionsMutex.Lock()
		if b.ipConnections[ip] > 0 {
			b.ipConnections[ip]--
		}
		if b.ipConnections[ip] == 0 {
			delete(b.ipConnections, ip)
		}
		b.ipConnectionsMutex.Unlock()
	}()

	// Read deadline guards against clients that hold connections open
	// without sending data.
	conn.SetReadDeadline(time.Now().Add(tcpReadDeadline))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		b.processEvent(line, conn.RemoteAddr().String(), parse, name+" TCP")
		conn.SetReadDeadline(time.Now().Add(tcpReadDeadline))
	}
	if err := scanner.Err(); err != nil {
		b.logger.Errorf("%s scanner error: %v", name, err)
	}
}

// Stop stops the listener and waits for in-flight handlers to drain.
func (b *BaseListener) Stop() {
	close(b.stopCh)
	if b.udpConn != nil {
		b.udpConn.Close()
	}
	if b.tcpListener != nil {
		b.tcpListener.Close()
	}
	b.wg.Wait()
}
