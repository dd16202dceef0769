package source

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Handler receives the PCM payload of each parsed datagram. Calls for one
// stream key arrive in receive order.
type Handler interface {
	HandleAudio(streamKey uint64, sequence uint32, pcm []byte)
}

// UDPConfig contains UDP source configuration.
type UDPConfig struct {
	BindAddress string
	Port        int
	BufferSize  int
}

// UDPSource listens for audio datagrams and routes their payloads to the
// handler. Parsing and handling run on the receive goroutine so per-stream
// ordering is preserved; the downstream pipeline is non-blocking by
// construction.
type UDPSource struct {
	config  UDPConfig
	logger  *slog.Logger
	handler Handler

	conn   *net.UDPConn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

// UDPStats represents UDP source statistics.
type UDPStats struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
}

// NewUDPSource creates a UDP source.
func NewUDPSource(config UDPConfig, handler Handler, logger *slog.Logger) (*UDPSource, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if config.BufferSize < 1024 {
		config.BufferSize = 65536
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &UDPSource{
		config:  config,
		logger:  logger,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins listening for datagrams.
func (s *UDPSource) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			"buffer_size", s.config.BufferSize,
			"error", err)
	}

	s.logger.Info("UDP source started",
		"address", addr.String(),
		"buffer_size", s.config.BufferSize)

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Stop gracefully stops the source.
func (s *UDPSource) Stop() error {
	s.logger.Info("Stopping UDP source...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", "error", err)
		}
	}

	s.wg.Wait()

	stats := s.GetStats()
	s.logger.Info("UDP source stopped",
		"packets_received", stats.PacketsReceived,
		"packets_processed", stats.PacketsProcessed,
		"parse_errors", stats.ParseErrors)

	return nil
}

func (s *UDPSource) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, HeaderSize+MaxPayloadSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Periodic deadline so shutdown is noticed between packets.
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", "error", err)
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", "error", err)
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()

		packet, err := ParsePacket(buffer[:n])
		if err != nil {
			s.mu.Lock()
			s.parseErrors++
			s.mu.Unlock()

			s.logger.Warn("Failed to parse packet",
				"remote_addr", remoteAddr.String(),
				"packet_size", n,
				"error", err)
			continue
		}

		// The buffer is reused on the next read; the handler gets a copy.
		pcm := make([]byte, len(packet.PCM))
		copy(pcm, packet.PCM)

		s.handler.HandleAudio(packet.StreamKey, packet.Sequence, pcm)

		s.mu.Lock()
		s.packetsProcessed++
		s.mu.Unlock()
	}
}

// GetStats returns current source statistics.
func (s *UDPSource) GetStats() UDPStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return UDPStats{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
	}
}
