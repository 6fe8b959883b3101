package reporting

import (
	"context"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Zereker/testwire"
)

// MasterReporter is a TCP server aggregating the stats pushed by slaves.
//
// Each slave connection is read in chunks into its own buffer, split into
// newline-delimited records and decoded; every stat is passed to Emit,
// which forwards it to the configured sink. Connections are handled
// independently: a malformed record is logged and skipped, a connection
// sending an oversized record is closed, and a failing connection never
// affects the listener or other slaves.
type MasterReporter struct {
	lifecycle

	host string
	opts masterOptions

	mu     sync.Mutex
	port   int
	server *testwire.Server
	cancel context.CancelFunc
	done   chan struct{}

	slavesMu sync.Mutex
	slaves   map[string]net.Addr
}

// NewMasterReporter returns a stopped master for host and port.
// Port 0 requests an OS-assigned port, available from Port after Start.
func NewMasterReporter(host string, port int, opt ...MasterOption) *MasterReporter {
	return &MasterReporter{
		host:   host,
		port:   port,
		opts:   buildMasterOptions(opt),
		slaves: make(map[string]net.Addr),
	}
}

// Host returns the configured host.
func (m *MasterReporter) Host() string {
	return m.host
}

// Port returns the listening port, resolved once started.
func (m *MasterReporter) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

// Addr returns host:port.
func (m *MasterReporter) Addr() string {
	return net.JoinHostPort(m.host, strconv.Itoa(m.Port()))
}

// Start binds the listener and begins accepting slaves.
func (m *MasterReporter) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Started() {
		return nil
	}

	m.opts.logger.Info("starting master", "host", m.host, "port", m.port)
	server, err := testwire.Listen(m.host, m.port, testwire.ServerLoggerOption(m.opts.logger))
	if err != nil {
		m.opts.logger.Error("failed to start master", "host", m.host, "port", m.port, "error", err)
		return errors.Wrap(err, "start master")
	}
	m.port = server.Port()

	serveCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(serveCtx, testwire.HandlerFunc(m.handleSlave))
	}()

	m.server = server
	m.cancel = cancel
	m.done = done
	m.begin()

	m.opts.logger.Info("master started", "host", m.host, "port", m.port)
	return nil
}

// Stop closes the listener and every slave connection, and waits for the
// connection handlers to return.
func (m *MasterReporter) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.end() {
		return nil
	}

	m.cancel()
	err := m.server.Close()
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.opts.logger.Info("master stopped", "host", m.host, "port", m.port)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Emit delivers stat to the sink while the master is started.
func (m *MasterReporter) Emit(ctx context.Context, stat Stat) error {
	if !m.Started() {
		return nil
	}
	return m.opts.sink(ctx, stat)
}

// Slaves returns the remote addresses of the connected slaves.
func (m *MasterReporter) Slaves() []string {
	m.slavesMu.Lock()
	defer m.slavesMu.Unlock()
	out := make([]string, 0, len(m.slaves))
	for _, addr := range m.slaves {
		out = append(out, addr.String())
	}
	sort.Strings(out)
	return out
}

func (m *MasterReporter) handleSlave(ctx context.Context, conn *net.TCPConn) {
	id := uuid.NewString()
	addr := conn.RemoteAddr()
	logger := m.opts.logger

	m.slavesMu.Lock()
	m.slaves[id] = addr
	m.slavesMu.Unlock()
	m.opts.metrics.SlaveConnections.Inc()

	defer func() {
		m.slavesMu.Lock()
		delete(m.slaves, id)
		m.slavesMu.Unlock()
		m.opts.metrics.SlaveConnections.Dec()
	}()

	logger.Info("slave connected", "slave", id, "addr", addr)

	chunk := make([]byte, m.opts.bufferSize)
	var pending []byte
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			records, rest := m.opts.split(pending)
			for _, record := range records {
				m.deliver(ctx, id, record)
			}
			if len(rest) > m.opts.maxRecord {
				m.opts.metrics.RecordsMalformed.Inc()
				logger.Warn("record exceeds size limit, closing connection",
					"slave", id, "addr", addr, "bytes", len(rest), "limit", m.opts.maxRecord)
				return
			}
			// Keep only the remainder; records may alias pending.
			pending = append([]byte(nil), rest...)
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Info("slave disconnected", "slave", id, "addr", addr)
			case ctx.Err() != nil:
				logger.Debug("slave connection closed by master", "slave", id, "addr", addr)
			default:
				logger.Warn("slave connection failed", "slave", id, "addr", addr, "error", err)
			}
			if len(pending) > 0 {
				logger.Warn("discarding incomplete record", "slave", id, "bytes", len(pending))
			}
			return
		}
	}
}

func (m *MasterReporter) deliver(ctx context.Context, id string, record []byte) {
	if len(record) == 0 {
		return
	}

	stat, err := m.opts.decode(record)
	if err != nil {
		m.opts.metrics.RecordsMalformed.Inc()
		m.opts.logger.Warn("dropping malformed record", "slave", id, "error", err)
		return
	}
	m.opts.metrics.RecordsReceived.Inc()

	if err := m.Emit(ctx, stat); err != nil {
		m.opts.logger.Warn("emit failed", "slave", id, "error", err)
	}
}
