package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/metrics"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
	"github.com/zhouzirui/manomitra-client/internal/model/session"
)

// ErrNotConnected is returned by Send while the channel is closed.
var ErrNotConnected = errors.New("conversation channel is not connected")

// Options 连接参数。
type Options struct {
	URL               string
	DialTimeout       time.Duration // 握手超时
	PingInterval      time.Duration // Ping间隔
	ReadTimeout       time.Duration // 读取超时时间
	WriteTimeout      time.Duration // 写入超时时间
	ReconnectAttempts int           // ConnectWithRetry 最大尝试次数
	RetryDelay        time.Duration // 线性退避基数
}

// DefaultOptions 默认连接选项
func DefaultOptions(url string) Options {
	return Options{
		URL:               url,
		DialTimeout:       10 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectAttempts: 3,
		RetryDelay:        time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions(o.URL)
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.ReadTimeout <= o.PingInterval {
		o.ReadTimeout = 2 * o.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = d.ReconnectAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	return o
}

// FrameHandler consumes one raw inbound text frame.
type FrameHandler func(data []byte)

// StateChange reports a connection transition. Err is set when a dial
// failed or the transport was lost without a Disconnect call.
type StateChange struct {
	State session.ConnectionState
	Err   error
}

// Manager owns the single conversation channel to the remote service.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	state    session.ConnectionState
	stopPing context.CancelFunc
	onFrame  FrameHandler
	onChange func(StateChange)

	writeMu sync.Mutex
}

// NewManager 创建连接管理器
func NewManager(opts Options, logger zerolog.Logger) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		logger: logging.Component(logger, "connection"),
		state:  session.Disconnected,
	}
}

// OnFrame registers the inbound consumer, replacing any previous one.
func (m *Manager) OnFrame(handler FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = handler
}

// OnStateChange registers the transition observer.
func (m *Manager) OnStateChange(observer func(StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = observer
}

// State returns the current connection state.
func (m *Manager) State() session.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports whether frames can be sent.
func (m *Manager) Connected() bool {
	return m.State() == session.Connected
}

// Connect opens the channel. Calling it while connected is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	if m.Connected() {
		return nil
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return m.fail(err)
	}
	m.attach(conn)
	return nil
}

// ConnectWithRetry 带重试的连接建立，退避时间线性增长。
func (m *Manager) ConnectWithRetry(ctx context.Context) error {
	if m.Connected() {
		return nil
	}

	var lastErr error
	for i := 0; i < m.opts.ReconnectAttempts; i++ {
		conn, err := m.dial(ctx)
		if err == nil {
			m.attach(conn)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryableError(err) || i == m.opts.ReconnectAttempts-1 {
			break
		}

		retryDelay := time.Duration(i+1) * m.opts.RetryDelay
		m.logger.Warn().Err(err).Int("attempt", i+1).Dur("retryIn", retryDelay).Msg("connect failed, retrying")

		select {
		case <-ctx.Done():
			return m.fail(ctx.Err())
		case <-time.After(retryDelay):
		}
	}

	return m.fail(lastErr)
}

// Send serializes and transmits one outbound frame.
func (m *Manager) Send(ctx context.Context, frame protocol.Outbound) error {
	data, err := protocol.EncodeOutbound(frame)
	if err != nil {
		return session.NewError(session.KindProtocol, "send", err)
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return session.NewError(session.KindConnection, "send", ErrNotConnected)
	}

	deadline := time.Now().Add(m.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	m.writeMu.Lock()
	conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		return session.NewError(session.KindConnection, "send", fmt.Errorf("write %s frame: %w", frame.Type, err))
	}

	metrics.FramesSent.WithLabelValues(string(frame.Type)).Inc()
	m.logger.Debug().Str("type", string(frame.Type)).Int("bytes", len(data)).Msg("frame sent")
	return nil
}

// Disconnect closes the channel. Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	observer := m.onChange
	m.mu.Unlock()

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(time.Second))
	conn.Close()

	m.logger.Info().Msg("disconnected")
	if observer != nil {
		observer(StateChange{State: session.Disconnected})
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	m.logger.Info().Str("url", m.opts.URL).Msg("connecting")

	conn, _, err := m.dialer.DialContext(ctx, m.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (m *Manager) attach(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn != nil {
		// a concurrent Connect won
		m.mu.Unlock()
		conn.Close()
		return
	}

	pingCtx, stopPing := context.WithCancel(context.Background())
	m.conn = conn
	m.state = session.Connected
	m.stopPing = stopPing
	observer := m.onChange
	m.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
		return nil
	})

	go m.readLoop(conn)
	go m.pingLoop(pingCtx, conn)

	metrics.Connected.Set(1)
	m.logger.Info().Msg("connected")
	if observer != nil {
		observer(StateChange{State: session.Connected})
	}
}

func (m *Manager) fail(err error) error {
	m.mu.RLock()
	observer := m.onChange
	m.mu.RUnlock()

	wrapped := session.NewError(session.KindConnection, "connect", err)
	m.logger.Warn().Err(err).Msg("connect failed")
	if observer != nil {
		observer(StateChange{State: session.Disconnected, Err: wrapped})
	}
	return wrapped
}

// detachLocked must be called with m.mu held.
func (m *Manager) detachLocked() {
	if m.stopPing != nil {
		m.stopPing()
		m.stopPing = nil
	}
	m.conn = nil
	m.state = session.Disconnected
	metrics.Connected.Set(0)
}

// lost handles a transport failure seen by the reader or the pinger.
func (m *Manager) lost(conn *websocket.Conn, op string, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// already replaced or closed by Disconnect
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	observer := m.onChange
	m.mu.Unlock()

	conn.Close()

	m.logger.Warn().Err(err).Str("op", op).Msg("connection lost")
	if observer != nil {
		observer(StateChange{State: session.Disconnected, Err: session.NewError(session.KindConnection, op, err)})
	}
}

// readLoop delivers frames to the consumer strictly in arrival order.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.lost(conn, "receive", err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))

		if messageType != websocket.TextMessage {
			m.logger.Debug().Int("messageType", messageType).Msg("ignoring non-text frame")
			continue
		}

		m.mu.RLock()
		handler := m.onFrame
		m.mu.RUnlock()
		if handler != nil {
			handler(data)
		}
	}
}

// pingLoop 定期发送ping消息
func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.WriteTimeout)); err != nil {
				m.lost(conn, "ping", err)
				return
			}
		}
	}
}

// IsRetryableError 判断错误是否可重试
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway,
		websocket.CloseServiceRestart, websocket.CloseTryAgainLater) {
		return true
	}

	// 网络层错误（拒绝连接、超时）通常是暂时的
	var netErr net.Error
	return errors.As(err, &netErr)
}
