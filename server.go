package rsocketdemo

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rsocket/rsocket-go"
	"github.com/rsocket/rsocket-go/payload"
	"github.com/sirupsen/logrus"
)

// TransportRSocket RSocket 连接的传输名
const TransportRSocket = "rsocket"

// Server 运行 RSocket 响应端、HTTP 面（/ws、/healthz、/peers）并维护对端注册表
type Server struct {
	opts       Options
	registry   *Registry
	controller *Controller
	gateway    *Gateway

	mu       sync.Mutex
	httpSrv  *http.Server
	ready    chan struct{}
	readyOne sync.Once
	stopOnce sync.Once
}

// NewServer 创建 Server（opts 为 nil 时使用默认配置）
func NewServer(opts *Options) *Server {
	o := mergeOptions(opts)
	registry := NewRegistry()
	controller := NewController(registry, o.StreamInterval)
	return &Server{
		opts:       o,
		registry:   registry,
		controller: controller,
		gateway:    NewGateway(controller, AuthFromOptions(o), o),
		ready:      make(chan struct{}),
	}
}

// Options 返回生效的配置
func (s *Server) Options() Options { return s.opts }

// Registry 返回对端注册表
func (s *Server) Registry() *Registry { return s.registry }

// Controller 返回路由实现
func (s *Server) Controller() *Controller { return s.controller }

// Ready RSocket 监听开始后关闭
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve 阻塞运行直到 ctx 结束或任一监听失败，返回前执行 Shutdown
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	if s.opts.HTTPAddr != "" {
		s.mu.Lock()
		s.httpSrv = &http.Server{Addr: s.opts.HTTPAddr, Handler: s.Router()}
		httpSrv := s.httpSrv
		s.mu.Unlock()
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- errors.Wrapf(err, "serve http on %s failed", s.opts.HTTPAddr)
			}
		}()
		logger.WithField("addr", s.opts.HTTPAddr).Info("http listening")
	}
	s.gateway.StartCleanup(ctx)

	go func() {
		if err := s.serveRSocket(ctx); err != nil && ctx.Err() == nil {
			errc <- errors.Wrapf(err, "serve rsocket on %s failed", s.opts.Addr)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if shutdownErr := s.Shutdown(shutdownCtx); err == nil {
		err = shutdownErr
	}
	return err
}

func (s *Server) serveRSocket(ctx context.Context) error {
	builder := rsocket.Receive().
		OnStart(func() {
			logger.WithFields(logrus.Fields{
				"addr":   s.opts.Addr,
				"resume": s.opts.ResumeEnabled,
			}).Info("rsocket listening")
			s.readyOne.Do(func() { close(s.ready) })
		})
	if resume := serverResumeOptions(s.opts); resume != nil {
		builder = builder.Resume(resume...)
	}
	return builder.
		Acceptor(s.accept).
		Transport(rsocket.TCPServer().SetAddr(s.opts.Addr).Build()).
		Serve(ctx)
}

// accept 每个新连接注册为对端，连接关闭时移除
func (s *Server) accept(_ context.Context, setup payload.SetupPayload, sendingSocket rsocket.CloseableRSocket) (rsocket.RSocket, error) {
	if mt := setup.DataMimeType(); mt != "" && mt != MimeTypeJSON {
		return nil, errors.Errorf("unsupported data mime type %q", mt)
	}
	peer := &socketPeer{id: uuid.NewString(), socket: sendingSocket}
	s.registry.Add(peer)
	log := peerLogger(peer.id, TransportRSocket)
	log.WithFields(logrus.Fields{
		"remote":        peer.RemoteAddr(),
		"metadata_mime": setup.MetadataMimeType(),
	}).Info("client connected")
	sendingSocket.OnClose(func(err error) {
		s.registry.RemovePeer(peer)
		if err != nil {
			log.WithError(err).Info("client disconnected")
			return
		}
		log.Info("client disconnected")
	})
	return s.controller.Responder(peer.id), nil
}

// Shutdown 停止 HTTP 并释放所有对端
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		httpSrv := s.httpSrv
		s.mu.Unlock()
		// 先禁止新连接，然后关闭 HTTP
		if httpSrv != nil {
			if shutdownErr := httpSrv.Shutdown(ctx); shutdownErr != nil {
				err = errors.Wrap(shutdownErr, "shutdown http failed")
			}
		}
		if disposeErr := s.controller.Shutdown(); disposeErr != nil && err == nil {
			err = disposeErr
		}
	})
	return err
}

// socketPeer 以 RSocket 连接作为对端
type socketPeer struct {
	id     string
	socket rsocket.CloseableRSocket
}

func (p *socketPeer) ID() string        { return p.id }
func (p *socketPeer) Transport() string { return TransportRSocket }
func (p *socketPeer) RemoteAddr() string {
	addr, _ := rsocket.GetAddr(p.socket)
	return addr
}

func (p *socketPeer) Close() error { return p.socket.Close() }
