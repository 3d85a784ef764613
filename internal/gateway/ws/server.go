// Package ws implements the interactive WebSocket channel. A client submits
// actions, confirms PINs and cancels over one connection and receives each
// outcome as it is produced.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/dispatcher"
	"github.com/jkaninda/warden/internal/gateway/auth"
	"github.com/jkaninda/warden/internal/protocol"
)

// ClientPrefix is prepended to authenticated client names in audit events.
const ClientPrefix = "ws:"

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20
)

// Server upgrades connections and routes envelopes to the dispatcher.
type Server struct {
	disp   *dispatcher.Dispatcher
	auth   *auth.Authenticator
	cfg    *config.WebSocketGatewayConfig
	logger *slog.Logger

	server *http.Server
}

// NewServer creates a WebSocket server.
func NewServer(d *dispatcher.Dispatcher, authn *auth.Authenticator, cfg *config.WebSocketGatewayConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{disp: d, auth: authn, cfg: cfg, logger: logger}
}

// Path is where Handler is mounted.
func (s *Server) Path() string { return s.cfg.WSPath() }

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Start serves the channel on its own listener. Used when the HTTP gateway
// is disabled; otherwise mount Handler on the HTTP gateway instead.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.Path(), s.Handler())
	s.server = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	s.logger.Info("websocket gateway starting",
		slog.String("addr", s.server.Addr),
		slog.String("path", s.Path()),
	)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the standalone listener, if any.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("websocket gateway stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	client, err := s.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(readLimit)

	s.handleConnection(r.Context(), conn, ClientPrefix+client)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, client string) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	ctx = dispatcher.WithClient(ctx, client)
	s.logger.Info("websocket client connected", slog.String("client", client))

	ready, _ := protocol.NewEnvelope(protocol.MsgReady, protocol.ReadyPayload{
		Client: client,
		State:  s.disp.State(),
	})
	if err := s.writeEnvelope(ctx, conn, ready); err != nil {
		return
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, conn, client)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket client disconnected", slog.String("client", client))
			} else {
				s.logger.Warn("websocket connection error",
					slog.String("client", client),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(ctx, conn, nil, protocol.CodeBadMessage, "invalid envelope")
			continue
		}

		reply := s.handleMessage(ctx, &env)
		if err := s.writeEnvelope(ctx, conn, reply); err != nil {
			s.logger.Debug("websocket write failed",
				slog.String("client", client),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// handleMessage runs one client request and builds the reply.
func (s *Server) handleMessage(ctx context.Context, env *protocol.Envelope) *protocol.Envelope {
	var (
		out dispatcher.Outcome
		err error
	)
	switch env.Type {
	case protocol.MsgActionSubmit:
		var req protocol.SubmitPayload
		if err = env.Decode(&req); err != nil || req.Kind == "" {
			return errorReply(env, protocol.CodeBadMessage, "action.submit requires a kind")
		}
		out = s.disp.Submit(ctx, req)

	case protocol.MsgPINConfirm:
		var p protocol.ConfirmPayload
		if err = env.Decode(&p); err != nil || strings.TrimSpace(p.PIN) == "" {
			return errorReply(env, protocol.CodeBadMessage, "pin.confirm requires a pin")
		}
		out = s.disp.Confirm(ctx, p.PIN)

	case protocol.MsgActionCancel:
		out = s.disp.CancelPending(ctx)

	case protocol.MsgStateGet:
		st := protocol.StatePayload{State: s.disp.State()}
		if p, ok := s.disp.Pending(); ok {
			st.Pending = &p
		}
		reply, _ := env.Reply(protocol.MsgState, st)
		return reply

	default:
		return errorReply(env, protocol.CodeUnsupported, "unsupported message type: "+string(env.Type))
	}

	reply, err := env.Reply(protocol.MsgOutcome, out)
	if err != nil {
		return errorReply(env, protocol.CodeBadMessage, err.Error())
	}
	return reply
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, client string) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env, _ := protocol.NewEnvelope(protocol.MsgPing, nil)
			if err := s.writeEnvelope(ctx, conn, env); err != nil {
				s.logger.Debug("ping failed",
					slog.String("client", client),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, to *protocol.Envelope, code, msg string) {
	var env *protocol.Envelope
	if to != nil {
		env = errorReply(to, code, msg)
	} else {
		env, _ = protocol.NewEnvelope(protocol.MsgError, protocol.ErrorPayload{Code: code, Message: msg})
	}
	_ = s.writeEnvelope(ctx, conn, env)
}

func errorReply(to *protocol.Envelope, code, msg string) *protocol.Envelope {
	env, _ := to.Reply(protocol.MsgError, protocol.ErrorPayload{Code: code, Message: msg})
	return env
}

func (s *Server) writeEnvelope(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
