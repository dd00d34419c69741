package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/detect/engine"
	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/hostmirror"
	"griefwatch.dev/internal/metrics"
	"griefwatch.dev/internal/protocol"
)

type Config struct {
	// Token, when set, must match HELLO.token.
	Token string
	// MsgRate and MsgBurst bound inbound messages per connection.
	MsgRate  float64
	MsgBurst int
	OutQueue int
	// ReadTimeout closes a connection that stays silent this long.
	ReadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{MsgRate: 2000, MsgBurst: 4000, OutQueue: 256, ReadTimeout: 60 * time.Second}
}

type Deps struct {
	Inbox     chan<- engine.Job
	Mirror    *hostmirror.Mirror
	Settings  host.Settings
	Catalogs  *catalogs.Catalogs
	Validator *protocol.Validator
	Outbound  *Outbound
	Metrics   *metrics.Metrics
	Logger    *log.Logger

	// OnBan observes successful autobans. Runs on the engine goroutine.
	OnBan func(e *engine.Engine, invoker, target host.ActorID, reason string)
}

// Server is the host bridge: one host process attaches at a time and streams its
// state and events; alerts, bans and inspection results flow back on the same socket.
type Server struct {
	deps Deps
	cfg  Config

	upgrader websocket.Upgrader
}

func NewServer(deps Deps, cfg Config) *Server {
	def := DefaultConfig()
	if cfg.MsgRate <= 0 {
		cfg.MsgRate = def.MsgRate
	}
	if cfg.MsgBurst <= 0 {
		cfg.MsgBurst = def.MsgBurst
	}
	if cfg.OutQueue <= 0 {
		cfg.OutQueue = def.OutQueue
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	return &Server{
		deps: deps,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // hosts are not browsers
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out, ok := s.handshake(ctx, conn)
		if !ok {
			return
		}
		defer s.deps.Outbound.detach(out)
		s.deps.Metrics.WSConnected(1)
		defer s.deps.Metrics.WSConnected(-1)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		lim := rate.NewLimiter(rate.Limit(s.cfg.MsgRate), s.cfg.MsgBurst)
		reply := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				return
			}
			select {
			case out <- b:
			default:
			}
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.deps.Metrics.WSMessage("", "invalid")
				continue
			}
			if !lim.Allow() {
				s.deps.Metrics.WSMessage(base.Type, "rate_limited")
				if isRequest(base.Type) {
					reply(nack(base.Type, reqID(msg), protocol.ErrRateLimit, "too many messages"))
				}
				continue
			}
			typ, m, err := s.deps.Validator.Decode(msg)
			if err != nil {
				s.deps.Metrics.WSMessage(typ, "invalid")
				var pe *protocol.Error
				if errors.As(err, &pe) && isRequest(typ) {
					reply(nack(typ, reqID(msg), pe.Code, pe.Message))
				}
				continue
			}
			job := s.route(m, reply)
			if job == nil {
				s.deps.Metrics.WSMessage(typ, "invalid")
				continue
			}
			if !s.enqueue(ctx, job) {
				break
			}
			s.deps.Metrics.WSMessage(typ, "ok")
		}
		if s.deps.Logger != nil {
			s.deps.Logger.Printf("host detached")
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (chan []byte, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	typ, m, err := s.deps.Validator.Decode(raw)
	hello, isHello := m.(protocol.HelloMsg)
	if err != nil || typ != protocol.TypeHello || !isHello {
		closeWith(conn, "expected HELLO")
		return nil, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil, false
	}
	if s.cfg.Token != "" && hello.Token != s.cfg.Token {
		closeWith(conn, "bad token")
		return nil, false
	}
	role, err := host.ParseRole(hello.Role)
	if err != nil {
		closeWith(conn, err.Error())
		return nil, false
	}

	out := make(chan []byte, s.cfg.OutQueue)
	if !s.deps.Outbound.attach(out) {
		closeWith(conn, "host already attached")
		return nil, false
	}

	resp := make(chan protocol.WelcomeMsg, 1)
	job := func(e *engine.Engine) {
		s.deps.Mirror.SetSession(role, host.TeamID(hello.LocalTeam), host.ActorID(hello.LocalActor))
		w := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			Session:         e.Session(),
			Settings:        flagMap(s.deps.Settings),
		}
		if c := s.deps.Catalogs; c != nil {
			w.Catalogs = protocol.CatalogDigests{Blocks: c.Blocks.Digest, Items: c.Items.Digest, Liquids: c.Liquids.Digest}
		}
		resp <- w
	}
	if !s.enqueue(ctx, job) {
		s.deps.Outbound.detach(out)
		return nil, false
	}
	var welcome protocol.WelcomeMsg
	select {
	case welcome = <-resp:
	case <-ctx.Done():
		s.deps.Outbound.detach(out)
		return nil, false
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.deps.Outbound.detach(out)
		return nil, false
	}
	if s.deps.Logger != nil {
		s.deps.Logger.Printf("host attached name=%q role=%s team=%d", hello.HostName, role, hello.LocalTeam)
	}
	return out, true
}

func (s *Server) enqueue(ctx context.Context, job engine.Job) bool {
	select {
	case s.deps.Inbox <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// route turns a decoded message into an engine job. Replies are sent from the job.
func (s *Server) route(m any, reply func(any)) engine.Job {
	switch m := m.(type) {
	case protocol.HelloMsg:
		reply(nack(protocol.TypeHello, "", protocol.ErrProtoBadRequest, "already greeted"))
		return nil

	case protocol.StateMsg:
		mirror := s.deps.Mirror
		return func(*engine.Engine) { ApplyState(mirror, m.Ops) }

	case protocol.EventMsg:
		ev, err := m.Event()
		if err != nil {
			return nil
		}
		return engine.Apply(ev)

	case protocol.SetOptionMsg:
		return func(*engine.Engine) {
			if s.deps.Settings == nil {
				reply(nack(protocol.TypeSetOption, m.ReqID, protocol.ErrInternal, "settings unavailable"))
				return
			}
			if err := s.deps.Settings.Set(m.Name, m.Value); err != nil {
				reply(nack(protocol.TypeSetOption, m.ReqID, protocol.ErrUnknownSetting, err.Error()))
				return
			}
			reply(ack(protocol.TypeSetOption, m.ReqID))
		}

	case protocol.AutobanMsg:
		return func(e *engine.Engine) {
			invoker, target := host.ActorID(m.Invoker), host.ActorID(m.Target)
			ok := e.Autoban(invoker, target, m.Reason)
			s.deps.Metrics.Autoban(ok)
			if !ok {
				reply(nack(protocol.TypeAutoban, m.ReqID, protocol.ErrDenied, "autoban refused"))
				return
			}
			if s.deps.OnBan != nil {
				s.deps.OnBan(e, invoker, target, m.Reason)
			}
			reply(ack(protocol.TypeAutoban, m.ReqID))
		}

	case protocol.InspectMsg:
		return func(e *engine.Engine) {
			pos := host.Pos{X: m.X, Y: m.Y}
			res := protocol.InspectResultMsg{Type: protocol.TypeInspectResult, ReqID: m.ReqID, X: m.X, Y: m.Y}
			if m.HUD {
				if text, ok := e.HUD(pos); ok {
					res.Found, res.Lines = true, []string{text}
				}
			} else if in, ok := e.Inspect(pos); ok {
				res.Found, res.Lines = true, in.Lines(e)
			}
			reply(res)
		}
	}
	return nil
}

// ApplyState replays STATE ops onto the mirror. Must run on the engine goroutine.
func ApplyState(m *hostmirror.Mirror, ops []protocol.StateOp) {
	for _, op := range ops {
		pos := host.Pos{X: op.X, Y: op.Y}
		switch op.Op {
		case protocol.OpMapLoad:
			m.Load(op.Width, op.Height)
		case protocol.OpPlace:
			m.Place(pos, op.Block, host.TeamID(op.Team))
		case protocol.OpRemove:
			m.Remove(pos)
		case protocol.OpLiquid:
			m.SetLiquid(pos, op.Liquid)
		case protocol.OpCores:
			cores := make([]host.Pos, 0, len(op.Cores))
			for _, c := range op.Cores {
				cores = append(cores, host.Pos{X: c[0], Y: c[1]})
			}
			m.SetCores(host.TeamID(op.Team), cores)
		case protocol.OpActor:
			if op.Actor != nil {
				m.UpsertActor(host.Actor{ID: host.ActorID(op.Actor.ID), Name: op.Actor.Name, Admin: op.Actor.Admin, Team: host.TeamID(op.Actor.Team)})
			}
		case protocol.OpActorLeave:
			if op.Actor != nil {
				m.RemoveActor(host.ActorID(op.Actor.ID))
			}
		}
	}
}

func isRequest(typ string) bool {
	switch typ {
	case protocol.TypeSetOption, protocol.TypeAutoban, protocol.TypeInspect:
		return true
	}
	return false
}

func reqID(raw []byte) string {
	var m struct {
		ReqID string `json:"req_id"`
	}
	_ = json.Unmarshal(raw, &m)
	return m.ReqID
}

func ack(forType, id string) protocol.AckMsg {
	return protocol.AckMsg{Type: protocol.TypeAck, AckFor: forType, ReqID: id, Accepted: true}
}

func nack(forType, id, code, msg string) protocol.AckMsg {
	return protocol.AckMsg{Type: protocol.TypeAck, AckFor: forType, ReqID: id, Code: code, Message: msg}
}

func flagMap(s host.Settings) map[string]bool {
	if s == nil {
		return map[string]bool{}
	}
	f := s.Flags()
	return map[string]bool{
		"broadcast":   f.Broadcast,
		"verbose":     f.Verbose,
		"debug":       f.Debug,
		"tileinfohud": f.TileInfoHUD,
		"autoban":     f.Autoban,
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
