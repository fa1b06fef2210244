// Package wsbus is the thin adapter the external HTTP/WebSocket surface
// sits behind: a gin router with a liveness/status/metrics endpoint set and
// a websocket upgrade point that fans the engine's event-bus topics out to
// connected clients as typed JSON messages. The full REST API, device
// enumeration, lookup services and static assets live in external
// collaborators that mount on top of this.
package wsbus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kb5ft8/ft8d/pkg/engine"
	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/logging"
	"github.com/kb5ft8/ft8d/pkg/model"
)

// wsEvent is the wire shape every broadcast uses: a type tag the UI
// switches on plus the payload as-is.
type wsEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// topicNames maps internal bus topics to the event names clients subscribe
// by. Topics not listed here stay internal.
var topicNames = map[string]string{
	eventbus.TopicSlot:          "slotStart",
	eventbus.TopicSlotPack:      "slotPackUpdated",
	eventbus.TopicEngineState:   "systemStatus",
	eventbus.TopicPTT:           "pttStatusChanged",
	eventbus.TopicTransmission:  "transmissionComplete",
	eventbus.TopicTimingWarning: "timingWarning",
	eventbus.TopicRadio:         "radioStatusChanged",
	eventbus.TopicAudioLevel:    "audioLevel",
	eventbus.TopicSpectrum:      "spectrumData",
	eventbus.TopicQSORecord:     "recordQSO",
	eventbus.TopicMode:          "modeChanged",
}

// Server owns the router, the websocket client set, and the bus
// subscriptions feeding them. One Server serves one engine.
type Server struct {
	eng      *engine.CoreEngine
	log      *logging.Logger
	upgrader websocket.Upgrader
	mqtt     *MQTTPublisher // optional

	mu      sync.Mutex
	clients map[*websocket.Conn]chan wsEvent

	httpSrv *http.Server
	cancel  context.CancelFunc
}

// NewServer builds a Server for eng. mqtt may be nil.
func NewServer(eng *engine.CoreEngine, mqtt *MQTTPublisher) *Server {
	return &Server{
		eng:  eng,
		log:  logging.Component("wsbus"),
		mqtt: mqtt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The reverse proxy in front of this enforces origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan wsEvent),
	}
}

// Router builds the gin handler tree.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.eng.Metrics().Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/operators", s.handleOperators)
		api.POST("/engine/start", s.handleEngineStart)
		api.POST("/engine/stop", s.handleEngineStop)
		api.POST("/command/send", s.handleSend)
		api.POST("/command/frequency", s.handleSetFrequency)
		api.POST("/command/abort", s.handleAbort)
		api.POST("/mode", s.handleSetMode)
	}

	router.GET("/ws", s.handleWebSocket)
	return router
}

// Run starts the HTTP server and the bus fan-out, blocking until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.fanOut(ctx)
	if s.mqtt != nil {
		go s.mqtt.Run(ctx, s.eng.Bus())
	}

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: s.Router(),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()
		_ = s.httpSrv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		cancel()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "engine": s.eng.State().String()})
}

func (s *Server) handleStatus(c *gin.Context) {
	radio := s.eng.Radio()
	c.JSON(http.StatusOK, gin.H{
		"engine": s.eng.State().String(),
		"radio": gin.H{
			"connected":   radio.IsConnected(),
			"frequencyHz": radio.Frequency(),
			"ptt":         radio.PTTActive(),
		},
		"operators": len(s.eng.Operators().All()),
	})
}

func (s *Server) handleOperators(c *gin.Context) {
	type opStatus struct {
		ID       string `json:"id"`
		Callsign string `json:"callsign"`
		Grid     string `json:"grid"`
		Running  bool   `json:"running"`
		QSOState string `json:"qsoState"`
		Target   string `json:"targetCallsign,omitempty"`
	}
	var out []opStatus
	for _, o := range s.eng.Operators().All() {
		out = append(out, opStatus{
			ID:       o.ID(),
			Callsign: o.Config().MyCallsign,
			Grid:     o.Config().MyGrid,
			Running:  o.Running(),
			QSOState: o.Strategy().State().String(),
			Target:   o.Strategy().Context().TargetCallsign,
		})
	}
	c.JSON(http.StatusOK, gin.H{"operators": out})
}

func (s *Server) handleEngineStart(c *gin.Context) {
	if err := s.eng.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":      err.Error(),
			"suggestion": "check the radio and audio device configuration, then retry",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"engine": s.eng.State().String()})
}

func (s *Server) handleEngineStop(c *gin.Context) {
	if err := s.eng.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"engine": s.eng.State().String()})
}

func (s *Server) handleSend(c *gin.Context) {
	var req struct {
		Operator string `json:"operator" binding:"required"`
		To       string `json:"to"`
		Text     string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp := s.eng.HandleCommand(c.Request.Context(), model.SendCommand{
		Operator: req.Operator, To: req.To, Text: req.Text,
	})
	s.writeCommandResponse(c, resp)
}

func (s *Server) handleSetFrequency(c *gin.Context) {
	var req struct {
		FreqHz int64 `json:"freqHz" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp := s.eng.HandleCommand(c.Request.Context(), model.SetFrequencyCommand{FreqHz: req.FreqHz})
	s.writeCommandResponse(c, resp)
}

func (s *Server) handleAbort(c *gin.Context) {
	var req struct {
		Operator string `json:"operator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp := s.eng.HandleCommand(c.Request.Context(), model.AbortTransmitCommand{Operator: req.Operator})
	s.writeCommandResponse(c, resp)
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.eng.SetMode(req.Mode); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

func (s *Server) writeCommandResponse(c *gin.Context, resp model.Response) {
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusConflict
	}
	c.JSON(status, resp)
}

// handleWebSocket upgrades the connection and streams broadcast events
// until the client goes away. Each client gets its own buffered queue; a
// client that can't keep up is dropped rather than backing up the bus.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade: %v", err)
		return
	}
	queue := make(chan wsEvent, 256)

	s.mu.Lock()
	s.clients[conn] = queue
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Reader goroutine only notices the close; inbound commands go through
	// the REST surface.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case evt := <-queue:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

// fanOut subscribes to every broadcast topic and multiplexes events into
// each connected client's queue.
func (s *Server) fanOut(ctx context.Context) {
	type sub struct {
		topic  string
		name   string
		ch     <-chan any
		handle eventbus.Handle
	}
	bus := s.eng.Bus()
	var subs []sub
	for topic, name := range topicNames {
		ch, h := bus.Subscribe(topic)
		subs = append(subs, sub{topic: topic, name: name, ch: ch, handle: h})
	}
	defer func() {
		for _, sb := range subs {
			bus.Unsubscribe(sb.topic, sb.handle)
		}
	}()

	// One goroutine per topic keeps the select simple and per-topic order
	// intact; all of them funnel into broadcast.
	var wg sync.WaitGroup
	for _, sb := range subs {
		wg.Add(1)
		go func(sb sub) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-sb.ch:
					if !ok {
						return
					}
					s.broadcast(wsEvent{Type: sb.name, Payload: evt})
				}
			}
		}(sb)
	}
	wg.Wait()
}

func (s *Server) broadcast(evt wsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, queue := range s.clients {
		select {
		case queue <- evt:
		default:
			// Slow consumer; closing the socket unblocks its writer loop.
			conn.Close()
		}
	}
}
