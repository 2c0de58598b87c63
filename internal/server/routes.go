package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quieloop/sonus/internal/config"
	"github.com/quieloop/sonus/internal/manager"
	"github.com/quieloop/sonus/internal/service"
	"github.com/quieloop/sonus/pkg/Logger"
)

// eventFrame is what /ws/events pushes per lifecycle event.
type eventFrame struct {
	Event string   `json:"event"`
	State string   `json:"state"`
	Flags []string `json:"flags"`
}

// invokeRequest is the body for POST /v1/functions/:name.
type invokeRequest struct {
	Args map[string]service.Value `json:"args"`
}

type Dependencies struct {
	Manager   *manager.Manager
	Functions *service.FunctionRegistry
	Logger    *Logger.Logger
	Configs   *config.Settings
}

// RoutesManager holds the handlers' shared state.
type RoutesManager struct {
	deps Dependencies
}

func NewServerDependencies(
	mgr *manager.Manager,
	functions *service.FunctionRegistry,
	logger *Logger.Logger,
	cfg *config.Settings,
) Dependencies {
	return Dependencies{
		Manager:   mgr,
		Functions: functions,
		Logger:    logger,
		Configs:   cfg,
	}
}

func NewRoutesManager(deps Dependencies) *RoutesManager {
	return &RoutesManager{deps: deps}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // dev-only
}

func InitializeRoutes(cfg *config.Settings, r *gin.Engine, dep Dependencies) {
	r.GET("/", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"status": "ok"}) })

	rm := NewRoutesManager(dep)

	v1 := r.Group("/v1")
	v1.GET("/state", rm.handleState)
	v1.GET("/functions", rm.handleListFunctions)
	v1.POST("/functions/:name", rm.handleInvoke)

	// lifecycle event stream
	r.GET("/ws/events", rm.handleEventsWebSocket)
}

func (rm *RoutesManager) handleState(c *gin.Context) {
	machine := rm.deps.Manager.Machine()
	mode, _ := machine.GetChatMode()
	c.JSON(http.StatusOK, gin.H{
		"agent":          machine.AgentName(),
		"state":          machine.CurrentState(),
		"flags":          machine.FlagNames(),
		"chat_mode":      mode.String(),
		"action_running": machine.IsActionRunning(),
		"time_synced":    machine.CheckIfTimeSynced(),
	})
}

func (rm *RoutesManager) handleListFunctions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"functions": rm.deps.Functions.Schemas()})
}

func (rm *RoutesManager) handleInvoke(c *gin.Context) {
	name := c.Param("name")

	var req invokeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Args == nil {
		req.Args = map[string]service.Value{}
	}

	result, err := rm.deps.Functions.Invoke(c.Request.Context(), name, req.Args)
	if err != nil {
		rm.deps.Logger.Warnf("invoke %s failed: %v", name, err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// handleEventsWebSocket pushes lifecycle events until the client leaves.
func (rm *RoutesManager) handleEventsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rm.deps.Logger.Errorf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	connID := uuid.New()
	rm.deps.Logger.Infof("events ws connected: %s", connID)

	events, cancel := rm.deps.Manager.Subscribe()
	defer cancel()

	// reads are discarded; a failed read means the client left
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	machine := rm.deps.Manager.Machine()
	for {
		select {
		case <-done:
			rm.deps.Logger.Infof("events ws closed: %s", connID)
			return
		case ev := <-events:
			frame := eventFrame{
				Event: ev.String(),
				State: string(machine.CurrentState()),
				Flags: machine.FlagNames(),
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				rm.deps.Logger.Warnf("events ws write to %s: %v", connID, err)
				return
			}
		}
	}
}
