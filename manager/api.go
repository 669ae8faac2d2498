package manager

import (
	"net"
	"net/http"
	"time"

	"fleetedge/logger"
	"fleetedge/proxy"
	"fleetedge/store"

	"github.com/gin-gonic/gin"
)

type ManagementAPI struct {
	Store   store.Storer
	Routes  proxy.Table
	started time.Time
	router  *gin.Engine
}

type BlockRequest struct {
	IP       string `json:"ip" binding:"required"`
	Duration string `json:"duration"` // e.g. "1h", "permanent"; empty means 24h
}

func NewManagementAPI(s store.Storer, routes proxy.Table) *ManagementAPI {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := &ManagementAPI{
		Store:   s,
		Routes:  routes,
		started: time.Now(),
		router:  router,
	}
	router.GET("/api/status", api.handleStatus)
	router.GET("/api/routes", api.handleRoutes)
	router.POST("/api/block", api.handleBlock)
	router.DELETE("/api/block", api.handleUnblock)
	return api
}

func (api *ManagementAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.router.ServeHTTP(w, r)
}

func (api *ManagementAPI) handleStatus(c *gin.Context) {
	blocks, err := api.Store.ListBlocks(c.Request.Context())
	if err != nil {
		logger.Error("Failed to list blocks", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list blocks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "active",
		"routes":        api.routeList(),
		"active_blocks": blocks,
		"started_at":    api.started,
		"uptime":        time.Since(api.started).Round(time.Second).String(),
	})
}

func (api *ManagementAPI) handleRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"routes": api.routeList()})
}

func (api *ManagementAPI) routeList() []proxy.Route {
	if api.Routes == nil {
		return []proxy.Route{}
	}
	return api.Routes
}

func (api *ManagementAPI) handleBlock(c *gin.Context) {
	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if net.ParseIP(req.IP) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip is not a valid address"})
		return
	}

	dur := 24 * time.Hour
	kind := store.BlockTemp
	switch req.Duration {
	case "":
	case "permanent":
		dur = 0
		kind = store.BlockHard
	default:
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duration must be a positive Go duration or \"permanent\""})
			return
		}
		dur = d
	}

	if err := api.Store.Block(c.Request.Context(), req.IP, dur, kind); err != nil {
		logger.Error("Manual block failed", "ip", req.IP, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "block failed"})
		return
	}
	logger.Info("Manual block issued", "ip", req.IP, "kind", kind, "duration", dur)
	c.JSON(http.StatusCreated, gin.H{"ip": req.IP, "kind": kind, "duration": durationLabel(dur)})
}

func (api *ManagementAPI) handleUnblock(c *gin.Context) {
	ip := c.Query("ip")
	if ip == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip required"})
		return
	}
	if err := api.Store.Unblock(c.Request.Context(), ip); err != nil {
		logger.Error("Manual unblock failed", "ip", ip, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear failed"})
		return
	}
	logger.Info("Manual block clearance", "ip", ip)
	c.Status(http.StatusNoContent)
}

func durationLabel(d time.Duration) string {
	if d == 0 {
		return "permanent"
	}
	return d.String()
}
