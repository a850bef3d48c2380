package dashboard

import (
	"context"

	"github.com/labstack/echo"
)

const (
	version = "/v1"
)

// Cfg dashboard cfg
type Cfg struct {
	// Addr http listen address
	Addr string
	// UI static ui dist dir, no ui is served if empty
	UI string
	// UIPrefix the ui prefix path
	UIPrefix string
}

// Dashboard a read only api server over a node or a storage
type Dashboard struct {
	cfg    Cfg
	server *echo.Echo
	api    QueryAPI
}

// NewDashboard returns a dashboard server
func NewDashboard(cfg Cfg, api QueryAPI) *Dashboard {
	s := &Dashboard{
		cfg:    cfg,
		server: echo.New(),
		api:    api,
	}

	s.server.HideBanner = true
	s.initRoute()
	return s
}

func (s *Dashboard) initRoute() {
	if s.cfg.UI != "" {
		s.server.Static(s.cfg.UIPrefix, s.cfg.UI)
	}

	versionGroup := s.server.Group(version)
	versionGroup.GET("/topology", s.topology())
	versionGroup.GET("/topology/pending", s.pendingTopology())
	versionGroup.GET("/topology/:epoch", s.registry())
	versionGroup.GET("/transactions", s.transactions())
	versionGroup.GET("/transactions/:id", s.transaction())
	versionGroup.GET("/evidence", s.evidence())
	versionGroup.GET("/locks", s.locks())
	versionGroup.GET("/stats", s.stats())
	versionGroup.POST("/blocks/verify", s.verifyBlock())
}

// Start start the dashboard
func (s *Dashboard) Start() error {
	return s.server.Start(s.cfg.Addr)
}

// Stop stop the dashboard
func (s *Dashboard) Stop() error {
	return s.server.Shutdown(context.TODO())
}
