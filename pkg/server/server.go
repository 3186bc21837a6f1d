// Package server is the HTTP and WebSocket facade over the cabinet core.
// Transactions, motion and calibration stay in their own packages; this
// layer only maps routes, guards roles and shapes JSON.
package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bookcabinet/pkg/backup"
	"bookcabinet/pkg/bus"
	"bookcabinet/pkg/calibration"
	"bookcabinet/pkg/config"
	"bookcabinet/pkg/irbis"
	"bookcabinet/pkg/motion"
	"bookcabinet/pkg/rfid"
	"bookcabinet/pkg/service"
	"bookcabinet/pkg/servo"
	"bookcabinet/pkg/store"
)

// Server bundles the facade dependencies.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	motion   *motion.Controller
	services *service.Services
	cal      *calibration.Store
	wizard   *calibration.Wizard
	library  *irbis.Service
	reader   *rfid.UnifiedReader
	backups  *backup.Manager
	servos   *servo.Driver
	bus      *bus.Bus
	log      *zap.Logger

	engine *gin.Engine
}

// Deps wires the facade.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Motion   *motion.Controller
	Services *service.Services
	Cal      *calibration.Store
	Wizard   *calibration.Wizard
	Library  *irbis.Service
	Reader   *rfid.UnifiedReader
	Backups  *backup.Manager
	Servos   *servo.Driver
	Bus      *bus.Bus
	Log      *zap.Logger
}

// New builds the router.
func New(d Deps) *Server {
	if !d.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      d.Config,
		store:    d.Store,
		motion:   d.Motion,
		services: d.Services,
		cal:      d.Cal,
		wizard:   d.Wizard,
		library:  d.Library,
		reader:   d.Reader,
		backups:  d.Backups,
		servos:   d.Servos,
		bus:      d.Bus,
		log:      d.Log,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.log.Info("http server listening", zap.String("addr", addr))
	return s.engine.Run(addr)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) routes() {
	api := s.engine.Group("/api")

	api.GET("/status", s.getStatus)
	api.GET("/cells", s.getCells)
	api.GET("/cells/extraction", s.getExtractionCells)
	api.GET("/cells/:id", s.getCell)
	api.GET("/sensors", s.getSensors)
	api.GET("/position", s.getPosition)
	api.GET("/diagnostics", s.getDiagnostics)
	api.GET("/statistics", s.getStatistics)
	api.GET("/operations", s.getOperations)
	api.GET("/logs", s.getLogs)

	api.POST("/auth/card", s.postAuthCard)
	api.POST("/auth/logout", s.postLogout)

	api.POST("/issue", s.postIssue)
	api.POST("/return", s.postReturn)

	librarian := api.Group("", s.requireRole("load"))
	librarian.POST("/load-book", s.postLoadBook)
	librarian.POST("/extract", s.postExtract)
	librarian.POST("/extract-all", s.postExtractAll)
	librarian.POST("/run-inventory", s.postInventory)

	api.POST("/init", s.postInit)
	api.POST("/stop", s.postStop)
	api.POST("/user-ack", s.postUserAck)
	api.POST("/move", s.postMove)

	admin := api.Group("", s.requireRole("calibrate"))
	admin.GET("/calibration", s.getCalibration)
	admin.POST("/calibration", s.postCalibration)
	admin.GET("/calibration/export", s.getCalibrationExport)
	admin.POST("/calibration/import", s.postCalibrationImport)
	admin.POST("/calibration/reset", s.postCalibrationReset)
	admin.GET("/blocked-cells", s.getBlockedCells)
	admin.POST("/blocked-cells", s.postBlockedCells)

	wizard := admin.Group("/wizard")
	wizard.GET("/state", s.getWizardState)
	wizard.POST("/cancel", s.postWizardCancel)
	wizard.POST("/kinematics/start", s.postWizardKinStart)
	wizard.POST("/kinematics/step", s.postWizardKinStep)
	wizard.POST("/kinematics/answer", s.postWizardKinAnswer)
	wizard.POST("/positions/start", s.postWizardPosStart)
	wizard.POST("/positions/jog", s.postWizardPosJog)
	wizard.POST("/positions/commit", s.postWizardPosCommit)
	wizard.POST("/positions/finish", s.postWizardPosFinish)
	wizard.POST("/grab/start", s.postWizardGrabStart)
	wizard.POST("/grab/adjust", s.postWizardGrabAdjust)
	wizard.POST("/grab/test", s.postWizardGrabTest)
	wizard.POST("/grab/save", s.postWizardGrabSave)

	settings := api.Group("", s.requireRole("settings"))
	settings.GET("/settings", s.getSettings)
	settings.POST("/settings", s.postSettings)
	settings.POST("/backup/create", s.postBackupCreate)
	settings.GET("/backup/list", s.getBackupList)
	settings.POST("/backup/restore", s.postBackupRestore)

	tests := api.Group("/test", s.requireRole("maintenance"))
	tests.POST("/card", s.postTestCard)
	tests.POST("/servo", s.postTestServo)
	tests.POST("/shutter", s.postTestShutter)

	s.engine.GET("/ws", s.handleWS)
}

// requireRole guards a route group behind a session permission.
func (s *Server) requireRole(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := s.services.CurrentUser()
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "error": "authentication required",
			})
			return
		}
		if !s.services.CheckPermission(user, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false, "error": "insufficient permission",
			})
			return
		}
		c.Next()
	}
}

// --- read-only endpoints ---

func (s *Server) getStatus(c *gin.Context) {
	snap := s.motion.GetSnapshot()
	stats, _ := s.store.GetStatistics()
	c.JSON(http.StatusOK, gin.H{
		"state":      snap.State,
		"operation":  snap.Operation,
		"position":   gin.H{"x": snap.X, "y": snap.Y, "tray": snap.Tray},
		"statistics": stats,
		"mock_mode":  s.cfg.MockMode,
		"irbis":      s.library.Connected(),
	})
}

func (s *Server) getCells(c *gin.Context) {
	cells, err := s.store.AllCells()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cells": cells})
}

func (s *Server) getCell(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bad cell id"})
		return
	}
	cell, err := s.store.CellByID(uint(id))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "cell not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cell": cell})
}

func (s *Server) getExtractionCells(c *gin.Context) {
	cells, err := s.store.CellsNeedingExtraction()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cells": cells})
}

func (s *Server) getSensors(c *gin.Context) {
	c.JSON(http.StatusOK, s.motion.GetSnapshot().Sensors)
}

func (s *Server) getPosition(c *gin.Context) {
	snap := s.motion.GetSnapshot()
	c.JSON(http.StatusOK, gin.H{"x": snap.X, "y": snap.Y, "tray": snap.Tray})
}

func (s *Server) getDiagnostics(c *gin.Context) {
	snap := s.motion.GetSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"motion":    snap,
		"readers":   s.reader.Status(),
		"irbis":     s.library.Connected(),
		"mock_mode": s.cfg.MockMode,
	})
}

func (s *Server) getStatistics(c *gin.Context) {
	stats, err := s.store.GetStatistics()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getOperations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	kind := store.OperationKind(c.Query("filter"))
	ops, err := s.store.RecentOperations(limit, kind)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "operations": ops})
}

func (s *Server) getLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := s.store.RecentLogs(limit)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "logs": logs})
}

// --- transactions ---

func (s *Server) postAuthCard(c *gin.Context) {
	var req struct {
		RFID string `json:"rfid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RFID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "rfid required"})
		return
	}
	c.JSON(http.StatusOK, s.services.Authenticate(c.Request.Context(), req.RFID))
}

func (s *Server) postLogout(c *gin.Context) {
	s.services.Logout()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) postIssue(c *gin.Context) {
	var req struct {
		BookRFID string `json:"bookRfid"`
		UserRFID string `json:"userRfid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.BookRFID == "" || req.UserRFID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bookRfid and userRfid required"})
		return
	}
	c.JSON(http.StatusOK, s.services.Issue(c.Request.Context(), req.BookRFID, req.UserRFID))
}

func (s *Server) postReturn(c *gin.Context) {
	var req struct {
		BookRFID string `json:"bookRfid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.BookRFID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bookRfid required"})
		return
	}
	c.JSON(http.StatusOK, s.services.Return(c.Request.Context(), req.BookRFID))
}

func (s *Server) postLoadBook(c *gin.Context) {
	var req struct {
		BookRFID string `json:"bookRfid"`
		Title    string `json:"title"`
		Author   string `json:"author"`
		CellID   uint   `json:"cellId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.BookRFID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bookRfid required"})
		return
	}
	c.JSON(http.StatusOK, s.services.Load(c.Request.Context(), req.BookRFID, req.Title, req.Author, req.CellID))
}

func (s *Server) postExtract(c *gin.Context) {
	var req struct {
		CellID uint `json:"cellId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.CellID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "cellId required"})
		return
	}
	c.JSON(http.StatusOK, s.services.Extract(c.Request.Context(), req.CellID))
}

func (s *Server) postExtractAll(c *gin.Context) {
	c.JSON(http.StatusOK, s.services.ExtractAll(c.Request.Context()))
}

func (s *Server) postInventory(c *gin.Context) {
	var req struct {
		Quick    bool `json:"quick"`
		ScanRFID bool `json:"scan_rfid"`
	}
	_ = c.ShouldBindJSON(&req)
	c.JSON(http.StatusOK, s.services.Inventory(c.Request.Context(), req.ScanRFID && !req.Quick))
}

// --- motion ---

func (s *Server) postInit(c *gin.Context) {
	if err := s.motion.InitHome(); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) postStop(c *gin.Context) {
	s.motion.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) postUserAck(c *gin.Context) {
	s.motion.UserAck()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) postMove(c *gin.Context) {
	var req struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "x and y required"})
		return
	}
	if err := s.motion.MoveTo(req.X, req.Y); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- calibration ---

func (s *Server) getCalibration(c *gin.Context) {
	c.JSON(http.StatusOK, s.cal.Get())
}

func (s *Server) postCalibration(c *gin.Context) {
	var next calibration.Data
	if err := c.ShouldBindJSON(&next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malformed calibration"})
		return
	}
	if err := s.cal.Update(func(d *calibration.Data) { *d = next }); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) getCalibrationExport(c *gin.Context) {
	raw, err := s.cal.Export()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) postCalibrationImport(c *gin.Context) {
	var req struct {
		JSON string `json:"json"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.JSON == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "json required"})
		return
	}
	if err := s.cal.Import([]byte(req.JSON)); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) postCalibrationReset(c *gin.Context) {
	if err := s.cal.Reset(); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) getBlockedCells(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "blocked": s.cal.Get().Blocked})
}

func (s *Server) postBlockedCells(c *gin.Context) {
	var req struct {
		Blocked []config.CellRef `json:"blocked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "blocked list required"})
		return
	}
	if err := s.cal.Update(func(d *calibration.Data) { d.Blocked = req.Blocked }); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- wizard ---

func (s *Server) getWizardState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": s.wizard.Mode()})
}

func (s *Server) postWizardCancel(c *gin.Context) {
	s.wizard.Cancel()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) postWizardKinStart(c *gin.Context) {
	s.wizardReply(c, s.wizard.StartKinematics())
}

func (s *Server) postWizardKinStep(c *gin.Context) {
	step, motor, dir, err := s.wizard.KinematicsStep()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "step": step, "motor": motor, "dir": dir})
}

func (s *Server) postWizardKinAnswer(c *gin.Context) {
	var req struct {
		Diagonal string `json:"diagonal"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Diagonal == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "diagonal required"})
		return
	}
	done, err := s.wizard.KinematicsAnswer(req.Diagonal)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "done": done})
}

func (s *Server) postWizardPosStart(c *gin.Context) {
	s.wizardReply(c, s.wizard.StartPositions())
}

func (s *Server) postWizardPosJog(c *gin.Context) {
	var req struct {
		SizeMM int `json:"size_mm"`
		DX     int `json:"dx"`
		DY     int `json:"dy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "jog parameters required"})
		return
	}
	s.wizardReply(c, s.wizard.Jog(req.SizeMM, req.DX, req.DY))
}

func (s *Server) postWizardPosCommit(c *gin.Context) {
	var req struct {
		Point string `json:"point"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Point == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "point required"})
		return
	}
	s.wizardReply(c, s.wizard.Commit(req.Point))
}

func (s *Server) postWizardPosFinish(c *gin.Context) {
	s.wizardReply(c, s.wizard.FinishPositions())
}

func (s *Server) postWizardGrabStart(c *gin.Context) {
	var req struct {
		Side string `json:"side"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Side == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "side required"})
		return
	}
	s.wizardReply(c, s.wizard.StartGrab(req.Side))
}

func (s *Server) postWizardGrabAdjust(c *gin.Context) {
	var req struct {
		Param string `json:"param"`
		Delta int    `json:"delta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Param == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "param required"})
		return
	}
	grab, err := s.wizard.AdjustGrab(req.Param, req.Delta)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "grab": grab})
}

func (s *Server) postWizardGrabTest(c *gin.Context) {
	var req struct {
		Param string `json:"param"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Param == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "param required"})
		return
	}
	s.wizardReply(c, s.wizard.TestGrab(req.Param))
}

func (s *Server) postWizardGrabSave(c *gin.Context) {
	s.wizardReply(c, s.wizard.SaveGrab())
}

func (s *Server) wizardReply(c *gin.Context, err error) {
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- settings and backups ---

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.store.AllSettings()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": settings})
}

func (s *Server) postSettings(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "settings object required"})
		return
	}
	for key, value := range req {
		if err := s.store.SetSetting(key, value); err != nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) postBackupCreate(c *gin.Context) {
	entry, err := s.backups.Create()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "backup": entry})
}

func (s *Server) getBackupList(c *gin.Context) {
	entries, err := s.backups.List()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "backups": entries})
}

func (s *Server) postBackupRestore(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "name required"})
		return
	}
	if err := s.backups.Restore(req.Name); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "note": "restart required to reopen the store"})
}

// --- test endpoints ---

func (s *Server) postTestCard(c *gin.Context) {
	var req struct {
		UID    string `json:"uid"`
		Source string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "uid required"})
		return
	}
	source := rfid.SourceNFC
	if req.Source == string(rfid.SourceUHF) {
		source = rfid.SourceUHF
	}
	s.reader.Handle(req.UID, source)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) postTestServo(c *gin.Context) {
	var req struct {
		Lock   string `json:"lock"`
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Lock == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "lock and action required"})
		return
	}
	if err := s.driveServo(req.Lock, req.Action); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "locks": s.servos.LockStates()})
}

func (s *Server) postTestShutter(c *gin.Context) {
	var req struct {
		Shutter string `json:"shutter"`
		Action  string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Shutter == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "shutter and action required"})
		return
	}
	if err := s.driveShutter(req.Shutter, req.Action); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shutters": s.servos.ShutterStates()})
}

func (s *Server) driveServo(lock, action string) error {
	target := servo.Lock1
	if lock == string(servo.Lock2) {
		target = servo.Lock2
	}
	if action == "open" {
		return s.servos.OpenLock(target)
	}
	return s.servos.CloseLock(target)
}

func (s *Server) driveShutter(name, action string) error {
	target := servo.Outer
	if name == string(servo.Inner) {
		target = servo.Inner
	}
	if action == "open" {
		return s.servos.OpenShutter(target)
	}
	return s.servos.CloseShutter(target)
}
