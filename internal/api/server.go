// Package api exposes the engine over HTTP. Runs and pulls are
// asynchronous: the request queues the job and the client polls.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/roach88/syncbook/internal/engine"
)

// Server routes HTTP requests to one workbook of an engine.
type Server struct {
	eng      *engine.Engine
	workbook string
}

// NewServer creates a server for workbookID.
func NewServer(eng *engine.Engine, workbookID string) *Server {
	return &Server{eng: eng, workbook: workbookID}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/mappings/validate", s.validateMapping)
		v1.POST("/transformers/test", s.testTransformer)

		v1.GET("/folders", s.listFolders)
		v1.PUT("/folders/:folder", s.saveFolder)
		v1.POST("/folders/:folder/move", s.moveFolder)
		v1.POST("/folders/:folder/preview", s.preview)
		v1.POST("/folders/:folder/import", s.importFiles)
		v1.POST("/folders/:folder/pull", s.startPull)

		files := v1.Group("/folders/:folder/files")
		files.GET("", s.listFiles)
		files.POST("", s.createFile)
		files.GET("/:file", s.getFile)
		files.DELETE("/:file", s.deleteRecord)
		files.PATCH("/:file/fields/:field", s.stageField)
		files.DELETE("/:file/fields/:field", s.stageFieldDelete)
		files.POST("/:file/fields/:field/unstage", s.unstageField)
		files.POST("/:file/suggestions", s.suggest)
		files.POST("/:file/accept", s.accept)
		files.POST("/:file/reject", s.reject)

		v1.GET("/pulls/:job", s.waitPull)

		v1.POST("/pipelines", s.planPublish)
		v1.GET("/pipelines", s.listPipelines)
		v1.GET("/pipelines/:pipeline", s.getPipeline)
		v1.GET("/pipelines/:pipeline/entries", s.listEntries)
		v1.POST("/pipelines/:pipeline/run", s.runPipeline)
		v1.POST("/pipelines/:pipeline/cancel", s.cancelPipeline)

		v1.GET("/index/files", s.listFileIndex)
		v1.GET("/index/refs", s.listRefIndex)
		v1.GET("/locks", s.listLocks)
	}
	return r
}
