package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/syncbook/internal/engine"
	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/merge"
	"github.com/roach88/syncbook/internal/schema"
	"github.com/roach88/syncbook/internal/transform"
)

type validateMappingRequest struct {
	SourceSchema *schema.Node     `json:"source_schema" binding:"required"`
	DestSchema   *schema.Node     `json:"dest_schema" binding:"required"`
	FieldMap     mapping.FieldMap `json:"field_map"`
}

type moveFolderRequest struct {
	ParentID string `json:"parent_id"`
}

type createFileRequest struct {
	Filename string         `json:"filename" binding:"required"`
	Content  map[string]any `json:"content"`
}

type fieldValueRequest struct {
	Value any `json:"value"`
}

type suggestRequest struct {
	Field  string `json:"field" binding:"required"`
	Value  any    `json:"value"`
	Delete bool   `json:"delete"`
}

type fieldRequest struct {
	Field string `json:"field"`
}

type previewRequest struct {
	Sample   string            `json:"sample" binding:"required"`
	FieldMap *mapping.FieldMap `json:"field_map"`
}

type testTransformerRequest struct {
	FilePath    string          `json:"file_path" binding:"required"`
	JSONPath    string          `json:"json_path" binding:"required"`
	Transformer json.RawMessage `json:"transformer" binding:"required"`
}

type importRequest struct {
	Files          []engine.ImportFile `json:"files" binding:"required"`
	RenameReserved bool                `json:"rename_reserved"`
}

type planRequest struct {
	Scope  ir.Scope `json:"scope"`
	Branch string   `json:"branch"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "locked": s.eng.LockedFolders()})
}

func (s *Server) validateMapping(c *gin.Context) {
	var req validateMappingRequest
	if !bindJSON(c, &req) {
		return
	}
	errs := s.eng.ValidateMapping(req.SourceSchema, req.DestSchema, req.FieldMap)
	if errs == nil {
		errs = []mapping.MappingError{}
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":  len(mapping.Blocking(errs, req.FieldMap)) == 0,
		"errors": errs,
	})
}

func (s *Server) testTransformer(c *gin.Context) {
	var req testTransformerRequest
	if !bindJSON(c, &req) {
		return
	}
	cfg, err := transform.Unmarshal(req.Transformer)
	if err != nil {
		badRequest(c, err)
		return
	}
	handle(c, http.StatusOK, func() (any, error) {
		return s.eng.TestTransformer(c.Request.Context(), s.workbook, req.FilePath, req.JSONPath, cfg)
	})
}

func (s *Server) listFolders(c *gin.Context) {
	handle(c, http.StatusOK, func() (any, error) {
		folders, err := s.eng.ListFolders(c.Request.Context(), s.workbook)
		return gin.H{"folders": folders}, err
	})
}

func (s *Server) saveFolder(c *gin.Context) {
	var f ir.DataFolder
	if !bindJSON(c, &f) {
		return
	}
	f.ID = c.Param("folder")
	f.WorkbookID = s.workbook
	errs, err := s.eng.SaveFolder(c.Request.Context(), f)
	if len(errs) > 0 {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"code":    string(engine.ErrCodeInvalidMapping),
			"message": err.Error(),
			"errors":  errs,
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) moveFolder(c *gin.Context) {
	var req moveFolderRequest
	if !bindJSON(c, &req) {
		return
	}
	handle(c, http.StatusOK, func() (any, error) {
		placements, err := s.eng.MoveFolder(c.Request.Context(), s.workbook, c.Param("folder"), req.ParentID)
		return gin.H{"placements": placements}, err
	})
}

func (s *Server) preview(c *gin.Context) {
	var req previewRequest
	if !bindJSON(c, &req) {
		return
	}
	handle(c, http.StatusOK, func() (any, error) {
		rows, err := s.eng.PreviewTransform(c.Request.Context(), s.workbook, c.Param("folder"), req.Sample, req.FieldMap)
		return gin.H{"rows": rows}, err
	})
}

func (s *Server) importFiles(c *gin.Context) {
	var req importRequest
	if !bindJSON(c, &req) {
		return
	}
	handle(c, http.StatusOK, func() (any, error) {
		return s.eng.Import(c.Request.Context(), s.workbook, c.Param("folder"), req.Files,
			engine.ImportOptions{RenameReserved: req.RenameReserved})
	})
}

func (s *Server) startPull(c *gin.Context) {
	handle(c, http.StatusAccepted, func() (any, error) {
		job, err := s.eng.StartPull(c.Request.Context(), s.workbook, c.Param("folder"))
		return gin.H{"job": job}, err
	})
}

// waitPull blocks until the pull finishes or the timeout query
// parameter (default 30s) elapses.
func (s *Server) waitPull(c *gin.Context) {
	timeout := 30 * time.Second
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	handle(c, http.StatusOK, func() (any, error) {
		return s.eng.WaitPull(ctx, c.Param("job"))
	})
}

func (s *Server) listFiles(c *gin.Context) {
	handle(c, http.StatusOK, func() (any, error) {
		files, err := s.eng.ListFiles(c.Request.Context(), s.workbook, c.Param("folder"))
		return gin.H{"files": files}, err
	})
}

func (s *Server) createFile(c *gin.Context) {
	var req createFileRequest
	if !bindJSON(c, &req) {
		return
	}
	handle(c, http.StatusCreated, func() (any, error) {
		return s.eng.CreateFile(c.Request.Context(), s.workbook, c.Param("folder"), req.Filename, req.Content)
	})
}

// getFile returns the display envelope of a file.
func (s *Server) getFile(c *gin.Context) {
	handle(c, http.StatusOK, func() (any, error) {
		return s.eng.Envelope(c.Request.Context(), s.workbook, c.Param("folder"), c.Param("file"))
	})
}

func (s *Server) deleteRecord(c *gin.Context) {
	s.respondState(c, func() (merge.State, error) {
		return s.eng.DeleteRecord(c.Request.Context(), s.workbook, c.Param("folder"), c.Param("file"))
	})
}

func (s *Server) stageField(c *gin.Context) {
	var req fieldValueRequest
	if !bindJSON(c, &req) {
		return
	}
	s.respondState(c, func() (merge.State, error) {
		return s.eng.Stage(c.Request.Context(), s.workbook, c.Param("folder"), c.Param("file"), c.Param("field"), req.Value)
	})
}

func (s *Server) stageFieldDelete(c *gin.Context) {
	s.respondState(c, func() (merge.State, error) {
		return s.eng.StageFieldDelete(c.Request.Context(), s.workbook, c.Param("folder"), c.Param("file"), c.Param("field"))
	})
}

func (s *Server) unstageField(c *gin.Context) {
	s.respondState(c, func() (merge.State, error) {
		return s.eng.Unstage(c.Request.Context(), s.workbook, c.Param("folder"), c.Param("file"), c.Param("field"))
	})
}

func (s *Server) suggest(c *gin.Context) {
	var req suggestRequest
	if !bindJSON(c, &req) {
		return
	}
	s.respondState(c, func() (merge.State, error) {
		return s.eng.Suggest(c.Request.Context(), s.workbook, c.Param("folder"), c.Param("file"), req.Field, req.Value, req.Delete)
	})
}

func (s *Server) accept(c *gin.Context) {
	var req fieldRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s.respondState(c, func() (merge.State, error) {
		return s.eng.Accept(c.Request.Context(), s.workbook, c.Param("folder"), c.Param("file"), req.Field)
	})
}

func (s *Server) reject(c *gin.Context) {
	var req fieldRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s.respondState(c, func() (merge.State, error) {
		return s.eng.Reject(c.Request.Context(), s.workbook, c.Param("folder"), c.Param("file"), req.Field)
	})
}

// respondState writes the file's envelope after an edit.
func (s *Server) respondState(c *gin.Context, edit func() (merge.State, error)) {
	handle(c, http.StatusOK, func() (any, error) {
		if _, err := edit(); err != nil {
			return nil, err
		}
		return s.eng.Envelope(c.Request.Context(), s.workbook, c.Param("folder"), c.Param("file"))
	})
}

func (s *Server) planPublish(c *gin.Context) {
	var req planRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	handle(c, http.StatusCreated, func() (any, error) {
		return s.eng.PlanPublish(c.Request.Context(), s.workbook, req.Scope, req.Branch)
	})
}

func (s *Server) listPipelines(c *gin.Context) {
	var scope ir.Scope
	if folder := c.Query("folder"); folder != "" {
		scope.FolderIDs = []string{folder}
	}
	handle(c, http.StatusOK, func() (any, error) {
		pipelines, err := s.eng.ListPipelines(c.Request.Context(), s.workbook, scope)
		return gin.H{"pipelines": pipelines}, err
	})
}

func (s *Server) getPipeline(c *gin.Context) {
	handle(c, http.StatusOK, func() (any, error) {
		return s.eng.GetPipeline(c.Request.Context(), s.workbook, c.Param("pipeline"))
	})
}

func (s *Server) listEntries(c *gin.Context) {
	handle(c, http.StatusOK, func() (any, error) {
		entries, err := s.eng.ListPipelineEntries(c.Request.Context(), s.workbook, c.Param("pipeline"))
		return gin.H{"entries": entries}, err
	})
}

func (s *Server) runPipeline(c *gin.Context) {
	handle(c, http.StatusAccepted, func() (any, error) {
		return s.eng.RunPublish(c.Request.Context(), s.workbook, c.Param("pipeline"))
	})
}

func (s *Server) cancelPipeline(c *gin.Context) {
	handle(c, http.StatusOK, func() (any, error) {
		ok, err := s.eng.CancelPipeline(c.Request.Context(), s.workbook, c.Param("pipeline"))
		return gin.H{"cancel_requested": ok}, err
	})
}

func (s *Server) listFileIndex(c *gin.Context) {
	handle(c, http.StatusOK, func() (any, error) {
		entries, err := s.eng.ListFileIndex(c.Request.Context(), s.workbook)
		return gin.H{"files": entries}, err
	})
}

func (s *Server) listRefIndex(c *gin.Context) {
	handle(c, http.StatusOK, func() (any, error) {
		entries, err := s.eng.ListRefIndex(c.Request.Context(), s.workbook)
		return gin.H{"refs": entries}, err
	})
}

func (s *Server) listLocks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"folders": s.eng.LockedFolders()})
}
