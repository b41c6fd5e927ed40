package registryapi

import (
	"net/http"

	"github.com/containerd/platforms"
	"github.com/gin-gonic/gin"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/samber/lo"

	"github.com/dockreef/registry/session"
	"github.com/dockreef/registry/store"
)

// NewAdminRouter returns the /api/* observability and garbage-collection
// surface (§6 "Admin/observability surface"). It's a separate gin router
// from the hand-dispatched /v2/* Server: this surface isn't part of the
// Distribution API grammar, and gin's routing and recovery middleware fit
// it well where the /v2/* path grammar would fight a pattern matcher.
func NewAdminRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/registry/health", s.apiHealth)
	api.GET("/registry/state", s.apiState)
	api.GET("/registry/repositories/:name", s.apiRepository)
	api.GET("/registry/blobs", s.apiBlobs)
	api.GET("/registry/sessions", s.apiSessions)
	api.POST("/garbage-collect", s.apiGarbageCollect)
	api.GET("/garbage-collect/stats", s.apiGarbageCollectStats)
	api.POST("/registry/recovery/reset", s.apiResetRecovery)
	return r
}

func (s *Server) apiHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) apiState(c *gin.Context) {
	stats, err := s.GC.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blobCount":       stats.BlobCount,
		"totalBytes":      stats.TotalBytes,
		"manifestCount":   stats.ManifestCount,
		"repositoryCount": stats.RepositoryCount,
		"activeSessions":  stats.ActiveSessions,
	})
}

// apiRepository answers with a repository's tags and, for any tag whose
// manifest is a multi-platform index, a best-effort platform-resolution
// result (§4.5 supplemented feature). ?platform=os/arch[/variant]
// overrides the host default used for matching.
func (s *Server) apiRepository(c *gin.Context) {
	name := c.Param("name")
	tags, err := s.Index.ListTags(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(tags) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not known to registry"})
		return
	}

	var target *ocispec.Platform
	if raw := c.Query("platform"); raw != "" {
		p, err := platforms.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid platform: " + err.Error()})
			return
		}
		target = &p
	}

	platformResults := make([]resolvedPlatform, 0, len(tags))
	for _, tag := range tags {
		m, err := s.Index.Get(c.Request.Context(), name, tag)
		if err != nil {
			platformResults = append(platformResults, resolvedPlatform{Tag: tag, Error: err.Error()})
			continue
		}
		platformResults = append(platformResults, resolvePlatform(m, target))
	}

	c.JSON(http.StatusOK, gin.H{"name": name, "tags": tags, "platforms": platformResults})
}

func (s *Server) apiBlobs(c *gin.Context) {
	count, total, err := s.Store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count, "totalBytes": total})
}

func (s *Server) apiSessions(c *gin.Context) {
	out := lo.Map(s.Sessions.All(), func(info session.Info, _ int) gin.H {
		return gin.H{
			"id":           info.ID,
			"createdAt":    info.CreatedAt,
			"lastActivity": info.LastActivity,
		}
	})
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) apiGarbageCollect(c *gin.Context) {
	result, err := s.GC.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blobsRemoved":     result.BlobsRemoved,
		"bytesFreed":       result.BytesFreed,
		"manifestsRemoved": result.ManifestsRemoved,
		"durationMs":       result.Duration.Milliseconds(),
	})
}

func (s *Server) apiGarbageCollectStats(c *gin.Context) {
	stats, err := s.GC.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blobCount":       stats.BlobCount,
		"totalBytes":      stats.TotalBytes,
		"manifestCount":   stats.ManifestCount,
		"repositoryCount": stats.RepositoryCount,
		"activeSessions":  stats.ActiveSessions,
	})
}

// apiResetRecovery clears the Blob Store's single-attempt corruption
// recovery gate (§9), letting the next corruption error trigger another
// AttemptRecovery. An operator calls this only after independently
// confirming the underlying storage fault is fixed; the registry itself
// never calls it automatically.
func (s *Server) apiResetRecovery(c *gin.Context) {
	store.ResetRecovery()
	c.JSON(http.StatusOK, gin.H{"status": "recovery gate reset"})
}
