package api

import (
	"embed"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
)

// Embedded dashboard assets: a single static page polling /api/v1/stats.
// Served from the binary so a coordinator deployed as one file still has a
// browsable status view.
//
//go:embed dist/browser/*
var embeddedUI embed.FS

func getEmbedFs() static.ServeFileSystem {
	fs, err := static.EmbedFolder(embeddedUI, "dist/browser")
	if err != nil {
		panic("api: embedded dashboard filesystem: " + err.Error())
	}
	return fs
}

// MountSPA serves the embedded status dashboard at / and falls back to
// index.html for any non-API route, so deep links into the dashboard
// survive a reload.
func MountSPA(r *gin.Engine, logger *slog.Logger) {
	distFS := getEmbedFs()
	r.Use(static.Serve("/", distFS))

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.RequestURI, "/api") {
			return
		}
		index, err := distFS.Open("index.html")
		if err != nil {
			logger.Error("api: open embedded index.html", "error", err)
			return
		}
		defer index.Close()
		stat, err := index.Stat()
		if err != nil {
			return
		}
		http.ServeContent(c.Writer, c.Request, "index.html", stat.ModTime(), index)
	})
}
