package webui

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var allowedAssetExtensions = map[string]bool{
	".html": true, ".css": true, ".js": true, ".json": true,
	".png": true, ".jpg": true, ".jpeg": true, ".svg": true,
	".ico": true,
}

// dashboardHandler serves one file from AssetDir. Only flat file names with a
// known extension are served.
func (webUI *WebUI) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	fileName := r.PathValue("file")
	if fileName == "" {
		fileName = filepath.Base(r.URL.Path)
	}

	if !allowedAssetExtensions[strings.ToLower(filepath.Ext(fileName))] {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	if strings.Contains(fileName, "..") || strings.ContainsAny(fileName, "/\\\x00") {
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		return
	}

	dir := webUI.AssetDir
	if dir == "" {
		dir = "dashboard"
	}
	assetDir, err := filepath.Abs(dir)
	if err != nil {
		http.Error(w, "Internal configuration error", http.StatusInternalServerError)
		return
	}
	absPath, err := filepath.Abs(filepath.Join(assetDir, fileName))
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	rel, err := filepath.Rel(assetDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		webUI.logger().Warn("dashboard path escaped asset dir", slog.String("path", absPath))
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	stat, err := os.Stat(absPath)
	if err != nil || stat.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, absPath)
}
