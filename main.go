package main

import (
	"embed"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"landsat-desktop/internal/logging"
)

//go:embed all:frontend/dist
var assets embed.FS

// isDevMode detects if running with `wails dev`
func isDevMode() bool {
	return os.Getenv("WAILS_DEV_SERVER") != "" || os.Getenv("FRONTEND_DEVSERVER_URL") != ""
}

func main() {
	// Set DEV_MODE=1 for verbose logging outside `wails dev`
	app := NewApp(os.Getenv("DEV_MODE") == "1" || isDevMode())

	err := wails.Run(&options.App{
		Title:  "Landsat Desktop",
		Width:  1280,
		Height: 800,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        app.startup,
		OnShutdown:       app.Shutdown,
		Bind: []interface{}{
			app,
		},
	})

	if err != nil {
		logging.For("App").Fatalf("Error: %v", err)
	}
}
