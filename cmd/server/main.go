package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"visionpharma/internal/app"
	"visionpharma/internal/config"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	var (
		envFile     string
		port        int
		cameraIndex int
		noCamera    bool
	)

	root := &cobra.Command{
		Use:     "visionpharma",
		Short:   "Blister pack inspection server with live camera streaming",
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		Example: "  visionpharma --env-file .env --port 8080\n  visionpharma --no-camera",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}

			// Flags win over the environment
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("camera-index") {
				cfg.CameraIndex = cameraIndex
			}
			if noCamera {
				cfg.CameraEnabled = false
			}

			application, err := app.NewApp(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return application.Run(ctx)
		},
	}

	root.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file (missing file is ignored)")
	root.Flags().IntVar(&port, "port", 5000, "HTTP listen port (overrides PORT)")
	root.Flags().IntVar(&cameraIndex, "camera-index", 0, "camera device index (overrides CAMERA_INDEX)")
	root.Flags().BoolVar(&noCamera, "no-camera", false, "do not open the camera at startup")
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
