package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/wachiwi/tagvision/pkg/bus"
	"github.com/wachiwi/tagvision/pkg/calibration"
	"github.com/wachiwi/tagvision/pkg/capture"
	"github.com/wachiwi/tagvision/pkg/capture/mjpeg"
	"github.com/wachiwi/tagvision/pkg/capture/opencv"
	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/cvframe"
	"github.com/wachiwi/tagvision/pkg/fiducial"
	"github.com/wachiwi/tagvision/pkg/logger"
	"github.com/wachiwi/tagvision/pkg/objdetect"
	"github.com/wachiwi/tagvision/pkg/overlay"
	"github.com/wachiwi/tagvision/pkg/pipeline"
	"github.com/wachiwi/tagvision/pkg/pose"
	"github.com/wachiwi/tagvision/pkg/publisher"
	"github.com/wachiwi/tagvision/pkg/recorder"
	"github.com/wachiwi/tagvision/pkg/stream"
	"github.com/wachiwi/tagvision/pkg/telemetry"
	"github.com/wachiwi/tagvision/pkg/vision"
)

const serviceName = "tagvision"

var backends = capture.Registry{
	"":             opencv.NewDefault,
	"gstreamer":    opencv.NewGStreamer,
	"rpicam":       mjpeg.NewRPicam,
	"avfoundation": mjpeg.NewAVFoundation,
}

func main() {
	configPath := flag.String("config", "config.json", "path to the local config file")
	calibrationPath := flag.String("calibration", "calibration.json", "path to the camera calibration file")
	flag.Parse()

	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.LoadLocal(*configPath)
	if err != nil {
		logger.Setup("info")
		logger.Fatal("Failed to load config", "path", *configPath, "error", err)
	}
	logger.Setup(cfg.LogLevel)
	logger.RoutePaho(slog.Default())

	os.Exit(run(cfg, *calibrationPath))
}

// run wires everything up and returns the process exit code.
func run(cfg config.Local, calibrationPath string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		slog.Error("Failed to set up telemetry", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	camera, calibrated := loadCamera(calibrationPath)

	backend, err := backends.Resolve(cfg.CaptureImpl)
	if err != nil {
		slog.Error("Invalid capture implementation", "error", err)
		return 1
	}
	session := capture.NewSession(backend)
	defer session.Close()

	transport, err := bus.DialMQTT(bus.MQTTConfig{Host: cfg.ServerIP, Port: cfg.ServerPort})
	if err != nil {
		slog.Error("Failed to connect to telemetry bus", "error", err)
		return 1
	}
	client := bus.NewClient(transport)
	defer client.Close()
	if err := client.Connect(cfg.DeviceID); err != nil {
		slog.Error("Failed to subscribe to telemetry bus", "error", err)
		return 1
	}

	commands, err := calibration.NewCommands(client, cfg.DeviceID)
	if err != nil {
		slog.Error("Failed to set up calibration commands", "error", err)
		return 1
	}

	rec := recorder.New(recorder.Options{
		DeviceID:    cfg.DeviceID,
		VideoFolder: cfg.VideoFolder,
		Codec:       cfg.VideoCodec,
		Overlay:     overlay.Annotate,
	})

	c := cron.New(cron.WithLogger(&logger.CronLogger{Logger: slog.Default()}))
	retention := time.Duration(cfg.VideoRetentionHours * float64(time.Hour))
	if _, err := recorder.ScheduleRetention(c, cfg.VideoFolder, retention); err != nil {
		slog.Error("Failed to schedule recording retention", "error", err)
		return 1
	}
	c.Start()
	defer c.Stop()

	opts := pipeline.Options{
		Remote:          config.NewRemoteSource(client, cfg.DeviceID),
		Capture:         session,
		Calibrated:      calibrated,
		Calibration:     commands,
		ObjDetectMaxFPS: cfg.ObjDetectMaxFPS,
		Publisher:       publisher.New(client, cfg.DeviceID),
		Recorder:        rec,
		NewCalibrationSession: func() (pipeline.CalibrationSession, error) {
			srv := stream.New("calibration")
			srv.Start(cfg.CalibrationStreamPort)
			s, err := calibration.NewSession(calibration.Options{
				Folder: cfg.CalibrationFolder,
				Stream: srv,
				Encode: cvframe.EncodeFrame,
			})
			if err != nil {
				_ = srv.Close(context.Background())
				return nil, err
			}
			return s, nil
		},
	}

	var servers []*stream.Server
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Close(ctx)
		}
	}()

	if calibrated && cfg.AprilTagsEnable {
		detector := fiducial.NewDetector()
		defer detector.Close()
		srv := stream.New(pipeline.FiducialName)
		srv.Start(cfg.AprilTagsStreamPort)
		servers = append(servers, srv)

		w := pipeline.NewWorker[vision.FiducialResult](pipeline.FiducialName,
			pipeline.FiducialProcessor{Detector: detector, Camera: camera}, srv, overlay.Fiducial)
		w.Start()
		opts.Fiducial = w
	}

	if calibrated && cfg.ObjDetectEnable {
		detector, err := objdetect.Load(cfg.ObjDetectModel)
		if err != nil {
			slog.Error("Failed to load detection model", "error", err)
			return 1
		}
		defer detector.Close()
		srv := stream.New(pipeline.ObjDetectName)
		srv.Start(cfg.ObjDetectStreamPort)
		servers = append(servers, srv)

		w := pipeline.NewWorker[vision.ObjDetectResult](pipeline.ObjDetectName,
			pipeline.ObjDetectProcessor{Detector: detector, Camera: camera}, srv, overlay.ObjDetect)
		w.Start()
		opts.ObjDetect = w
	}

	slog.Info("tagvision running",
		"device", cfg.DeviceID,
		"capture", cfg.CaptureImpl,
		"calibrated", calibrated,
		"apriltags", opts.Fiducial != nil,
		"objdetect", opts.ObjDetect != nil,
	)

	err = pipeline.NewDispatcher(opts).Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrCalibrationComplete):
		slog.Info("Calibration complete, exiting")
		return 0
	case errors.Is(err, context.Canceled):
		slog.Info("Shutting down")
		return 0
	default:
		slog.Error("Capture failed", "error", err)
		return 1
	}
}

func loadCamera(path string) (pose.Camera, bool) {
	cal, err := config.LoadCalibration(path)
	if err != nil {
		slog.Warn("No calibration loaded", "path", path, "error", err)
		return pose.Camera{}, false
	}
	camera, err := pose.NewCamera(cal)
	if err != nil {
		slog.Warn("Calibration is incomplete", "path", path, "error", err)
		return pose.Camera{}, false
	}
	slog.Info("Calibration loaded", "path", path)
	return camera, true
}
