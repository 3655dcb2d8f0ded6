package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"bboxtool/internal/logging"
	"bboxtool/pkg/bbox"
	"bboxtool/pkg/config"
	"bboxtool/pkg/session"
)

func main() {
	configPath := flag.String("config", "bboxtool.yaml", "Configuration file (defaults are used if it does not exist)")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	basePath := flag.String("base", "", "Directory holding one sub-folder per label")
	labels := flag.String("labels", "", "Comma-separated labels in display order (default: all sub-folders, sorted)")
	lonLat := flag.String("bbox", "", "Bounding box as lonMin,lonMax,latMin,latMax")
	pixels := flag.String("pixels", "", "Bounding box as pixel corners x1,y1,x2,y2 on the first raster")
	lower := flag.Float64("lower", 2, "Lower percentile of the stretch")
	upper := flag.Float64("upper", 98, "Upper percentile of the stretch")
	perImage := flag.Bool("per-image", false, "Stretch each raster on its own statistics instead of a shared one")
	gamma := flag.Float64("gamma", 0, "Display gamma applied after the stretch (0 or 1 disables)")
	numCores := flag.Int("cores", 0, "Number of rasters processed concurrently (default: all CPUs)")
	strict := flag.Bool("strict", false, "Fail when any raster cannot be clipped")
	noSave := flag.Bool("no-save", false, "Do not write the stacked composite")
	savePath := flag.String("save-path", "", "Composite path (default: <base>/deposit/stacked_rasters.png)")
	cmap := flag.String("cmap", "", "Colour map for single-band rasters: gray or viridis")
	noColourbar := flag.Bool("no-colourbar", false, "Omit the colourbar")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// flags only override the config when given explicitly
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base":
			cfg.Data.BasePath = *basePath
		case "labels":
			cfg.Data.Labels = splitLabels(*labels)
		case "bbox":
			cfg.BoundingBox.LonLat = *lonLat
			cfg.BoundingBox.Pixels = ""
		case "pixels":
			cfg.BoundingBox.Pixels = *pixels
			cfg.BoundingBox.LonLat = ""
		case "lower":
			cfg.Stretch.LowerPercentile = *lower
		case "upper":
			cfg.Stretch.UpperPercentile = *upper
		case "per-image":
			cfg.Stretch.Shared = !*perImage
		case "gamma":
			cfg.Stretch.Gamma = *gamma
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "strict":
			cfg.Processing.Strict = *strict
		case "no-save":
			cfg.Output.Save = !*noSave
		case "save-path":
			cfg.Output.SavePath = *savePath
		case "cmap":
			cfg.Output.Cmap = *cmap
		case "no-colourbar":
			cfg.Output.Colourbar = !*noColourbar
		case "log-level":
			cfg.Output.LogLevel = *logLevel
		}
	})

	if !logging.SetLevel(cfg.Output.LogLevel) {
		log.Printf("Warning: unknown log level %q, using info", cfg.Output.LogLevel)
	}
	if cfg.Data.BasePath == "" {
		flag.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.BoundingBox.LonLat == "" && cfg.BoundingBox.Pixels == "" {
		log.Fatalf("A bounding box is required: use -bbox or -pixels")
	}

	fmt.Println("================================")
	fmt.Println("BOUNDING BOX CLIP AND PERCENTILE STRETCH")
	fmt.Println("================================")

	s := session.NewSession(&session.Params{
		BasePath:       cfg.Data.BasePath,
		Labels:         cfg.Data.Labels,
		DefaultCRS:     cfg.Data.CRS,
		Stretch:        cfg.Stretch,
		NumCores:       cfg.Processing.NumCores,
		Strict:         cfg.Processing.Strict,
		Colourbar:      cfg.Output.Colourbar,
		ColourbarLabel: cfg.Output.ColourbarLabel,
		Titles:         cfg.Output.Titles,
		Cmap:           cfg.Output.Cmap,
		Save:           cfg.Output.Save,
		SavePath:       cfg.Output.SavePath,
	})

	startTime := time.Now()
	if err := s.Load(); err != nil {
		log.Fatalf("Failed to load rasters: %v", err)
	}

	if err := defineBoundingBox(s, cfg.BoundingBox.LonLat, cfg.BoundingBox.Pixels); err != nil {
		log.Fatalf("Invalid bounding box: %v", err)
	}

	res, err := s.Process()
	if err != nil {
		log.Fatalf("Processing failed: %v", err)
	}
	processingTime := time.Since(startTime)

	info, err := s.BoundingBox()
	if err != nil {
		log.Fatalf("Bounding box unavailable: %v", err)
	}
	fmt.Printf("\nBounding box: %s (coverage %s)\n", info.Box, info.Box.Coverage())

	fmt.Printf("\nClipped rasters:\n")
	for _, label := range res.Labels {
		n := res.Arrays[label]
		e := res.Extents[label]
		fmt.Printf("- %s: %dx%d, %d band(s), stretch %.4g..%.4g, extent [%.6f, %.6f] x [%.6f, %.6f]\n",
			res.Titles[label], n.Width, n.Height, n.Bands, n.Lo, n.Hi, e.Left, e.Right, e.Bottom, e.Top)
	}
	if res.Stretch != nil {
		fmt.Printf("\nShared stretch: p%g = %.4g, p%g = %.4g\n",
			cfg.Stretch.LowerPercentile, res.Stretch.Lo, cfg.Stretch.UpperPercentile, res.Stretch.Hi)
	}
	if len(res.Failures) > 0 {
		fmt.Printf("\nFailed rasters:\n")
		for _, f := range res.Failures {
			fmt.Printf("- %v\n", f)
		}
	}

	fmt.Printf("\nCompleted in %.2f seconds\n", processingTime.Seconds())
}

// defineBoundingBox sets the session box from a lon/lat string or, when that is
// empty, from pixel corners on the first raster
func defineBoundingBox(s *session.Session, lonLat, pixels string) error {
	if lonLat != "" {
		b, err := bbox.Parse(lonLat)
		if err != nil {
			return err
		}
		lonMin, lonMax, latMin, latMax := b.LonLat()
		_, err = s.DefineBoundingBox(lonMin, lonMax, latMin, latMax)
		return err
	}
	corners, err := bbox.ParsePixelCorners(pixels)
	if err != nil {
		return err
	}
	_, err = s.SelectBoundingBox(bbox.StaticSelector{Corners: corners})
	return err
}

func splitLabels(s string) []string {
	var labels []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}
