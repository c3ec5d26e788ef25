package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"path/filepath"
	"time"

	"hyperbrain/internal/models"
	"hyperbrain/pkg/config"
	"hyperbrain/pkg/cubeio"
	"hyperbrain/pkg/heatmap"
	"hyperbrain/pkg/hsi"
	"hyperbrain/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Hyperspectral cube: .npy, .dcm, an image, or a directory of band images")
	configPath := flag.String("config", "config.yaml", "Configuration file (YAML, JSON or JSON5)")
	outputDir := flag.String("output", "", "Output directory (overrides the configuration)")
	synthetic := flag.Bool("synthetic", false, "Run on a synthetic demonstration cube")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Directory = *outputDir
	}
	outDir := cfg.Output.Directory
	format := cfg.Output.ImageFormat

	fmt.Println("================================")
	fmt.Println("HYPERSPECTRAL HEATMAP GENERATOR")
	fmt.Println("================================")

	// Load the cube, falling back to the demonstration cube
	source := *inputPath
	var cube *hsi.Cube
	if !*synthetic && *inputPath != "" {
		cube, err = cubeio.Load(*inputPath)
		if err != nil {
			fmt.Printf("Warning: Failed to load %s: %v\n", *inputPath, err)
		}
	}
	if cube == nil {
		fmt.Println("No input loaded, generating synthetic data for demonstration...")
		source = "synthetic"
		size := cfg.Heatmap.SyntheticSize
		cube = hsi.SyntheticCube(size, size, cfg.Heatmap.SyntheticBands, cfg.Augmentation.Seed)
	}
	fmt.Printf("Loaded %s: %dx%d with %d bands\n", source, cube.Cols, cube.Rows, cube.Bands)

	gen, err := heatmap.NewGenerator(cfg.HeatmapOptions())
	if err != nil {
		log.Fatalf("Invalid heatmap configuration: %v", err)
	}

	startTime := time.Now()
	res, err := gen.Generate(cube)
	if err != nil {
		log.Fatalf("Heatmap generation failed: %v", err)
	}
	processingTime := time.Since(startTime)

	report := models.HeatmapReport{
		Input:      models.CubeInfo{Source: source, Rows: cube.Rows, Cols: cube.Cols, Bands: cube.Bands},
		FalseColor: res.FalseColor != nil,
		Tissue: map[string]int{
			heatmap.Tumor.String():  res.Classes.Count(heatmap.Tumor),
			heatmap.Vessel.String(): res.Classes.Count(heatmap.Vessel),
			heatmap.Brain.String():  res.Classes.Count(heatmap.Brain),
		},
	}

	var written []string
	save := func(name string, img image.Image) {
		path := filepath.Join(outDir, name+"."+format)
		if err := visualization.SaveImage(path, img); err != nil {
			fmt.Printf("Warning: Failed to save %s: %v\n", path, err)
			return
		}
		fmt.Printf("Saved heatmap to %s\n", path)
		written = append(written, path)
	}

	intensity := visualization.PlaneImage(hsi.RescalePlane(res.Intensity))
	save("original_intensity", intensity)
	panels := []image.Image{intensity}

	if res.FalseColor != nil {
		pca, err := visualization.RGBImage(res.FalseColor)
		if err != nil {
			fmt.Printf("Warning: Failed to render PCA composite: %v\n", err)
		} else {
			save("pca_visualization", pca)
			panels = append(panels, pca)
		}
	}

	for i, idx := range res.Indices {
		report.Indices = append(report.Indices, models.IndexReport{Kind: idx.Kind, Fallback: idx.Fallback})
		save("spectral_index_"+idx.Kind, visualization.ColorImage(idx.Plane, gen.Colormap()))

		title := fmt.Sprintf("Spectral Index (%s)", idx.Kind)
		fig, err := visualization.RenderHeatmap(idx.Plane, gen.Colormap(), title, 480, 400)
		if err != nil {
			fmt.Printf("Warning: Failed to render %s: %v\n", title, err)
			continue
		}
		save("spectral_index_"+idx.Kind+"_figure", fig)
		if i == 0 {
			panels = append(panels, fig)
		}
	}

	tissue, err := visualization.RGBImage(res.Tissue)
	if err != nil {
		fmt.Printf("Warning: Failed to render tissue overlay: %v\n", err)
	} else {
		save("tissue_specific", tissue)
		panels = append(panels, tissue)
	}

	if summary, err := visualization.SummaryFigure(panels, 400); err != nil {
		fmt.Printf("Warning: Failed to compose summary: %v\n", err)
	} else {
		save("summary", summary)
	}

	report.Outputs = written
	reportPath := filepath.Join(outDir, "report.yaml")
	if err := models.WriteReport(reportPath, report); err != nil {
		fmt.Printf("Warning: Failed to save %s: %v\n", reportPath, err)
	}

	fmt.Printf("\nHeatmaps generated in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Results saved to: %s\n", outDir)
}
