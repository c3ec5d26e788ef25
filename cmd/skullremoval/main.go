package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"hyperbrain/internal/models"
	"hyperbrain/pkg/cnn"
	"hyperbrain/pkg/config"
	"hyperbrain/pkg/cubeio"
	"hyperbrain/pkg/heatmap"
	"hyperbrain/pkg/hsi"
	"hyperbrain/pkg/skullstrip"
	"hyperbrain/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Hyperspectral cube: .npy, .dcm, an image, or a directory of band images")
	configPath := flag.String("config", "config.yaml", "Configuration file (YAML, JSON or JSON5)")
	modelPath := flag.String("model", "", "Pretrained classifier to use instead of training one")
	saveModel := flag.String("save-model", "", "Write the classifier used for the heatmap to this file")
	outputDir := flag.String("output", "", "Output directory (overrides the configuration)")
	synthetic := flag.Bool("synthetic", false, "Run on a synthetic demonstration cube")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputPath == "" && !*synthetic {
		flag.Usage()
		os.Exit(1)
	}

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
	fmt.Println("HYPERSPECTRAL SKULL REMOVAL WITH GRAD-CAM")
	fmt.Println("================================")

	// Load and normalize the cube
	source := *inputPath
	var cube *hsi.Cube
	if *synthetic {
		source = "synthetic"
		size := cfg.Heatmap.SyntheticSize
		cube = hsi.SyntheticCube(size, size, cfg.Heatmap.SyntheticBands, cfg.Augmentation.Seed)
	} else if cube, err = cubeio.Load(*inputPath); err != nil {
		log.Fatalf("Failed to load input: %v", err)
	}
	cube, err = hsi.Normalize(cube)
	if err != nil {
		log.Fatalf("Failed to normalize input: %v", err)
	}
	fmt.Printf("Loaded %s: %dx%d with %d bands\n", source, cube.Cols, cube.Rows, cube.Bands)

	var pretrained *cnn.Network
	if *modelPath != "" {
		if pretrained, err = cnn.LoadFile(*modelPath); err != nil {
			log.Fatalf("Failed to load model: %v", err)
		}
		fmt.Printf("Using pretrained model %s\n", *modelPath)
	}

	params := cfg.RemoverParams()
	intermediaryPath := filepath.Join(outDir, "intermediary_results")
	if cfg.Output.SaveIntermediaryResults {
		params.Saver = visualization.FileSaver{Dir: intermediaryPath, Format: format}
	}

	// Run the pipeline
	remover := skullstrip.NewRemover(params)
	startTime := time.Now()
	res, err := remover.Process(cube, pretrained)
	if err != nil {
		log.Fatalf("Skull removal failed: %v", err)
	}
	processingTime := time.Since(startTime)

	report := models.SkullRemovalReport{
		Input:       models.CubeInfo{Source: source, Rows: cube.Rows, Cols: cube.Cols, Bands: cube.Bands},
		Model:       *modelPath,
		Degenerate:  res.Degenerate,
		BrainPixels: res.Mask.Count(),
	}
	report.BrainFraction = float64(report.BrainPixels) / float64(cube.Rows*cube.Cols)
	if res.History != nil {
		report.Loss = res.History.Loss
	}
	for _, st := range res.Timings {
		report.Stages = append(report.Stages, models.StageReport{Stage: st.Stage, Seconds: st.Duration.Seconds()})
	}

	// Save results
	report.Outputs = saveResults(outDir, format, cube, res)

	npyPath := filepath.Join(outDir, "brain_only.npy")
	if err := cubeio.SaveNPY(npyPath, res.BrainOnly); err != nil {
		fmt.Printf("Warning: Failed to save %s: %v\n", npyPath, err)
	} else {
		report.Outputs = append(report.Outputs, npyPath)
	}

	if *saveModel != "" {
		if err := res.Model.SaveFile(*saveModel); err != nil {
			log.Fatalf("Failed to save model: %v", err)
		}
		fmt.Printf("Model saved to: %s\n", *saveModel)
	}

	reportPath := filepath.Join(outDir, "report.yaml")
	if err := models.WriteReport(reportPath, report); err != nil {
		fmt.Printf("Warning: Failed to save %s: %v\n", reportPath, err)
	}

	fmt.Printf("\nSkull removal completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Results saved to: %s\n\n", outDir)
	fmt.Println("Stage timings:")
	for _, st := range res.Timings {
		fmt.Printf("- %s: %.2f seconds\n", st.Stage, st.Duration.Seconds())
	}
	fmt.Printf("\nBrain pixels: %d (%.1f%% of the image)\n", report.BrainPixels, 100*report.BrainFraction)
	if res.Degenerate {
		fmt.Println("Warning: the Grad-CAM heatmap carried no signal; the mask comes from traditional segmentation only")
	}
	if cfg.Output.SaveIntermediaryResults {
		fmt.Println("\nIntermediary results saved to:")
		fmt.Printf("%s\n", intermediaryPath)
	}
}

// saveResults writes the output images and returns the paths written
func saveResults(outDir, format string, cube *hsi.Cube, res *skullstrip.Result) []string {
	var written []string
	save := func(name string, img image.Image) {
		path := filepath.Join(outDir, name+"."+format)
		if err := visualization.SaveImage(path, img); err != nil {
			fmt.Printf("Warning: Failed to save %s: %v\n", path, err)
			return
		}
		written = append(written, path)
	}

	original, err := hsi.Projection(cube)
	if err != nil {
		fmt.Printf("Warning: Failed to project input: %v\n", err)
		return written
	}
	brainOnly, err := hsi.Projection(res.BrainOnly)
	if err != nil {
		fmt.Printf("Warning: Failed to project result: %v\n", err)
		return written
	}
	jet, err := heatmap.ColormapByName("jet")
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
		return written
	}

	heat, err := visualization.RenderHeatmap(res.Heatmap, jet, "Grad-CAM Heatmap (Skull Region)", 480, 400)
	if err != nil {
		fmt.Printf("Warning: Failed to render heatmap: %v\n", err)
		heat = visualization.ColorImage(res.Heatmap, jet)
	}
	originalImg := visualization.PlaneImage(original)
	maskImg := visualization.MaskImage(res.Mask)
	brainImg := visualization.PlaneImage(brainOnly)

	save("original_intensity", originalImg)
	save("gradcam_heatmap", heat)
	save("brain_mask", maskImg)
	save("brain_only", brainImg)

	summary, err := visualization.SummaryFigure([]image.Image{originalImg, heat, maskImg, brainImg}, 400)
	if err != nil {
		fmt.Printf("Warning: Failed to compose summary: %v\n", err)
		return written
	}
	save("summary", summary)
	return written
}
