// Command twoview matches feature files pairwise, verifies each pair
// geometrically and optionally stores the results and writes a report.
//
//	twoview -features a.txt,b.txt,c.txt [-pairs pairs.txt] [-config twoview.json] [-db out.db] [-report dir]
//	twoview -images a.png,b.png [-features-out dir] ...   (built with -tags gocv)
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/db"
	"github.com/banshee-data/twoview/internal/extract"
	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/geometry"
	"github.com/banshee-data/twoview/internal/monitoring"
	"github.com/banshee-data/twoview/internal/pipeline"
	"github.com/banshee-data/twoview/internal/report"
	"github.com/banshee-data/twoview/internal/version"
)

var (
	featuresFlag = flag.String("features", "", "Comma separated feature text files, one per image")
	imagesFlag   = flag.String("images", "", "Comma separated PNG/JPEG images to extract features from (needs -tags gocv)")
	featOutFlag  = flag.String("features-out", "", "Directory to save features extracted from -images")
	pairsFlag    = flag.String("pairs", "", "File of image index pairs, one \"i j\" per line (default: all pairs)")
	camerasFlag  = flag.String("cameras", "", "JSON file with one intrinsics object (or null) per image")
	configFlag   = flag.String("config", "", "JSON configuration file")
	dbFlag       = flag.String("db", "", "SQLite database to store features, matches and geometries")
	reportFlag   = flag.String("report", "", "Directory for residuals.png and report.html")
	cpuFlag      = flag.Bool("cpu", false, "Force CPU matching regardless of the configuration")
	traceFlag    = flag.Bool("trace", false, "Enable per-trial trace logging")
	versionFlag  = flag.Bool("version", false, "Print version and exit")
)

type options struct {
	Features    []string
	Images      []string
	FeaturesOut string
	Detector    extract.Detector // used with Images
	Pairs    string
	Cameras  string
	Config   string
	DB       string
	Report   string
	CPU      bool
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}

	streams := monitoring.Streams{Ops: os.Stderr, Diag: os.Stderr}
	if *traceFlag {
		streams.Trace = os.Stderr
	}
	monitoring.SetLogWriters(streams)

	if (*featuresFlag == "") == (*imagesFlag == "") {
		log.Fatal("exactly one of -features or -images is required")
	}
	opts := options{
		Pairs:       *pairsFlag,
		Cameras:     *camerasFlag,
		Config:      *configFlag,
		DB:          *dbFlag,
		Report:      *reportFlag,
		CPU:         *cpuFlag,
		FeaturesOut: *featOutFlag,
	}
	if *featuresFlag != "" {
		opts.Features = strings.Split(*featuresFlag, ",")
	} else {
		opts.Images = strings.Split(*imagesFlag, ",")
		det, err := extract.NewOpenCVDetector()
		if err != nil {
			log.Fatalf("twoview: %v", err)
		}
		defer det.Close()
		opts.Detector = det
	}
	if err := run(opts, os.Stdout); err != nil {
		log.Fatalf("twoview: %v", err)
	}
}

func run(o options, out io.Writer) error {
	if len(o.Features) > 0 && len(o.Images) > 0 {
		return errors.New("features and images are mutually exclusive")
	}
	matchOpts := config.DefaultMatchingOptions()
	extractOpts := config.DefaultExtractionOptions()
	if o.Config != "" {
		f, err := config.LoadFile(o.Config)
		if err != nil {
			return err
		}
		if matchOpts, err = f.MatchingOptions(); err != nil {
			return err
		}
		if extractOpts, err = f.ExtractionOptions(); err != nil {
			return err
		}
	}
	if o.CPU {
		matchOpts.UseGPU = false
	}
	if err := matchOpts.Validate(); err != nil {
		return err
	}

	names := o.Features
	in := pipeline.Input{Sets: make([]*feature.DescriptorSet, len(o.Features))}
	for i, path := range o.Features {
		s, err := feature.LoadTextFile(strings.TrimSpace(path))
		if err != nil {
			return err
		}
		in.Sets[i] = s
	}
	if len(o.Images) > 0 {
		names = o.Images
		sets, err := extractImages(extractOpts, o.Detector, o.Images, o.FeaturesOut)
		if err != nil {
			return err
		}
		in.Sets = sets
	}
	if o.Cameras != "" {
		cams, err := loadCameras(o.Cameras, len(in.Sets))
		if err != nil {
			return err
		}
		in.Cameras = cams
	}

	pairs := allPairs(len(in.Sets))
	if o.Pairs != "" {
		var err error
		if pairs, err = loadPairs(o.Pairs); err != nil {
			return err
		}
	}

	results, err := pipeline.Run(matchOpts, in, pairs)
	if err != nil {
		return err
	}
	for _, r := range results {
		kind, inliers := geometry.KindUndefined, 0
		if r.Geometry != nil {
			kind, inliers = r.Geometry.Kind, r.Geometry.NumInliers
		}
		fmt.Fprintf(out, "%d %d matches=%d inliers=%d model=%v\n", r.Pair.Image1, r.Pair.Image2, len(r.Matches), inliers, kind)
	}

	if o.DB != "" {
		if err := store(o.DB, names, in, results); err != nil {
			return err
		}
	}
	if o.Report != "" {
		if err := writeReport(o.Report, results, in.Sets, matchOpts.MaxError); err != nil {
			return err
		}
	}
	return nil
}

// extractImages decodes and extracts every image. With outDir set, each
// set is also saved as <image base name>.txt in outDir.
func extractImages(opts config.ExtractionOptions, det extract.Detector, paths []string, outDir string) ([]*feature.DescriptorSet, error) {
	e, err := extract.NewExtractor(opts, det)
	if err != nil {
		return nil, err
	}
	imgs := make([]image.Image, len(paths))
	for i, path := range paths {
		if imgs[i], err = decodeImage(strings.TrimSpace(path)); err != nil {
			return nil, err
		}
	}
	sets, err := extract.ExtractAll(e, imgs)
	if err != nil {
		return nil, err
	}
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, err
		}
		for i, path := range paths {
			path = strings.TrimSpace(path)
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if err := feature.SaveTextFile(filepath.Join(outDir, base+".txt"), sets[i]); err != nil {
				return nil, err
			}
		}
	}
	for i, s := range sets {
		log.Printf("extracted %d features from %s", s.Len(), paths[i])
	}
	return sets, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func allPairs(n int) []pipeline.Pair {
	var pairs []pipeline.Pair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, pipeline.Pair{Image1: i, Image2: j})
		}
	}
	return pairs
}

// loadPairs reads "i j" lines. Blank lines and lines starting with # are
// skipped.
func loadPairs(path string) ([]pipeline.Pair, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open pairs file: %w", err)
	}
	defer f.Close()

	var pairs []pipeline.Pair
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected two image indices, got %q", path, line, text)
		}
		i, err1 := strconv.Atoi(fields[0])
		j, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%s:%d: invalid image index in %q", path, line, text)
		}
		pairs = append(pairs, pipeline.Pair{Image1: i, Image2: j})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

type cameraJSON struct {
	FocalX float64 `json:"focal_x"`
	FocalY float64 `json:"focal_y"`
	CX     float64 `json:"cx"`
	CY     float64 `json:"cy"`
}

func loadCameras(path string, n int) ([]*geometry.Camera, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read cameras file: %w", err)
	}
	var raw []*cameraJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse cameras JSON: %w", err)
	}
	if len(raw) != n {
		return nil, fmt.Errorf("cameras file lists %d cameras for %d images", len(raw), n)
	}
	cams := make([]*geometry.Camera, n)
	for i, c := range raw {
		if c == nil {
			continue
		}
		cam := geometry.Camera{FocalX: c.FocalX, FocalY: c.FocalY, CX: c.CX, CY: c.CY}
		if err := cam.Validate(); err != nil {
			return nil, fmt.Errorf("camera %d: %w", i, err)
		}
		cams[i] = &cam
	}
	return cams, nil
}

func store(path string, names []string, in pipeline.Input, results []pipeline.Result) error {
	database, err := db.Open(path)
	if err != nil {
		return err
	}
	defer database.Close()

	ids := make([]int64, len(in.Sets))
	for i, s := range in.Sets {
		var cam *geometry.Camera
		if in.Cameras != nil {
			cam = in.Cameras[i]
		}
		if ids[i], err = database.AddImage(filepath.Clean(strings.TrimSpace(names[i])), cam); err != nil {
			return err
		}
		if err := database.WriteFeatures(ids[i], s); err != nil {
			return err
		}
	}
	for _, r := range results {
		id1, id2 := ids[r.Pair.Image1], ids[r.Pair.Image2]
		if err := database.WriteMatches(id1, id2, r.Matches); err != nil {
			return err
		}
		if r.Geometry == nil {
			continue
		}
		if err := database.WriteGeometry(id1, id2, r.Geometry); err != nil {
			return err
		}
	}
	log.Printf("stored %d images and %d pairs in %s", len(ids), len(results), path)
	return nil
}

func writeReport(dir string, results []pipeline.Result, sets []*feature.DescriptorSet, maxError float64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	summaries, residuals, err := report.Summarize(results, sets)
	if err != nil {
		return err
	}
	if err := report.WriteResidualHistogram(filepath.Join(dir, "residuals.png"), residuals, maxError); err != nil {
		if !errors.Is(err, report.ErrNoData) {
			return err
		}
		log.Printf("no verified pairs, skipping residual histogram")
	}

	f, err := os.Create(filepath.Join(dir, "report.html"))
	if err != nil {
		return err
	}
	if err := report.WriteHTML(f, summaries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
