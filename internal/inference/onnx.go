package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sort"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/weaponid/internal/detection"
)

const (
	// onnxInputSize is the square input edge of the exported YOLOv8 model.
	onnxInputSize = 640
	// onnxCandidates is the number of anchor predictions per image at 640x640.
	onnxCandidates = 8400
	// candidateConfidence drops obvious noise before NMS. The aggregator
	// applies the real threshold afterwards.
	candidateConfidence = 0.25
	nmsIoUThreshold     = 0.45
)

// ONNXConfig locates the model and the runtime library.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	PoolSize    int
	NumClasses  int
}

// ONNXInferencer runs a YOLOv8 model in-process through onnxruntime.
type ONNXInferencer struct {
	pool       *SessionPool
	numClasses int
	logger     *zap.Logger
}

// NewONNXInferencer initializes the runtime environment and fills the session pool.
func NewONNXInferencer(cfg ONNXConfig, logger *zap.Logger) (*ONNXInferencer, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx model path is required")
	}
	if cfg.NumClasses <= 0 {
		return nil, errors.New("onnx model needs at least one class")
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx environment: %w", err)
		}
	}

	pool, err := newSessionPool(cfg.PoolSize, func() (*modelSession, error) {
		return newModelSession(cfg.ModelPath, cfg.NumClasses)
	})
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	logger.Info("onnx detector ready",
		zap.String("model", cfg.ModelPath),
		zap.Int("pool_size", pool.Stats().Size),
		zap.Int("classes", cfg.NumClasses),
	)
	return &ONNXInferencer{pool: pool, numClasses: cfg.NumClasses, logger: logger.Named("inference.onnx")}, nil
}

func newModelSession(modelPath string, numClasses int) (*modelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, onnxInputSize, onnxInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+numClasses), onnxCandidates))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &modelSession{session: session, input: input, output: output}, nil
}

// Infer runs the model on the decoded image.
func (o *ONNXInferencer) Infer(ctx context.Context, in detection.Input) ([]detection.RawDetection, error) {
	if in.Image == nil {
		return nil, errors.New("onnx inference needs a decoded image")
	}

	sess, err := o.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire model session: %w", err)
	}
	defer o.pool.Release(sess)

	resized := imaging.Resize(in.Image, onnxInputSize, onnxInputSize, imaging.Linear)
	fillInput(resized, sess.input.GetData())

	if err := sess.session.Run(); err != nil {
		return nil, fmt.Errorf("run model: %w", err)
	}

	bounds := in.Image.Bounds()
	candidates := decodeYOLO(sess.output.GetData(), o.numClasses, onnxCandidates, bounds.Dx(), bounds.Dy(), candidateConfidence)
	kept := nonMaxSuppression(candidates, nmsIoUThreshold)
	o.logger.Debug("model output decoded",
		zap.String("request_id", in.RequestID),
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(kept)),
	)
	return kept, nil
}

// Stats exposes session pool usage.
func (o *ONNXInferencer) Stats() PoolStats { return o.pool.Stats() }

// Close destroys the sessions and the runtime environment.
func (o *ONNXInferencer) Close() error {
	o.pool.Close()
	return ort.DestroyEnvironment()
}

// fillInput writes img as planar RGB scaled to [0,1].
func fillInput(img *image.NRGBA, dst []float32) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			p := row[x*4:]
			dst[i] = float32(p[0]) / 255
			dst[plane+i] = float32(p[1]) / 255
			dst[2*plane+i] = float32(p[2]) / 255
		}
	}
}

// decodeYOLO reads a (4+numClasses, candidates) channel-major output where the
// first four rows are cx, cy, w, h in model input pixels. Boxes are scaled to
// the original image and returned as x1, y1, x2, y2.
func decodeYOLO(preds []float32, numClasses, candidates, origW, origH int, minConfidence float32) []detection.RawDetection {
	if len(preds) < (4+numClasses)*candidates {
		return nil
	}
	scaleX := float64(origW) / onnxInputSize
	scaleY := float64(origH) / onnxInputSize

	var out []detection.RawDetection
	for i := 0; i < candidates; i++ {
		bestClass, bestScore := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			if score := preds[(4+c)*candidates+i]; score > bestScore {
				bestClass, bestScore = c, score
			}
		}
		if bestClass < 0 || bestScore < minConfidence {
			continue
		}

		cx := float64(preds[i])
		cy := float64(preds[candidates+i])
		bw := float64(preds[2*candidates+i])
		bh := float64(preds[3*candidates+i])

		out = append(out, detection.RawDetection{
			ClassID:    bestClass,
			Confidence: float64(bestScore),
			BBox: [4]float64{
				clamp((cx-bw/2)*scaleX, float64(origW)),
				clamp((cy-bh/2)*scaleY, float64(origH)),
				clamp((cx+bw/2)*scaleX, float64(origW)),
				clamp((cy+bh/2)*scaleY, float64(origH)),
			},
		})
	}
	return out
}

func clamp(v, upper float64) float64 {
	if v < 0 {
		return 0
	}
	if v > upper {
		return upper
	}
	return v
}

// nonMaxSuppression keeps the strongest box among same-class overlaps.
func nonMaxSuppression(dets []detection.RawDetection, iouThreshold float64) []detection.RawDetection {
	sorted := append([]detection.RawDetection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]detection.RawDetection, 0, len(sorted))
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && iou(k.BBox, d.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float64) float64 {
	ix1, iy1 := max(a[0], b[0]), max(a[1], b[1])
	ix2, iy2 := min(a[2], b[2]), min(a[3], b[3])
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
