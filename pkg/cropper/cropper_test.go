package cropper

import (
	"math"
	"reflect"
	"testing"

	"github.com/menta2k/portrait-cropper/pkg/types"
)

func TestNew(t *testing.T) {
	engine := New()
	if engine == nil {
		t.Fatal("New() returned nil")
	}

	if engine.config.HairMarginRatio != 0.8 {
		t.Errorf("Expected hair margin 0.8, got %f", engine.config.HairMarginRatio)
	}

	if engine.config.Ratio != Portrait {
		t.Errorf("Expected portrait ratio, got %+v", engine.config.Ratio)
	}
}

func TestNewWithConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopPadding = 0

	engine := NewWithConfig(cfg)
	if engine.config.TopPadding != 0 {
		t.Errorf("Expected top padding 0, got %f", engine.config.TopPadding)
	}
}

func TestDecideCenteredFace(t *testing.T) {
	face := types.Rect{X: 400, Y: 300, W: 200, H: 200}
	d := Decide(1000, 1000, face)

	if !d.OK() {
		t.Fatalf("Expected OK, got %s", d)
	}
	if d.Reason != "" {
		t.Errorf("Expected empty reason, got %q", d.Reason)
	}

	want := CropBox{250, 120, 750, 786}
	if *d.Crop != want {
		t.Errorf("Expected crop %v, got %v", want, *d.Crop)
	}
	if d.Crop.Width() != 500 {
		t.Errorf("Expected width 500, got %d", d.Crop.Width())
	}
	if d.Crop.Height() < 666 || d.Crop.Height() > 667 {
		t.Errorf("Expected height ~667, got %d", d.Crop.Height())
	}
	if !d.Crop.Rect().Contains(face) {
		t.Errorf("Face %+v not inside crop %v", face, *d.Crop)
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		face       types.Rect
		wantStatus DecisionStatus
		wantReason string
		wantCrop   *CropBox
	}{
		{
			name:       "face filling a small portrait uses the whole image",
			width:      300,
			height:     400,
			face:       types.Rect{X: 10, Y: 10, W: 280, H: 280},
			wantStatus: StatusOK,
			wantCrop:   &CropBox{0, 0, 300, 400},
		},
		{
			name:       "wide face in a short landscape overflows the shrunk crop",
			width:      1000,
			height:     400,
			face:       types.Rect{X: 100, Y: 50, W: 300, H: 300},
			wantStatus: StatusManualReview,
			wantReason: ReasonFaceOutsideCrop,
		},
		{
			name:       "face touching the bottom edge of a landscape",
			width:      1600,
			height:     900,
			face:       types.Rect{X: 700, Y: 500, W: 400, H: 400},
			wantStatus: StatusManualReview,
			wantReason: ReasonFaceOutsideCrop,
		},
		{
			name:       "face near the top is pushed down to the image edge",
			width:      800,
			height:     1200,
			face:       types.Rect{X: 300, Y: 40, W: 200, H: 200},
			wantStatus: StatusOK,
			wantCrop:   &CropBox{150, 0, 650, 666},
		},
		{
			name:       "face near the right edge shifts the crop left",
			width:      1000,
			height:     1400,
			face:       types.Rect{X: 850, Y: 400, W: 100, H: 100},
			wantStatus: StatusOK,
			wantCrop:   &CropBox{750, 300, 1000, 633},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.width, tt.height, tt.face)
			if d.Status != tt.wantStatus {
				t.Fatalf("Decide(%d, %d, %+v) status = %s, want %s (%s)",
					tt.width, tt.height, tt.face, d.Status, tt.wantStatus, d.Reason)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", d.Reason, tt.wantReason)
			}
			if tt.wantCrop == nil {
				if d.Crop != nil {
					t.Errorf("expected no crop box, got %v", *d.Crop)
				}
				return
			}
			if d.Crop == nil {
				t.Fatal("expected crop box, got nil")
			}
			if *d.Crop != *tt.wantCrop {
				t.Errorf("crop = %v, want %v", *d.Crop, *tt.wantCrop)
			}
		})
	}
}

// TestDecideProperties sweeps image sizes and face placements and checks
// every OK decision for containment, bounds and aspect ratio.
func TestDecideProperties(t *testing.T) {
	sizes := [][2]int{{300, 400}, {640, 480}, {1000, 1000}, {1200, 1600}, {1920, 1080}, {2448, 3264}}
	okCount := 0

	for _, sz := range sizes {
		imgW, imgH := sz[0], sz[1]
		for fw := 20; fw <= imgW/2; fw += imgW / 9 {
			fh := fw + fw/5
			for fx := 0; fx+fw <= imgW; fx += imgW / 7 {
				for fy := 0; fy+fh <= imgH; fy += imgH / 7 {
					face := types.Rect{X: fx, Y: fy, W: fw, H: fh}
					d := Decide(imgW, imgH, face)
					if !d.OK() {
						if d.Crop != nil {
							t.Fatalf("manual review decision carries a crop box: %+v", d)
						}
						if d.Reason == "" {
							t.Fatalf("manual review decision without reason for %+v", face)
						}
						continue
					}
					okCount++

					crop := *d.Crop
					if !crop.Rect().Contains(face) {
						t.Fatalf("%dx%d: face %+v not contained in %v", imgW, imgH, face, crop)
					}
					if crop[0] < 0 || crop[1] < 0 || crop[2] > imgW || crop[3] > imgH {
						t.Fatalf("%dx%d: crop %v out of bounds", imgW, imgH, crop)
					}
					if diff := math.Abs(float64(crop.Width()) - 0.75*float64(crop.Height())); diff > 1 {
						t.Fatalf("%dx%d: crop %v is not 3:4 (diff %.2f)", imgW, imgH, crop, diff)
					}
				}
			}
		}
	}

	if okCount == 0 {
		t.Fatal("expected at least one OK decision in the sweep")
	}
}

func TestDecideDeterministic(t *testing.T) {
	faces := []types.Rect{
		{X: 400, Y: 300, W: 200, H: 200},
		{X: 10, Y: 10, W: 280, H: 280},
		{X: 123, Y: 457, W: 77, H: 91},
	}

	for _, face := range faces {
		first := Decide(1000, 1000, face)
		for i := 0; i < 50; i++ {
			again := Decide(1000, 1000, face)
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("Decide not deterministic for %+v: %+v vs %+v", face, first, again)
			}
		}
	}
}

func TestAspectRatioValue(t *testing.T) {
	if Portrait.Value() != 0.75 {
		t.Errorf("Expected 0.75, got %f", Portrait.Value())
	}
}

func BenchmarkDecide(b *testing.B) {
	engine := New()
	face := types.Rect{X: 400, Y: 300, W: 200, H: 200}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Decide(1000, 1000, face)
	}
}
