package normalize

import (
	"testing"

	"turntable/internal/queue"
)

func TestPlanCropCenteredInsideFrame(t *testing.T) {
	box := queue.BoundingBox{X1: 800, Y1: 400, X2: 1200, Y2: 700}
	crop := PlanCrop(box, 1920, 1080, 1.3)

	// Larger side is 400, padded to 520, centered at (1000, 550).
	if crop.Window.Dx() != 520 || crop.Window.Dy() != 520 {
		t.Fatalf("unexpected window size: %v", crop.Window)
	}
	if crop.Window.Min.X != 740 || crop.Window.Min.Y != 290 {
		t.Fatalf("unexpected window origin: %v", crop.Window)
	}
	if crop.Top != 0 || crop.Bottom != 0 || crop.Left != 0 || crop.Right != 0 {
		t.Fatalf("expected no border padding: %+v", crop)
	}
}

func TestPlanCropClampsAndPads(t *testing.T) {
	// Subject near the top-left corner: window runs off two edges.
	box := queue.BoundingBox{X1: 0, Y1: 0, X2: 300, Y2: 200}
	crop := PlanCrop(box, 1920, 1080, 1.3)

	side := 390
	if crop.Window.Dx()+crop.Left+crop.Right != side {
		t.Fatalf("horizontal extent mismatch: %+v", crop)
	}
	if crop.Window.Dy()+crop.Top+crop.Bottom != side {
		t.Fatalf("vertical extent mismatch: %+v", crop)
	}
	if crop.Left == 0 || crop.Top == 0 {
		t.Fatalf("expected replicated border at top-left: %+v", crop)
	}
	if crop.Window.Min.X != 0 || crop.Window.Min.Y != 0 {
		t.Fatalf("window must clamp to frame: %v", crop.Window)
	}
}

func TestPlanCropDegenerateBoxFallsBackToCenter(t *testing.T) {
	crop := PlanCrop(queue.BoundingBox{}, 1920, 1080, 1.3)
	if crop.Window.Dx() != 1080 || crop.Window.Dy() != 1080 {
		t.Fatalf("expected centered square of the short dimension: %v", crop.Window)
	}
	if crop.Window.Min.X != 420 {
		t.Fatalf("expected horizontally centered window: %v", crop.Window)
	}
}

func TestPlanCropDeterministic(t *testing.T) {
	box := queue.BoundingBox{X1: 100, Y1: 50, X2: 600, Y2: 500}
	first := PlanCrop(box, 1280, 720, 1.3)
	second := PlanCrop(box, 1280, 720, 1.3)
	if first != second {
		t.Fatalf("crop planning must be deterministic: %+v vs %+v", first, second)
	}
}
