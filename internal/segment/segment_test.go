package segment

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/andresmejia3/passport/internal/model"
	"github.com/andresmejia3/passport/internal/worker"
	"github.com/rs/zerolog"
)

type fakeBackend struct {
	mask *image.Alpha
	err  error
}

func (f *fakeBackend) Segment(ctx context.Context, img image.Image) (*image.Alpha, error) {
	return f.mask, f.err
}

func adapterFor(b Backend, loadErr error) *Adapter {
	h := model.NewHandle("fake-seg", func(ctx context.Context) (Backend, error) {
		if loadErr != nil {
			return nil, loadErr
		}
		return b, nil
	})
	return NewAdapter(h, zerolog.Nop())
}

func TestAdapter_Segment(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))

	tests := []struct {
		name     string
		backend  Backend
		loadErr  error
		wantMask bool
	}{
		{"matching mask", &fakeBackend{mask: image.NewAlpha(image.Rect(0, 0, 4, 3))}, nil, true},
		{"wrong size", &fakeBackend{mask: image.NewAlpha(image.Rect(0, 0, 3, 3))}, nil, false},
		{"nil mask", &fakeBackend{}, nil, false},
		{"inference error", &fakeBackend{err: errors.New("boom")}, nil, false},
		{"load error", nil, errors.New("no weights"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adapterFor(tt.backend, tt.loadErr).Segment(context.Background(), img)
			if (got != nil) != tt.wantMask {
				t.Fatalf("Expected mask=%v, got %v", tt.wantMask, got)
			}
		})
	}
}

func TestAdapter_RebasesMaskOrigin(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 14, 13))
	mask := image.NewAlpha(image.Rect(0, 0, 4, 3))
	mask.Pix[0] = 200

	got := adapterFor(&fakeBackend{mask: mask}, nil).Segment(context.Background(), img)
	if got == nil {
		t.Fatal("Expected mask")
	}
	if got.Bounds() != img.Bounds() {
		t.Fatalf("Expected bounds %v, got %v", img.Bounds(), got.Bounds())
	}
	if got.AlphaAt(10, 10).A != 200 {
		t.Errorf("Expected first mask value at image origin, got %d", got.AlphaAt(10, 10).A)
	}
}

func TestNilAdapter(t *testing.T) {
	var a *Adapter
	if a.Segment(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1))) != nil {
		t.Error("Expected nil mask from nil adapter")
	}
}

func TestNewLoader(t *testing.T) {
	if l, err := NewLoader(BackendNone, worker.Config{}); l != nil || err != nil {
		t.Errorf("Expected nil loader for none, got loader=%v err=%v", l != nil, err)
	}
	if l, err := NewLoader(BackendWorker, worker.Config{}); l == nil || err != nil {
		t.Errorf("Expected worker loader, got err %v", err)
	}
	if _, err := NewLoader("rembg", worker.Config{}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
